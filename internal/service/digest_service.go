package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"geoplanner/internal/model"
	"geoplanner/internal/repository"
)

// DigestService builds the human-readable daily summary of the active task
// set, grouped into the overdue/today/upcoming buckets.
type DigestService struct {
	aggregation *AggregationService
	categories  *repository.CategoryRepository
}

func NewDigestService(aggregation *AggregationService, categories *repository.CategoryRepository) *DigestService {
	return &DigestService{aggregation: aggregation, categories: categories}
}

func (s *DigestService) DailySummary(ctx context.Context, now time.Time) (string, error) {
	tasks, err := s.aggregation.FilteredTasks(ctx, CategoryFilter{Kind: CategoryAll}, OriginAll)
	if err != nil {
		return "", err
	}

	categories, err := s.categories.List(ctx)
	if err != nil {
		return "", err
	}
	catNames := make(map[uint]string)
	for _, cat := range categories {
		catNames[cat.ID] = cat.Name
	}

	open := tasks[:0]
	for _, task := range tasks {
		if !task.Completed {
			open = append(open, task)
		}
	}

	headings := map[Bucket]string{
		BucketPrevious: "⚠️ <b>Overdue</b>",
		BucketToday:    "🔥 <b>Today</b>",
		BucketFuture:   "📆 <b>Upcoming</b>",
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Daily summary</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n", now.Format("02.01.2006")))

	if len(open) == 0 {
		builder.WriteString("\n— no open tasks\n")
		return strings.TrimSpace(builder.String()), nil
	}

	for _, group := range GroupByDueBucket(open, now) {
		builder.WriteString("\n" + headings[group.Bucket] + "\n")
		for _, task := range group.Tasks {
			builder.WriteString(formatDigestLine(task, catNames, now))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

func formatDigestLine(task model.Task, catNames map[uint]string, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("• ")
	sb.WriteString(html.EscapeString(strings.TrimSpace(task.Title)))

	if task.CategoryID != nil {
		if name, ok := catNames[*task.CategoryID]; ok && strings.TrimSpace(name) != "" {
			sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(strings.TrimSpace(name))))
		}
	}
	if task.FromCollaboration && task.ProjectName != "" {
		sb.WriteString(fmt.Sprintf(" 👥 %s", html.EscapeString(task.ProjectName)))
	}

	if task.DueAt != nil {
		d := task.DueAt.In(now.Location())
		if now.After(d) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s — <b>overdue</b>", d.Format("2006-01-02")))
		} else {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s", d.Format("2006-01-02")))
		}
	}
	if task.LocationEnabled && task.LocationName != "" {
		sb.WriteString(fmt.Sprintf("\n   📍 %s", html.EscapeString(task.LocationName)))
	}

	sb.WriteByte('\n')
	return sb.String()
}
