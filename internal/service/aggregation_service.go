package service

import (
	"context"
	"sort"
	"time"

	"geoplanner/internal/model"
	"geoplanner/internal/realtime"
	"geoplanner/internal/repository"
	"geoplanner/internal/worker"
)

// CategoryFilter narrows tasks by category: every task, only uncategorized
// ones, or one specific category.
type CategoryFilter struct {
	Kind       CategoryFilterKind
	CategoryID uint
}

type CategoryFilterKind int

const (
	CategoryAll CategoryFilterKind = iota
	CategoryNone
	CategorySpecific
)

// OriginFilter narrows tasks by where they came from.
type OriginFilter int

const (
	OriginAll OriginFilter = iota
	OriginCollaborationOnly
	OriginLocalOnly
)

// Bucket is the due-date grouping of a task relative to a reference date.
type Bucket int

const (
	BucketPrevious Bucket = iota
	BucketToday
	BucketFuture
)

func (b Bucket) String() string {
	switch b {
	case BucketPrevious:
		return "previous"
	case BucketToday:
		return "today"
	case BucketFuture:
		return "future"
	}
	return "unknown"
}

// TaskGroup is one non-empty bucket with its members.
type TaskGroup struct {
	Bucket Bucket
	Tasks  []model.Task
}

// AggregationService produces the filtered, grouped and date-bucketed task
// views and the per-day completion ratios for a displayed month.
type AggregationService struct {
	tasks *repository.TaskRepository
	hub   *realtime.Hub
	pool  *worker.Pool
}

func NewAggregationService(tasks *repository.TaskRepository, hub *realtime.Hub, pool *worker.Pool) *AggregationService {
	return &AggregationService{tasks: tasks, hub: hub, pool: pool}
}

// FilteredTasks returns a snapshot of the non-archived tasks passing both
// filters, in the store's natural order.
func (s *AggregationService) FilteredTasks(ctx context.Context, category CategoryFilter, origin OriginFilter) ([]model.Task, error) {
	tasks, err := s.tasks.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := tasks[:0]
	for _, task := range tasks {
		if matchCategory(task, category) && matchOrigin(task, origin) {
			out = append(out, task)
		}
	}
	return out, nil
}

// Watch re-emits the filtered snapshot on every change to the task table.
// The first snapshot is delivered immediately; the channel closes when ctx
// is done.
func (s *AggregationService) Watch(ctx context.Context, category CategoryFilter, origin OriginFilter) (<-chan []model.Task, error) {
	// Subscribe before the initial read: a write landing between the two is
	// then pending on changes instead of lost.
	changes, cancel := s.hub.Subscribe(realtime.TopicTasks)
	first, err := s.FilteredTasks(ctx, category, origin)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan []model.Task, 1)
	out <- first

	go func() {
		defer cancel()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
			}
			snapshot, err := s.FilteredTasks(ctx, category, origin)
			if err != nil {
				continue
			}
			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func matchCategory(task model.Task, f CategoryFilter) bool {
	switch f.Kind {
	case CategoryNone:
		return task.CategoryID == nil
	case CategorySpecific:
		return task.CategoryID != nil && *task.CategoryID == f.CategoryID
	default:
		return true
	}
}

func matchOrigin(task model.Task, f OriginFilter) bool {
	switch f {
	case OriginCollaborationOnly:
		return task.FromCollaboration
	case OriginLocalOnly:
		return !task.FromCollaboration
	default:
		return true
	}
}

// GroupByDueBucket partitions tasks into previous/today/future relative to
// reference. A task with no due date buckets by its creation timestamp.
// Empty buckets are omitted; within a bucket higher priority sorts first,
// ties keep the input order.
func GroupByDueBucket(tasks []model.Task, reference time.Time) []TaskGroup {
	dayStart := startOfDay(reference)
	nextStart := dayStart.AddDate(0, 0, 1)

	byBucket := map[Bucket][]model.Task{}
	for _, task := range tasks {
		at := task.CreatedAt
		if task.DueAt != nil {
			at = *task.DueAt
		}
		var b Bucket
		switch {
		case at.Before(dayStart):
			b = BucketPrevious
		case at.Before(nextStart):
			b = BucketToday
		default:
			b = BucketFuture
		}
		byBucket[b] = append(byBucket[b], task)
	}

	var groups []TaskGroup
	for _, b := range []Bucket{BucketPrevious, BucketToday, BucketFuture} {
		members := byBucket[b]
		if len(members) == 0 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Priority > members[j].Priority
		})
		groups = append(groups, TaskGroup{Bucket: b, Tasks: members})
	}
	return groups
}

// ComputeMonthlyCompletionRates computes completed/total per calendar day of
// the month containing yearMonth, among tasks due that day. Tasks without a
// due date count toward the wall-clock today only. Days with no qualifying
// tasks score 0. All rates are in [0, 1].
func ComputeMonthlyCompletionRates(yearMonth time.Time, tasks []model.Task, now time.Time) map[time.Time]float64 {
	loc := yearMonth.Location()
	first := time.Date(yearMonth.Year(), yearMonth.Month(), 1, 0, 0, 0, 0, loc)
	nextMonth := first.AddDate(0, 1, 0)
	today := startOfDay(now.In(loc))

	rates := make(map[time.Time]float64)
	for day := first; day.Before(nextMonth); day = day.AddDate(0, 0, 1) {
		dayEnd := day.AddDate(0, 0, 1)
		var total, completed int
		for _, task := range tasks {
			switch {
			case task.DueAt != nil:
				if task.DueAt.Before(day) || !task.DueAt.Before(dayEnd) {
					continue
				}
			default:
				if !day.Equal(today) {
					continue
				}
			}
			total++
			if task.Completed {
				completed++
			}
		}
		if total == 0 {
			rates[day] = 0
			continue
		}
		rates[day] = float64(completed) / float64(total)
	}
	return rates
}

// MonthlyCompletionRates runs the month computation on the worker pool off
// the caller's goroutine; it iterates the whole task set per day.
func (s *AggregationService) MonthlyCompletionRates(ctx context.Context, yearMonth time.Time) (map[time.Time]float64, error) {
	tasks, err := s.tasks.ListForStats(ctx)
	if err != nil {
		return nil, err
	}
	var rates map[time.Time]float64
	err = s.pool.Run("aggregate:monthly", func() error {
		rates = ComputeMonthlyCompletionRates(yearMonth, tasks, time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rates, nil
}

// WatchMonthlyRates recomputes the displayed month's rates whenever the task
// set changes or a new month arrives on months.
func (s *AggregationService) WatchMonthlyRates(ctx context.Context, initial time.Time, months <-chan time.Time) (<-chan map[time.Time]float64, error) {
	// Same subscribe-then-read order as Watch.
	changes, cancel := s.hub.Subscribe(realtime.TopicTasks)
	first, err := s.MonthlyCompletionRates(ctx, initial)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan map[time.Time]float64, 1)
	out <- first

	go func() {
		defer cancel()
		defer close(out)
		month := initial
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-months:
				if !ok {
					return
				}
				month = m
			case <-changes:
			}
			rates, err := s.MonthlyCompletionRates(ctx, month)
			if err != nil {
				continue
			}
			select {
			case out <- rates:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
