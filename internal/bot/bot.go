// Package bot is a small Telegram command shell over the planner core: it
// forwards user intents to the services and renders their state. It is the
// only interactive surface of the daemon.
package bot

import (
	"context"
	"fmt"
	"html"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"geoplanner/internal/service"
	"geoplanner/internal/sync"
)

type Bot struct {
	api         *tgbotapi.BotAPI
	chatID      int64
	tasks       *service.TaskService
	locations   *service.LocationService
	aggregation *service.AggregationService
	digest      *service.DigestService
	engine      *sync.Engine
}

func New(token string, chatID int64, tasks *service.TaskService, locations *service.LocationService, aggregation *service.AggregationService, digest *service.DigestService, engine *sync.Engine) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram api: %w", err)
	}
	return &Bot{
		api:         api,
		chatID:      chatID,
		tasks:       tasks,
		locations:   locations,
		aggregation: aggregation,
		digest:      digest,
		engine:      engine,
	}, nil
}

// Start consumes updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handle(ctx, update.Message)
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())

	var reply string
	var err error
	switch cmd {
	case "add":
		reply, err = b.addTask(ctx, args)
	case "list":
		reply, err = b.digest.DailySummary(ctx, time.Now())
	case "done":
		reply, err = b.setDone(ctx, args, true)
	case "undone":
		reply, err = b.setDone(ctx, args, false)
	case "delete":
		reply, err = b.deleteTask(ctx, args)
	case "stats":
		reply, err = b.stats(ctx, args)
	case "projects":
		reply, err = b.projects(ctx)
	case "locations":
		reply, err = b.listLocations(ctx)
	case "addloc":
		reply, err = b.addLocation(ctx, args)
	case "loc":
		reply, err = b.setLocationEnabled(ctx, args)
	case "delloc":
		reply, err = b.deleteLocation(ctx, args)
	case "resync":
		err = b.engine.PerformManualSync(ctx)
		reply = "🔄 Resynced."
	default:
		reply = "Commands: /add title | YYYY-MM-DD, /list, /done id, /undone id, /delete id, /stats [YYYY-MM], /projects, /locations, /addloc name | lat lng radius, /loc id on|off, /delloc id, /resync"
	}
	if err != nil {
		reply = "⚠️ " + html.EscapeString(err.Error())
	}
	b.send(reply)
}

func (b *Bot) addTask(ctx context.Context, args string) (string, error) {
	title := args
	var due *time.Time
	if i := strings.LastIndex(args, "|"); i >= 0 {
		title = strings.TrimSpace(args[:i])
		d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(args[i+1:]), time.Local)
		if err != nil {
			return "", fmt.Errorf("due date must be YYYY-MM-DD")
		}
		due = &d
	}
	task, err := b.tasks.Create(ctx, service.TaskInput{Title: title, DueAt: due})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Task %d created.", task.ID), nil
}

func (b *Bot) setDone(ctx context.Context, args string, done bool) (string, error) {
	id, err := parseID(args)
	if err != nil {
		return "", err
	}
	task, err := b.tasks.SetCompleted(ctx, id, done, time.Now())
	if err != nil {
		return "", err
	}
	if done {
		return fmt.Sprintf("✅ %s completed.", html.EscapeString(task.Title)), nil
	}
	return fmt.Sprintf("↩️ %s reopened.", html.EscapeString(task.Title)), nil
}

func (b *Bot) deleteTask(ctx context.Context, args string) (string, error) {
	id, err := parseID(args)
	if err != nil {
		return "", err
	}
	if err := b.tasks.Delete(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("🗑 Task %d deleted.", id), nil
}

func (b *Bot) stats(ctx context.Context, args string) (string, error) {
	month := time.Now()
	if args != "" {
		m, err := time.ParseInLocation("2006-01", args, time.Local)
		if err != nil {
			return "", fmt.Errorf("month must be YYYY-MM")
		}
		month = m
	}
	rates, err := b.aggregation.MonthlyCompletionRates(ctx, month)
	if err != nil {
		return "", err
	}

	days := make([]time.Time, 0, len(rates))
	for day := range rates {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 <b>%s</b>\n", month.Format("January 2006")))
	lines := 0
	for _, day := range days {
		if rates[day] == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s — %.0f%%\n", day.Format("02"), rates[day]*100))
		lines++
	}
	if lines == 0 {
		return "No completions this month.", nil
	}
	return strings.TrimSpace(sb.String()), nil
}

func (b *Bot) projects(ctx context.Context) (string, error) {
	tasks, err := b.aggregation.FilteredTasks(ctx, service.CategoryFilter{Kind: service.CategoryAll}, service.OriginCollaborationOnly)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "No shared tasks.", nil
	}
	var sb strings.Builder
	sb.WriteString("👥 <b>Shared tasks</b>\n")
	for _, task := range tasks {
		mark := "◻️"
		if task.Completed {
			mark = "✅"
		}
		sb.WriteString(fmt.Sprintf("%s %s <i>(%s)</i>\n", mark, html.EscapeString(task.Title), html.EscapeString(task.ProjectName)))
	}
	return strings.TrimSpace(sb.String()), nil
}

func (b *Bot) listLocations(ctx context.Context) (string, error) {
	locations, err := b.locations.List(ctx)
	if err != nil {
		return "", err
	}
	if len(locations) == 0 {
		return "No locations.", nil
	}
	var sb strings.Builder
	sb.WriteString("📍 <b>Locations</b>\n")
	for _, loc := range locations {
		state := "on"
		if !loc.Enabled {
			state = "off"
		}
		sb.WriteString(fmt.Sprintf("%d. %s (%.4f, %.4f, %.0fm) [%s]\n",
			loc.ID, html.EscapeString(loc.Name), loc.Latitude, loc.Longitude, loc.RadiusMeters, state))
	}
	return strings.TrimSpace(sb.String()), nil
}

func (b *Bot) addLocation(ctx context.Context, args string) (string, error) {
	i := strings.LastIndex(args, "|")
	if i < 0 {
		return "", fmt.Errorf("usage: /addloc name | lat lng radius")
	}
	name := strings.TrimSpace(args[:i])
	fields := strings.Fields(args[i+1:])
	if len(fields) != 3 {
		return "", fmt.Errorf("usage: /addloc name | lat lng radius")
	}
	nums := make([]float64, 3)
	for j, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return "", fmt.Errorf("lat, lng and radius must be numbers")
		}
		nums[j] = n
	}
	loc, err := b.locations.Create(ctx, service.LocationInput{
		Name:         name,
		Latitude:     nums[0],
		Longitude:    nums[1],
		RadiusMeters: nums[2],
		Enabled:      true,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("📍 Location %d created.", loc.ID), nil
}

func (b *Bot) setLocationEnabled(ctx context.Context, args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
		return "", fmt.Errorf("usage: /loc id on|off")
	}
	id, err := parseID(fields[0])
	if err != nil {
		return "", fmt.Errorf("location id must be a number")
	}
	enabled := fields[1] == "on"
	if err := b.locations.SetEnabled(ctx, id, enabled); err != nil {
		return "", err
	}
	if enabled {
		return fmt.Sprintf("📍 Location %d enabled.", id), nil
	}
	return fmt.Sprintf("🔕 Location %d disabled, its reminders are paused.", id), nil
}

func (b *Bot) deleteLocation(ctx context.Context, args string) (string, error) {
	id, err := parseID(args)
	if err != nil {
		return "", fmt.Errorf("location id must be a number")
	}
	if err := b.locations.Delete(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("🗑 Location %d and its tasks deleted.", id), nil
}

func (b *Bot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("bot: send: %v", err)
	}
}

func parseID(args string) (uint, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(args), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("task id must be a number")
	}
	return uint(n), nil
}
