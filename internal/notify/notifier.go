// Package notify is the outbound notification surface: fire-and-forget task
// alerts with no result observed by the callers beyond a log line.
package notify

import (
	"context"
	"log"
)

// Notifier delivers user-visible alerts: per-task geofence reminders and
// free-form texts such as the daily digest.
type Notifier interface {
	NotifyTask(ctx context.Context, taskID uint, title, subtitle string) error
	NotifyText(ctx context.Context, text string) error
}

// LogNotifier writes alerts to the process log. Default when no delivery
// channel is configured.
type LogNotifier struct{}

func (LogNotifier) NotifyTask(_ context.Context, taskID uint, title, subtitle string) error {
	if subtitle != "" {
		log.Printf("notify: task %d: %s (%s)", taskID, title, subtitle)
	} else {
		log.Printf("notify: task %d: %s", taskID, title)
	}
	return nil
}

func (LogNotifier) NotifyText(_ context.Context, text string) error {
	log.Printf("notify: %s", text)
	return nil
}
