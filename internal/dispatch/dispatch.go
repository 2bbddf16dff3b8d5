// Package dispatch delivers due reminders over pluggable channels.
package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/inkwell-app/remindd/internal/models"
)

// Dispatcher sends the notification for one due reminder. A non-nil error
// means delivery did not happen; retrying is the processor's job, on the
// next cycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, r *models.Reminder) error
	Name() string
}

var (
	_ Dispatcher = (*Log)(nil)
	_ Dispatcher = (*Telegram)(nil)
	_ Dispatcher = (*Webhook)(nil)
	_ Dispatcher = (*RateLimited)(nil)
)

// Log writes fired reminders to the log only. Development and dry runs.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

func (d *Log) Name() string { return "log" }

func (d *Log) Dispatch(_ context.Context, r *models.Reminder) error {
	d.log.Info().
		Stringer("reminder_id", r.ID).
		Str("entry_ref", r.EntryRef).
		Str("message", r.Message).
		Msg("reminder fired")
	return nil
}
