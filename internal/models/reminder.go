package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidConfig marks a reminder whose stored configuration cannot be
// scheduled. Callers fail fast on it rather than guessing a fallback.
var ErrInvalidConfig = errors.New("invalid reminder configuration")

type Kind string

const (
	KindOneTime   Kind = "one_time"
	KindRecurring Kind = "recurring"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// State is derived from stored fields, never persisted.
type State string

const (
	StatePendingFirstRun State = "pending_first_run"
	StateScheduled       State = "scheduled"
	StateDue             State = "due"
	StateCompleted       State = "completed"
	StateCancelled       State = "cancelled"
)

type Reminder struct {
	ID         uuid.UUID  `json:"id"`
	EntryRef   string     `json:"entry_ref"`
	Kind       Kind       `json:"kind"`
	Timezone   string     `json:"timezone"`
	RunAt      *time.Time `json:"run_at,omitempty"`
	Frequency  Frequency  `json:"frequency,omitempty"`
	DayOfWeek  *int       `json:"day_of_week,omitempty"`  // 0=Monday .. 6=Sunday
	DayOfMonth *int       `json:"day_of_month,omitempty"` // 1..31
	TimeOfDay  string     `json:"time_of_day,omitempty"`  // wall clock "HH:MM"
	Recipient  string     `json:"recipient,omitempty"`
	Message    string     `json:"message"`
	NextRunAt  *time.Time `json:"next_run_at"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
	Active     bool       `json:"active"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsRecurring returns true if this reminder repeats on a schedule
func (r *Reminder) IsRecurring() bool {
	return r.Kind == KindRecurring
}

// Location resolves the reminder's IANA timezone.
func (r *Reminder) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return nil, fmt.Errorf("%w: timezone is empty", ErrInvalidConfig)
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidConfig, r.Timezone)
	}
	return loc, nil
}

// ValidateConfig checks that the fields required by the reminder's kind are
// populated. It does not touch scheduling state (NextRunAt, Active, ...).
func (r *Reminder) ValidateConfig() error {
	if _, err := r.Location(); err != nil {
		return err
	}
	switch r.Kind {
	case KindOneTime:
		if r.RunAt == nil {
			return fmt.Errorf("%w: one-time reminder has no run_at", ErrInvalidConfig)
		}
	case KindRecurring:
		if r.TimeOfDay == "" {
			return fmt.Errorf("%w: recurring reminder has no time_of_day", ErrInvalidConfig)
		}
		if _, _, err := ParseTimeOfDay(r.TimeOfDay); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		switch r.Frequency {
		case FrequencyDaily:
		case FrequencyWeekly:
			if r.DayOfWeek == nil || *r.DayOfWeek < 0 || *r.DayOfWeek > 6 {
				return fmt.Errorf("%w: weekly reminder needs day_of_week 0-6", ErrInvalidConfig)
			}
		case FrequencyMonthly:
			if r.DayOfMonth == nil || *r.DayOfMonth < 1 || *r.DayOfMonth > 31 {
				return fmt.Errorf("%w: monthly reminder needs day_of_month 1-31", ErrInvalidConfig)
			}
		default:
			return fmt.Errorf("%w: unknown frequency %q", ErrInvalidConfig, r.Frequency)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, r.Kind)
	}
	return nil
}

// State derives the lifecycle state at the given instant.
func (r *Reminder) State(now time.Time) State {
	if !r.Active {
		if r.Kind == KindOneTime && r.LastSentAt != nil {
			return StateCompleted
		}
		return StateCancelled
	}
	if r.NextRunAt == nil {
		return StatePendingFirstRun
	}
	if !r.NextRunAt.After(now) {
		return StateDue
	}
	return StateScheduled
}

// ParseTimeOfDay parses a wall-clock "HH:MM" string.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
