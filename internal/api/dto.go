package api

import (
	"fmt"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/inkwell-app/remindd/internal/models"
	"github.com/inkwell-app/remindd/internal/recurrence"
)

var timeOfDayRe = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// reminderRequest is the create/update payload. Recurrence can be given
// either as structured fields or as an RFC 5545 rrule; the rrule wins when
// both are present.
type reminderRequest struct {
	EntryRef   string     `json:"entry_ref"`
	Kind       string     `json:"kind"`
	Timezone   string     `json:"timezone"`
	RunAt      *time.Time `json:"run_at"`
	Frequency  string     `json:"frequency"`
	DayOfWeek  *int       `json:"day_of_week"`
	DayOfMonth *int       `json:"day_of_month"`
	TimeOfDay  string     `json:"time_of_day"`
	RRule      string     `json:"rrule"`
	Recipient  string     `json:"recipient"`
	Message    string     `json:"message"`
}

func (req *reminderRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.EntryRef, validation.Required, validation.Length(1, 512)),
		validation.Field(&req.Kind,
			validation.Required.When(req.RRule == ""),
			validation.In("one_time", "recurring")),
		validation.Field(&req.Timezone, validation.Required),
		validation.Field(&req.Message, validation.Required, validation.Length(1, 4096)),
		validation.Field(&req.RunAt, validation.Required.When(req.Kind == "one_time")),
		validation.Field(&req.Frequency,
			validation.Required.When(req.Kind == "recurring" && req.RRule == ""),
			validation.In("daily", "weekly", "monthly")),
		validation.Field(&req.TimeOfDay,
			validation.Required.When(req.Kind == "recurring" && req.RRule == ""),
			validation.Match(timeOfDayRe)),
		validation.Field(&req.DayOfWeek, validation.Min(0), validation.Max(6)),
		validation.Field(&req.DayOfMonth, validation.Min(1), validation.Max(31)),
	)
}

func (req *reminderRequest) toModel() (*models.Reminder, error) {
	rem := &models.Reminder{
		EntryRef:   req.EntryRef,
		Kind:       models.Kind(req.Kind),
		Timezone:   req.Timezone,
		Frequency:  models.Frequency(req.Frequency),
		DayOfWeek:  req.DayOfWeek,
		DayOfMonth: req.DayOfMonth,
		TimeOfDay:  req.TimeOfDay,
		Recipient:  req.Recipient,
		Message:    req.Message,
		Active:     true,
	}
	if req.RunAt != nil {
		t := req.RunAt.UTC().Truncate(time.Second)
		rem.RunAt = &t
	}
	if req.RRule != "" {
		if rem.Kind == models.KindOneTime {
			return nil, fmt.Errorf("%w: rrule does not apply to one-time reminders", models.ErrInvalidConfig)
		}
		parsed, err := recurrence.FromRRule(req.RRule)
		if err != nil {
			return nil, err
		}
		rem.Kind = parsed.Kind
		rem.Frequency = parsed.Frequency
		rem.DayOfWeek = parsed.DayOfWeek
		rem.DayOfMonth = parsed.DayOfMonth
		rem.TimeOfDay = parsed.TimeOfDay
	}
	if err := rem.ValidateConfig(); err != nil {
		return nil, err
	}
	return rem, nil
}

// reminderResponse decorates the stored reminder with its derived state and a
// human description of the schedule.
type reminderResponse struct {
	*models.Reminder
	State    models.State `json:"state"`
	Schedule string       `json:"schedule"`
}

type previewResponse struct {
	reminderResponse
	RRule       string      `json:"rrule,omitempty"`
	Occurrences []time.Time `json:"occurrences"`
}

type listResponse struct {
	Reminders []reminderResponse `json:"reminders"`
	Total     int                `json:"total"`
}

type runRequest struct {
	Now *time.Time `json:"now"`
}
