// Package recurrence computes the next fire instant for reminder schedules.
//
// All computation is pure: callers pass the current instant in and get the
// next one back, or nil when the schedule has no further runs. Wall-clock
// arithmetic happens in the reminder's own timezone via time.Date, so DST
// transitions resolve the way the Go time package normalizes them.
package recurrence

import (
	"fmt"
	"time"

	"github.com/inkwell-app/remindd/internal/models"
)

// maxMonthlyProbe bounds the monthly advance loop. Every day-of-month in
// 1..31 resolves well within a year of probing.
const maxMonthlyProbe = 12

// Next returns the next instant the reminder should fire strictly after now,
// or nil when no run remains. Configuration problems surface as errors
// wrapping models.ErrInvalidConfig; Next never guesses around them.
func Next(r *models.Reminder, now time.Time) (*time.Time, error) {
	if err := r.ValidateConfig(); err != nil {
		return nil, err
	}
	loc, err := r.Location()
	if err != nil {
		return nil, err
	}
	local := now.In(loc)

	switch r.Kind {
	case models.KindOneTime:
		run := r.RunAt.In(loc)
		if run.After(local) {
			return &run, nil
		}
		// Already past. Whether an overdue one-time still fires is the
		// processor's call, not the calculator's.
		return nil, nil

	case models.KindRecurring:
		hour, minute, _ := models.ParseTimeOfDay(r.TimeOfDay)
		switch r.Frequency {
		case models.FrequencyDaily:
			return nextDaily(local, hour, minute, loc), nil
		case models.FrequencyWeekly:
			return nextWeekly(local, *r.DayOfWeek, hour, minute, loc), nil
		case models.FrequencyMonthly:
			return nextMonthly(local, *r.DayOfMonth, hour, minute, loc), nil
		}
	}

	return nil, fmt.Errorf("%w: unschedulable reminder", models.ErrInvalidConfig)
}

func nextDaily(local time.Time, hour, minute int, loc *time.Location) *time.Time {
	cand := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !cand.After(local) {
		// Day arithmetic through time.Date keeps the wall clock stable
		// across DST, unlike adding 24h.
		cand = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return &cand
}

func nextWeekly(local time.Time, dayOfWeek, hour, minute int, loc *time.Location) *time.Time {
	ahead := (dayOfWeek - mondayIndex(local.Weekday()) + 7) % 7
	cand := time.Date(local.Year(), local.Month(), local.Day()+ahead, hour, minute, 0, 0, loc)
	if !cand.After(local) {
		cand = time.Date(local.Year(), local.Month(), local.Day()+ahead+7, hour, minute, 0, 0, loc)
	}
	return &cand
}

// mondayIndex converts Go's Sunday-based weekday into the Monday=0 space
// reminders are configured in.
func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func nextMonthly(local time.Time, dayOfMonth, hour, minute int, loc *time.Location) *time.Time {
	year, month := local.Year(), local.Month()
	for i := 0; i < maxMonthlyProbe; i++ {
		var cand time.Time
		if dayOfMonth <= daysIn(year, month) {
			cand = time.Date(year, month, dayOfMonth, hour, minute, 0, 0, loc)
		} else {
			// Months too short for the configured day roll over to the
			// 1st of the following month. Never clamp to the 28th/30th.
			cand = time.Date(year, month+1, 1, hour, minute, 0, 0, loc)
		}
		if cand.After(local) {
			return &cand
		}
		year, month = nextMonth(year, month)
	}
	return nil
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the following month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}
