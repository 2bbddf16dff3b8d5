package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/inkwell-app/remindd/internal/models"
)

var (
	weekdayCodes = [7]string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}
	weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
)

// RRuleString renders a recurring reminder as an RFC 5545 RRULE for calendar
// export. One-time reminders have no rule and render as "".
//
// Note: plain RRULE cannot express the roll-over of day-of-month schedules in
// short months, so BYMONTHDAY exports are best-effort for display. Preview is
// the authoritative occurrence source.
func RRuleString(r *models.Reminder) (string, error) {
	if err := r.ValidateConfig(); err != nil {
		return "", err
	}
	if !r.IsRecurring() {
		return "", nil
	}
	hour, minute, _ := models.ParseTimeOfDay(r.TimeOfDay)

	var parts []string
	switch r.Frequency {
	case models.FrequencyDaily:
		parts = append(parts, "FREQ=DAILY")
	case models.FrequencyWeekly:
		parts = append(parts, "FREQ=WEEKLY", "BYDAY="+weekdayCodes[*r.DayOfWeek])
	case models.FrequencyMonthly:
		parts = append(parts, "FREQ=MONTHLY", fmt.Sprintf("BYMONTHDAY=%d", *r.DayOfMonth))
	}
	parts = append(parts, fmt.Sprintf("BYHOUR=%d", hour), fmt.Sprintf("BYMINUTE=%d", minute))
	return strings.Join(parts, ";"), nil
}

// FromRRule maps an RFC 5545 RRULE onto a recurring reminder config. Only
// plain daily/weekly/monthly rules with a single BYDAY or BYMONTHDAY and at
// most one BYHOUR/BYMINUTE are accepted; anything richer is rejected rather
// than approximated. Kind, Frequency, DayOfWeek, DayOfMonth and TimeOfDay are
// populated on the result; everything else is the caller's job.
func FromRRule(ruleStr string) (*models.Reminder, error) {
	ruleStr = strings.TrimPrefix(strings.TrimSpace(ruleStr), "RRULE:")

	opt, err := rrule.StrToROption(ruleStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if _, err := rrule.NewRRule(*opt); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if opt.Interval > 1 || opt.Count > 0 || !opt.Until.IsZero() {
		return nil, fmt.Errorf("%w: INTERVAL/COUNT/UNTIL are not supported", models.ErrInvalidConfig)
	}
	if len(opt.Byhour) > 1 || len(opt.Byminute) > 1 {
		return nil, fmt.Errorf("%w: multiple fire times per day are not supported", models.ErrInvalidConfig)
	}

	hour, minute := 0, 0
	if len(opt.Byhour) == 1 {
		hour = opt.Byhour[0]
	}
	if len(opt.Byminute) == 1 {
		minute = opt.Byminute[0]
	}

	r := &models.Reminder{
		Kind:      models.KindRecurring,
		TimeOfDay: fmt.Sprintf("%02d:%02d", hour, minute),
	}

	switch opt.Freq {
	case rrule.DAILY:
		if len(opt.Byweekday) > 0 || len(opt.Bymonthday) > 0 {
			return nil, fmt.Errorf("%w: BYDAY/BYMONTHDAY do not apply to FREQ=DAILY", models.ErrInvalidConfig)
		}
		r.Frequency = models.FrequencyDaily
	case rrule.WEEKLY:
		if len(opt.Byweekday) != 1 {
			return nil, fmt.Errorf("%w: FREQ=WEEKLY requires exactly one BYDAY", models.ErrInvalidConfig)
		}
		dow := opt.Byweekday[0].Day()
		r.Frequency = models.FrequencyWeekly
		r.DayOfWeek = &dow
	case rrule.MONTHLY:
		if len(opt.Bymonthday) != 1 {
			return nil, fmt.Errorf("%w: FREQ=MONTHLY requires exactly one BYMONTHDAY", models.ErrInvalidConfig)
		}
		dom := opt.Bymonthday[0]
		if dom < 1 || dom > 31 {
			return nil, fmt.Errorf("%w: BYMONTHDAY must be 1-31", models.ErrInvalidConfig)
		}
		r.Frequency = models.FrequencyMonthly
		r.DayOfMonth = &dom
	default:
		return nil, fmt.Errorf("%w: only daily, weekly and monthly rules are supported", models.ErrInvalidConfig)
	}
	return r, nil
}

// Preview returns up to n upcoming fire instants strictly after from,
// computed with the same calculator the processor schedules with, so preview
// and scheduling cannot disagree.
func Preview(r *models.Reminder, from time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]time.Time, 0, n)
	cursor := from
	for len(out) < n {
		next, err := Next(r, cursor)
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		out = append(out, *next)
		cursor = *next
	}
	return out, nil
}

// HumanReadable describes the schedule for display. It never fails; rows too
// broken to describe come back as "unscheduled".
func HumanReadable(r *models.Reminder) string {
	if !r.IsRecurring() {
		if r.RunAt == nil {
			return "unscheduled"
		}
		at := *r.RunAt
		if loc, err := r.Location(); err == nil {
			at = at.In(loc)
		}
		return "once at " + at.Format("2006-01-02 15:04 MST")
	}

	tod := r.TimeOfDay
	if tod == "" {
		return "unscheduled"
	}
	switch r.Frequency {
	case models.FrequencyDaily:
		return fmt.Sprintf("every day at %s (%s)", tod, r.Timezone)
	case models.FrequencyWeekly:
		if r.DayOfWeek == nil || *r.DayOfWeek < 0 || *r.DayOfWeek > 6 {
			return "unscheduled"
		}
		return fmt.Sprintf("every %s at %s (%s)", weekdayNames[*r.DayOfWeek], tod, r.Timezone)
	case models.FrequencyMonthly:
		if r.DayOfMonth == nil {
			return "unscheduled"
		}
		return fmt.Sprintf("every month on day %d at %s (%s)", *r.DayOfMonth, tod, r.Timezone)
	}
	return "unscheduled"
}
