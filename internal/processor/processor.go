// Package processor drives delivery cycles: it loads due reminders, hands
// them to a dispatcher, and advances each reminder's schedule. One failing
// reminder never blocks the rest of the batch.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/inkwell-app/remindd/internal/dispatch"
	"github.com/inkwell-app/remindd/internal/models"
	"github.com/inkwell-app/remindd/internal/recurrence"
	"github.com/inkwell-app/remindd/internal/repository"
	"github.com/inkwell-app/remindd/internal/sentlog"
)

const (
	defaultWorkers         = 4
	defaultDispatchTimeout = 10 * time.Second
)

// Store is the slice of the repository the processor needs.
type Store interface {
	FindDue(ctx context.Context, now time.Time) ([]*models.Reminder, error)
	Save(ctx context.Context, reminder *models.Reminder) error
}

// Outcome classifies what happened to a single reminder during a cycle.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeDeactivated Outcome = "deactivated"
	OutcomeSuppressed  Outcome = "suppressed"
	OutcomeFailed      Outcome = "failed"
)

// ItemResult is the per-reminder line of a cycle report.
type ItemResult struct {
	ReminderID uuid.UUID  `json:"reminder_id"`
	EntryRef   string     `json:"entry_ref"`
	Outcome    Outcome    `json:"outcome"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Report summarizes one processing cycle. Succeeded counts dispatches that
// went out; the transition counters (Completed, Rescheduled, Deactivated)
// count state changes that were also saved. A reminder whose dispatch went
// out but whose save failed shows up under StorageFailures instead.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Now       time.Time     `json:"now"`
	Duration  time.Duration `json:"duration"`

	Processed            int `json:"processed"`
	Succeeded            int `json:"succeeded"`
	Failed               int `json:"failed"`
	Completed            int `json:"completed"`
	Rescheduled          int `json:"rescheduled"`
	Deactivated          int `json:"deactivated"`
	DuplicatesSuppressed int `json:"duplicates_suppressed"`
	StorageFailures      int `json:"storage_failures"`

	Items []ItemResult `json:"items,omitempty"`
}

type cycleItem struct {
	result     ItemResult
	dispatched bool
	suppressed bool
	saveErr    error
}

func (rep *Report) apply(it cycleItem) {
	rep.Items = append(rep.Items, it.result)
	if it.dispatched {
		rep.Succeeded++
	}
	switch {
	case it.saveErr != nil:
		rep.StorageFailures++
	case it.suppressed:
		rep.DuplicatesSuppressed++
	default:
		switch it.result.Outcome {
		case OutcomeCompleted:
			rep.Completed++
		case OutcomeRescheduled:
			rep.Rescheduled++
		case OutcomeDeactivated:
			rep.Deactivated++
		case OutcomeFailed:
			rep.Failed++
		}
	}
}

// Options tunes a Processor. The zero value gets sensible defaults.
type Options struct {
	// SentLog journals dispatches so restarts do not re-send an occurrence.
	// Nil disables duplicate suppression.
	SentLog *sentlog.Log
	// Workers bounds how many reminders are dispatched concurrently.
	Workers int
	// DispatchTimeout caps how long a single dispatch may take.
	DispatchTimeout time.Duration
}

type Processor struct {
	store      Store
	dispatcher dispatch.Dispatcher
	sent       *sentlog.Log
	log        zerolog.Logger
	workers    int
	timeout    time.Duration
}

func New(store Store, dispatcher dispatch.Dispatcher, log zerolog.Logger, opts Options) *Processor {
	p := &Processor{
		store:      store,
		dispatcher: dispatcher,
		sent:       opts.SentLog,
		log:        log,
		workers:    opts.Workers,
		timeout:    opts.DispatchTimeout,
	}
	if p.workers <= 0 {
		p.workers = defaultWorkers
	}
	if p.timeout <= 0 {
		p.timeout = defaultDispatchTimeout
	}
	return p
}

// RunOnce executes a single processing cycle against the given instant.
// It returns an error only when the due reminders cannot be loaded at all;
// per-reminder failures are recorded in the report instead.
func (p *Processor) RunOnce(ctx context.Context, now time.Time) (*Report, error) {
	started := time.Now()

	due, err := p.store.FindDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load due reminders: %w", err)
	}

	report := &Report{StartedAt: started, Now: now, Processed: len(due)}
	if len(due) == 0 {
		report.Duration = time.Since(started)
		p.log.Debug().Time("now", now).Msg("no due reminders")
		return report, nil
	}

	p.log.Debug().Int("due", len(due)).Time("now", now).Msg("processing cycle started")

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, r := range due {
		r := r
		g.Go(func() error {
			it := p.processOne(gCtx, r, now)
			mu.Lock()
			report.apply(it)
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; everything lands in the report.
	_ = g.Wait()

	report.Duration = time.Since(started)
	p.log.Info().
		Int("processed", report.Processed).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("completed", report.Completed).
		Int("rescheduled", report.Rescheduled).
		Int("deactivated", report.Deactivated).
		Int("duplicates", report.DuplicatesSuppressed).
		Int("storage_failures", report.StorageFailures).
		Dur("took", report.Duration).
		Msg("processing cycle finished")

	return report, nil
}

func (p *Processor) processOne(ctx context.Context, r *models.Reminder, now time.Time) cycleItem {
	item := ItemResult{ReminderID: r.ID, EntryRef: r.EntryRef}

	if r.NextRunAt == nil {
		item.Outcome = OutcomeFailed
		item.Error = "due reminder has no scheduled time"
		p.log.Error().Stringer("reminder_id", r.ID).Msg("due reminder has no scheduled time")
		return cycleItem{result: item}
	}
	scheduledFor := *r.NextRunAt

	if p.sent != nil {
		prior, err := p.sent.Lookup(r.ID, scheduledFor)
		if err != nil {
			p.log.Warn().Err(err).Stringer("reminder_id", r.ID).Msg("sent log lookup failed, dispatching anyway")
		} else if prior != nil {
			return p.suppressDuplicate(ctx, r, prior, now)
		}
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.dispatcher.Dispatch(dispatchCtx, r)
	cancel()
	if err != nil {
		item.Outcome = OutcomeFailed
		item.Error = err.Error()
		p.log.Warn().
			Err(err).
			Stringer("reminder_id", r.ID).
			Str("dispatcher", p.dispatcher.Name()).
			Msg("dispatch failed, reminder stays due for the next cycle")
		return cycleItem{result: item}
	}

	sentAt := now
	r.LastSentAt = &sentAt
	item.Outcome = p.advance(r, now)
	item.NextRunAt = r.NextRunAt

	if p.sent != nil {
		entry := sentlog.Entry{ReminderID: r.ID, EntryRef: r.EntryRef, ScheduledFor: scheduledFor, SentAt: now}
		if err := p.sent.MarkSent(entry); err != nil {
			p.log.Warn().Err(err).Stringer("reminder_id", r.ID).Msg("failed to journal dispatch")
		}
	}

	saveErr := p.store.Save(ctx, r)
	if saveErr != nil {
		item.Error = saveErr.Error()
		evt := p.log.Error().Err(saveErr).Stringer("reminder_id", r.ID)
		if errors.Is(saveErr, repository.ErrStale) {
			evt.Msg("reminder changed concurrently after dispatch, state not saved")
		} else {
			evt.Msg("failed to save state after dispatch, occurrence may fire again")
		}
	}
	return cycleItem{result: item, dispatched: true, saveErr: saveErr}
}

// suppressDuplicate advances a reminder whose occurrence already went out in
// an earlier cycle, without dispatching it again.
func (p *Processor) suppressDuplicate(ctx context.Context, r *models.Reminder, prior *sentlog.Entry, now time.Time) cycleItem {
	p.log.Warn().
		Stringer("reminder_id", r.ID).
		Time("scheduled_for", prior.ScheduledFor).
		Time("sent_at", prior.SentAt).
		Msg("occurrence already dispatched, suppressing duplicate")

	sentAt := prior.SentAt
	r.LastSentAt = &sentAt
	p.advance(r, now)

	item := ItemResult{ReminderID: r.ID, EntryRef: r.EntryRef, Outcome: OutcomeSuppressed, NextRunAt: r.NextRunAt}
	saveErr := p.store.Save(ctx, r)
	if saveErr != nil {
		item.Error = saveErr.Error()
		p.log.Error().Err(saveErr).Stringer("reminder_id", r.ID).Msg("failed to save state after suppressing duplicate")
	}
	return cycleItem{result: item, suppressed: true, saveErr: saveErr}
}

// advance moves a just-dispatched reminder to its next state: one-time
// reminders complete, recurring ones get their next occurrence. A recurrence
// that can no longer produce occurrences deactivates the reminder instead of
// wedging it in the due set forever.
func (p *Processor) advance(r *models.Reminder, now time.Time) Outcome {
	if !r.IsRecurring() {
		r.Active = false
		r.NextRunAt = nil
		return OutcomeCompleted
	}

	next, err := recurrence.Next(r, now)
	if err != nil {
		p.log.Error().Err(err).Stringer("reminder_id", r.ID).Msg("recurrence became invalid, deactivating reminder")
	} else if next == nil {
		p.log.Error().Stringer("reminder_id", r.ID).Msg("no further occurrence found, deactivating reminder")
	}
	if err != nil || next == nil {
		r.Active = false
		r.NextRunAt = nil
		return OutcomeDeactivated
	}

	r.NextRunAt = next
	return OutcomeRescheduled
}
