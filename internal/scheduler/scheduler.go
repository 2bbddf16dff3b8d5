// Package scheduler runs processing cycles on a configurable trigger: a
// plain interval ("1m"), a cron descriptor ("@hourly"), or a five-field
// cron expression ("*/5 * * * *").
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/inkwell-app/remindd/internal/processor"
)

const (
	historySize  = 20
	startupDelay = 2 * time.Second
)

// Runner executes one processing cycle. Satisfied by *processor.Processor.
type Runner interface {
	RunOnce(ctx context.Context, now time.Time) (*processor.Report, error)
}

type Scheduler struct {
	proc     Runner
	clk      clock.Clock
	spec     string
	schedule cron.Schedule
	notifyCh chan struct{}
	log      zerolog.Logger

	mu      sync.Mutex
	history []*processor.Report
}

func New(proc Runner, spec string, clk clock.Clock, log zerolog.Logger) (*Scheduler, error) {
	schedule, err := ParseTrigger(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger spec %q: %w", spec, err)
	}
	return &Scheduler{
		proc:     proc,
		clk:      clk,
		spec:     spec,
		schedule: schedule,
		notifyCh: make(chan struct{}, 1),
		log:      log,
	}, nil
}

// ParseTrigger accepts a bare Go duration or anything the cron parser
// understands (five-field expressions and @descriptors).
func ParseTrigger(spec string) (cron.Schedule, error) {
	if d, err := time.ParseDuration(spec); err == nil {
		if d < time.Second {
			return nil, fmt.Errorf("interval %s is below one second", d)
		}
		return cron.Every(d), nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(spec)
}

// Notify triggers an immediate cycle. Non-blocking if a cycle is already pending.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
		// Channel already has a pending notification, skip
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Str("trigger", s.spec).Msg("scheduler started")

	// Wait a bit for migrations to complete before the first cycle
	select {
	case <-ctx.Done():
		return
	case <-s.clk.After(startupDelay):
	}

	s.runCycle(ctx)

	for {
		now := s.clk.Now()
		timer := s.clk.Timer(s.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.runCycle(ctx)
		case <-s.notifyCh:
			timer.Stop()
			s.log.Debug().Msg("cycle triggered by notification")
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	report, err := s.proc.RunOnce(ctx, s.clk.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("processing cycle failed")
		return
	}

	s.mu.Lock()
	s.history = append(s.history, report)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.mu.Unlock()
}

// History returns recent cycle reports, oldest first.
func (s *Scheduler) History() []*processor.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*processor.Report, len(s.history))
	copy(out, s.history)
	return out
}

// LastReport returns the most recent cycle report, or nil before the first cycle.
func (s *Scheduler) LastReport() *processor.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return nil
	}
	return s.history[len(s.history)-1]
}
