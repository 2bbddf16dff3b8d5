package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-app/remindd/internal/processor"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	gotCh chan time.Time
	err   error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{gotCh: make(chan time.Time, 16)}
}

func (f *fakeRunner) RunOnce(_ context.Context, now time.Time) (*processor.Report, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	select {
	case f.gotCh <- now:
	default:
	}
	if f.err != nil {
		return nil, f.err
	}
	return &processor.Report{Now: now, Processed: n}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// gosched gives the scheduler goroutine a chance to park on the mock clock.
func gosched() { time.Sleep(10 * time.Millisecond) }

func waitForCall(t *testing.T, ch <-chan time.Time) time.Time {
	t.Helper()
	select {
	case now := <-ch:
		return now
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a cycle")
		return time.Time{}
	}
}

func startScheduler(t *testing.T, s *Scheduler) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	return func() {
		cancelCtx()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	}
}

func TestParseTrigger(t *testing.T) {
	sched, err := ParseTrigger("0 9 * * *")
	require.NoError(t, err)
	now := time.Date(2025, 6, 16, 8, 0, 0, 0, time.UTC)
	assert.True(t, sched.Next(now).Equal(time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)))

	for _, spec := range []string{"1m", "30s", "@every 90s", "@hourly", "*/5 * * * *"} {
		_, err := ParseTrigger(spec)
		assert.NoError(t, err, spec)
	}
	for _, spec := range []string{"", "bogus", "500ms", "* * *"} {
		_, err := ParseTrigger(spec)
		assert.Error(t, err, spec)
	}
}

func TestSchedulerRunsInitialAndTickCycles(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 16, 8, 59, 0, 0, time.UTC))
	runner := newFakeRunner()
	s, err := New(runner, "1m", clk, zerolog.Nop())
	require.NoError(t, err)

	stop := startScheduler(t, s)
	defer stop()

	gosched()
	clk.Add(startupDelay)
	first := waitForCall(t, runner.gotCh)
	assert.True(t, first.Equal(clk.Now()))

	gosched()
	clk.Add(time.Minute)
	waitForCall(t, runner.gotCh)
	assert.Equal(t, 2, runner.count())
}

func TestSchedulerNotifyTriggersCycle(t *testing.T) {
	clk := clock.NewMock()
	runner := newFakeRunner()
	s, err := New(runner, "1m", clk, zerolog.Nop())
	require.NoError(t, err)

	stop := startScheduler(t, s)
	defer stop()

	gosched()
	clk.Add(startupDelay)
	waitForCall(t, runner.gotCh)

	gosched()
	s.Notify()
	waitForCall(t, runner.gotCh)
	assert.Equal(t, 2, runner.count())
}

func TestSchedulerNotifyCoalesces(t *testing.T) {
	clk := clock.NewMock()
	runner := newFakeRunner()
	s, err := New(runner, "1m", clk, zerolog.Nop())
	require.NoError(t, err)

	// Both land before the loop drains the channel; only one sticks.
	s.Notify()
	s.Notify()

	stop := startScheduler(t, s)
	defer stop()

	gosched()
	clk.Add(startupDelay)
	waitForCall(t, runner.gotCh)
	waitForCall(t, runner.gotCh)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, runner.count())
}

func TestSchedulerHistoryRing(t *testing.T) {
	clk := clock.NewMock()
	runner := newFakeRunner()
	s, err := New(runner, "1m", clk, zerolog.Nop())
	require.NoError(t, err)

	assert.Nil(t, s.LastReport())

	for i := 0; i < historySize+5; i++ {
		s.runCycle(context.Background())
	}

	hist := s.History()
	require.Len(t, hist, historySize)
	assert.Equal(t, 6, hist[0].Processed, "oldest retained cycle")
	assert.Equal(t, historySize+5, s.LastReport().Processed)
}

func TestSchedulerCycleErrorKeepsHistoryClean(t *testing.T) {
	clk := clock.NewMock()
	runner := newFakeRunner()
	runner.err = errors.New("db down")
	s, err := New(runner, "1m", clk, zerolog.Nop())
	require.NoError(t, err)

	s.runCycle(context.Background())
	assert.Empty(t, s.History())
	assert.Nil(t, s.LastReport())
}
