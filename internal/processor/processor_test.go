package processor

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-app/remindd/internal/models"
	"github.com/inkwell-app/remindd/internal/repository"
	"github.com/inkwell-app/remindd/internal/sentlog"
)

type fakeStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.Reminder
	saveErr map[uuid.UUID]error
	findErr error
}

func newFakeStore(reminders ...*models.Reminder) *fakeStore {
	s := &fakeStore{
		byID:    make(map[uuid.UUID]*models.Reminder),
		saveErr: make(map[uuid.UUID]error),
	}
	for _, r := range reminders {
		clone := *r
		s.byID[r.ID] = &clone
	}
	return s
}

func (s *fakeStore) FindDue(_ context.Context, now time.Time) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var due []*models.Reminder
	for _, r := range s.byID {
		if r.Active && r.NextRunAt != nil && !r.NextRunAt.After(now) {
			clone := *r
			due = append(due, &clone)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Before(*due[j].NextRunAt) })
	return due, nil
}

func (s *fakeStore) Save(_ context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveErr[r.ID]; err != nil {
		return err
	}
	clone := *r
	s.byID[r.ID] = &clone
	return nil
}

func (s *fakeStore) get(t *testing.T, id uuid.UUID) *models.Reminder {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	require.True(t, ok, "reminder %s not in store", id)
	clone := *r
	return &clone
}

type fakeDispatcher struct {
	mu      sync.Mutex
	sent    []uuid.UUID
	failFor map[uuid.UUID]error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failFor: make(map[uuid.UUID]error)}
}

func (d *fakeDispatcher) Dispatch(_ context.Context, r *models.Reminder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failFor[r.ID]; err != nil {
		return err
	}
	d.sent = append(d.sent, r.ID)
	return nil
}

func (d *fakeDispatcher) Name() string { return "fake" }

func (d *fakeDispatcher) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func (d *fakeDispatcher) didSend(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, got := range d.sent {
		if got == id {
			return true
		}
	}
	return false
}

type blockingDispatcher struct{}

func (blockingDispatcher) Dispatch(ctx context.Context, _ *models.Reminder) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingDispatcher) Name() string { return "blocking" }

func dueOneTime(runAt time.Time) *models.Reminder {
	return &models.Reminder{
		ID:        uuid.New(),
		EntryRef:  "journal/2025-06-15",
		Kind:      models.KindOneTime,
		Timezone:  "UTC",
		RunAt:     &runAt,
		Message:   "call the dentist",
		NextRunAt: &runAt,
		Active:    true,
		Version:   1,
	}
}

func dueDaily(next time.Time) *models.Reminder {
	return &models.Reminder{
		ID:        uuid.New(),
		EntryRef:  "journal/habits",
		Kind:      models.KindRecurring,
		Timezone:  "UTC",
		Frequency: models.FrequencyDaily,
		TimeOfDay: "09:00",
		Message:   "morning pages",
		NextRunAt: &next,
		Active:    true,
		Version:   1,
	}
}

func openTestSentLog(t *testing.T) *sentlog.Log {
	t.Helper()
	log, err := sentlog.Open(filepath.Join(t.TempDir(), "sent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestRunOnceEmptyCycle(t *testing.T) {
	store := newFakeStore()
	disp := newFakeDispatcher()
	p := New(store, disp, zerolog.Nop(), Options{})

	report, err := p.RunOnce(context.Background(), time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
	assert.Empty(t, report.Items)
	assert.Equal(t, 0, disp.sentCount())
}

func TestRunOnceCompletesOneTime(t *testing.T) {
	now := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	r := dueOneTime(now)
	store := newFakeStore(r)
	disp := newFakeDispatcher()
	p := New(store, disp, zerolog.Nop(), Options{Workers: 1})

	report, err := p.RunOnce(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeCompleted, report.Items[0].Outcome)

	assert.True(t, disp.didSend(r.ID))

	saved := store.get(t, r.ID)
	assert.False(t, saved.Active)
	assert.Nil(t, saved.NextRunAt)
	require.NotNil(t, saved.LastSentAt)
	assert.True(t, saved.LastSentAt.Equal(now))
	assert.Equal(t, models.StateCompleted, saved.State(now))
}

func TestRunOnceReschedulesDaily(t *testing.T) {
	slot := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	now := slot.Add(5 * time.Second)
	r := dueDaily(slot)
	store := newFakeStore(r)
	disp := newFakeDispatcher()
	p := New(store, disp, zerolog.Nop(), Options{Workers: 1})

	report, err := p.RunOnce(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Rescheduled)
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeRescheduled, report.Items[0].Outcome)

	saved := store.get(t, r.ID)
	assert.True(t, saved.Active)
	require.NotNil(t, saved.NextRunAt)
	assert.True(t, saved.NextRunAt.Equal(slot.AddDate(0, 0, 1)), "got %v", saved.NextRunAt)
	require.NotNil(t, saved.LastSentAt)
	assert.True(t, saved.LastSentAt.Equal(now))
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	now := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	a := dueOneTime(now.Add(-2 * time.Minute))
	b := dueDaily(now.Add(-1 * time.Minute))
	c := dueDaily(now)
	store := newFakeStore(a, b, c)
	disp := newFakeDispatcher()
	disp.failFor[b.ID] = errors.New("telegram: bad gateway")
	p := New(store, disp, zerolog.Nop(), Options{Workers: 1})

	report, err := p.RunOnce(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.Rescheduled)

	assert.True(t, disp.didSend(a.ID))
	assert.True(t, disp.didSend(c.ID))
	assert.False(t, disp.didSend(b.ID))

	// The failed reminder keeps its state and stays due.
	stuck := store.get(t, b.ID)
	assert.True(t, stuck.Active)
	require.NotNil(t, stuck.NextRunAt)
	assert.True(t, stuck.NextRunAt.Equal(*b.NextRunAt))
	assert.Nil(t, stuck.LastSentAt)

	// Once the dispatcher recovers, the next cycle picks it up alone.
	delete(disp.failFor, b.ID)
	later := now.Add(time.Minute)
	second, err := p.RunOnce(context.Background(), later)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Processed)
	assert.Equal(t, 1, second.Rescheduled)
	assert.True(t, disp.didSend(b.ID))
}

func TestRunOnceStorageFailureAfterDispatch(t *testing.T) {
	now := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	r := dueDaily(now)
	store := newFakeStore(r)
	store.saveErr[r.ID] = errors.New("connection reset by peer")
	disp := newFakeDispatcher()
	p := New(store, disp, zerolog.Nop(), Options{Workers: 1})

	report, err := p.RunOnce(context.Background(), now)
	require.NoError(t, err)

	// The notification went out, only the state write was lost.
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.StorageFailures)
	assert.Equal(t, 0, report.Rescheduled)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "connection reset by peer", report.Items[0].Error)
	assert.True(t, disp.didSend(r.ID))

	unsaved := store.get(t, r.ID)
	assert.True(t, unsaved.NextRunAt.Equal(*r.NextRunAt))
	assert.Nil(t, unsaved.LastSentAt)
}

func TestRunOnceStaleSaveCounted(t *testing.T) {
	now := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	r := dueDaily(now)
	store := newFakeStore(r)
	store.saveErr[r.ID] = repository.ErrStale
	disp := newFakeDispatcher()
	p := New(store, disp, zerolog.Nop(), Options{Workers: 1})

	report, err := p.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.StorageFailures)
	require.Len(t, report.Items, 1)
	assert.Equal(t, repository.ErrStale.Error(), report.Items[0].Error)
}

func TestRunOnceDeactivatesBrokenRecurrence(t *testing.T) {
	now := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	r := dueDaily(now)
	r.Frequency = models.FrequencyWeekly // weekly without day_of_week cannot reschedule
	store := newFakeStore(r)
	disp := newFakeDispatcher()
	p := New(store, disp, zerolog.Nop(), Options{Workers: 1})

	report, err := p.RunOnce(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Deactivated)
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeDeactivated, report.Items[0].Outcome)

	saved := store.get(t, r.ID)
	assert.False(t, saved.Active)
	assert.Nil(t, saved.NextRunAt)
}

func TestRunOnceSuppressesDuplicate(t *testing.T) {
	slot := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	firstSend := slot.Add(2 * time.Second)
	r := dueDaily(slot)

	sent := openTestSentLog(t)
	require.NoError(t, sent.MarkSent(sentlog.Entry{
		ReminderID:   r.ID,
		EntryRef:     r.EntryRef,
		ScheduledFor: slot,
		SentAt:       firstSend,
	}))

	store := newFakeStore(r)
	disp := newFakeDispatcher()
	p := New(store, disp, zerolog.Nop(), Options{Workers: 1, SentLog: sent})

	report, err := p.RunOnce(context.Background(), slot.Add(5*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 1, report.DuplicatesSuppressed)
	assert.Equal(t, 0, report.Succeeded)
	assert.Equal(t, 0, disp.sentCount())
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeSuppressed, report.Items[0].Outcome)

	saved := store.get(t, r.ID)
	require.NotNil(t, saved.LastSentAt)
	assert.True(t, saved.LastSentAt.Equal(firstSend))
	require.NotNil(t, saved.NextRunAt)
	assert.True(t, saved.NextRunAt.Equal(slot.AddDate(0, 0, 1)))
}

func TestRunOnceRecoversFromCrashBetweenSendAndSave(t *testing.T) {
	slot := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	r := dueDaily(slot)
	sent := openTestSentLog(t)
	store := newFakeStore(r)
	disp := newFakeDispatcher()
	p := New(store, disp, zerolog.Nop(), Options{Workers: 1, SentLog: sent})

	// First cycle: the send goes out, then the state write is lost.
	store.saveErr[r.ID] = errors.New("connection reset by peer")
	first, err := p.RunOnce(context.Background(), slot)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Succeeded)
	assert.Equal(t, 1, first.StorageFailures)
	assert.Equal(t, 1, disp.sentCount())

	// Next cycle sees the same occurrence but the journal stops a resend.
	delete(store.saveErr, r.ID)
	second, err := p.RunOnce(context.Background(), slot.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, second.DuplicatesSuppressed)
	assert.Equal(t, 1, disp.sentCount())

	saved := store.get(t, r.ID)
	require.NotNil(t, saved.LastSentAt)
	assert.True(t, saved.LastSentAt.Equal(slot))
	require.NotNil(t, saved.NextRunAt)
	assert.True(t, saved.NextRunAt.Equal(slot.AddDate(0, 0, 1)))
}

func TestRunOnceDispatchTimeout(t *testing.T) {
	now := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	r := dueDaily(now)
	store := newFakeStore(r)
	p := New(store, blockingDispatcher{}, zerolog.Nop(), Options{Workers: 1, DispatchTimeout: 30 * time.Millisecond})

	report, err := p.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Items, 1)
	assert.Contains(t, report.Items[0].Error, "context deadline exceeded")

	saved := store.get(t, r.ID)
	assert.True(t, saved.Active)
	assert.True(t, saved.NextRunAt.Equal(*r.NextRunAt))
}

func TestRunOnceFindDueError(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("connection refused")
	p := New(store, newFakeDispatcher(), zerolog.Nop(), Options{})

	report, err := p.RunOnce(context.Background(), time.Now())
	assert.Nil(t, report)
	assert.ErrorContains(t, err, "failed to load due reminders")
}

func TestRunOnceManyWorkers(t *testing.T) {
	now := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	reminders := make([]*models.Reminder, 0, 12)
	for i := 0; i < 12; i++ {
		reminders = append(reminders, dueDaily(now.Add(-time.Duration(i)*time.Second)))
	}
	store := newFakeStore(reminders...)
	disp := newFakeDispatcher()
	p := New(store, disp, zerolog.Nop(), Options{Workers: 5})

	report, err := p.RunOnce(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 12, report.Processed)
	assert.Equal(t, 12, report.Succeeded)
	assert.Equal(t, 12, report.Rescheduled)
	assert.Len(t, report.Items, 12)
	assert.Equal(t, 12, disp.sentCount())

	for _, r := range reminders {
		saved := store.get(t, r.ID)
		assert.True(t, saved.Active)
		require.NotNil(t, saved.NextRunAt)
		assert.True(t, saved.NextRunAt.After(now))
	}
}
