// Package repository persists reminders. Two backends implement the same
// Store contract: PostgreSQL over pgx for deployments, and embedded SQLite
// for single-binary setups and tests.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-app/remindd/internal/models"
)

var (
	// ErrNotFound is returned when a reminder id does not exist.
	ErrNotFound = errors.New("reminder not found")
	// ErrStale is returned when a guarded save lost a version race. The
	// caller re-reads and retries on the next cycle instead of overwriting.
	ErrStale = errors.New("reminder version is stale")
)

const defaultListLimit = 100

type Store interface {
	// Create inserts a new reminder, assigning its ID when unset.
	Create(ctx context.Context, r *models.Reminder) error
	// GetByID fetches one reminder or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Reminder, error)
	// List returns reminders, optionally filtered by journal entry.
	List(ctx context.Context, entryRef string, limit int) ([]*models.Reminder, error)
	// ListUpcoming returns active scheduled reminders ordered by next run.
	ListUpcoming(ctx context.Context, limit int) ([]*models.Reminder, error)
	// FindDue returns active reminders whose next run is at or before now,
	// ordered by next run ascending.
	FindDue(ctx context.Context, now time.Time) ([]*models.Reminder, error)
	// Save writes the reminder's configuration and scheduling state in a
	// single version-guarded update. ErrStale when the stored version moved.
	Save(ctx context.Context, r *models.Reminder) error
	// Cancel deactivates a reminder and clears its schedule. Terminal.
	Cancel(ctx context.Context, id uuid.UUID) error
	// Delete removes a reminder entirely.
	Delete(ctx context.Context, id uuid.UUID) error
	// Ping reports backend health.
	Ping(ctx context.Context) error
}

var (
	_ Store = (*ReminderRepository)(nil)
	_ Store = (*SQLiteRepository)(nil)
)

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
