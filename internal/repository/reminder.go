package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inkwell-app/remindd/internal/database"
	"github.com/inkwell-app/remindd/internal/models"
)

const reminderColumns = `reminder_id, entry_ref, kind, timezone, run_at, frequency, day_of_week, day_of_month,
	 time_of_day, recipient, message, next_run_at, last_sent_at, active, version, created_at, updated_at`

type ReminderRepository struct {
	db *database.DB
}

func NewReminderRepository(db *database.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

func (r *ReminderRepository) Create(ctx context.Context, reminder *models.Reminder) error {
	if reminder.ID == uuid.Nil {
		reminder.ID = uuid.New()
	}
	if reminder.Version == 0 {
		reminder.Version = 1
	}
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO reminders (reminder_id, entry_ref, kind, timezone, run_at, frequency, day_of_week, day_of_month,
		                        time_of_day, recipient, message, next_run_at, last_sent_at, active, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING created_at, updated_at`,
		reminder.ID, reminder.EntryRef, reminder.Kind, reminder.Timezone, reminder.RunAt,
		reminder.Frequency, reminder.DayOfWeek, reminder.DayOfMonth, reminder.TimeOfDay,
		reminder.Recipient, reminder.Message, reminder.NextRunAt, reminder.LastSentAt,
		reminder.Active, reminder.Version,
	).Scan(&reminder.CreatedAt, &reminder.UpdatedAt)
}

func (r *ReminderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	reminder, err := scanReminder(r.db.Pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE reminder_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return reminder, nil
}

func (r *ReminderRepository) List(ctx context.Context, entryRef string, limit int) ([]*models.Reminder, error) {
	limit = normalizeLimit(limit)
	if entryRef == "" {
		rows, err := r.db.Pool.Query(ctx,
			`SELECT `+reminderColumns+` FROM reminders
			 ORDER BY next_run_at ASC NULLS LAST, created_at ASC LIMIT $1`, limit)
		if err != nil {
			return nil, err
		}
		return collectReminders(rows)
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE entry_ref = $1
		 ORDER BY next_run_at ASC NULLS LAST, created_at ASC LIMIT $2`, entryRef, limit)
	if err != nil {
		return nil, err
	}
	return collectReminders(rows)
}

func (r *ReminderRepository) ListUpcoming(ctx context.Context, limit int) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE active = true AND next_run_at IS NOT NULL
		 ORDER BY next_run_at ASC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectReminders(rows)
}

func (r *ReminderRepository) FindDue(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE active = true AND next_run_at IS NOT NULL AND next_run_at <= $1
		 ORDER BY next_run_at ASC`, now)
	if err != nil {
		return nil, err
	}
	return collectReminders(rows)
}

// Save writes configuration and scheduling state in one guarded update. The
// version check keeps concurrent runs from double-advancing a reminder: the
// losing writer gets ErrStale and leaves the row alone.
func (r *ReminderRepository) Save(ctx context.Context, reminder *models.Reminder) error {
	err := r.db.Pool.QueryRow(ctx,
		`UPDATE reminders
		 SET entry_ref = $1, kind = $2, timezone = $3, run_at = $4, frequency = $5,
		     day_of_week = $6, day_of_month = $7, time_of_day = $8, recipient = $9, message = $10,
		     next_run_at = $11, last_sent_at = $12, active = $13,
		     version = version + 1, updated_at = now()
		 WHERE reminder_id = $14 AND version = $15
		 RETURNING version, updated_at`,
		reminder.EntryRef, reminder.Kind, reminder.Timezone, reminder.RunAt, reminder.Frequency,
		reminder.DayOfWeek, reminder.DayOfMonth, reminder.TimeOfDay, reminder.Recipient, reminder.Message,
		reminder.NextRunAt, reminder.LastSentAt, reminder.Active,
		reminder.ID, reminder.Version,
	).Scan(&reminder.Version, &reminder.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, reminder.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStale
	}
	return err
}

func (r *ReminderRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE reminders
		 SET active = false, next_run_at = NULL, version = version + 1, updated_at = now()
		 WHERE reminder_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ReminderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM reminders WHERE reminder_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ReminderRepository) Ping(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

func scanReminder(row pgx.Row) (*models.Reminder, error) {
	reminder := &models.Reminder{}
	err := row.Scan(&reminder.ID, &reminder.EntryRef, &reminder.Kind, &reminder.Timezone, &reminder.RunAt,
		&reminder.Frequency, &reminder.DayOfWeek, &reminder.DayOfMonth, &reminder.TimeOfDay,
		&reminder.Recipient, &reminder.Message, &reminder.NextRunAt, &reminder.LastSentAt,
		&reminder.Active, &reminder.Version, &reminder.CreatedAt, &reminder.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return reminder, nil
}

func collectReminders(rows pgx.Rows) ([]*models.Reminder, error) {
	defer rows.Close()
	var reminders []*models.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}
	return reminders, rows.Err()
}
