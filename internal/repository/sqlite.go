package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/inkwell-app/remindd/internal/models"
)

// SQLiteRepository is the embedded backend. Instants are stored as unix
// seconds, which is all the precision the scheduling domain carries.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", sqliteConnString(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s := &SQLiteRepository{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteConnString(path string) string {
	qs := url.Values{
		"_txlock": []string{"immediate"},
		"_pragma": []string{
			"journal_mode(WAL)",
			"busy_timeout(2000)",
		},
	}
	return "file:" + path + "?" + qs.Encode()
}

func (s *SQLiteRepository) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reminders (
			reminder_id  TEXT NOT NULL PRIMARY KEY,
			entry_ref    TEXT NOT NULL,
			kind         TEXT NOT NULL,
			timezone     TEXT NOT NULL,
			run_at       INTEGER,
			frequency    TEXT NOT NULL DEFAULT '',
			day_of_week  INTEGER,
			day_of_month INTEGER,
			time_of_day  TEXT NOT NULL DEFAULT '',
			recipient    TEXT NOT NULL DEFAULT '',
			message      TEXT NOT NULL DEFAULT '',
			next_run_at  INTEGER,
			last_sent_at INTEGER,
			active       INTEGER NOT NULL DEFAULT 1,
			version      INTEGER NOT NULL DEFAULT 1,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		) WITHOUT ROWID;

		CREATE INDEX IF NOT EXISTS reminders_due_idx ON reminders (next_run_at ASC);
		CREATE INDEX IF NOT EXISTS reminders_entry_ref_idx ON reminders (entry_ref);
	`)
	if err != nil {
		return fmt.Errorf("failed to create reminders table: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) Close() error {
	return s.db.Close()
}

func (s *SQLiteRepository) Create(ctx context.Context, reminder *models.Reminder) error {
	if reminder.ID == uuid.Nil {
		reminder.ID = uuid.New()
	}
	if reminder.Version == 0 {
		reminder.Version = 1
	}
	now := time.Now().UTC().Truncate(time.Second)
	reminder.CreatedAt = now
	reminder.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (reminder_id, entry_ref, kind, timezone, run_at, frequency, day_of_week, day_of_month,
		                        time_of_day, recipient, message, next_run_at, last_sent_at, active, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reminder.ID.String(), reminder.EntryRef, string(reminder.Kind), reminder.Timezone, unixOrNil(reminder.RunAt),
		string(reminder.Frequency), intOrNil(reminder.DayOfWeek), intOrNil(reminder.DayOfMonth), reminder.TimeOfDay,
		reminder.Recipient, reminder.Message, unixOrNil(reminder.NextRunAt), unixOrNil(reminder.LastSentAt),
		reminder.Active, reminder.Version, now.Unix(), now.Unix())
	return err
}

func (s *SQLiteRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	reminder, err := scanSQLiteReminder(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM reminders WHERE reminder_id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return reminder, nil
}

func (s *SQLiteRepository) List(ctx context.Context, entryRef string, limit int) ([]*models.Reminder, error) {
	limit = normalizeLimit(limit)
	if entryRef == "" {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+sqliteColumns+` FROM reminders
			 ORDER BY next_run_at IS NULL, next_run_at ASC, created_at ASC LIMIT ?`, limit)
		if err != nil {
			return nil, err
		}
		return collectSQLiteReminders(rows)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM reminders WHERE entry_ref = ?
		 ORDER BY next_run_at IS NULL, next_run_at ASC, created_at ASC LIMIT ?`, entryRef, limit)
	if err != nil {
		return nil, err
	}
	return collectSQLiteReminders(rows)
}

func (s *SQLiteRepository) ListUpcoming(ctx context.Context, limit int) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM reminders
		 WHERE active = 1 AND next_run_at IS NOT NULL
		 ORDER BY next_run_at ASC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectSQLiteReminders(rows)
}

func (s *SQLiteRepository) FindDue(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM reminders
		 WHERE active = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at ASC`, now.Unix())
	if err != nil {
		return nil, err
	}
	return collectSQLiteReminders(rows)
}

func (s *SQLiteRepository) Save(ctx context.Context, reminder *models.Reminder) error {
	updatedAt := time.Now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders
		 SET entry_ref = ?, kind = ?, timezone = ?, run_at = ?, frequency = ?,
		     day_of_week = ?, day_of_month = ?, time_of_day = ?, recipient = ?, message = ?,
		     next_run_at = ?, last_sent_at = ?, active = ?, version = version + 1, updated_at = ?
		 WHERE reminder_id = ? AND version = ?`,
		reminder.EntryRef, string(reminder.Kind), reminder.Timezone, unixOrNil(reminder.RunAt), string(reminder.Frequency),
		intOrNil(reminder.DayOfWeek), intOrNil(reminder.DayOfMonth), reminder.TimeOfDay, reminder.Recipient, reminder.Message,
		unixOrNil(reminder.NextRunAt), unixOrNil(reminder.LastSentAt), reminder.Active, updatedAt.Unix(),
		reminder.ID.String(), reminder.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetByID(ctx, reminder.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStale
	}
	reminder.Version++
	reminder.UpdatedAt = updatedAt
	return nil
}

func (s *SQLiteRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders
		 SET active = 0, next_run_at = NULL, version = version + 1, updated_at = ?
		 WHERE reminder_id = ?`,
		time.Now().UTC().Unix(), id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE reminder_id = ?`, id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteRepository) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const sqliteColumns = `reminder_id, entry_ref, kind, timezone, run_at, frequency, day_of_week, day_of_month,
	 time_of_day, recipient, message, next_run_at, last_sent_at, active, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteReminder(row rowScanner) (*models.Reminder, error) {
	var (
		reminder                     models.Reminder
		id, kind, frequency          string
		runAt, nextRunAt, lastSentAt sql.NullInt64
		dayOfWeek, dayOfMonth        sql.NullInt64
		createdAt, updatedAt         int64
	)
	err := row.Scan(&id, &reminder.EntryRef, &kind, &reminder.Timezone, &runAt, &frequency,
		&dayOfWeek, &dayOfMonth, &reminder.TimeOfDay, &reminder.Recipient, &reminder.Message,
		&nextRunAt, &lastSentAt, &reminder.Active, &reminder.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt reminder id %q: %w", id, err)
	}
	reminder.ID = parsed
	reminder.Kind = models.Kind(kind)
	reminder.Frequency = models.Frequency(frequency)
	reminder.RunAt = timeFromUnix(runAt)
	reminder.NextRunAt = timeFromUnix(nextRunAt)
	reminder.LastSentAt = timeFromUnix(lastSentAt)
	reminder.DayOfWeek = intFromNull(dayOfWeek)
	reminder.DayOfMonth = intFromNull(dayOfMonth)
	reminder.CreatedAt = time.Unix(createdAt, 0).UTC()
	reminder.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &reminder, nil
}

func collectSQLiteReminders(rows *sql.Rows) ([]*models.Reminder, error) {
	defer rows.Close()
	var reminders []*models.Reminder
	for rows.Next() {
		reminder, err := scanSQLiteReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}
	return reminders, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeFromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
