package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/inkwell-app/remindd/internal/models"
	"github.com/inkwell-app/remindd/internal/processor"
	"github.com/inkwell-app/remindd/internal/recurrence"
	"github.com/inkwell-app/remindd/internal/repository"
	"github.com/inkwell-app/remindd/internal/scheduler"
)

const maxPreview = 24

// Handler holds API route handlers.
type Handler struct {
	store repository.Store
	proc  *processor.Processor
	sched *scheduler.Scheduler
	clk   clock.Clock
	log   zerolog.Logger
}

// NewHandler creates a new Handler. sched may be nil when no daemon loop is
// running; the run history is empty then.
func NewHandler(store repository.Store, proc *processor.Processor, sched *scheduler.Scheduler, clk clock.Clock, log zerolog.Logger) *Handler {
	return &Handler{store: store, proc: proc, sched: sched, clk: clk, log: log}
}

func reminderID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (h *Handler) view(rem *models.Reminder) reminderResponse {
	return reminderResponse{
		Reminder: rem,
		State:    rem.State(h.clk.Now()),
		Schedule: recurrence.HumanReadable(rem),
	}
}

func (h *Handler) notifyScheduler() {
	if h.sched != nil {
		h.sched.Notify()
	}
}

func (h *Handler) storeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("reminder not found"))
	case errors.Is(err, repository.ErrStale):
		writeJSON(w, http.StatusConflict, errorBody("reminder was modified concurrently, retry"))
	default:
		h.log.Error().Err(err).Msg(msg)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// scheduleFirstRun computes the reminder's first fire instant. One-time
// reminders must not already be in the past when they enter the system.
func scheduleFirstRun(rem *models.Reminder, now time.Time) error {
	if rem.Kind == models.KindOneTime {
		if rem.RunAt.Before(now) {
			return fmt.Errorf("%w: run_at is in the past", models.ErrInvalidConfig)
		}
		rem.NextRunAt = rem.RunAt
		return nil
	}
	next, err := recurrence.Next(rem, now)
	if err != nil {
		return err
	}
	rem.NextRunAt = next
	return nil
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListReminders handles GET /api/reminders.
func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	var (
		items []*models.Reminder
		err   error
	)
	if q.Get("upcoming") == "true" {
		items, err = h.store.ListUpcoming(r.Context(), limit)
	} else {
		items, err = h.store.List(r.Context(), q.Get("entry_ref"), limit)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("list reminders failed")
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	out := listResponse{Reminders: make([]reminderResponse, 0, len(items)), Total: len(items)}
	for _, rem := range items {
		out.Reminders = append(out.Reminders, h.view(rem))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateReminder handles POST /api/reminders.
func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req reminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	rem, err := req.toModel()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := scheduleFirstRun(rem, h.clk.Now()); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := h.store.Create(r.Context(), rem); err != nil {
		h.log.Error().Err(err).Msg("create reminder failed")
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	h.log.Info().
		Stringer("reminder_id", rem.ID).
		Str("entry_ref", rem.EntryRef).
		Str("schedule", recurrence.HumanReadable(rem)).
		Msg("reminder created")
	h.notifyScheduler()
	writeJSON(w, http.StatusCreated, h.view(rem))
}

// GetReminder handles GET /api/reminders/{id}. With ?preview=n it also
// returns the next n occurrences and the schedule as an RRULE.
func (h *Handler) GetReminder(w http.ResponseWriter, r *http.Request) {
	id, err := reminderID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid reminder id"))
		return
	}
	rem, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "get reminder failed")
		return
	}

	if n, _ := strconv.Atoi(r.URL.Query().Get("preview")); n > 0 {
		if n > maxPreview {
			n = maxPreview
		}
		occ, err := recurrence.Preview(rem, h.clk.Now(), n)
		if err != nil {
			h.log.Debug().Err(err).Stringer("reminder_id", rem.ID).Msg("preview unavailable")
		}
		if occ == nil {
			occ = []time.Time{}
		}
		rule, _ := recurrence.RRuleString(rem)
		writeJSON(w, http.StatusOK, previewResponse{reminderResponse: h.view(rem), RRule: rule, Occurrences: occ})
		return
	}
	writeJSON(w, http.StatusOK, h.view(rem))
}

// UpdateReminder handles PUT /api/reminders/{id}. The payload replaces the
// reminder's configuration and the schedule is recomputed; cancelled and
// completed reminders cannot be revived.
func (h *Handler) UpdateReminder(w http.ResponseWriter, r *http.Request) {
	id, err := reminderID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid reminder id"))
		return
	}

	existing, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "load reminder failed")
		return
	}
	if !existing.Active {
		writeJSON(w, http.StatusConflict, errorBody("reminder is no longer active"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req reminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	updated, err := req.toModel()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	updated.ID = existing.ID
	updated.Version = existing.Version
	updated.LastSentAt = existing.LastSentAt
	updated.CreatedAt = existing.CreatedAt
	if err := scheduleFirstRun(updated, h.clk.Now()); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := h.store.Save(r.Context(), updated); err != nil {
		h.storeError(w, err, "save reminder failed")
		return
	}

	h.log.Info().Stringer("reminder_id", updated.ID).Msg("reminder updated")
	h.notifyScheduler()
	writeJSON(w, http.StatusOK, h.view(updated))
}

// CancelReminder handles POST /api/reminders/{id}/cancel.
func (h *Handler) CancelReminder(w http.ResponseWriter, r *http.Request) {
	id, err := reminderID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid reminder id"))
		return
	}
	if err := h.store.Cancel(r.Context(), id); err != nil {
		h.storeError(w, err, "cancel reminder failed")
		return
	}
	rem, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "load reminder failed")
		return
	}

	h.log.Info().Stringer("reminder_id", id).Msg("reminder cancelled")
	h.notifyScheduler()
	writeJSON(w, http.StatusOK, h.view(rem))
}

// DeleteReminder handles DELETE /api/reminders/{id}.
func (h *Handler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	id, err := reminderID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid reminder id"))
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.storeError(w, err, "delete reminder failed")
		return
	}
	h.log.Info().Stringer("reminder_id", id).Msg("reminder deleted")
	w.WriteHeader(http.StatusNoContent)
}

// RunNow handles POST /api/run. An optional {"now": <RFC3339>} body pins the
// cycle to a specific instant, which is how operators replay a window.
func (h *Handler) RunNow(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json body"))
		return
	}
	now := h.clk.Now()
	if req.Now != nil {
		now = *req.Now
	}

	report, err := h.proc.RunOnce(r.Context(), now)
	if err != nil {
		h.log.Error().Err(err).Msg("manual run failed")
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListRuns handles GET /api/runs, newest cycle first.
func (h *Handler) ListRuns(w http.ResponseWriter, _ *http.Request) {
	runs := []*processor.Report{}
	if h.sched != nil {
		hist := h.sched.History()
		for i := len(hist) - 1; i >= 0; i-- {
			runs = append(runs, hist[i])
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "total": len(runs)})
}
