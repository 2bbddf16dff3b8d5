package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inkwell-app/remindd/internal/models"
)

// Webhook POSTs fired reminders as JSON to the owning application. A
// reminder whose Recipient is an http(s) URL is delivered there instead of
// the default endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *Webhook) Name() string { return "webhook" }

type webhookPayload struct {
	ReminderID   string     `json:"reminder_id"`
	EntryRef     string     `json:"entry_ref"`
	Kind         string     `json:"kind"`
	Message      string     `json:"message"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	FiredAt      time.Time  `json:"fired_at"`
}

func (d *Webhook) Dispatch(ctx context.Context, r *models.Reminder) error {
	target := d.url
	if strings.HasPrefix(r.Recipient, "http://") || strings.HasPrefix(r.Recipient, "https://") {
		target = r.Recipient
	}
	if target == "" {
		return fmt.Errorf("%w: no webhook url", models.ErrInvalidConfig)
	}

	body, err := json.Marshal(webhookPayload{
		ReminderID:   r.ID.String(),
		EntryRef:     r.EntryRef,
		Kind:         string(r.Kind),
		Message:      r.Message,
		ScheduledFor: r.NextRunAt,
		FiredAt:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
