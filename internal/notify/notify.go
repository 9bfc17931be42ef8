// Package notify delivers workflow notifications.
//
// The engine only asks for a notification to reach a set of users; the
// notifiers here decide how. Delivery is time-bounded by the caller's
// context.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/roach88/ncflow/internal/domain"
)

// Notifier delivers one notification.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier; a nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

// Notify logs n at info level.
func (l *LogNotifier) Notify(ctx context.Context, n domain.Notification) error {
	attrs := []any{
		"id", n.ID,
		"type", string(n.Type),
		"recipients", strings.Join(n.Recipients, ","),
	}
	if n.RecordID != "" {
		attrs = append(attrs, "record_id", n.RecordID)
	}
	if n.Record != nil {
		attrs = append(attrs, "status", n.Record.Status, "step", int(n.Record.Step))
	}
	for _, k := range sortedKeys(n.Context) {
		attrs = append(attrs, k, n.Context[k])
	}
	l.Logger.InfoContext(ctx, "notification", attrs...)
	return nil
}

// WebhookPayload is the JSON body POSTed by WebhookNotifier.
type WebhookPayload struct {
	Type         string              `json:"type"`
	Notification domain.Notification `json:"notification"`
	SentAt       time.Time           `json:"sent_at"`
}

// WebhookNotifier POSTs notifications as JSON to a URL.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
	Now    func() time.Time
}

// NewWebhookNotifier returns a notifier posting to url with a client
// bounded by timeout.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
		Now:    time.Now,
	}
}

// Notify posts n. Any non-2xx response is an error.
func (w *WebhookNotifier) Notify(ctx context.Context, n domain.Notification) error {
	if w.URL == "" {
		return errors.New("webhook: no URL configured")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	body, err := json.Marshal(WebhookPayload{
		Type:         "ncflow.notification",
		Notification: n,
		SentAt:       now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ncflow-Notification-Id", n.ID)

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Multi delivers to every notifier and joins their errors. All notifiers
// are attempted even if one fails.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n domain.Notification) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, n domain.Notification) error {
	return f(ctx, n)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
