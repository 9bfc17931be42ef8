package testutil

import (
	"context"
	"sync"

	"github.com/roach88/ncflow/internal/domain"
)

// RecordingNotifier captures delivered notifications in order.
// Set Fail to make deliveries return an error (nothing is recorded then).
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	Fail error
}

// Notify records n, or returns Fail when set.
func (r *RecordingNotifier) Notify(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.sent = append(r.sent, n)
	return nil
}

// SetFail changes the failure mode.
func (r *RecordingNotifier) SetFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fail = err
}

// Sent returns a copy of everything delivered so far.
func (r *RecordingNotifier) Sent() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.sent...)
}

// OfType returns delivered notifications of type t.
func (r *RecordingNotifier) OfType(t domain.NotificationType) []domain.Notification {
	var out []domain.Notification
	for _, n := range r.Sent() {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// Reset forgets everything delivered so far.
func (r *RecordingNotifier) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
