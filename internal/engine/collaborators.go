package engine

import (
	"context"
	"time"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/notify"
	"github.com/roach88/ncflow/internal/store"
)

// Store is durable record storage with per-record compare-and-swap.
// *store.Store implements it.
type Store interface {
	CreateRecord(ctx context.Context, rec *domain.Record) error
	GetRecord(ctx context.Context, id string) (*domain.Record, error)
	CompareAndSwap(ctx context.Context, expectedVersion int64, rec *domain.Record) error
	ListRecords(ctx context.Context, f store.RecordFilter) ([]*domain.Record, error)
	CountOverdue(ctx context.Context, userID string, cutoff time.Time) (int, error)
	ResponsibleUsers(ctx context.Context) ([]string, error)
}

// Outbox holds notifications until they are delivered.
type Outbox interface {
	Enqueue(ctx context.Context, n domain.Notification) (bool, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, cause error, at time.Time) error
	Undelivered(ctx context.Context, maxAttempts int) ([]store.OutboxEntry, error)
}

// LockoutLedger remembers the last lockout decision per user so the sweep
// can notify only on changes.
type LockoutLedger interface {
	GetLockout(ctx context.Context, userID string) (store.LockoutState, bool, error)
	PutLockout(ctx context.Context, st store.LockoutState) error
	LockedUsers(ctx context.Context) ([]string, error)
}

// ActorDirectory resolves users to roles and departments.
type ActorDirectory interface {
	Resolve(ctx context.Context, userID string) (domain.Actor, error)
	ActorsWithRole(ctx context.Context, role domain.Role) ([]domain.Actor, error)
	DepartmentManagers(ctx context.Context, departmentID string) ([]domain.Actor, error)
}

// ActivityRecorder persists immutable audit entries. Append must be
// idempotent on entry id.
type ActivityRecorder interface {
	Append(ctx context.Context, entry domain.ActivityEntry) error
	ActivityIDs(ctx context.Context, recordID string) (map[string]bool, error)
}

// Notifier delivers a notification to its recipients.
type Notifier = notify.Notifier
