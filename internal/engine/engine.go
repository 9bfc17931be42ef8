package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/policy"
)

// Defaults for engine options.
const (
	DefaultNotifyTimeout       = 5 * time.Second
	DefaultSweepConcurrency    = 4
	DefaultMaxDeliveryAttempts = 10
)

// Config wires the engine's collaborators.
//
// Outbox and Lockouts may be left nil when Store also implements them,
// as *store.Store does.
type Config struct {
	Store     Store
	Outbox    Outbox
	Lockouts  LockoutLedger
	Directory ActorDirectory
	Recorder  ActivityRecorder
	Notifier  Notifier

	// Settings holds policy thresholds. The zero value means DefaultSettings.
	Settings policy.Settings
}

// Engine applies workflow transitions to non-conformance records.
//
// Thread-safety: all methods are safe for concurrent use. Per-record
// atomicity comes from the store's compare-and-swap.
//
// Create and Transition return once the change and its notifications are
// in the store; delivery runs in the background. Call Drain before closing
// the store.
type Engine struct {
	store     Store
	outbox    Outbox
	lockouts  LockoutLedger
	directory ActorDirectory
	recorder  ActivityRecorder
	notifier  Notifier
	settings  policy.Settings

	clock            Clock
	ids              IDGenerator
	logger           *slog.Logger
	notifyTimeout    time.Duration
	sweepConcurrency int
	maxAttempts      int
	activityBackoff  func() backoff.BackOff
	metrics          *instruments

	inflight sync.WaitGroup
	slots    chan struct{} // bounds background deliveries
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the record and submission id source.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNotifyTimeout bounds each notification delivery.
func WithNotifyTimeout(d time.Duration) Option {
	return func(e *Engine) { e.notifyTimeout = d }
}

// WithSweepConcurrency bounds parallel deliveries, both during a sweep and
// in the background after Create and Transition.
func WithSweepConcurrency(n int) Option {
	return func(e *Engine) { e.sweepConcurrency = n }
}

// WithMaxDeliveryAttempts stops the sweep retrying a notification after n
// failed attempts. n <= 0 retries forever.
func WithMaxDeliveryAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// WithActivityRetry sets the backoff used when appending audit entries.
func WithActivityRetry(newBackOff func() backoff.BackOff) Option {
	return func(e *Engine) { e.activityBackoff = newBackOff }
}

// New validates the wiring and returns an engine.
// Returns a CONFIGURATION error when a collaborator is missing or the
// settings are unusable.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Outbox == nil {
		cfg.Outbox, _ = cfg.Store.(Outbox)
	}
	if cfg.Lockouts == nil {
		cfg.Lockouts, _ = cfg.Store.(LockoutLedger)
	}

	var missing []string
	if cfg.Store == nil {
		missing = append(missing, "store")
	}
	if cfg.Outbox == nil {
		missing = append(missing, "outbox")
	}
	if cfg.Lockouts == nil {
		missing = append(missing, "lockout ledger")
	}
	if cfg.Directory == nil {
		missing = append(missing, "actor directory")
	}
	if cfg.Recorder == nil {
		missing = append(missing, "activity recorder")
	}
	if cfg.Notifier == nil {
		missing = append(missing, "notifier")
	}
	if len(missing) > 0 {
		return nil, newError(CodeConfiguration, "Engine is missing: %s", strings.Join(missing, ", "))
	}

	settings := cfg.Settings
	if settings.DueDateOffsets == nil && settings.DeclineThreshold == 0 && settings.OverdueThreshold == 0 {
		settings = policy.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, newError(CodeConfiguration, "Invalid policy settings: %v", err).wrap(err)
	}

	e := &Engine{
		store:            cfg.Store,
		outbox:           cfg.Outbox,
		lockouts:         cfg.Lockouts,
		directory:        cfg.Directory,
		recorder:         cfg.Recorder,
		notifier:         cfg.Notifier,
		settings:         settings,
		clock:            SystemClock{},
		ids:              UUIDv7Generator{},
		logger:           slog.Default(),
		notifyTimeout:    DefaultNotifyTimeout,
		sweepConcurrency: DefaultSweepConcurrency,
		maxAttempts:      DefaultMaxDeliveryAttempts,
		activityBackoff:  defaultActivityBackoff,
		metrics:          newInstruments(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sweepConcurrency < 1 {
		e.sweepConcurrency = 1
	}
	e.slots = make(chan struct{}, e.sweepConcurrency)
	return e, nil
}

// Drain waits for background deliveries to finish. If ctx ends first the
// unfinished notifications stay pending in the outbox for the next sweep.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settings returns the policy settings in effect.
func (e *Engine) Settings() policy.Settings {
	return e.settings
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// resolveActor maps the caller onto a directory entry.
func (e *Engine) resolveActor(ctx context.Context, actorID string) (domain.Actor, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.Actor{}, newError(CodeAuthorization, "A signed-in user is required")
	}
	a, err := e.directory.Resolve(ctx, actorID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Actor{}, newError(CodeNotFound, "User %s was not found", actorID).wrap(err)
	}
	if err != nil {
		return domain.Actor{}, newError(CodePersistence, "Could not resolve user %s", actorID).wrap(err)
	}
	return a, nil
}

// loadRecord reads a record visible to rc's tenant.
func (e *Engine) loadRecord(ctx context.Context, rc RequestContext, id string) (*domain.Record, error) {
	rec, err := e.store.GetRecord(ctx, id)
	if err != nil {
		return nil, storeError(err, id)
	}
	if rc.Tenant != "" && rec.TenantID != rc.Tenant {
		return nil, newError(CodeNotFound, "Record %s was not found", id)
	}
	return rec, nil
}

// Create logs a new record in open/1 with the caller as reporter.
func (e *Engine) Create(ctx context.Context, rc RequestContext, in NewRecord) (rec *domain.Record, err error) {
	ctx, span, _ := e.metrics.start(ctx, "create")
	defer func() { e.metrics.end(span, err) }()

	actor, err := e.resolveActor(ctx, rc.ActorID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, newError(CodeValidation, "A title is required")
	}
	sev := in.Severity
	if sev == "" {
		sev = domain.SeverityMinor
	}
	if !sev.Valid() {
		return nil, newError(CodeValidation, "Severity must be one of critical, major, minor; got %q", sev)
	}

	now := e.now()
	due, err := e.settings.DueDate(sev, now)
	if err != nil {
		return nil, newError(CodeValidation, "%v", err).wrap(err)
	}
	open := domain.State{Status: domain.StatusOpen, Step: domain.StepClassification}
	rec = &domain.Record{
		ID:           e.ids.Generate(),
		TenantID:     rc.Tenant,
		Title:        title,
		Description:  in.Description,
		Status:       open.Status,
		Step:         open.Step,
		Severity:     sev,
		ReporterID:   actor.ID,
		DepartmentID: in.DepartmentID,
		DueDate:      due,
		CreatedAt:    now,
		UpdatedAt:    now,
		History: []domain.Event{{
			Seq:       1,
			Action:    domain.EventCreated,
			ActorID:   actor.ID,
			Timestamp: now,
			From:      open,
			To:        open,
		}},
	}
	span.SetAttributes(attribute.String("ncflow.record.id", rec.ID))

	if err := e.store.CreateRecord(ctx, rec); err != nil {
		return nil, storeError(err, rec.ID)
	}
	e.logger.InfoContext(ctx, "record created",
		"record_id", rec.ID,
		"actor_id", actor.ID,
		"severity", string(sev),
		"request_id", rc.RequestID,
	)

	e.afterCommit(ctx, rec, rec.History, e.createdNotifications(ctx, rec))
	return rec.Clone(), nil
}

// Get returns a record visible to the caller.
func (e *Engine) Get(ctx context.Context, rc RequestContext, id string) (*domain.Record, error) {
	if _, err := e.resolveActor(ctx, rc.ActorID); err != nil {
		return nil, err
	}
	return e.loadRecord(ctx, rc, id)
}

// EditableFields returns the field policy for the caller on record id.
func (e *Engine) EditableFields(ctx context.Context, rc RequestContext, id string) (policy.FieldPolicy, error) {
	actor, err := e.resolveActor(ctx, rc.ActorID)
	if err != nil {
		return nil, err
	}
	rec, err := e.loadRecord(ctx, rc, id)
	if err != nil {
		return nil, err
	}
	return policy.EditableFields(actor, rec), nil
}

// Actions lists the actions the caller may take on record id right now.
func (e *Engine) Actions(ctx context.Context, rc RequestContext, id string) ([]domain.Action, error) {
	actor, err := e.resolveActor(ctx, rc.ActorID)
	if err != nil {
		return nil, err
	}
	rec, err := e.loadRecord(ctx, rc, id)
	if err != nil {
		return nil, err
	}
	return AvailableActions(actor, rec), nil
}

// LockStatus is the detail behind an IsLocked decision.
type LockStatus struct {
	UserID       string `json:"user_id"`
	Locked       bool   `json:"locked"`
	OverdueCount int    `json:"overdue_count"`
	Threshold    int    `json:"threshold"`
	Exempt       bool   `json:"exempt"`
}

// LockStatus computes userID's lockout decision from live data.
func (e *Engine) LockStatus(ctx context.Context, userID string) (LockStatus, error) {
	actor, err := e.resolveActor(ctx, userID)
	if err != nil {
		return LockStatus{}, err
	}
	count, err := e.store.CountOverdue(ctx, actor.ID, policy.OverdueCutoff(e.now()))
	if err != nil {
		return LockStatus{}, newError(CodePersistence, "Could not count overdue records for %s", userID).wrap(err)
	}
	lockout := e.settings.Lockout()
	return LockStatus{
		UserID:       actor.ID,
		Locked:       lockout.Decide(actor, count),
		OverdueCount: count,
		Threshold:    lockout.Threshold,
		Exempt:       actor.IsAdmin(),
	}, nil
}

// IsLocked reports whether userID is locked out by overdue obligations.
func (e *Engine) IsLocked(ctx context.Context, userID string) (bool, error) {
	st, err := e.LockStatus(ctx, userID)
	if err != nil {
		return false, err
	}
	return st.Locked, nil
}

// Gate is the access check for the layer in front of the engine. A locked
// user may only sign out or authenticate.
func (e *Engine) Gate(ctx context.Context, userID, op string) error {
	if policy.AllowedWhileLocked(op) {
		return nil
	}
	st, err := e.LockStatus(ctx, userID)
	if err != nil {
		return err
	}
	if st.Locked {
		return newError(CodeAuthorization,
			"Access is locked: %d overdue records (limit %d). Resolve overdue records to regain access",
			st.OverdueCount, st.Threshold)
	}
	return nil
}

// ComputeDueDate maps a severity to its due date under the engine's settings.
func (e *Engine) ComputeDueDate(sev domain.Severity, reference time.Time) (time.Time, error) {
	due, err := e.settings.DueDate(sev, reference)
	if err != nil {
		return time.Time{}, newError(CodeValidation, "Severity must be one of critical, major, minor; got %q", sev).wrap(err)
	}
	return due, nil
}
