package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/policy"
	"github.com/roach88/ncflow/internal/store"
	"github.com/roach88/ncflow/internal/testutil"
)

var testEpoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Cast of users shared by every engine test.
var testActors = []domain.Actor{
	{ID: "admin", Name: "Ada Admin", Roles: []domain.Role{domain.RoleAdmin}},
	{ID: "qa", Name: "Quinn QA", Roles: []domain.Role{domain.RoleQA}},
	{ID: "mgr", Name: "Morgan Manager", Roles: []domain.Role{domain.RoleManager}, DepartmentID: "assembly"},
	{ID: "mgr-paint", Name: "Pat Paint", Roles: []domain.Role{domain.RoleManager}, DepartmentID: "paint"},
	{ID: "boss", Name: "Blair Boss", Roles: []domain.Role{domain.RoleManager}},
	{ID: "rp", Name: "Robin Responsible", Roles: []domain.Role{domain.RoleResponsiblePerson}, DepartmentID: "assembly"},
	{ID: "rp2", Name: "Riley Responsible", Roles: []domain.Role{domain.RoleResponsiblePerson}, DepartmentID: "assembly"},
	{ID: "ver", Name: "Val Verifier", Roles: []domain.Role{domain.RoleVerifier}},
	{ID: "worker", Name: "Wes Worker", Roles: []domain.Role{domain.RoleViewer}, DepartmentID: "assembly"},
}

// flakyRecorder fails Append while fail is set.
type flakyRecorder struct {
	*store.Store
	fail atomic.Bool
}

func (r *flakyRecorder) Append(ctx context.Context, entry domain.ActivityEntry) error {
	if r.fail.Load() {
		return errors.New("activity store unavailable")
	}
	return r.Store.Append(ctx, entry)
}

type fixture struct {
	store    *store.Store
	recorder *flakyRecorder
	notifier *testutil.RecordingNotifier
	clock    *testutil.DeterministicClock
	engine   *Engine
}

func fastRetry() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1)
}

// newFixture creates an engine over a file-backed store seeded with testActors.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for _, a := range testActors {
		require.NoError(t, s.PutActor(context.Background(), a))
	}

	f := &fixture{
		store:    s,
		recorder: &flakyRecorder{Store: s},
		notifier: &testutil.RecordingNotifier{},
		clock:    testutil.NewDeterministicClock(testEpoch),
	}
	base := []Option{
		WithClock(f.clock),
		WithIDGenerator(testutil.NewSequentialGenerator("nc")),
		WithActivityRetry(fastRetry),
		WithNotifyTimeout(time.Second),
	}
	f.engine, err = New(Config{
		Store:     s,
		Directory: s,
		Recorder:  f.recorder,
		Notifier:  f.notifier,
	}, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.engine.Drain(context.Background()) })
	return f
}

// settle waits for background deliveries of earlier operations.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Drain(ctx))
}

// sent returns the delivered notifications of type typ once deliveries settle.
func (f *fixture) sent(t *testing.T, typ domain.NotificationType) []domain.Notification {
	t.Helper()
	f.settle(t)
	return f.notifier.OfType(typ)
}

// allSent returns every delivered notification once deliveries settle.
func (f *fixture) allSent(t *testing.T) []domain.Notification {
	t.Helper()
	f.settle(t)
	return f.notifier.Sent()
}

func as(actorID string) RequestContext {
	return RequestContext{ActorID: actorID, Tenant: "acme"}
}

func (f *fixture) create(t *testing.T, sev domain.Severity) *domain.Record {
	t.Helper()
	rec, err := f.engine.Create(context.Background(), as("worker"), NewRecord{
		Title:        "Burr on housing",
		DepartmentID: "assembly",
		Severity:     sev,
	})
	require.NoError(t, err)
	f.settle(t)
	return rec
}

func (f *fixture) do(t *testing.T, actorID, id string, action domain.Action, p Payload) *domain.Record {
	t.Helper()
	rec, err := f.engine.Transition(context.Background(), as(actorID), id, action, p)
	require.NoError(t, err, "%s by %s", action, actorID)
	f.settle(t)
	return rec
}

func (f *fixture) classify(t *testing.T, id string, sev domain.Severity) *domain.Record {
	t.Helper()
	return f.do(t, "qa", id, domain.ActionClassify, Payload{Severity: sev, ResponsibleID: "rp"})
}

func remediation() Payload {
	target := day(2024, 1, 20)
	return Payload{
		RootCause:            "Worn deburring tool",
		CorrectiveAction:     "Replace tool and rework batch",
		PreventiveAction:     "Add tool wear check to PM schedule",
		TargetCompletionDate: &target,
	}
}

// toReview creates and classifies a record, then submits remediation.
func (f *fixture) toReview(t *testing.T) *domain.Record {
	t.Helper()
	rec := f.create(t, domain.SeverityMinor)
	f.classify(t, rec.ID, domain.SeverityMajor)
	return f.do(t, "rp", rec.ID, domain.ActionSubmitRemediation, remediation())
}

// toVerification drives a record to pending_verification/5.
func (f *fixture) toVerification(t *testing.T) *domain.Record {
	t.Helper()
	rec := f.toReview(t)
	return f.do(t, "mgr", rec.ID, domain.ActionApprove, Payload{ManagerComment: "Looks good"})
}

func (f *fixture) reload(t *testing.T, id string) *domain.Record {
	t.Helper()
	rec, err := f.store.GetRecord(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func stateOf(status domain.Status, step domain.Step) domain.State {
	return domain.State{Status: status, Step: step}
}

func policySettings(declineThreshold, overdueThreshold int) policy.Settings {
	s := policy.DefaultSettings()
	s.DeclineThreshold = declineThreshold
	s.OverdueThreshold = overdueThreshold
	return s
}
