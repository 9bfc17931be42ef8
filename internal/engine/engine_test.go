package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/store"
	"github.com/roach88/ncflow/internal/testutil"
)

func TestNew_MissingCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.Contains(t, Message(err), "store")
	assert.Contains(t, Message(err), "notifier")
}

func TestNew_MissingNotifier(t *testing.T) {
	f := newFixture(t)
	_, err := New(Config{Store: f.store, Directory: f.store, Recorder: f.store})
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.Equal(t, "Engine is missing: notifier", Message(err))
}

func TestNew_OutboxAndLockoutsFromStore(t *testing.T) {
	f := newFixture(t)
	e, err := New(Config{
		Store:     f.store,
		Directory: f.store,
		Recorder:  f.store,
		Notifier:  &testutil.RecordingNotifier{},
	})
	require.NoError(t, err)
	assert.Same(t, f.store, e.outbox)
	assert.Same(t, f.store, e.lockouts)
	assert.Equal(t, 3, e.Settings().DeclineThreshold)
}

func TestNew_InvalidSettings(t *testing.T) {
	f := newFixture(t)
	_, err := New(Config{
		Store:     f.store,
		Directory: f.store,
		Recorder:  f.store,
		Notifier:  &testutil.RecordingNotifier{},
		Settings:  policySettings(0, 5),
	})
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
}

func TestCreate_DefaultsToMinor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.engine.Create(ctx, as("worker"), NewRecord{Title: "  Scratch on panel ", DepartmentID: "paint"})
	require.NoError(t, err)

	assert.Equal(t, "nc-1", rec.ID)
	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, "Scratch on panel", rec.Title)
	assert.Equal(t, stateOf(domain.StatusOpen, domain.StepClassification), rec.State())
	assert.Equal(t, domain.SeverityMinor, rec.Severity)
	assert.Equal(t, "worker", rec.ReporterID)
	assert.True(t, rec.DueDate.Equal(day(2024, 1, 31)), "due %s", rec.DueDate)
	assert.Equal(t, int64(1), rec.Version)
	require.Len(t, rec.History, 1)
	assert.Equal(t, domain.EventCreated, rec.History[0].Action)

	created := f.sent(t, domain.NotifyRecordCreated)
	require.Len(t, created, 1)
	assert.Equal(t, []string{"qa"}, created[0].Recipients)

	entries, err := f.store.Activity(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EventCreated, entries[0].Action)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		rc    RequestContext
		in    NewRecord
		check func(error) bool
	}{
		{"empty title", as("worker"), NewRecord{Title: "   "}, IsValidation},
		{"bad severity", as("worker"), NewRecord{Title: "x", Severity: "urgent"}, IsValidation},
		{"unknown user", as("ghost"), NewRecord{Title: "x"}, IsNotFound},
		{"anonymous", RequestContext{}, NewRecord{Title: "x"}, IsAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Create(ctx, tt.rc, tt.in)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}

	recs, err := f.store.ListRecords(ctx, store.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestGet_TenantMismatchIsNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, domain.SeverityMinor)

	_, err := f.engine.Get(context.Background(), RequestContext{ActorID: "qa", Tenant: "globex"}, rec.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = f.engine.Transition(context.Background(), RequestContext{ActorID: "qa", Tenant: "globex"},
		rec.ID, domain.ActionClassify, Payload{ResponsibleID: "rp"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	got, err := f.engine.Get(context.Background(), RequestContext{ActorID: "qa"}, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestGet_UnknownRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Get(context.Background(), as("qa"), "nc-404")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestEditableFields_ForRecord(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, domain.SeverityMinor)

	fp, err := f.engine.EditableFields(context.Background(), as("qa"), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.Field{
		domain.FieldSeverity,
		domain.FieldDueDate,
		domain.FieldResponsiblePerson,
		domain.FieldQAComment,
	}, fp.EditableFields())

	fp, err = f.engine.EditableFields(context.Background(), as("rp"), rec.ID)
	require.NoError(t, err)
	assert.Empty(t, fp.EditableFields())
	assert.Equal(t, "Only QA can modify Severity during the classification step", fp.Reason(domain.FieldSeverity))
}

func TestActions_ByActor(t *testing.T) {
	f := newFixture(t)
	rec := f.toReview(t)
	ctx := context.Background()

	got, err := f.engine.Actions(ctx, as("mgr"), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.Action{domain.ActionApprove, domain.ActionDecline}, got)

	got, err = f.engine.Actions(ctx, as("mgr-paint"), rec.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.engine.Actions(ctx, as("admin"), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.Action{domain.ActionApprove, domain.ActionDecline, domain.ActionAdminOverride}, got)
}

func TestComputeDueDate(t *testing.T) {
	f := newFixture(t)
	ref := day(2024, 1, 1)

	tests := []struct {
		sev  domain.Severity
		want string
	}{
		{domain.SeverityMinor, "2024-01-31"},
		{domain.SeverityMajor, "2024-01-08"},
		{domain.SeverityCritical, "2024-01-01"},
	}
	for _, tt := range tests {
		t.Run(string(tt.sev), func(t *testing.T) {
			got, err := f.engine.ComputeDueDate(tt.sev, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Format("2006-01-02"))
		})
	}

	_, err := f.engine.ComputeDueDate("trivial", ref)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}
