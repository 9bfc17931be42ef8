package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncflow/internal/domain"
)

func TestOpenAppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("synchronous", "1"))
	require.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
	require.NoError(t, s.verifyPragma("user_version", "2"))
}

func TestOpenMemoryPragmas(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.verifyPragma("journal_mode", "memory"))
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
	require.NoError(t, s.verifyPragma("user_version", "2"))
}

func TestOpenMigratesOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	s, err := Open(path)
	require.NoError(t, err)

	// Simulate a database created before the migrations existed.
	for _, stmt := range []string{
		"DROP INDEX idx_notifications_status",
		"DROP INDEX idx_records_responsible",
		"PRAGMA user_version = 0",
	} {
		_, err := s.DB().Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.verifyPragma("user_version", "2"))

	var n int
	require.NoError(t, s.DB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name IN ('idx_notifications_status', 'idx_records_responsible')`,
	).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.DB().Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.CreateRecord(context.Background(), createTestRecord("nc-1")))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	rec, err := s2.GetRecord(context.Background(), "nc-1")
	require.NoError(t, err)
	assert.Equal(t, "nc-1", rec.ID)
}

func TestCreateAndGetRecord(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	rec := createTestRecord("nc-1")
	require.NoError(t, s.CreateRecord(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	got, err := s.GetRecord(ctx, "nc-1")
	require.NoError(t, err)

	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, domain.StatusOpen, got.Status)
	assert.Equal(t, domain.StepClassification, got.Step)
	assert.Equal(t, domain.SeverityMinor, got.Severity)
	assert.True(t, rec.DueDate.Equal(got.DueDate))
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.ClosedAt)
	assert.Equal(t, int64(1), got.Version)
	require.Len(t, got.History, 1)
	assert.Equal(t, domain.EventCreated, got.History[0].Action)
	assert.Equal(t, "open/1", got.History[0].To.String())
	assert.Empty(t, got.Submissions)
}

func TestCreateRecordDuplicate(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.CreateRecord(ctx, createTestRecord("nc-1")))
	err := s.CreateRecord(ctx, createTestRecord("nc-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestCreateRecordRejectsInvalidState(t *testing.T) {
	rec := createTestRecord("nc-1")
	rec.Status = domain.StatusClosed
	rec.Step = domain.StepClassification

	err := createTestStore(t).CreateRecord(context.Background(), rec)
	require.Error(t, err)
}

func TestGetRecordNotFound(t *testing.T) {
	_, err := createTestStore(t).GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	rec := createTestRecord("nc-1")
	require.NoError(t, s.CreateRecord(ctx, rec))

	next := rec.Clone()
	at := testEpoch.Add(time.Hour)
	next.Status, next.Step = domain.StatusInProgress, domain.StepInvestigation
	next.ResponsibleID = "rp-1"
	next.UpdatedAt = at
	next.History = append(next.History, domain.Event{
		Seq: 2, Action: domain.EventClassified, ActorID: "qa-1", Timestamp: at,
		From: rec.State(), To: next.State(),
	})

	require.NoError(t, s.CompareAndSwap(ctx, 1, next))
	assert.Equal(t, int64(2), next.Version)

	got, err := s.GetRecord(ctx, "nc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "in_progress/2", got.State().String())
	assert.Equal(t, "rp-1", got.ResponsibleID)
	require.Len(t, got.History, 2)
	assert.Equal(t, domain.EventClassified, got.History[1].Action)
}

func TestCompareAndSwapStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	rec := createTestRecord("nc-1")
	require.NoError(t, s.CreateRecord(ctx, rec))

	first := rec.Clone()
	first.Title = "first"
	require.NoError(t, s.CompareAndSwap(ctx, 1, first))

	second := rec.Clone()
	second.Title = "second"
	err := s.CompareAndSwap(ctx, 1, second)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	got, err := s.GetRecord(ctx, "nc-1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
}

func TestCompareAndSwapMissingRecord(t *testing.T) {
	err := createTestStore(t).CompareAndSwap(context.Background(), 1, createTestRecord("ghost"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompareAndSwapConcurrent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	rec := createTestRecord("nc-1")
	require.NoError(t, s.CreateRecord(ctx, rec))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := rec.Clone()
			next.Title = "writer"
			err := s.CompareAndSwap(ctx, 1, next)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, domain.ErrVersionConflict) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)
}

func TestSubmissionsAreSupersededNotDeleted(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	rec := createTestRecord("nc-1")
	require.NoError(t, s.CreateRecord(ctx, rec))

	next := rec.Clone()
	next.Submissions = []domain.Submission{{
		ID: "sub-1", RecordID: "nc-1", Round: 1,
		RootCause: "worn die", CorrectiveAction: "replace die", PreventiveAction: "inspect weekly",
		TargetCompletionDate: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
		SubmitterID:          "rp-1", SubmittedAt: testEpoch,
	}}
	require.NoError(t, s.CompareAndSwap(ctx, 1, next))

	superseded := testEpoch.Add(48 * time.Hour)
	again := next.Clone()
	again.Submissions[0].SupersededAt = &superseded
	again.Submissions = append(again.Submissions, domain.Submission{
		ID: "sub-2", RecordID: "nc-1", Round: 2,
		RootCause: "misaligned fixture", CorrectiveAction: "realign", PreventiveAction: "poka-yoke pin",
		TargetCompletionDate: time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC),
		SubmitterID:          "rp-1", SubmittedAt: superseded,
	})
	require.NoError(t, s.CompareAndSwap(ctx, 2, again))

	got, err := s.GetRecord(ctx, "nc-1")
	require.NoError(t, err)
	require.Len(t, got.Submissions, 2)
	require.NotNil(t, got.Submissions[0].SupersededAt)
	assert.True(t, superseded.Equal(*got.Submissions[0].SupersededAt))
	assert.Equal(t, "worn die", got.Submissions[0].RootCause)
	active := got.ActiveSubmission()
	require.NotNil(t, active)
	assert.Equal(t, "sub-2", active.ID)
}

func TestListRecordsAndOverdue(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	for i, id := range []string{"nc-1", "nc-2", "nc-3"} {
		rec := createTestRecord(id)
		rec.CreatedAt = testEpoch.Add(time.Duration(i) * time.Minute)
		rec.Status, rec.Step = domain.StatusInProgress, domain.StepInvestigation
		rec.ResponsibleID = "rp-1"
		require.NoError(t, s.CreateRecord(ctx, rec))
	}
	closed := createTestRecord("nc-4")
	closed.Status, closed.Step = domain.StatusClosed, domain.StepFinalApproval
	closed.ResponsibleID = "rp-1"
	require.NoError(t, s.CreateRecord(ctx, closed))

	other := createTestRecord("nc-5")
	other.TenantID = "globex"
	require.NoError(t, s.CreateRecord(ctx, other))

	all, err := s.ListRecords(ctx, RecordFilter{TenantID: "acme"})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	active, err := s.ListRecords(ctx, RecordFilter{ResponsibleID: "rp-1", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "nc-1", active[0].ID)
	assert.Len(t, active[0].History, 1)

	n, err := s.CountOverdue(ctx, "rp-1", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountOverdue(ctx, "rp-1", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "due today is not overdue")

	users, err := s.ResponsibleUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rp-1"}, users)
}

func TestActors(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.PutActor(ctx, domain.Actor{ID: "qa-1", Name: "Quinn", Roles: []domain.Role{domain.RoleQA}}))
	require.NoError(t, s.PutActor(ctx, domain.Actor{ID: "mgr-1", Roles: []domain.Role{domain.RoleManager}, DepartmentID: "assembly"}))
	require.NoError(t, s.PutActor(ctx, domain.Actor{ID: "adm-1", Roles: []domain.Role{domain.RoleAdmin, domain.RoleManager}}))

	a, err := s.Resolve(ctx, "qa-1")
	require.NoError(t, err)
	assert.Equal(t, "Quinn", a.Name)
	assert.True(t, a.HasRole(domain.RoleQA))

	_, err = s.Resolve(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	managers, err := s.ActorsWithRole(ctx, domain.RoleManager)
	require.NoError(t, err)
	require.Len(t, managers, 2)
	assert.Equal(t, "adm-1", managers[0].ID)

	dept, err := s.DepartmentManagers(ctx, "assembly")
	require.NoError(t, err)
	require.Len(t, dept, 1)
	assert.Equal(t, "mgr-1", dept[0].ID)

	// Upsert replaces roles.
	require.NoError(t, s.PutActor(ctx, domain.Actor{ID: "qa-1", Roles: []domain.Role{domain.RoleVerifier}}))
	a, err = s.Resolve(ctx, "qa-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Role{domain.RoleVerifier}, a.Roles)

	err = s.PutActor(ctx, domain.Actor{ID: "x", Roles: []domain.Role{"janitor"}})
	require.Error(t, err)
}

func TestActivityAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	rec := createTestRecord("nc-1")
	require.NoError(t, s.CreateRecord(ctx, rec))

	entry, err := domain.NewActivityEntry(rec, rec.History[0], map[string]string{"severity": "minor"})
	require.NoError(t, err)

	require.NoError(t, s.Append(ctx, entry))
	require.NoError(t, s.Append(ctx, entry))

	entries, err := s.Activity(ctx, "nc-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.Equal(t, map[string]string{"severity": "minor"}, entries[0].Detail)
	assert.Equal(t, "open/1", entries[0].To.String())

	ids, err := s.ActivityIDs(ctx, "nc-1")
	require.NoError(t, err)
	assert.True(t, ids[entry.ID])
}

func TestOutbox(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	n := domain.Notification{
		ID:         domain.MustNotificationID(domain.NotifyRecordEscalated, "nc-1", "7"),
		Type:       domain.NotifyRecordEscalated,
		RecordID:   "nc-1",
		Recipients: []string{"adm-1"},
		CreatedAt:  testEpoch,
	}

	inserted, err := s.Enqueue(ctx, n)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Enqueue(ctx, n)
	require.NoError(t, err)
	assert.False(t, inserted, "same occurrence is enqueued once")

	pending, err := s.Undelivered(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.NotificationPending, pending[0].Status)
	assert.Equal(t, []string{"adm-1"}, pending[0].Notification.Recipients)

	require.NoError(t, s.MarkFailed(ctx, n.ID, assert.AnError, testEpoch.Add(time.Second)))
	e, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationFailed, e.Status)
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, assert.AnError.Error(), e.LastError)

	retry, err := s.Undelivered(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, retry, "attempt limit reached")

	require.NoError(t, s.MarkSent(ctx, n.ID, testEpoch.Add(time.Minute)))
	sent, err := s.Notifications(ctx, OutboxFilter{Status: domain.NotificationSent})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, 2, sent[0].Attempts)

	assert.ErrorIs(t, s.MarkSent(ctx, "missing", testEpoch), domain.ErrNotFound)
	_, err = s.GetNotification(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockouts(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	st, found, err := s.GetLockout(ctx, "rp-1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, st.Locked)

	require.NoError(t, s.PutLockout(ctx, LockoutState{UserID: "rp-1", Locked: true, OverdueCount: 5, ChangedAt: testEpoch}))
	st, found, err = s.GetLockout(ctx, "rp-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, st.Locked)
	assert.Equal(t, 5, st.OverdueCount)

	users, err := s.LockedUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rp-1"}, users)

	require.NoError(t, s.PutLockout(ctx, LockoutState{UserID: "rp-1", OverdueCount: 4, ChangedAt: testEpoch}))
	users, err = s.LockedUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestMemoryStore(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))
}
