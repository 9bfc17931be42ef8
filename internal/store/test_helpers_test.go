package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ncflow/internal/domain"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// createTestRecord returns a freshly reported record at open/1.
func createTestRecord(id string) *domain.Record {
	return &domain.Record{
		ID:           id,
		TenantID:     "acme",
		Title:        "Burr on housing " + id,
		Status:       domain.StatusOpen,
		Step:         domain.StepClassification,
		Severity:     domain.SeverityMinor,
		ReporterID:   "reporter",
		DepartmentID: "assembly",
		DueDate:      time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		CreatedAt:    testEpoch,
		UpdatedAt:    testEpoch,
		History: []domain.Event{{
			Seq:       1,
			Action:    domain.EventCreated,
			ActorID:   "reporter",
			Timestamp: testEpoch,
			To:        domain.State{Status: domain.StatusOpen, Step: domain.StepClassification},
		}},
	}
}
