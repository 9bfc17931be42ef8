package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityID_Deterministic(t *testing.T) {
	a, err := ActivityID("nc-1", 3, EventManagerDeclined)
	require.NoError(t, err)
	b, err := ActivityID("nc-1", 3, EventManagerDeclined)
	require.NoError(t, err)
	c, err := ActivityID("nc-1", 4, EventManagerDeclined)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestNotificationID_DomainSeparated(t *testing.T) {
	n := MustNotificationID(NotifyRecordEscalated, "nc-1", "5")
	a, err := ActivityID("nc-1", 5, EventManagerDeclined)
	require.NoError(t, err)

	assert.NotEqual(t, n, a)
	assert.Equal(t, n, MustNotificationID(NotifyRecordEscalated, "nc-1", "5"))
	assert.NotEqual(t, n, MustNotificationID(NotifyRecordEscalated, "nc-1", "6"))
}
