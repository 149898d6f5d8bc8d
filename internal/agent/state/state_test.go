package state

import (
	"fmt"
	"testing"

	"github.com/monihub/monihub/internal/agent/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogStoreDrainReturnsEntriesSinceLastDrain(t *testing.T) {
	s := NewLogStore()

	s.Append("info", "first")
	s.Append("warn", "second")

	drained := s.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "first", drained[0].Message)
	assert.Equal(t, "second", drained[1].Message)
	assert.Less(t, drained[0].ID, drained[1].ID)

	assert.Empty(t, s.Drain())

	s.Append("error", "third")
	drained = s.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, "third", drained[0].Message)
	assert.Equal(t, "error", drained[0].Level)
}

func TestLogStoreDropsOldestWhenFull(t *testing.T) {
	s := NewLogStore()

	for i := 0; i < logStoreCapacity+10; i++ {
		s.Append("info", fmt.Sprintf("entry-%d", i))
	}

	drained := s.Drain()
	require.Len(t, drained, logStoreCapacity)
	assert.Equal(t, "entry-10", drained[0].Message)
	assert.Equal(t, fmt.Sprintf("entry-%d", logStoreCapacity+9), drained[len(drained)-1].Message)
}

func TestLogStoreRestoreKeepsUndeliveredEntries(t *testing.T) {
	s := NewLogStore()

	s.Append("info", "first")
	s.Append("info", "second")

	drained := s.Drain()
	require.Len(t, drained, 2)

	// Entries logged between the failed send and the restore stay behind
	// the restored ones.
	s.Append("warn", "third")
	s.Restore(drained)

	redrained := s.Drain()
	require.Len(t, redrained, 3)
	assert.Equal(t, "first", redrained[0].Message)
	assert.Equal(t, "second", redrained[1].Message)
	assert.Equal(t, "third", redrained[2].Message)

	s.Restore(nil)
	assert.Empty(t, s.Drain())
}

func TestLogStoreRestoreRespectsCapacity(t *testing.T) {
	s := NewLogStore()

	s.Append("info", "undelivered")
	drained := s.Drain()

	for i := 0; i < logStoreCapacity; i++ {
		s.Append("info", fmt.Sprintf("entry-%d", i))
	}
	s.Restore(drained)

	redrained := s.Drain()
	require.Len(t, redrained, logStoreCapacity)
	assert.Equal(t, "entry-0", redrained[0].Message)
}

func TestAgentStateDefaults(t *testing.T) {
	s, err := New(&config.Config{InstanceID: "fixed-id"})
	require.NoError(t, err)

	assert.Equal(t, "fixed-id", s.InstanceID)
	assert.True(t, s.HTTPEnabled())

	s.SetHTTPEnabled(false)
	assert.False(t, s.HTTPEnabled())
	s.SetHTTPEnabled(true)
	assert.True(t, s.HTTPEnabled())
}
