package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinJE/scylla/internal/raft"
)

func TestStore_ApplySetAndDel(t *testing.T) {
	s := New("a")
	s.Apply([]raft.LogEntry{
		{Index: 1, Payload: raft.Command("SET x=1")},
		{Index: 2, Payload: raft.Command("SET y=2")},
		{Index: 3, Payload: raft.Dummy{}},
		{Index: 4, Payload: raft.Command("DEL x")},
	})

	_, ok := s.Get("x")
	assert.False(t, ok)
	v, ok := s.Get("y")
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	s := New("a")
	s.Apply([]raft.LogEntry{{Index: 1, Payload: raft.Command("SET x=1")}})

	handle, err := s.TakeSnapshot()
	require.NoError(t, err)

	restored := New("b")
	require.NoError(t, restored.LoadSnapshot(handle))
	v, ok := restored.Get("x")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}
