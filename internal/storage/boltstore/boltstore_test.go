package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinJE/scylla/internal/raft"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raft.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_TermVoteRoundTrip(t *testing.T) {
	s := openTestStore(t)
	id := raft.ServerID("node-a")

	require.NoError(t, s.StoreTermVote(7, &id))
	term, votedFor, err := s.LoadTermVote()
	require.NoError(t, err)
	assert.Equal(t, raft.Term(7), term)
	require.NotNil(t, votedFor)
	assert.Equal(t, id, *votedFor)

	require.NoError(t, s.StoreTermVote(8, nil))
	term, votedFor, err = s.LoadTermVote()
	require.NoError(t, err)
	assert.Equal(t, raft.Term(8), term)
	assert.Nil(t, votedFor)
}

func TestStore_LogEntriesRoundTripAndTruncate(t *testing.T) {
	s := openTestStore(t)

	entries := []raft.LogEntry{
		{Term: 1, Index: 1, Payload: raft.Command("a")},
		{Term: 1, Index: 2, Payload: raft.Dummy{}},
		{Term: 2, Index: 3, Payload: raft.ConfigurationPayload{Configuration: raft.Configuration{
			Current: []raft.ServerAddressRecord{{ID: "a", Address: "addr-a"}},
		}}},
	}
	require.NoError(t, s.StoreLogEntries(entries))

	loaded, err := s.LoadLog()
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, raft.Command("a"), loaded[0].Payload)
	assert.Equal(t, raft.Dummy{}, loaded[1].Payload)
	cp, ok := loaded[2].Payload.(raft.ConfigurationPayload)
	require.True(t, ok)
	assert.Equal(t, raft.ServerID("a"), cp.Configuration.Current[0].ID)

	require.NoError(t, s.TruncateLogSuffix(2))
	loaded, err = s.LoadLog()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	require.NoError(t, s.StoreLogEntries(entries))
	require.NoError(t, s.TruncateLogPrefix(1))
	loaded, err = s.LoadLog()
	require.NoError(t, err)
	for _, e := range loaded {
		assert.Greater(t, e.Index, raft.Index(1))
	}
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	desc := raft.SnapshotDescriptor{
		LastIncludedIndex: 42,
		LastIncludedTerm:  3,
		Configuration: raft.Configuration{
			Current: []raft.ServerAddressRecord{{ID: "a", Address: "addr-a"}},
		},
		Handle: raft.SnapshotHandle([]byte(`{"x":1}`)),
	}
	require.NoError(t, s.StoreSnapshot(desc))

	loaded, found, err := s.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, desc.LastIncludedIndex, loaded.LastIncludedIndex)
	assert.Equal(t, desc.LastIncludedTerm, loaded.LastIncludedTerm)
	assert.Equal(t, desc.Handle, loaded.Handle)
}

func TestStore_LoadSnapshotWhenNoneStored(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.LoadSnapshot()
	require.NoError(t, err)
	assert.False(t, found)
}
