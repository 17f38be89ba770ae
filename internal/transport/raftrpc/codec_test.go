package raftrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinJE/scylla/internal/raft"
)

func TestGobCodec_RoundTripsPlainStruct(t *testing.T) {
	c := gobCodec{}
	assert.Equal(t, "gob", c.Name())

	in := &raft.VoteRequest{Term: 7, CandidateID: "a", LastLogIndex: 3, LastLogTerm: 2}
	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(raft.VoteRequest)
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, *in, *out)
}

func TestGobCodec_RoundTripsClosedEntryPayload(t *testing.T) {
	c := gobCodec{}

	in := &raft.AppendEntriesRequest{
		Term:     4,
		LeaderID: "leader",
		Entries: []raft.LogEntry{
			{Term: 4, Index: 1, Payload: raft.Command("SET x=1")},
			{Term: 4, Index: 2, Payload: raft.Dummy{}},
			{Term: 4, Index: 3, Payload: raft.ConfigurationPayload{Configuration: raft.Configuration{
				Current: []raft.ServerAddressRecord{{ID: "a", Address: "127.0.0.1:1"}},
			}}},
		},
	}

	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(raft.AppendEntriesRequest)
	require.NoError(t, c.Unmarshal(data, out))
	require.Len(t, out.Entries, 3)
	assert.Equal(t, raft.Command("SET x=1"), out.Entries[0].Payload)
	assert.Equal(t, raft.Dummy{}, out.Entries[1].Payload)
	cfg, ok := out.Entries[2].Payload.(raft.ConfigurationPayload)
	require.True(t, ok)
	assert.Equal(t, raft.ServerID("a"), cfg.Configuration.Current[0].ID)
}
