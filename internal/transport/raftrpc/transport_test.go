package raftrpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinJE/scylla/internal/raft"
)

// TestTransport_PendingReplyCorrelation exercises the fulfill/await
// correlation without any real network connection: an inbound call
// "blocks" on await() the same way RequestVote's gRPC handler does, and a
// concurrent fulfill() (as the group loop's dispatchSends would issue for a
// sendVoteResponse) unblocks it with the matching value.
func TestTransport_PendingReplyCorrelation(t *testing.T) {
	tr := &Transport{self: "local"}
	key := pendingKey{peer: "candidate-1", kind: "RequestVote"}

	resultCh := make(chan raft.VoteResponse, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := tr.await(ctx, key)
		require.NoError(t, err)
		resultCh <- resp.(raft.VoteResponse)
	}()

	// give the goroutine a moment to register before fulfilling
	time.Sleep(10 * time.Millisecond)
	tr.fulfill(key, raft.VoteResponse{Term: 3, VoteGranted: true, From: "local"})

	select {
	case resp := <-resultCh:
		assert.True(t, resp.VoteGranted)
		assert.Equal(t, raft.Term(3), resp.Term)
	case <-time.After(time.Second):
		t.Fatal("await never returned")
	}
}

func TestTransport_AwaitTimesOutWithoutFulfill(t *testing.T) {
	tr := &Transport{self: "local"}
	key := pendingKey{peer: "candidate-1", kind: "RequestVote"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.await(ctx, key)
	assert.Error(t, err)

	// the pending entry must be cleaned up, or a later unrelated fulfill
	// would deliver a stale reply to a new caller using the same key.
	_, ok := tr.pending.Load(key)
	assert.False(t, ok)
}

func TestTransport_AddAndRemoveServer(t *testing.T) {
	tr := NewTransport("local", nil, nil)

	require.NoError(t, tr.AddServer("peer-a", "127.0.0.1:9001"))
	_, err := tr.getClientConn("peer-a")
	require.NoError(t, err)

	require.NoError(t, tr.RemoveServer("peer-a"))
	_, err = tr.getClientConn("peer-a")
	assert.Error(t, err)
}
