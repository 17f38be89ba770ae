package group_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinJE/scylla/internal/raft"
	"github.com/GavinJE/scylla/internal/raft/group"
	"github.com/GavinJE/scylla/internal/rafttest"
)

func fastTestConfig() raft.Config {
	cfg := raft.DefaultConfig()
	cfg.TickInterval = 2 * time.Millisecond
	cfg.ElectionTimeout = 3
	cfg.HeartbeatInterval = 1
	cfg.SnapshotTrailing = 5
	cfg.MaxLogSize = 100
	return cfg
}

func singleNodeConfiguration(id raft.ServerID) raft.Configuration {
	return raft.Configuration{Current: []raft.ServerAddressRecord{{ID: id, Address: "local"}}}
}

func newTestGroup(t *testing.T, id raft.ServerID) (*group.Group, *rafttest.MockStateMachine, context.CancelFunc) {
	t.Helper()
	col := group.Collaborators{
		RPC:             rafttest.NewMockRPC(),
		Persistence:     rafttest.NewMockPersistence(),
		FailureDetector: rafttest.NewMockFailureDetector(),
		StateMachine:    rafttest.NewMockStateMachine(),
	}
	g, err := group.New(id, fastTestConfig(), singleNodeConfiguration(id), col)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx)
	return g, col.StateMachine.(*rafttest.MockStateMachine), cancel
}

func TestGroup_SingleNodeElectsItselfLeader(t *testing.T) {
	g, _, cancel := newTestGroup(t, "a")
	defer cancel()
	defer g.Abort()

	require.Eventually(t, func() bool {
		return g.Role() == raft.Leader
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, raft.ServerID("a"), g.LeaderHint())
	assert.GreaterOrEqual(t, g.CurrentTerm(), raft.Term(1))
}

func TestGroup_AddEntryCommitsAndApplies(t *testing.T) {
	g, sm, cancel := newTestGroup(t, "a")
	defer cancel()
	defer g.Abort()

	require.Eventually(t, func() bool { return g.Role() == raft.Leader }, 2*time.Second, 5*time.Millisecond)

	idx, term, err := g.AddEntry(raft.Command("SET x=1"), raft.Committed)
	require.NoError(t, err)
	assert.Greater(t, idx, raft.Index(0))
	assert.Equal(t, g.CurrentTerm(), term)

	require.Eventually(t, func() bool {
		return g.LastApplied() >= idx
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(sm.GetAppliedLogs()) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestGroup_ReadBarrierSucceedsOnLeader(t *testing.T) {
	g, _, cancel := newTestGroup(t, "a")
	defer cancel()
	defer g.Abort()

	require.Eventually(t, func() bool { return g.Role() == raft.Leader }, 2*time.Second, 5*time.Millisecond)

	err := g.ReadBarrier()
	assert.NoError(t, err)
}

func TestGroup_AddEntryRejectedOnFollower(t *testing.T) {
	col := group.Collaborators{
		RPC:             rafttest.NewMockRPC(),
		Persistence:     rafttest.NewMockPersistence(),
		FailureDetector: rafttest.NewMockFailureDetector(),
		StateMachine:    rafttest.NewMockStateMachine(),
	}
	// Two-voter configuration: "a" alone never reaches quorum on its own,
	// so it never leaves the pre-vote phase during this test.
	cfg := singleNodeConfiguration("a")
	cfg.Current = append(cfg.Current, raft.ServerAddressRecord{ID: "b", Address: "remote"})

	g, err := group.New("a", fastTestConfig(), cfg, col)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	defer g.Abort()

	time.Sleep(50 * time.Millisecond)
	assert.NotEqual(t, raft.Leader, g.Role())

	_, _, err = g.AddEntry(raft.Command("SET x=1"), raft.Committed)
	assert.Error(t, err)
}

func TestGroup_AddEntryAfterAbortReturnsStopped(t *testing.T) {
	g, _, cancel := newTestGroup(t, "a")
	defer cancel()

	require.Eventually(t, func() bool { return g.Role() == raft.Leader }, 2*time.Second, 5*time.Millisecond)

	g.Abort()

	_, _, err := g.AddEntry(raft.Command("SET x=1"), raft.Committed)
	assert.ErrorIs(t, err, raft.ErrStopped)
}
