package raftrpc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinJE/scylla/internal/raft"
	"github.com/GavinJE/scylla/internal/raft/group"
	"github.com/GavinJE/scylla/internal/rafttest"
	"github.com/GavinJE/scylla/internal/transport/raftrpc"
)

func fastAdminTestConfig() raft.Config {
	cfg := raft.DefaultConfig()
	cfg.TickInterval = 2 * time.Millisecond
	cfg.ElectionTimeout = 3
	cfg.HeartbeatInterval = 1
	cfg.SnapshotTrailing = 5
	cfg.MaxLogSize = 100
	return cfg
}

func newAdminTestGroup(t *testing.T) (*group.Group, context.CancelFunc) {
	t.Helper()
	col := group.Collaborators{
		RPC:             rafttest.NewMockRPC(),
		Persistence:     rafttest.NewMockPersistence(),
		FailureDetector: rafttest.NewMockFailureDetector(),
		StateMachine:    rafttest.NewMockStateMachine(),
	}
	initial := raft.Configuration{Current: []raft.ServerAddressRecord{{ID: "a", Address: "local"}}}
	g, err := group.New("a", fastAdminTestConfig(), initial, col)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx)
	t.Cleanup(g.Abort)
	require.Eventually(t, func() bool { return g.Role() == raft.Leader }, 2*time.Second, 5*time.Millisecond)
	return g, cancel
}

func TestGroupAdmin_ClientCommandCommits(t *testing.T) {
	g, cancel := newAdminTestGroup(t)
	defer cancel()
	admin := raftrpc.NewGroupAdmin(g)

	resp, err := admin.ClientCommand(context.Background(), &raftrpc.ClientCommandRequest{Command: []byte("SET x=1")})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Greater(t, resp.Index, raft.Index(0))
}

func TestGroupAdmin_AddServerThenRemoveServer(t *testing.T) {
	g, cancel := newAdminTestGroup(t)
	defer cancel()
	admin := raftrpc.NewGroupAdmin(g)

	addResp, err := admin.AddServer(context.Background(), &raftrpc.MembershipRequest{ServerID: "b", Address: "remote"})
	require.NoError(t, err)
	require.True(t, addResp.Success, addResp.Error)

	require.Eventually(t, func() bool {
		for _, m := range g.Configuration().Current {
			if m.ID == "b" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	dupResp, err := admin.AddServer(context.Background(), &raftrpc.MembershipRequest{ServerID: "b", Address: "remote"})
	require.NoError(t, err)
	assert.False(t, dupResp.Success)

	removeResp, err := admin.RemoveServer(context.Background(), &raftrpc.MembershipRequest{ServerID: "b"})
	require.NoError(t, err)
	assert.True(t, removeResp.Success, removeResp.Error)

	missingResp, err := admin.RemoveServer(context.Background(), &raftrpc.MembershipRequest{ServerID: "nonexistent"})
	require.NoError(t, err)
	assert.False(t, missingResp.Success)
}

func TestGroupAdmin_Status(t *testing.T) {
	g, cancel := newAdminTestGroup(t)
	defer cancel()
	admin := raftrpc.NewGroupAdmin(g)

	resp, err := admin.Status(context.Background(), &raftrpc.StatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, raft.ServerID("a"), resp.ID)
	assert.Equal(t, "Leader", resp.Role)
	assert.Len(t, resp.Configuration.Current, 1)
}
