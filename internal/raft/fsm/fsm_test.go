package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinJE/scylla/internal/raft"
)

// recorder is a minimal raft.RPC that just captures every send addressed to
// it, letting tests pump Output.Sends straight into another FSM's Step
// without standing up real transport.
type recorder struct {
	msgs []Message
}

func (r *recorder) SendVoteRequest(peer raft.ServerID, req raft.VoteRequest) {
	r.msgs = append(r.msgs, VoteRequestMsg{From: req.CandidateID, Req: req})
}
func (r *recorder) SendVoteResponse(peer raft.ServerID, resp raft.VoteResponse) {
	r.msgs = append(r.msgs, VoteResponseMsg{From: resp.From, Resp: resp})
}
func (r *recorder) SendPreVoteRequest(peer raft.ServerID, req raft.PreVoteRequest) {
	r.msgs = append(r.msgs, PreVoteRequestMsg{From: req.CandidateID, Req: req})
}
func (r *recorder) SendPreVoteResponse(peer raft.ServerID, resp raft.PreVoteResponse) {
	r.msgs = append(r.msgs, PreVoteResponseMsg{From: resp.From, Resp: resp})
}
func (r *recorder) SendAppendEntries(peer raft.ServerID, req raft.AppendEntriesRequest) {
	r.msgs = append(r.msgs, AppendEntriesRequestMsg{From: req.LeaderID, Req: req})
}
func (r *recorder) SendAppendEntriesResponse(peer raft.ServerID, resp raft.AppendEntriesResponse) {
	r.msgs = append(r.msgs, AppendEntriesResponseMsg{From: resp.From, Resp: resp})
}
func (r *recorder) SendInstallSnapshot(peer raft.ServerID, req raft.InstallSnapshotRequest) {
	r.msgs = append(r.msgs, InstallSnapshotRequestMsg{From: req.LeaderID, Req: req})
}
func (r *recorder) SendInstallSnapshotResponse(peer raft.ServerID, resp raft.InstallSnapshotResponse) {
	r.msgs = append(r.msgs, InstallSnapshotResponseMsg{From: resp.From, Resp: resp})
}
func (r *recorder) SendTimeoutNow(peer raft.ServerID, req raft.TimeoutNow) {
	r.msgs = append(r.msgs, TimeoutNowMsg{From: "", Req: req})
}
func (r *recorder) AddServer(id raft.ServerID, addr raft.ServerAddress) error { return nil }
func (r *recorder) RemoveServer(id raft.ServerID) error                      { return nil }

// cluster wires N in-memory FSMs together: Sends from one node's Output are
// delivered directly into the addressed node's Step, as a real transport
// would eventually do.
type cluster struct {
	nodes map[raft.ServerID]*FSM
	cfg   raft.Config
}

func newCluster(t *testing.T, ids ...raft.ServerID) *cluster {
	t.Helper()
	cfg := raft.DefaultConfig()
	var members []raft.ServerAddressRecord
	for _, id := range ids {
		members = append(members, raft.ServerAddressRecord{ID: id, Address: raft.ServerAddress(id)})
	}
	config := raft.Configuration{Current: members}
	c := &cluster{nodes: map[raft.ServerID]*FSM{}, cfg: cfg}
	for _, id := range ids {
		c.nodes[id] = New(id, cfg, config)
	}
	return c
}

// drive delivers out.Sends from `from` to their recipients, recursively
// draining any further Sends those Steps produce, until nothing is left in
// flight. Returns the full chain of outputs for inspection.
func (c *cluster) drive(from raft.ServerID, out Output) []Output {
	all := []Output{out}
	queue := out.Sends
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]

		rec := &recorder{}
		s.Deliver(rec)
		if len(rec.msgs) == 0 {
			continue
		}
		env := rec.msgs[0]
		to := destinationOf(s)
		target, ok := c.nodes[to]
		if !ok {
			continue
		}
		// Only fill in a sender identity when the wire message itself
		// doesn't already carry one (e.g. TimeoutNow): responses and vote
		// requests already stamp the real sender via resp.From/CandidateID.
		if env.from() == "" {
			env = withFrom(env, from)
		}
		next := target.Step(env)
		all = append(all, next)
		queue = append(queue, next.Sends...)
	}
	return all
}

func destinationOf(s Send) raft.ServerID {
	switch v := s.(type) {
	case sendVoteRequest:
		return v.To
	case sendVoteResponse:
		return v.To
	case sendPreVoteRequest:
		return v.To
	case sendPreVoteResponse:
		return v.To
	case sendAppendEntries:
		return v.To
	case sendAppendEntriesResponse:
		return v.To
	case sendInstallSnapshot:
		return v.To
	case sendInstallSnapshotResponse:
		return v.To
	case sendTimeoutNow:
		return v.To
	}
	return ""
}

func withFrom(m Message, from raft.ServerID) Message {
	switch v := m.(type) {
	case VoteRequestMsg:
		v.From = from
		return v
	case VoteResponseMsg:
		v.From = from
		return v
	case PreVoteRequestMsg:
		v.From = from
		return v
	case PreVoteResponseMsg:
		v.From = from
		return v
	case AppendEntriesRequestMsg:
		v.From = from
		return v
	case AppendEntriesResponseMsg:
		v.From = from
		return v
	case InstallSnapshotRequestMsg:
		v.From = from
		return v
	case InstallSnapshotResponseMsg:
		v.From = from
		return v
	case TimeoutNowMsg:
		v.From = from
		return v
	}
	return m
}

func TestElection_SingleCandidateWinsWithQuorum(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	out := c.nodes["a"].Campaign()
	c.drive("a", out)

	assert.Equal(t, raft.Leader, c.nodes["a"].Role())
	assert.Equal(t, raft.Follower, c.nodes["b"].Role())
	assert.Equal(t, raft.Follower, c.nodes["c"].Role())
	assert.Equal(t, raft.Term(1), c.nodes["a"].CurrentTerm())
}

func TestElection_PreVoteRejectedWhenLogBehind(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	c.drive("a", c.nodes["a"].Campaign())
	require.Equal(t, raft.Leader, c.nodes["a"].Role())

	idx, _, ok, out := c.nodes["a"].Propose(raft.Command("x"))
	require.True(t, ok)
	require.Equal(t, raft.Index(2), idx)
	c.drive("a", out)

	// c's log is now caught up; a stale challenger with an empty log
	// should fail pre-vote against either follower.
	stale := New("d", c.cfg, raft.Configuration{Current: []raft.ServerAddressRecord{
		{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"},
	}})
	resp := c.nodes["b"].Step(PreVoteRequestMsg{From: "d", Req: raft.PreVoteRequest{
		Term: stale.CurrentTerm() + 1, CandidateID: "d",
	}})
	var preVoteResp *raft.PreVoteResponse
	for _, s := range resp.Sends {
		if pv, ok := s.(sendPreVoteResponse); ok {
			preVoteResp = &pv.Resp
		}
	}
	require.NotNil(t, preVoteResp)
	assert.False(t, preVoteResp.VoteGranted)
}

func TestReplication_CommitRequiresQuorum(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	c.drive("a", c.nodes["a"].Campaign())
	require.True(t, c.nodes["a"].IsLeader())

	idx, term, ok, out := c.nodes["a"].Propose(raft.Command("set x=1"))
	require.True(t, ok)
	assert.Equal(t, raft.Term(1), term)
	c.drive("a", out)

	assert.Equal(t, idx, c.nodes["a"].CommitIndex())

	// Followers learn the new commit index from the leader's next
	// append_entries: the heartbeat due after HeartbeatInterval ticks.
	for i := raft.Tick(0); i < c.cfg.HeartbeatInterval; i++ {
		c.drive("a", c.nodes["a"].Tick())
	}
	assert.Equal(t, idx, c.nodes["b"].CommitIndex())
	assert.Equal(t, idx, c.nodes["c"].CommitIndex())
}

func TestReplication_LogConflictIsTruncatedAndOverwritten(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	c.drive("a", c.nodes["a"].Campaign())

	// Simulate b having a stray uncommitted entry at index 2 from a term
	// that never committed (e.g. a prior leader that lost the election).
	b := c.nodes["b"]
	b.log.append(raft.LogEntry{Term: 99, Index: b.log.lastIndex() + 1, Payload: raft.Command("ghost")})

	_, _, ok, out := c.nodes["a"].Propose(raft.Command("real"))
	require.True(t, ok)
	c.drive("a", out)

	entry, found := b.log.entryAt(b.log.lastIndex())
	require.True(t, found)
	assert.Equal(t, raft.Command("real"), entry.Payload)
}

func TestMembership_JointConsensusRequiresBothHalvesQuorum(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	c.drive("a", c.nodes["a"].Campaign())

	idx, out := c.nodes["a"].ProposeConfiguration([]raft.ServerAddressRecord{
		{ID: "a"}, {ID: "b"}, {ID: "d"}, {ID: "e"},
	})
	// d and e aren't wired into this cluster's routing table, so only a and b
	// of C_new can ever ack the joint entry. All of C_old (a, b, c) acks it,
	// which must not be enough: C_new's majority is required as well.
	assert.True(t, c.nodes["a"].confChangeInProgress)
	assert.True(t, c.nodes["a"].config.Joint)
	c.drive("a", out)
	assert.Less(t, c.nodes["a"].CommitIndex(), idx, "a C_old majority alone must not commit the joint entry")
}

// TestElection_JointConfigSolicitsVotesFromBothHalvesOnRemoval covers a
// removal-style joint change (a member, "d", present only in C_old). Unlike
// a pure-addition joint change, C_old's quorum here cannot be assembled from
// C_new members alone: a and b can satisfy C_new's quorum by themselves, but
// C_old (a, b, c, d) needs a third voter, and c never responds, so only d's
// vote can complete it. If the candidate failed to solicit d (the bug this
// regresses), the election would stall forever despite a live majority.
func TestElection_JointConfigSolicitsVotesFromBothHalvesOnRemoval(t *testing.T) {
	cfg := raft.DefaultConfig()
	joint := raft.Configuration{
		Current: []raft.ServerAddressRecord{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Joint:   true,
		Old:     []raft.ServerAddressRecord{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
	}
	a := New("a", cfg, joint)

	out := a.Campaign()
	require.Equal(t, raft.PreCandidate, a.Role())

	solicitedD := false
	for _, s := range out.Sends {
		if v, ok := s.(sendPreVoteRequest); ok && v.To == "d" {
			solicitedD = true
		}
	}
	assert.True(t, solicitedD, "d is only in C_old and must still receive a pre-vote request during the joint window")

	// c never responds (down, or simply slow); only b and d grant. That is
	// enough for C_new's quorum (a, b) but only reaches C_old's quorum of 3
	// because d's vote is counted (a, b, d).
	preTerm := a.CurrentTerm() + 1
	out = a.Step(PreVoteResponseMsg{From: "b", Resp: raft.PreVoteResponse{Term: preTerm, VoteGranted: true, From: "b"}})
	require.Equal(t, raft.PreCandidate, a.Role())
	out = a.Step(PreVoteResponseMsg{From: "d", Resp: raft.PreVoteResponse{Term: preTerm, VoteGranted: true, From: "d"}})
	require.Equal(t, raft.Candidate, a.Role(), "pre-vote quorum over both halves should have advanced to a real election")

	votedRequestToD := false
	for _, s := range out.Sends {
		if v, ok := s.(sendVoteRequest); ok && v.To == "d" {
			votedRequestToD = true
		}
	}
	assert.True(t, votedRequestToD, "the real election must also solicit d")

	voteTerm := a.CurrentTerm()
	out = a.Step(VoteResponseMsg{From: "b", Resp: raft.VoteResponse{Term: voteTerm, VoteGranted: true, From: "b"}})
	require.Equal(t, raft.Candidate, a.Role())
	_ = a.Step(VoteResponseMsg{From: "d", Resp: raft.VoteResponse{Term: voteTerm, VoteGranted: true, From: "d"}})
	assert.Equal(t, raft.Leader, a.Role(), "a, b and d form quorum in both C_new and C_old without c")
}

func TestReadBarrier_SatisfiedAfterQuorumAck(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	c.drive("a", c.nodes["a"].Campaign())

	seq, commitAtCall, ok, out := c.nodes["a"].RequestReadBarrier()
	require.True(t, ok)
	assert.Equal(t, c.nodes["a"].CommitIndex(), commitAtCall)

	outs := c.drive("a", out)
	satisfied := false
	for _, o := range outs {
		for _, s := range o.ReadBarrierSatisfied {
			if s == seq {
				satisfied = true
			}
		}
	}
	assert.True(t, satisfied)
}

func TestPropose_RejectedWhenNotLeader(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	_, _, ok, _ := c.nodes["b"].Propose(raft.Command("nope"))
	assert.False(t, ok)
}

func TestSnapshot_InstallReplacesFollowerLog(t *testing.T) {
	c := newCluster(t, "a", "b")
	leader := c.nodes["a"]
	leader.role = raft.Leader
	leader.currentTerm = 5
	leader.leaderHint = "a"
	leader.initLeaderState()

	resp := c.nodes["b"].Step(InstallSnapshotRequestMsg{From: "a", Req: raft.InstallSnapshotRequest{
		Term:              5,
		LeaderID:          "a",
		LastIncludedIndex: 10,
		LastIncludedTerm:  3,
		Configuration:      raft.Configuration{Current: []raft.ServerAddressRecord{{ID: "a"}, {ID: "b"}}},
		Handle:            raft.SnapshotHandle([]byte("snapshot-blob")),
	}})

	require.NotNil(t, resp.InstalledSnapshot)
	assert.Equal(t, raft.Index(10), c.nodes["b"].CommitIndex())
	assert.Equal(t, raft.Index(10), c.nodes["b"].LastApplied())
}
