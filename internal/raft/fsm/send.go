package fsm

import "github.com/GavinJE/scylla/internal/raft"

// Send is one outbound RPC the group loop must dispatch through the rpc
// collaborator. Keeping the "which rpc.RPC method does this map to" logic
// next to the message construction (rather than a big switch in the loop)
// keeps the loop a thin dispatcher.
type Send interface {
	Deliver(rpc raft.RPC)
}

type sendVoteRequest struct {
	To  raft.ServerID
	Req raft.VoteRequest
}

func (s sendVoteRequest) Deliver(rpc raft.RPC) { rpc.SendVoteRequest(s.To, s.Req) }

type sendVoteResponse struct {
	To   raft.ServerID
	Resp raft.VoteResponse
}

func (s sendVoteResponse) Deliver(rpc raft.RPC) { rpc.SendVoteResponse(s.To, s.Resp) }

type sendPreVoteRequest struct {
	To  raft.ServerID
	Req raft.PreVoteRequest
}

func (s sendPreVoteRequest) Deliver(rpc raft.RPC) { rpc.SendPreVoteRequest(s.To, s.Req) }

type sendPreVoteResponse struct {
	To   raft.ServerID
	Resp raft.PreVoteResponse
}

func (s sendPreVoteResponse) Deliver(rpc raft.RPC) { rpc.SendPreVoteResponse(s.To, s.Resp) }

type sendAppendEntries struct {
	To  raft.ServerID
	Req raft.AppendEntriesRequest
}

func (s sendAppendEntries) Deliver(rpc raft.RPC) { rpc.SendAppendEntries(s.To, s.Req) }

type sendAppendEntriesResponse struct {
	To   raft.ServerID
	Resp raft.AppendEntriesResponse
}

func (s sendAppendEntriesResponse) Deliver(rpc raft.RPC) {
	rpc.SendAppendEntriesResponse(s.To, s.Resp)
}

type sendInstallSnapshot struct {
	To  raft.ServerID
	Req raft.InstallSnapshotRequest
}

func (s sendInstallSnapshot) Deliver(rpc raft.RPC) { rpc.SendInstallSnapshot(s.To, s.Req) }

// installSnapshotTarget lets the driving loop single out install_snapshot
// sends for a failure-detector liveness check before spending the bandwidth
// (spec §4.3: "the leader avoids sending ... snapshots to peers it
// believes are down").
func (s sendInstallSnapshot) installSnapshotTarget() raft.ServerID { return s.To }

type sendInstallSnapshotResponse struct {
	To   raft.ServerID
	Resp raft.InstallSnapshotResponse
}

func (s sendInstallSnapshotResponse) Deliver(rpc raft.RPC) {
	rpc.SendInstallSnapshotResponse(s.To, s.Resp)
}

type sendTimeoutNow struct {
	To  raft.ServerID
	Req raft.TimeoutNow
}

func (s sendTimeoutNow) Deliver(rpc raft.RPC) { rpc.SendTimeoutNow(s.To, s.Req) }
