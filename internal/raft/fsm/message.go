package fsm

import "github.com/GavinJE/scylla/internal/raft"

// Message is the closed set of things Step accepts: one inbound RPC arrival
// per call. The From field is carried on each wrapper rather than inside
// the raft.*Request/Response payloads, since transports deliver "who sent
// this" out of band from the wire envelope.
type Message interface {
	isMessage()
	from() raft.ServerID
}

type VoteRequestMsg struct {
	From raft.ServerID
	Req  raft.VoteRequest
}

func (m VoteRequestMsg) isMessage()           {}
func (m VoteRequestMsg) from() raft.ServerID  { return m.From }

type VoteResponseMsg struct {
	From raft.ServerID
	Resp raft.VoteResponse
}

func (m VoteResponseMsg) isMessage()          {}
func (m VoteResponseMsg) from() raft.ServerID { return m.From }

type PreVoteRequestMsg struct {
	From raft.ServerID
	Req  raft.PreVoteRequest
}

func (m PreVoteRequestMsg) isMessage()          {}
func (m PreVoteRequestMsg) from() raft.ServerID { return m.From }

type PreVoteResponseMsg struct {
	From raft.ServerID
	Resp raft.PreVoteResponse
}

func (m PreVoteResponseMsg) isMessage()          {}
func (m PreVoteResponseMsg) from() raft.ServerID { return m.From }

type AppendEntriesRequestMsg struct {
	From raft.ServerID
	Req  raft.AppendEntriesRequest
}

func (m AppendEntriesRequestMsg) isMessage()          {}
func (m AppendEntriesRequestMsg) from() raft.ServerID { return m.From }

type AppendEntriesResponseMsg struct {
	From raft.ServerID
	Resp raft.AppendEntriesResponse
}

func (m AppendEntriesResponseMsg) isMessage()          {}
func (m AppendEntriesResponseMsg) from() raft.ServerID { return m.From }

type InstallSnapshotRequestMsg struct {
	From raft.ServerID
	Req  raft.InstallSnapshotRequest
}

func (m InstallSnapshotRequestMsg) isMessage()          {}
func (m InstallSnapshotRequestMsg) from() raft.ServerID { return m.From }

type InstallSnapshotResponseMsg struct {
	From raft.ServerID
	Resp raft.InstallSnapshotResponse
}

func (m InstallSnapshotResponseMsg) isMessage()          {}
func (m InstallSnapshotResponseMsg) from() raft.ServerID { return m.From }

type TimeoutNowMsg struct {
	From raft.ServerID
	Req  raft.TimeoutNow
}

func (m TimeoutNowMsg) isMessage()          {}
func (m TimeoutNowMsg) from() raft.ServerID { return m.From }
