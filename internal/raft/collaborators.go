package raft

// RPC is the transport collaborator (spec §4.3). All sends are
// fire-and-forget from the FSM's point of view: responses arrive later as
// separate inbound messages delivered back into the group's event loop.
type RPC interface {
	SendVoteRequest(peer ServerID, req VoteRequest)
	SendVoteResponse(peer ServerID, resp VoteResponse)
	SendPreVoteRequest(peer ServerID, req PreVoteRequest)
	SendPreVoteResponse(peer ServerID, resp PreVoteResponse)
	SendAppendEntries(peer ServerID, req AppendEntriesRequest)
	SendAppendEntriesResponse(peer ServerID, resp AppendEntriesResponse)
	SendInstallSnapshot(peer ServerID, req InstallSnapshotRequest)
	SendInstallSnapshotResponse(peer ServerID, resp InstallSnapshotResponse)
	SendTimeoutNow(peer ServerID, req TimeoutNow)

	AddServer(id ServerID, addr ServerAddress) error
	RemoveServer(id ServerID) error
}

// Persistence is the durable-storage collaborator (spec §4.3). Every store
// must be durable (fsynced) before it returns, and must complete before any
// message that depends on it is sent (spec §5 ordering guarantees).
type Persistence interface {
	StoreTermVote(term Term, votedFor *ServerID) error
	StoreLogEntries(entries []LogEntry) error
	StoreSnapshot(desc SnapshotDescriptor) error

	LoadTermVote() (Term, *ServerID, error)
	LoadLog() ([]LogEntry, error)
	LoadSnapshot() (SnapshotDescriptor, bool, error)

	TruncateLogPrefix(upTo Index) error
	TruncateLogSuffix(from Index) error

	Close() error
}

// FailureDetector reports peer liveness. The group loop consults it only
// before an install_snapshot send, skipping the send to a peer reported
// dead; append_entries sends and stepdown decisions do not consult it.
type FailureDetector interface {
	IsAlive(id ServerID) bool
}

// StateMachine is the user-supplied command processor.
type StateMachine interface {
	Apply(entries []LogEntry)
	TakeSnapshot() (SnapshotHandle, error)
	LoadSnapshot(handle SnapshotHandle) error
}

// SnapshotHandle is an opaque state-machine snapshot blob; its encoding is
// entirely the state machine's concern.
type SnapshotHandle []byte

// SnapshotDescriptor is the persisted record of the latest snapshot.
type SnapshotDescriptor struct {
	LastIncludedIndex Index
	LastIncludedTerm  Term
	Configuration     Configuration
	Handle            SnapshotHandle
}

// --- Wire messages (spec §6) ---
//
// Every message carries Term. A recipient observing a higher term than its
// own immediately adopts that term, clears VotedFor, and becomes a
// follower before further processing (spec §6).

type VoteRequest struct {
	Term         Term
	CandidateID  ServerID
	LastLogIndex Index
	LastLogTerm  Term
}

type VoteResponse struct {
	Term        Term
	VoteGranted bool
	From        ServerID
}

type PreVoteRequest struct {
	Term         Term // would-be term: current_term + 1, not yet adopted
	CandidateID  ServerID
	LastLogIndex Index
	LastLogTerm  Term
}

type PreVoteResponse struct {
	Term        Term
	VoteGranted bool
	From        ServerID
}

type AppendEntriesRequest struct {
	Term         Term
	LeaderID     ServerID
	PrevLogIndex Index
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit Index
	// ReadSeq, when non-zero, is the read-index round this heartbeat is
	// carrying; the response's ReadSeq acks it.
	ReadSeq uint64
}

type AppendEntriesResponse struct {
	Term    Term
	Success bool
	From    ServerID
	// LastIndexHint, on success, is the follower's last log index. On
	// rejection it is the index the leader should retry from: the first
	// index of the follower's conflicting term, or the follower's last
	// index + 1 if its log is shorter than PrevLogIndex, letting the leader
	// jump NextIndex back by more than one.
	LastIndexHint Index
	ConflictTerm  Term
	ReadSeq       uint64
}

type InstallSnapshotRequest struct {
	Term              Term
	LeaderID          ServerID
	LastIncludedIndex Index
	LastIncludedTerm  Term
	Configuration     Configuration
	Handle            SnapshotHandle
}

type InstallSnapshotResponse struct {
	Term Term
	From ServerID
}

type TimeoutNow struct {
	Term Term
}
