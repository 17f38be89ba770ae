package fsm

import "github.com/GavinJE/scylla/internal/raft"

// SnapshotRequest asks the driving loop to have the state machine produce a
// snapshot covering entries up to and including UpToIndex.
type SnapshotRequest struct {
	UpToIndex raft.Index
	UpToTerm  raft.Term
}

// RoleChange reports a role transition the loop should react to (reset
// pending reads, fail in-flight promises that can no longer be guaranteed,
// publish a lifecycle event).
type RoleChange struct {
	From raft.State
	To   raft.State
}

// Output is everything the FSM decided should happen as a result of one
// Step/Tick/Propose/... call. It never performs I/O itself; the loop is
// responsible for turning each field into an actual side effect, in the
// order: persist, then send, then apply.
type Output struct {
	// TermVote is non-nil when current_term/voted_for changed and must be
	// fsynced before any of Sends goes out (spec §5 ordering guarantee).
	TermVote *TermVote
	// EntriesToPersist must be durably stored before local MatchIndex
	// advances to cover them.
	EntriesToPersist []raft.LogEntry
	// TruncateSuffixFrom, if set, must be applied to persistence before
	// EntriesToPersist (it clears the way for the new entries).
	TruncateSuffixFrom *raft.Index
	// TruncatePrefixUpTo, if set, asks persistence to drop entries at or
	// before this index (the snapshot now covers them).
	TruncatePrefixUpTo *raft.Index

	Sends []Send

	// EntriesToApply are committed entries, strictly in index order, ready
	// for StateMachine.Apply.
	EntriesToApply []raft.LogEntry

	SnapshotRequest *SnapshotRequest

	// InstalledSnapshot is set when a follower just accepted a full
	// install_snapshot transfer. The loop must call
	// StateMachine.LoadSnapshot(handle) and Persistence.StoreSnapshot before
	// acknowledging, replacing whatever log/snapshot it had before.
	InstalledSnapshot *raft.SnapshotDescriptor

	RoleChange    *RoleChange
	CommitIndex   raft.Index
	LastApplied   raft.Index
	CurrentTerm   raft.Term
	LeaderHint    raft.ServerID
	Configuration *raft.Configuration // set when the latest configuration changed

	// ReadBarrierSatisfied lists read-index round sequence numbers whose
	// quorum-ack condition is now met and whose captured commit index has
	// already been applied, so the loop resolves their callers directly.
	ReadBarrierSatisfied []uint64

	// Stepdown* report the outcome of an in-flight stepdown(timeout) call.
	StepdownDone    bool
	StepdownTimeout bool
}

// TermVote is the persistent (current_term, voted_for) pair.
type TermVote struct {
	Term     raft.Term
	VotedFor *raft.ServerID
}

func (o *Output) addSend(s Send) { o.Sends = append(o.Sends, s) }
