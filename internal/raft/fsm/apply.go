package fsm

import "github.com/GavinJE/scylla/internal/raft"

// applyCommitted advances last_applied up to commit_index, handing the
// newly-committed entries to the loop for StateMachine.Apply (spec §4.1:
// "an entry is applied once committed, in index order, without waiting for
// a caller"). It also requests a snapshot once enough entries have been
// applied since the last one (spec §6 snapshot_threshold).
func (f *FSM) applyCommitted(out *Output) {
	if f.commitIndex <= f.lastApplied {
		return
	}
	entries := f.log.slice(f.lastApplied+1, f.commitIndex)
	out.EntriesToApply = append(out.EntriesToApply, entries...)
	f.lastApplied = f.commitIndex
	out.LastApplied = f.lastApplied

	for _, e := range entries {
		if cp, ok := e.Payload.(raft.ConfigurationPayload); ok {
			f.committedConfig = cp.Configuration
		}
	}

	f.maybeSatisfyReadRounds(out)

	if f.lastApplied-f.snapshot.LastIncludedIndex >= raft.Index(f.cfg.SnapshotThreshold) {
		term, _ := f.log.termAt(f.lastApplied)
		out.SnapshotRequest = &SnapshotRequest{UpToIndex: f.lastApplied, UpToTerm: term}
	}
}

// CompleteSnapshot is called by the loop once StateMachine.TakeSnapshot has
// produced a handle for the index/term the FSM last requested. It drops the
// in-memory log prefix, keeping the last SnapshotTrailing entries up to the
// snapshot's last-included index (and everything after it), and asks
// persistence to forget the dropped prefix. If SnapshotTrailing is not below
// the snapshot's last-included index, nothing is trimmed.
func (f *FSM) CompleteSnapshot(desc raft.SnapshotDescriptor) Output {
	out := f.baseOutput()
	if desc.LastIncludedIndex <= f.snapshot.LastIncludedIndex {
		return out
	}
	f.snapshot = desc

	trimTo := desc.LastIncludedIndex
	if trailing := raft.Index(f.cfg.SnapshotTrailing); trailing < trimTo {
		trimTo -= trailing
	} else {
		return out
	}
	if trimTo <= f.log.snapshotIndex {
		return out
	}
	term, ok := f.log.termAt(trimTo)
	if !ok {
		return out
	}
	f.log.truncatePrefix(trimTo, term)
	out.TruncatePrefixUpTo = &trimTo
	return out
}
