package fsm

import "github.com/GavinJE/scylla/internal/raft"

func (f *FSM) handleInstallSnapshotRequest(m InstallSnapshotRequestMsg) Output {
	out := f.baseOutput()
	req := m.Req

	f.adoptHigherTerm(req.Term, &out)

	if req.Term < f.currentTerm {
		out.addSend(sendInstallSnapshotResponse{To: m.From, Resp: raft.InstallSnapshotResponse{
			Term: f.currentTerm, From: f.id,
		}})
		return out
	}

	f.leaderHint = req.LeaderID
	if f.role != raft.Follower {
		f.transitionTo(raft.Follower, &out)
	}
	f.resetElectionTimer()

	if req.LastIncludedIndex <= f.snapshot.LastIncludedIndex {
		// Already have at least this much; ack without reinstalling, the
		// way a retried/duplicated transfer should behave.
		out.addSend(sendInstallSnapshotResponse{To: m.From, Resp: raft.InstallSnapshotResponse{
			Term: f.currentTerm, From: f.id,
		}})
		return out
	}

	desc := raft.SnapshotDescriptor{
		LastIncludedIndex: req.LastIncludedIndex,
		LastIncludedTerm:  req.LastIncludedTerm,
		Configuration:      req.Configuration,
		Handle:            req.Handle,
	}
	f.snapshot = desc
	f.log = newMemLog()
	f.log.snapshotIndex = desc.LastIncludedIndex
	f.log.snapshotTerm = desc.LastIncludedTerm
	f.commitIndex = desc.LastIncludedIndex
	f.lastApplied = desc.LastIncludedIndex
	f.config = desc.Configuration
	f.committedConfig = desc.Configuration
	out.CommitIndex, out.LastApplied = f.commitIndex, f.lastApplied
	out.Configuration = &f.config
	out.InstalledSnapshot = &desc

	out.addSend(sendInstallSnapshotResponse{To: m.From, Resp: raft.InstallSnapshotResponse{
		Term: f.currentTerm, From: f.id,
	}})
	return out
}

func (f *FSM) handleInstallSnapshotResponse(m InstallSnapshotResponseMsg) Output {
	out := f.baseOutput()
	if f.role != raft.Leader {
		return out
	}
	if f.adoptHigherTerm(m.Resp.Term, &out) {
		return out
	}
	if m.Resp.Term != f.currentTerm {
		return out
	}
	f.probeInFlight[m.From] = false
	f.sinceContact[m.From] = 0
	if f.snapshot.LastIncludedIndex > f.matchIndex[m.From] {
		f.matchIndex[m.From] = f.snapshot.LastIncludedIndex
	}
	f.nextIndex[m.From] = f.matchIndex[m.From] + 1
	if f.nextIndex[m.From] <= f.log.lastIndex() {
		f.sendAppendEntriesTo(m.From, 0, &out)
	}
	return out
}
