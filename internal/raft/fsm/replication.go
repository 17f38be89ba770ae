package fsm

import "github.com/GavinJE/scylla/internal/raft"

// appendLocal appends a new entry at the leader's current term and queues it
// for persistence and replication. Callers (Propose, beginElection's dummy
// commit, membership transitions) must already have confirmed this
// participant is leader.
func (f *FSM) appendLocal(payload raft.EntryPayload, out *Output) raft.Index {
	idx := f.log.lastIndex() + 1
	entry := raft.LogEntry{Term: f.currentTerm, Index: idx, Payload: payload}
	f.log.append(entry)
	out.EntriesToPersist = append(out.EntriesToPersist, entry)
	f.matchIndex[f.id] = idx
	if cp, ok := payload.(raft.ConfigurationPayload); ok {
		f.config = cp.Configuration
		out.Configuration = &f.config
		for _, id := range f.allKnownPeers() {
			if _, ok := f.nextIndex[id]; !ok {
				f.nextIndex[id] = idx
				f.matchIndex[id] = 0
				f.sinceContact[id] = 0
			}
		}
	}
	f.replicateToAll(out)
	return idx
}

// replicateToAll immediately pushes the new tail to every follower rather
// than waiting for the next heartbeat tick, so a single-RTT commit isn't
// held hostage by the heartbeat cadence.
func (f *FSM) replicateToAll(out *Output) {
	if f.role != raft.Leader {
		return
	}
	for _, id := range f.allKnownPeers() {
		if id == f.id {
			continue
		}
		f.sendAppendEntriesTo(id, 0, out)
	}
}

// sendAppendEntriesTo builds and queues one append_entries (or
// install_snapshot, if the follower has fallen behind the retained log) for
// peer. readSeq, if non-zero, piggybacks a read-index round on this
// heartbeat.
func (f *FSM) sendAppendEntriesTo(peer raft.ServerID, readSeq uint64, out *Output) {
	if f.probeInFlight[peer] {
		return
	}
	next := f.nextIndex[peer]
	if next == 0 {
		next = f.log.lastIndex() + 1
	}
	prevIndex := next - 1
	prevTerm, known := f.log.termAt(prevIndex)
	if !known {
		f.sendInstallSnapshotTo(peer, out)
		return
	}

	entries := f.log.slice(next, f.log.lastIndex())
	entries = capToThreshold(entries, f.cfg.AppendRequestThreshold)

	req := raft.AppendEntriesRequest{
		Term:         f.currentTerm,
		LeaderID:     f.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: f.commitIndex,
		ReadSeq:      readSeq,
	}
	f.probeInFlight[peer] = true
	out.addSend(sendAppendEntries{To: peer, Req: req})
}

// capToThreshold trims entries to respect AppendRequestThreshold (spec §6),
// measured as the sum of command payload lengths; metadata-only entries
// (Dummy, ConfigurationPayload) never count against the cap so a membership
// change can't be starved by a backlog of large commands.
func capToThreshold(entries []raft.LogEntry, threshold uint64) []raft.LogEntry {
	if threshold == 0 || len(entries) == 0 {
		return entries
	}
	var size uint64
	for i, e := range entries {
		if cmd, ok := e.Payload.(raft.Command); ok {
			size += uint64(len(cmd))
			if size > threshold && i > 0 {
				return entries[:i]
			}
		}
	}
	return entries
}

func (f *FSM) sendInstallSnapshotTo(peer raft.ServerID, out *Output) {
	f.probeInFlight[peer] = true
	out.addSend(sendInstallSnapshot{To: peer, Req: raft.InstallSnapshotRequest{
		Term:              f.currentTerm,
		LeaderID:          f.id,
		LastIncludedIndex: f.snapshot.LastIncludedIndex,
		LastIncludedTerm:  f.snapshot.LastIncludedTerm,
		Configuration:     f.snapshot.Configuration,
		Handle:            f.snapshot.Handle,
	}})
}

func (f *FSM) handleAppendEntriesRequest(m AppendEntriesRequestMsg) Output {
	out := f.baseOutput()
	req := m.Req

	f.adoptHigherTerm(req.Term, &out)

	if req.Term < f.currentTerm {
		out.addSend(sendAppendEntriesResponse{To: m.From, Resp: raft.AppendEntriesResponse{
			Term: f.currentTerm, Success: false, From: f.id,
		}})
		return out
	}

	// A valid leader for our term: recognize it and reset our timer,
	// regardless of role (covers Candidate/PreCandidate losing an election
	// to a peer that already won, spec §4.1).
	f.leaderHint = req.LeaderID
	if f.role != raft.Follower {
		f.transitionTo(raft.Follower, &out)
	}
	f.resetElectionTimer()
	out.CurrentTerm = f.currentTerm

	prevTerm, known := f.log.termAt(req.PrevLogIndex)
	if !known || prevTerm != req.PrevLogTerm {
		hint := f.conflictHint(req.PrevLogIndex)
		out.addSend(sendAppendEntriesResponse{To: m.From, Resp: raft.AppendEntriesResponse{
			Term: f.currentTerm, Success: false, From: f.id,
			LastIndexHint: hint.index, ConflictTerm: hint.term,
		}})
		return out
	}

	// Log Matching: find the first index (if any) where our entry conflicts
	// with the leader's, truncate from there, then append the remainder.
	insertAt := req.PrevLogIndex + 1
	i := 0
	for ; i < len(req.Entries); i++ {
		idx := insertAt + raft.Index(i)
		existingTerm, ok := f.log.termAt(idx)
		if !ok {
			break
		}
		if existingTerm != req.Entries[i].Term {
			from := idx
			f.log.truncateSuffix(from)
			out.TruncateSuffixFrom = &from
			break
		}
	}
	if i < len(req.Entries) {
		newEntries := req.Entries[i:]
		f.log.append(newEntries...)
		out.EntriesToPersist = append(out.EntriesToPersist, newEntries...)
		for _, e := range newEntries {
			if cp, ok := e.Payload.(raft.ConfigurationPayload); ok {
				f.config = cp.Configuration
				out.Configuration = &f.config
			}
		}
	}

	if req.LeaderCommit > f.commitIndex {
		newCommit := req.LeaderCommit
		if last := f.log.lastIndex(); newCommit > last {
			newCommit = last
		}
		f.advanceCommitTo(newCommit, &out)
	}

	out.addSend(sendAppendEntriesResponse{To: m.From, Resp: raft.AppendEntriesResponse{
		Term: f.currentTerm, Success: true, From: f.id,
		LastIndexHint: f.log.lastIndex(), ReadSeq: req.ReadSeq,
	}})
	return out
}

type conflictPoint struct {
	index raft.Index
	term  raft.Term
}

// conflictHint finds the first index of the conflicting term in our own
// log, so the leader can jump NextIndex back by more than one per rejection
// (spec §4.1 "fast backtracking").
func (f *FSM) conflictHint(prevLogIndex raft.Index) conflictPoint {
	if prevLogIndex > f.log.lastIndex() {
		return conflictPoint{index: f.log.lastIndex() + 1}
	}
	term, ok := f.log.termAt(prevLogIndex)
	if !ok || term == 0 {
		return conflictPoint{index: f.log.firstIndex()}
	}
	idx := prevLogIndex
	for idx > f.log.firstIndex() {
		t, ok := f.log.termAt(idx - 1)
		if !ok || t != term {
			break
		}
		idx--
	}
	return conflictPoint{index: idx, term: term}
}

func (f *FSM) handleAppendEntriesResponse(m AppendEntriesResponseMsg) Output {
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

	if !m.Resp.Success {
		next := m.Resp.LastIndexHint
		if next == 0 {
			next = 1
		}
		f.nextIndex[m.From] = next
		f.sendAppendEntriesTo(m.From, 0, &out)
		return out
	}

	if m.Resp.LastIndexHint > f.matchIndex[m.From] {
		f.matchIndex[m.From] = m.Resp.LastIndexHint
	}
	f.nextIndex[m.From] = f.matchIndex[m.From] + 1

	f.recomputeCommitIndex(&out)
	f.tryFinalizeConfiguration(&out)

	if m.Resp.ReadSeq != 0 {
		f.ackReadRound(m.Resp.ReadSeq, m.From, &out)
	}

	if f.nextIndex[m.From] <= f.log.lastIndex() {
		f.sendAppendEntriesTo(m.From, 0, &out)
	}
	return out
}

// recomputeCommitIndex implements spec §4.1's commit rule: advance
// commit_index to the highest index replicated to a quorum (of every active
// half, for a joint configuration) whose entry's term equals current_term —
// State Machine Safety forbids committing a prior-term entry by counting
// alone; it only becomes committed transitively once a current-term entry
// covering it commits.
func (f *FSM) recomputeCommitIndex(out *Output) {
	last := f.log.lastIndex()
	for idx := last; idx > f.commitIndex; idx-- {
		term, ok := f.log.termAt(idx)
		if !ok || term != f.currentTerm {
			continue
		}
		acked := map[raft.ServerID]bool{}
		for id, m := range f.matchIndex {
			if m >= idx {
				acked[id] = true
			}
		}
		if f.config.HasQuorum(acked) {
			f.advanceCommitTo(idx, out)
			return
		}
	}
}

func (f *FSM) advanceCommitTo(idx raft.Index, out *Output) {
	if idx <= f.commitIndex {
		return
	}
	f.commitIndex = idx
	out.CommitIndex = f.commitIndex
	f.applyCommitted(out)
}
