package fsm

import "github.com/GavinJE/scylla/internal/raft"

// RequestReadBarrier starts a read-index round (spec §4.1 read barrier): the
// caller may safely serve a linearizable read once this round's sequence
// number appears in a future Output.ReadBarrierSatisfied and last_applied
// has reached the returned commit index. ok is false if this participant
// isn't leader; the loop should reply not_a_leader with the current
// leader_hint.
func (f *FSM) RequestReadBarrier() (seq uint64, commitAtCall raft.Index, ok bool, out Output) {
	out = f.baseOutput()
	if f.role != raft.Leader {
		return 0, 0, false, out
	}
	f.nextReadSeq++
	seq = f.nextReadSeq
	commitAtCall = f.commitIndex
	round := &readRound{seq: seq, commitAtCall: commitAtCall, acked: map[raft.ServerID]bool{f.id: true}}
	f.readRounds = append(f.readRounds, round)

	for _, id := range f.allKnownPeers() {
		if id == f.id {
			continue
		}
		f.sendAppendEntriesTo(id, seq, &out)
	}
	f.checkReadRound(round, &out)
	return seq, commitAtCall, true, out
}

func (f *FSM) ackReadRound(seq uint64, from raft.ServerID, out *Output) {
	for _, r := range f.readRounds {
		if r.seq == seq {
			r.acked[from] = true
			f.checkReadRound(r, out)
			return
		}
	}
}

// maybeSatisfyReadRounds re-checks every pending round after last_applied
// moves forward, since a round can be quorum-acked before the apply catches
// up to its captured commit index.
func (f *FSM) maybeSatisfyReadRounds(out *Output) {
	for _, r := range f.readRounds {
		f.checkReadRound(r, out)
	}
	f.pruneSatisfiedReadRounds()
}

func (f *FSM) checkReadRound(r *readRound, out *Output) {
	if r.satisfied {
		return
	}
	if !f.config.HasQuorum(r.acked) {
		return
	}
	if f.lastApplied < r.commitAtCall {
		return
	}
	r.satisfied = true
	out.ReadBarrierSatisfied = append(out.ReadBarrierSatisfied, r.seq)
}

func (f *FSM) pruneSatisfiedReadRounds() {
	kept := f.readRounds[:0]
	for _, r := range f.readRounds {
		if !r.satisfied {
			kept = append(kept, r)
		}
	}
	f.readRounds = kept
}

// abortReadRounds fails every pending round (spec: a role change to
// non-leader invalidates any outstanding read barrier — the caller cannot
// be given a guarantee this participant can no longer back).
func (f *FSM) abortReadRounds() {
	f.readRounds = nil
}
