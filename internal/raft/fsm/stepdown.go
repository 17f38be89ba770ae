package fsm

import "github.com/GavinJE/scylla/internal/raft"

// Stepdown begins a voluntary leadership transfer (spec §4.1 stepdown()):
// the leader stops accepting new proposals, picks the most caught-up
// follower, and asks it to start an election immediately via timeout_now.
// If no follower completes an election within timeout ticks, the next Tick
// reports StepdownTimeout and the leader resumes normal operation.
func (f *FSM) Stepdown(timeout raft.Tick) Output {
	out := f.baseOutput()
	if f.role != raft.Leader {
		return out
	}
	f.beginStepdown(timeout, &out)
	return out
}

func (f *FSM) beginStepdown(timeout raft.Tick, out *Output) {
	var best raft.ServerID
	var bestIndex raft.Index
	for id, idx := range f.matchIndex {
		if id == f.id {
			continue
		}
		if !f.isVoter(id) {
			continue
		}
		if best == "" || idx > bestIndex {
			best, bestIndex = id, idx
		}
	}
	if best == "" {
		return
	}
	f.stepdownActive = true
	f.stepdownTicksLeft = timeout
	f.stepdownTarget = best
	out.addSend(sendTimeoutNow{To: best, Req: raft.TimeoutNow{Term: f.currentTerm}})
}

func (f *FSM) handleTimeoutNow(m TimeoutNowMsg) Output {
	out := f.baseOutput()
	f.adoptHigherTerm(m.Req.Term, &out)
	if m.Req.Term < f.currentTerm {
		return out
	}
	if f.role == raft.Leader {
		return out
	}
	// Leader-granted timeout_now skips pre-voting: the current leader has
	// already vouched this participant may campaign now.
	f.beginElection(&out)
	return out
}
