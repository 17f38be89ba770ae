package fsm

import "github.com/GavinJE/scylla/internal/raft"

// Tick advances logical time by one unit (spec §4.1 tick()): election
// timeout countdown for non-leaders; commit re-check, heartbeat cadence and
// stepdown countdown for the leader. The group loop calls this once per
// Config.TickInterval.
func (f *FSM) Tick() Output {
	out := f.baseOutput()

	if f.role != raft.Leader {
		f.electionElapsed++
		if f.electionElapsed >= f.electionDue {
			f.startElection(&out)
		}
		return out
	}

	f.tickLeader(&out)
	return out
}

func (f *FSM) tickLeader(out *Output) {
	// The leader's own match index counts toward quorum, so a group whose
	// quorum is the leader alone commits here rather than waiting on an
	// append_entries response that never comes.
	f.recomputeCommitIndex(out)
	f.tryFinalizeConfiguration(out)

	if f.stepdownActive {
		if f.stepdownTicksLeft > 0 {
			f.stepdownTicksLeft--
		}
		if f.stepdownTicksLeft == 0 {
			f.stepdownActive = false
			out.StepdownTimeout = true
		}
	}

	for _, id := range f.allKnownPeers() {
		if id == f.id {
			continue
		}
		f.sinceContact[id]++
		if f.sinceContact[id] >= f.cfg.HeartbeatInterval {
			f.sinceContact[id] = 0
			// A probe that hasn't resolved by the next heartbeat is presumed
			// lost (dropped packet, partitioned/crashed peer) rather than
			// still in flight: dispatchSends is fire-and-forget, with no send
			// failure fed back, so nothing else would ever clear this and
			// retry. Clearing it here is what makes replication self-heal
			// after a lost response instead of wedging the peer permanently.
			f.probeInFlight[id] = false
			f.sendAppendEntriesTo(id, 0, out)
		}
	}
}
