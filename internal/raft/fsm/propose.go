package fsm

import "github.com/GavinJE/scylla/internal/raft"

// Propose appends a new command to the log if this participant is leader
// (spec §4.1 add_entry()). ok is false if it isn't leader (the loop should
// reply not_a_leader with leader_hint), if a stepdown is in progress (no new
// work accepted while handing off), or if the in-memory log has grown past
// Config.MaxLogSize awaiting a snapshot to reclaim space.
func (f *FSM) Propose(payload raft.Command) (idx raft.Index, term raft.Term, ok bool, out Output) {
	out = f.baseOutput()
	if f.role != raft.Leader {
		return 0, 0, false, out
	}
	if f.stepdownActive {
		return 0, 0, false, out
	}
	if uint64(len(f.log.entries)) >= f.cfg.MaxLogSize {
		return 0, 0, false, out
	}
	idx = f.appendLocal(payload, &out)
	return idx, f.currentTerm, true, out
}
