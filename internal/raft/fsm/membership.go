package fsm

import "github.com/GavinJE/scylla/internal/raft"

// ProposeConfiguration begins a joint-consensus membership change (spec
// §4.1): the leader appends a single joint entry covering both the current
// and the requested member sets. Quorum for every subsequent decision (vote,
// commit) requires a majority of both halves until the change finalizes.
func (f *FSM) ProposeConfiguration(newSet []raft.ServerAddressRecord) (raft.Index, Output) {
	out := f.baseOutput()
	if f.role != raft.Leader {
		return 0, out
	}
	if f.confChangeInProgress {
		return 0, out
	}

	joint := raft.Configuration{Current: newSet, Joint: true, Old: f.config.Current}
	f.confChangeInProgress = true
	idx := f.appendLocal(raft.ConfigurationPayload{Configuration: joint}, &out)
	f.jointEntryIndex = idx
	return idx, out
}

// tryFinalizeConfiguration advances a joint-consensus change once its
// preconditions are met: append C_new once the joint entry commits, then
// append a trailing dummy once C_new commits, closing the change.
func (f *FSM) tryFinalizeConfiguration(out *Output) {
	if !f.confChangeInProgress || f.role != raft.Leader {
		return
	}

	if f.jointEntryIndex != 0 && f.commitIndex >= f.jointEntryIndex && f.cNewIndex == 0 {
		cNew := raft.Configuration{Current: f.config.Current}
		f.cNewIndex = f.appendLocal(raft.ConfigurationPayload{Configuration: cNew}, out)
		return
	}

	if f.cNewIndex != 0 && f.commitIndex >= f.cNewIndex && f.trailingDummyIndex == 0 {
		// If this leader was itself removed by C_new, it finishes
		// replicating the change and then steps down rather than appending
		// further as a non-member (spec §4.1 "a leader that removes itself
		// completes the transition, then steps down").
		if !f.config.Contains(f.id) {
			f.confChangeInProgress = false
			f.jointEntryIndex, f.cNewIndex, f.trailingDummyIndex = 0, 0, 0
			f.beginStepdown(f.cfg.ElectionTimeout, out)
			return
		}
		f.trailingDummyIndex = f.appendLocal(raft.Dummy{}, out)
		return
	}

	if f.trailingDummyIndex != 0 && f.commitIndex >= f.trailingDummyIndex {
		f.confChangeInProgress = false
		f.jointEntryIndex, f.cNewIndex, f.trailingDummyIndex = 0, 0, 0
	}
}
