package group

import (
	"github.com/GavinJE/scylla/internal/raft"
	"github.com/GavinJE/scylla/internal/raft/fsm"
)

// promise is a pending AddEntry call, resolved by the loop once the FSM's
// Output shows the entry reached the caller's requested wait point
// (spec.md Design Notes §9, SPEC_FULL.md §4.2 EXPANSION "promise
// bookkeeping"). Keyed by (term, index): a promise only resolves against
// the entry actually appended at its index, never a different one that
// later overwrote it (Log Matching makes "same index, different term"
// exactly the truncation case promiseBook.settle already handles).
type promise struct {
	term     raft.Term
	index    raft.Index
	waitType raft.WaitType
	reply    chan clientReply
}

// promiseBook tracks every AddEntry call still waiting on an index.
type promiseBook struct {
	pending []*promise
}

func newPromiseBook() *promiseBook {
	return &promiseBook{}
}

func (b *promiseBook) add(p *promise) {
	b.pending = append(b.pending, p)
}

// settle reacts to one FSM Output: resolves promises whose wait condition is
// now met, fails promises whose entry was truncated away, and — on a
// Leader-to-other role change — fails every promise not yet committed,
// since this participant can no longer vouch for it (spec §7
// commit_status_unknown).
func (b *promiseBook) settle(out fsm.Output) {
	if len(b.pending) == 0 {
		return
	}

	kept := b.pending[:0]
	for _, p := range b.pending {
		if out.TruncateSuffixFrom != nil && p.index >= *out.TruncateSuffixFrom {
			p.reply <- clientReply{err: raft.ErrDroppedEntry}
			continue
		}

		if out.RoleChange != nil && out.RoleChange.From == raft.Leader && out.RoleChange.To != raft.Leader {
			if p.index > out.CommitIndex {
				p.reply <- clientReply{err: raft.ErrCommitStatusUnknown}
				continue
			}
		}

		satisfied := false
		switch p.waitType {
		case raft.Committed:
			satisfied = out.CommitIndex >= p.index
		case raft.Applied:
			satisfied = out.LastApplied >= p.index
		}
		if satisfied {
			p.reply <- clientReply{index: p.index, term: p.term}
			continue
		}

		kept = append(kept, p)
	}
	b.pending = kept
}

// failAll is called on abort()/shutdown: every outstanding promise can no
// longer be guaranteed, regardless of wait type (spec §4.2 abort()).
func (b *promiseBook) failAll(err error) {
	for _, p := range b.pending {
		p.reply <- clientReply{err: err}
	}
	b.pending = nil
}
