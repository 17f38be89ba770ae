package group

import "github.com/GavinJE/scylla/internal/raft/fsm"

// readWaiter is a pending ReadBarrier call, keyed by the read-index round
// sequence number the FSM handed back from RequestReadBarrier.
type readWaiter struct {
	seq   uint64
	reply chan clientReply
}

type readWaiterBook struct {
	pending []*readWaiter
}

func newReadWaiterBook() *readWaiterBook {
	return &readWaiterBook{}
}

func (b *readWaiterBook) add(w *readWaiter) {
	b.pending = append(b.pending, w)
}

func (b *readWaiterBook) settle(out fsm.Output) {
	if len(out.ReadBarrierSatisfied) == 0 || len(b.pending) == 0 {
		return
	}
	done := map[uint64]bool{}
	for _, seq := range out.ReadBarrierSatisfied {
		done[seq] = true
	}
	kept := b.pending[:0]
	for _, w := range b.pending {
		if done[w.seq] {
			w.reply <- clientReply{}
			continue
		}
		kept = append(kept, w)
	}
	b.pending = kept
}

// failAll invalidates every outstanding read barrier, the way a role change
// away from leader or a shutdown must (the caller can no longer be given
// the guarantee it asked for).
func (b *readWaiterBook) failAll(err error) {
	for _, w := range b.pending {
		w.reply <- clientReply{err: err}
	}
	b.pending = nil
}
