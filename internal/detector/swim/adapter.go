package swim

import "github.com/GavinJE/scylla/internal/raft"

// Detector adapts a running *SWIM instance to raft.FailureDetector: the
// group loop consults IsAlive before an install_snapshot send and skips the
// transfer to a peer the gossip layer reports as not alive
// (SPEC_FULL.md §4.3 EXPANSION).
type Detector struct {
	swim *SWIM
}

// NewDetector wraps an already-started SWIM instance.
func NewDetector(s *SWIM) *Detector {
	return &Detector{swim: s}
}

// IsAlive reports whether id is currently Alive in the local membership
// view. An unknown id (never joined, or already reaped) is treated as not
// alive — the leader should prefer install_snapshot/append caution over
// silently assuming a stranger is healthy.
func (d *Detector) IsAlive(id raft.ServerID) bool {
	return d.swim.isAlive(id)
}
