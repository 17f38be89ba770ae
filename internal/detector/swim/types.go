// Package swim is a trimmed SWIM-style failure detector, adapted from the
// teacher's internal/swim: same probe/ack, indirect-probe, and
// suspect-before-dead state machine, rebound throughout to raft.ServerID
// instead of a bare string so it shares the Raft group's notion of node
// identity, and cut down to exactly what raft.FailureDetector.IsAlive
// needs — no voluntary-leave protocol, no pluggable Logger, no separate
// metrics subsystem (this module already has one, internal/metrics, and
// a leader only ever asks "is this peer alive").
package swim

import (
	"time"

	"github.com/GavinJE/scylla/internal/raft"
)

// MemberStatus is a member's state in the local membership view.
type MemberStatus int

const (
	// Alive means the member answered a probe (directly or indirectly)
	// within SuspicionTimeout.
	Alive MemberStatus = iota
	// Suspect means a direct and every indirect probe went unanswered; the
	// member is demoted to Dead if it doesn't refute within
	// SuspicionTimeout of entering this state.
	Suspect
	// Dead means the member failed to refute suspicion in time.
	Dead
)

func (s MemberStatus) String() string {
	switch s {
	case Alive:
		return "Alive"
	case Suspect:
		return "Suspect"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Member is one entry in the local membership view.
type Member struct {
	ID          raft.ServerID
	Addr        string
	Status      MemberStatus
	Incarnation uint64
	// SuspectSince is when Status last became Suspect, used to evaluate
	// SuspicionTimeout. Zero unless Status == Suspect.
	SuspectSince time.Time
}

// messageType identifies a wire message's shape.
type messageType int

const (
	msgPing messageType = iota
	msgAck
	msgPingReq
	msgIndirectPing
	msgIndirectAck
)

// update is one piggybacked membership fact, gossiped on every ping/ack the
// way the teacher's dissemination layer does (Section 4.4 of the SWIM
// paper: "disseminate via piggybacking" rather than a separate broadcast).
type update struct {
	ID          raft.ServerID
	Addr        string
	Status      MemberStatus
	Incarnation uint64
}

// message is the single wire type exchanged over UDP, gob-encoded the same
// way transport/raftrpc gob-encodes its RPC structs (see DESIGN.md).
type message struct {
	Type      messageType
	From      raft.ServerID
	Target    raft.ServerID // only set for pingReq/indirectPing
	SeqNo     uint64
	Piggyback []update
}

// Config holds the detector's tunables.
type Config struct {
	// BindAddr is the local UDP address to listen on.
	BindAddr string
	// AdvertiseAddr is the address other members use to reach this node;
	// defaults to BindAddr.
	AdvertiseAddr string
	// NodeID is this node's identity in the membership view.
	NodeID raft.ServerID
	// JoinNodes are seed addresses contacted once at Start to bootstrap
	// the membership view.
	JoinNodes []string

	// ProbeInterval is how often a random member is probed.
	ProbeInterval time.Duration
	// ProbeTimeout bounds how long a direct probe waits for an ack before
	// falling back to indirect probing.
	ProbeTimeout time.Duration
	// IndirectProbeCount is how many other members are asked to
	// ping-req a non-responsive target.
	IndirectProbeCount int
	// SuspicionTimeout is how long a Suspect member has to refute (answer
	// any probe) before being marked Dead.
	SuspicionTimeout time.Duration
}

// DefaultConfig returns sensible defaults, the same magnitudes as the
// teacher's (ProtocolPeriod/ProbeTimeout/SuspicionTimeout), trimmed to the
// fields this package still has.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:      1 * time.Second,
		ProbeTimeout:       500 * time.Millisecond,
		IndirectProbeCount: 3,
		SuspicionTimeout:   5 * time.Second,
	}
}
