// Package raft defines the data model and collaborator contracts for a
// single participant of a replicated state-machine group.
//
// The package itself contains no I/O: it only describes the shapes that the
// pure decision engine (package fsm), the driving loop (package group), and
// the external collaborators (rpc, persistence, failure detector, state
// machine) agree on.
package raft

import "fmt"

// ServerID uniquely identifies a participant of a Raft group. It is opaque
// to the protocol; raftd takes it from its -id flag.
type ServerID string

// ServerAddress is the network address collaborators use to reach a ServerID.
type ServerAddress string

// Term is a monotonically non-decreasing logical epoch. Zero means "no term
// yet".
type Term uint64

// Index is a 64-bit log position. Log positions start at 1; index 0 is the
// sentinel for "before the log".
type Index uint64

// Tick is an abstract logical-clock duration consumed by fsm.Tick. It is not
// wall-clock time: the group loop maps wall-clock ticks onto it 1:1.
type Tick uint64

// State is the role a server plays at a point in time.
type State int

const (
	Follower State = iota
	PreCandidate
	Candidate
	Leader
)

func (s State) String() string {
	switch s {
	case Follower:
		return "Follower"
	case PreCandidate:
		return "PreCandidate"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// WaitType selects when an AddEntry promise resolves.
type WaitType int

const (
	// Committed resolves the promise once the entry is stored on a quorum
	// under a leader that has committed at least one entry of its own term.
	Committed WaitType = iota
	// Applied resolves the promise after the state machine has applied the
	// entry (strictly after it is committed).
	Applied
)

func (w WaitType) String() string {
	if w == Applied {
		return "Applied"
	}
	return "Committed"
}
