package group

import (
	"github.com/GavinJE/scylla/internal/raft"
	"github.com/GavinJE/scylla/internal/raft/fsm"
)

// inboundEvent is the closed set of things that can arrive on the loop's
// single multi-producer inbox (spec §5 "one unbuffered channel"). tickEvent
// comes from a wall-clock ticker goroutine; rpcEvent comes from the
// transport's receive side; clientEvent comes from AddEntry/SetConfiguration/
// ReadBarrier/Stepdown callers; snapshotDoneEvent comes from an async
// StateMachine.TakeSnapshot completing off the hot path.
type inboundEvent interface {
	isInboundEvent()
}

type tickEvent struct{}

func (tickEvent) isInboundEvent() {}

type rpcEvent struct {
	msg fsm.Message
}

func (rpcEvent) isInboundEvent() {}

type clientOp int

const (
	opAddEntry clientOp = iota
	opSetConfiguration
	opReadBarrier
	opStepdown
)

type clientEvent struct {
	op       clientOp
	command  raft.Command
	members  []raft.ServerAddressRecord
	waitType raft.WaitType
	timeout  raft.Tick
	reply    chan clientReply
}

func (clientEvent) isInboundEvent() {}

type clientReply struct {
	index raft.Index
	term  raft.Term
	err   error
}

// snapshotDoneEvent reports that an asynchronous StateMachine.TakeSnapshot
// call (kicked off by an Output.SnapshotRequest) has finished.
type snapshotDoneEvent struct {
	desc raft.SnapshotDescriptor
	err  error
}

func (snapshotDoneEvent) isInboundEvent() {}

