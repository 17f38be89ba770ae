package rafttest

import (
	"sync"

	"github.com/GavinJE/scylla/internal/raft"
	"github.com/GavinJE/scylla/internal/raft/fsm"
	"github.com/GavinJE/scylla/internal/raft/group"
)

// Network is an in-memory raft.RPC fabric wiring several *group.Group
// instances together for scenario tests, the way the teacher's fsm_test.go
// cluster wires FSMs directly and w41ter-bior/simu's Environment wires
// simulated nodes over a simulated network (Start/Connect/Disconnect). Unlike
// simu's, this one drives real Group goroutines over real wall-clock ticks
// instead of a deterministic virtual clock — Group has no injectable clock
// to drive deterministically, so scenario tests accept real (but short)
// timeouts instead (see group/scenario_test.go and DESIGN.md).
type Network struct {
	mu          sync.RWMutex
	groups      map[raft.ServerID]*group.Group
	partitioned map[raft.ServerID]bool
}

func NewNetwork() *Network {
	return &Network{
		groups:      make(map[raft.ServerID]*group.Group),
		partitioned: make(map[raft.ServerID]bool),
	}
}

// Register attaches a fully constructed Group to the network. Call this
// after group.New/Restore with a NetworkRPC for this id as the
// Collaborators.RPC, since the RPC needs the network but the network's
// delivery needs the Group.
func (n *Network) Register(id raft.ServerID, g *group.Group) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.groups[id] = g
}

// Partition marks id as unreachable in both directions, simulating the
// teacher's isolate-a-node scenarios (spec §8 scenarios 2 and 6).
func (n *Network) Partition(id raft.ServerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[id] = true
}

// Heal reconnects a previously partitioned node.
func (n *Network) Heal(id raft.ServerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitioned, id)
}

func (n *Network) linkUp(a, b raft.ServerID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return !n.partitioned[a] && !n.partitioned[b]
}

func (n *Network) deliver(to raft.ServerID, msg fsm.Message) {
	n.mu.RLock()
	g, ok := n.groups[to]
	n.mu.RUnlock()
	if !ok {
		return
	}
	go g.Deliver(msg)
}

// NetworkRPC is the raft.RPC collaborator one Group uses to reach the rest
// of the Network. Every node in a scenario test gets its own, all sharing
// the same *Network.
type NetworkRPC struct {
	self raft.ServerID
	net  *Network
}

func NewNetworkRPC(self raft.ServerID, net *Network) *NetworkRPC {
	return &NetworkRPC{self: self, net: net}
}

func (r *NetworkRPC) send(peer raft.ServerID, msg fsm.Message) {
	if !r.net.linkUp(r.self, peer) {
		return
	}
	r.net.deliver(peer, msg)
}

func (r *NetworkRPC) SendVoteRequest(peer raft.ServerID, req raft.VoteRequest) {
	r.send(peer, fsm.VoteRequestMsg{From: r.self, Req: req})
}

func (r *NetworkRPC) SendVoteResponse(peer raft.ServerID, resp raft.VoteResponse) {
	r.send(peer, fsm.VoteResponseMsg{From: r.self, Resp: resp})
}

func (r *NetworkRPC) SendPreVoteRequest(peer raft.ServerID, req raft.PreVoteRequest) {
	r.send(peer, fsm.PreVoteRequestMsg{From: r.self, Req: req})
}

func (r *NetworkRPC) SendPreVoteResponse(peer raft.ServerID, resp raft.PreVoteResponse) {
	r.send(peer, fsm.PreVoteResponseMsg{From: r.self, Resp: resp})
}

func (r *NetworkRPC) SendAppendEntries(peer raft.ServerID, req raft.AppendEntriesRequest) {
	r.send(peer, fsm.AppendEntriesRequestMsg{From: r.self, Req: req})
}

func (r *NetworkRPC) SendAppendEntriesResponse(peer raft.ServerID, resp raft.AppendEntriesResponse) {
	r.send(peer, fsm.AppendEntriesResponseMsg{From: r.self, Resp: resp})
}

func (r *NetworkRPC) SendInstallSnapshot(peer raft.ServerID, req raft.InstallSnapshotRequest) {
	r.send(peer, fsm.InstallSnapshotRequestMsg{From: r.self, Req: req})
}

func (r *NetworkRPC) SendInstallSnapshotResponse(peer raft.ServerID, resp raft.InstallSnapshotResponse) {
	r.send(peer, fsm.InstallSnapshotResponseMsg{From: r.self, Resp: resp})
}

func (r *NetworkRPC) SendTimeoutNow(peer raft.ServerID, req raft.TimeoutNow) {
	r.send(peer, fsm.TimeoutNowMsg{From: r.self, Req: req})
}

func (r *NetworkRPC) AddServer(raft.ServerID, raft.ServerAddress) error { return nil }
func (r *NetworkRPC) RemoveServer(raft.ServerID) error                  { return nil }
