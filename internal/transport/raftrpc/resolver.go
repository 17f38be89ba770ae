package raftrpc

import (
	"fmt"
	"sync"

	"google.golang.org/grpc/resolver"

	"github.com/GavinJE/scylla/internal/raft"
)

// Adapted near-verbatim from the teacher's internal/raft/server
// grpc_raft_resolver.go: a custom "raft" gRPC scheme that resolves a
// ServerID to its current ServerAddress through an in-process registry,
// pushing updates to any live resolver when the registry changes (e.g. a
// peer's address changes across a membership reconfiguration).

type idRegistry struct {
	mu       sync.RWMutex
	records  map[raft.ServerID]raft.ServerAddress
	watchers map[raft.ServerID]map[*raftResolver]struct{}
}

var globalIDRegistry = &idRegistry{
	records:  make(map[raft.ServerID]raft.ServerAddress),
	watchers: make(map[raft.ServerID]map[*raftResolver]struct{}),
}

// RegisterResolverPeer sets/updates the address for an id and notifies any
// active resolvers watching it.
func RegisterResolverPeer(id raft.ServerID, addr raft.ServerAddress) {
	globalIDRegistry.mu.Lock()
	globalIDRegistry.records[id] = addr
	watchers := globalIDRegistry.watchers[id]
	globalIDRegistry.mu.Unlock()

	for w := range watchers {
		w.pushCurrent()
	}
}

// UnregisterResolverPeer removes a peer from the registry (its own gRPC
// connections are closed separately by Transport.RemoveServer).
func UnregisterResolverPeer(id raft.ServerID) {
	globalIDRegistry.mu.Lock()
	delete(globalIDRegistry.records, id)
	globalIDRegistry.mu.Unlock()
}

const raftScheme = "raft"

type raftBuilder struct{}

func (raftBuilder) Scheme() string { return raftScheme }

func (raftBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	id := raft.ServerID(target.Endpoint())
	if id == "" {
		if p := target.URL.Path; len(p) > 0 {
			if p[0] == '/' {
				p = p[1:]
			}
			id = raft.ServerID(p)
		}
	}
	if id == "" {
		return nil, fmt.Errorf("raft resolver: empty target endpoint: %+v", target)
	}

	r := &raftResolver{id: id, cc: cc}
	r.subscribe()
	r.pushCurrent()
	return r, nil
}

type raftResolver struct {
	id raft.ServerID
	cc resolver.ClientConn
}

func (r *raftResolver) ResolveNow(resolver.ResolveNowOptions) { r.pushCurrent() }

func (r *raftResolver) Close() {
	globalIDRegistry.mu.Lock()
	defer globalIDRegistry.mu.Unlock()
	if set, ok := globalIDRegistry.watchers[r.id]; ok {
		delete(set, r)
		if len(set) == 0 {
			delete(globalIDRegistry.watchers, r.id)
		}
	}
}

func (r *raftResolver) subscribe() {
	globalIDRegistry.mu.Lock()
	defer globalIDRegistry.mu.Unlock()
	set := globalIDRegistry.watchers[r.id]
	if set == nil {
		set = make(map[*raftResolver]struct{})
		globalIDRegistry.watchers[r.id] = set
	}
	set[r] = struct{}{}
}

func (r *raftResolver) pushCurrent() {
	globalIDRegistry.mu.RLock()
	addr, ok := globalIDRegistry.records[r.id]
	globalIDRegistry.mu.RUnlock()

	if !ok || addr == "" {
		_ = r.cc.UpdateState(resolver.State{Addresses: nil})
		return
	}
	_ = r.cc.UpdateState(resolver.State{
		Addresses: []resolver.Address{{Addr: string(addr)}},
	})
}

func init() {
	resolver.Register(raftBuilder{})
}
