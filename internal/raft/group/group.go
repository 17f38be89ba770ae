// Package group is the driving loop of one Raft participant: it owns a
// single fsm.FSM and turns its deterministic Output batches into actual I/O
// against the rpc/persistence/failure_detector/state_machine collaborators
// (spec.md §4.2, §9 "pure FSM + driver split"). It is the only package
// allowed to import both raft/fsm and the collaborator implementations.
package group

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/GavinJE/scylla/internal/metrics"
	"github.com/GavinJE/scylla/internal/pubsub"
	"github.com/GavinJE/scylla/internal/raft"
	"github.com/GavinJE/scylla/internal/raft/fsm"
)

// Collaborators bundles the external dependencies a Group needs, the way
// the teacher's server.Server is constructed from a Transport, a BboltDb,
// and a StateMachine. Metrics is optional; a nil value disables recording.
type Collaborators struct {
	RPC             raft.RPC
	Persistence     raft.Persistence
	FailureDetector raft.FailureDetector
	StateMachine    raft.StateMachine
	Metrics         metrics.Collector
}

// Group drives one participant's FSM. All of its exported methods are safe
// to call concurrently: they hand a clientEvent to the single run()
// goroutine and block on a reply channel, the same "suspend on send, resume
// on reply" shape as the teacher's PubSubClient.Publish.
type Group struct {
	id  raft.ServerID
	cfg raft.Config

	fsm *fsm.FSM
	col Collaborators

	inbox chan inboundEvent
	done  chan struct{}
	wg    sync.WaitGroup

	promises    *promiseBook
	readWaiters *readWaiterBook

	pubsub *pubsub.PubSubClient

	mu                  sync.RWMutex
	role                raft.State
	term                raft.Term
	leader              raft.ServerID
	commitIndex         raft.Index
	lastApplied         raft.Index
	lastPublishedCommit raft.Index
	electionStartedAt   time.Time
	configuration       raft.Configuration
	stopped             bool
}

// New constructs a Group at term 0 with the given starting configuration. It
// does not start the loop; call Start for that.
func New(id raft.ServerID, cfg raft.Config, config raft.Configuration, col Collaborators) (*Group, error) {
	if err := cfg.Validate(); err != nil {
		return nil, raft.IOError(fmt.Errorf("invalid config: %w", err))
	}
	g := &Group{
		id:          id,
		cfg:         cfg,
		fsm:         fsm.New(id, cfg, config),
		col:         col,
		inbox:       make(chan inboundEvent),
		done:        make(chan struct{}),
		promises:    newPromiseBook(),
		readWaiters: newReadWaiterBook(),
		pubsub:        pubsub.NewPubSub(),
		role:          raft.Follower,
		configuration: config,
	}
	return g, nil
}

// Restore rebuilds a Group from persisted state on process start (spec §4.2
// start()): loads term/vote/log/snapshot from Persistence before handing off
// to fsm.Restore.
func Restore(id raft.ServerID, cfg raft.Config, col Collaborators) (*Group, error) {
	if err := cfg.Validate(); err != nil {
		return nil, raft.IOError(fmt.Errorf("invalid config: %w", err))
	}
	term, votedFor, err := col.Persistence.LoadTermVote()
	if err != nil {
		return nil, raft.IOError(fmt.Errorf("load term/vote: %w", err))
	}
	entries, err := col.Persistence.LoadLog()
	if err != nil {
		return nil, raft.IOError(fmt.Errorf("load log: %w", err))
	}
	snap, _, err := col.Persistence.LoadSnapshot()
	if err != nil {
		return nil, raft.IOError(fmt.Errorf("load snapshot: %w", err))
	}
	commitIndex := snap.LastIncludedIndex
	if len(entries) > 0 {
		commitIndex = entries[len(entries)-1].Index
	}

	g := &Group{
		id:          id,
		cfg:         cfg,
		fsm:         fsm.Restore(id, cfg, term, votedFor, entries, snap, commitIndex),
		col:         col,
		inbox:       make(chan inboundEvent),
		done:        make(chan struct{}),
		promises:    newPromiseBook(),
		readWaiters: newReadWaiterBook(),
		pubsub:      pubsub.NewPubSub(),
		role:        raft.Follower,
	}
	if err := col.StateMachine.LoadSnapshot(snap.Handle); err != nil && len(snap.Handle) > 0 {
		return nil, raft.IOError(fmt.Errorf("load state machine snapshot: %w", err))
	}
	g.configuration = g.fsm.Configuration()
	return g, nil
}

// Start launches the run loop and the tick-feeder goroutine. It returns
// once both goroutines are running; call Abort (or cancel ctx) to stop them.
func (g *Group) Start(ctx context.Context) {
	g.wg.Add(2)
	go g.runTicker(ctx)
	go g.run(ctx)
}

func (g *Group) runTicker(ctx context.Context) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.done:
			return
		case <-ticker.C:
			select {
			case g.inbox <- tickEvent{}:
			case <-ctx.Done():
				return
			case <-g.done:
				return
			}
		}
	}
}

func (g *Group) run(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			g.shutdown(raft.ErrStopped)
			return
		case <-g.done:
			return
		case ev := <-g.inbox:
			g.handle(ev)
		}
	}
}

func (g *Group) handle(ev inboundEvent) {
	switch e := ev.(type) {
	case tickEvent:
		g.apply(g.fsm.Tick())
	case rpcEvent:
		g.apply(g.fsm.Step(e.msg))
	case clientEvent:
		g.handleClientEvent(e)
	case snapshotDoneEvent:
		g.handleSnapshotDone(e)
	}
}

func (g *Group) handleClientEvent(e clientEvent) {
	switch e.op {
	case opAddEntry:
		idx, term, ok, out := g.fsm.Propose(e.command)
		g.apply(out)
		if !ok {
			e.reply <- clientReply{err: g.notLeaderOrBusyErr()}
			return
		}
		g.promises.add(&promise{term: term, index: idx, waitType: e.waitType, reply: e.reply})
	case opSetConfiguration:
		idx, out := g.fsm.ProposeConfiguration(e.members)
		g.apply(out)
		if idx == 0 {
			if g.fsm.Role() != raft.Leader {
				e.reply <- clientReply{err: raft.NotALeader(g.fsm.LeaderHint())}
			} else {
				e.reply <- clientReply{err: raft.ErrConfChangeInProgress}
			}
			return
		}
		g.promises.add(&promise{index: idx, waitType: raft.Committed, reply: e.reply})
	case opReadBarrier:
		seq, _, ok, out := g.fsm.RequestReadBarrier()
		g.apply(out)
		if !ok {
			e.reply <- clientReply{err: raft.NotALeader(g.fsm.LeaderHint())}
			return
		}
		g.readWaiters.add(&readWaiter{seq: seq, reply: e.reply})
	case opStepdown:
		out := g.fsm.Stepdown(e.timeout)
		g.apply(out)
		e.reply <- clientReply{}
	}
}

func (g *Group) notLeaderOrBusyErr() error {
	if g.fsm.Role() != raft.Leader {
		return raft.NotALeader(g.fsm.LeaderHint())
	}
	return raft.IOError(fmt.Errorf("log is full pending a snapshot"))
}

func (g *Group) handleSnapshotDone(e snapshotDoneEvent) {
	if e.err != nil {
		log.Printf("[GROUP %s] snapshot failed: %v", g.id, e.err)
		return
	}
	if err := g.col.Persistence.StoreSnapshot(e.desc); err != nil {
		log.Printf("[GROUP %s] persist snapshot failed: %v", g.id, err)
		return
	}
	g.apply(g.fsm.CompleteSnapshot(e.desc))
}

// Deliver feeds one inbound RPC message arrival into the loop. Transports
// call this from their own receive goroutine(s).
func (g *Group) Deliver(msg fsm.Message) {
	select {
	case g.inbox <- rpcEvent{msg: msg}:
	case <-g.done:
	}
}

// AddEntry submits a new command for replication (spec §4.2 add_entry()).
func (g *Group) AddEntry(cmd raft.Command, wait raft.WaitType) (raft.Index, raft.Term, error) {
	reply := make(chan clientReply, 1)
	if !g.send(clientEvent{op: opAddEntry, command: cmd, waitType: wait, reply: reply}) {
		return 0, 0, raft.ErrStopped
	}
	r := <-reply
	return r.index, r.term, r.err
}

// SetConfiguration begins a joint-consensus membership change (spec §4.2
// set_configuration()). The returned error is nil once the joint entry has
// committed. The leader then appends C_new and, once that commits, a
// trailing dummy; the call does not wait for either of those to commit.
// If this leader steps down before the joint entry commits, the call
// returns ErrCommitStatusUnknown.
func (g *Group) SetConfiguration(members []raft.ServerAddressRecord) error {
	reply := make(chan clientReply, 1)
	if !g.send(clientEvent{op: opSetConfiguration, members: members, reply: reply}) {
		return raft.ErrStopped
	}
	r := <-reply
	return r.err
}

// ReadBarrier blocks until a linearizable read is safe to serve locally
// (spec §4.2 read_barrier()).
func (g *Group) ReadBarrier() error {
	reply := make(chan clientReply, 1)
	if !g.send(clientEvent{op: opReadBarrier, reply: reply}) {
		return raft.ErrStopped
	}
	r := <-reply
	return r.err
}

// Stepdown asks a leader to transfer leadership within timeout ticks (spec
// §4.2 stepdown()).
func (g *Group) Stepdown(timeout raft.Tick) error {
	reply := make(chan clientReply, 1)
	if !g.send(clientEvent{op: opStepdown, timeout: timeout, reply: reply}) {
		return raft.ErrStopped
	}
	r := <-reply
	return r.err
}

func (g *Group) send(e clientEvent) bool {
	select {
	case g.inbox <- e:
		return true
	case <-g.done:
		return false
	}
}

// Abort stops the loop immediately, failing every outstanding promise with
// ErrStopped (spec §4.2 abort()).
func (g *Group) Abort() {
	g.shutdown(raft.ErrStopped)
	g.wg.Wait()
}

func (g *Group) shutdown(err error) {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	g.mu.Unlock()
	close(g.done)
	g.promises.failAll(err)
	g.readWaiters.failAll(err)
	g.pubsub.GracefulShutdown()
}

// --- introspection (spec §4.2 "introspection") ---

func (g *Group) ID() raft.ServerID { return g.id }

func (g *Group) Role() raft.State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.role
}

func (g *Group) CurrentTerm() raft.Term {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.term
}

func (g *Group) LeaderHint() raft.ServerID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.leader
}

func (g *Group) CommitIndex() raft.Index {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.commitIndex
}

func (g *Group) LastApplied() raft.Index {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastApplied
}

// Configuration returns the group's current membership, for admin/status
// surfaces (spec §4.2 introspection).
// Mirrors CommitIndex/LastApplied: a lock-guarded copy kept current by
// publishLifecycle, never a direct read of the FSM's own state.
func (g *Group) Configuration() raft.Configuration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.configuration
}

// Subscribe registers a lifecycle-event observer on the group's pub/sub bus
// (SPEC_FULL.md §4.2 EXPANSION). T must match the payload type the given
// EventType publishes (see lifecycle.go).
func Subscribe[T any](g *Group, eventType pubsub.EventType, ch chan *pubsub.Event[T]) pubsub.SubscriberID {
	return pubsub.Subscribe(g.pubsub, eventType, ch, pubsub.SubscriptionOptions{IsBlocking: false})
}
