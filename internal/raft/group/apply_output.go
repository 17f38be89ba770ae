package group

import (
	"fmt"
	"log"
	"time"

	"github.com/GavinJE/scylla/internal/pubsub"
	"github.com/GavinJE/scylla/internal/raft"
	"github.com/GavinJE/scylla/internal/raft/fsm"
)

// apply turns one fsm.Output into actual side effects, strictly in the order
// the contract requires (spec §5): persist, then send, then apply. It is
// only ever called from the run() goroutine, so no locking is needed around
// the collaborators themselves.
func (g *Group) apply(out fsm.Output) {
	if err := g.persist(out); err != nil {
		log.Printf("[GROUP %s] persistence failure: %v", g.id, err)
		// A persistence failure cannot be papered over: the entries this
		// Output wanted durable may not be, so anything depending on them
		// (sends referencing them, promises waiting on them) must not
		// proceed as if they succeeded.
		g.promises.failAll(raft.IOError(err))
		g.readWaiters.failAll(raft.IOError(err))
		return
	}

	g.dispatchSends(out)

	if len(out.EntriesToApply) > 0 {
		g.col.StateMachine.Apply(out.EntriesToApply)
	}

	if out.SnapshotRequest != nil {
		g.kickSnapshot(*out.SnapshotRequest)
	}

	g.publishLifecycle(out)

	if out.RoleChange != nil && out.RoleChange.From == raft.Leader && out.RoleChange.To != raft.Leader {
		g.readWaiters.failAll(raft.NotALeader(g.fsm.LeaderHint()))
	}
	g.promises.settle(out)
	g.readWaiters.settle(out)
}

func (g *Group) persist(out fsm.Output) error {
	if out.TruncateSuffixFrom != nil {
		if err := g.col.Persistence.TruncateLogSuffix(*out.TruncateSuffixFrom); err != nil {
			return fmt.Errorf("truncate log suffix: %w", err)
		}
	}
	if out.TermVote != nil {
		if err := g.col.Persistence.StoreTermVote(out.TermVote.Term, out.TermVote.VotedFor); err != nil {
			return fmt.Errorf("store term/vote: %w", err)
		}
	}
	if len(out.EntriesToPersist) > 0 {
		if err := g.col.Persistence.StoreLogEntries(out.EntriesToPersist); err != nil {
			return fmt.Errorf("store log entries: %w", err)
		}
	}
	if out.TruncatePrefixUpTo != nil {
		if err := g.col.Persistence.TruncateLogPrefix(*out.TruncatePrefixUpTo); err != nil {
			return fmt.Errorf("truncate log prefix: %w", err)
		}
	}
	if out.InstalledSnapshot != nil {
		// A follower just accepted a full snapshot transfer: persist it and
		// load it into the state machine before acknowledging, so a crash
		// right after can't strand the FSM's in-memory state ahead of what
		// survives restart (spec §5 ordering guarantee).
		if err := g.col.Persistence.StoreSnapshot(*out.InstalledSnapshot); err != nil {
			return fmt.Errorf("store installed snapshot: %w", err)
		}
		if err := g.col.StateMachine.LoadSnapshot(out.InstalledSnapshot.Handle); err != nil {
			return fmt.Errorf("load installed snapshot: %w", err)
		}
	}
	return nil
}

func (g *Group) dispatchSends(out fsm.Output) {
	for _, s := range out.Sends {
		if ins, ok := s.(interface{ installSnapshotTarget() raft.ServerID }); ok {
			if g.col.FailureDetector != nil && !g.col.FailureDetector.IsAlive(ins.installSnapshotTarget()) {
				log.Printf("[GROUP %s] skipping install_snapshot to suspected-dead peer %s", g.id, ins.installSnapshotTarget())
				continue
			}
		}
		s.Deliver(g.col.RPC)
	}
}

func (g *Group) kickSnapshot(req fsm.SnapshotRequest) {
	go func() {
		handle, err := g.col.StateMachine.TakeSnapshot()
		desc := raft.SnapshotDescriptor{
			LastIncludedIndex: req.UpToIndex,
			LastIncludedTerm:  req.UpToTerm,
			Configuration:     g.fsm.Configuration(),
			Handle:            handle,
		}
		select {
		case g.inbox <- snapshotDoneEvent{desc: desc, err: err}:
		case <-g.done:
		}
	}()
}

func (g *Group) publishLifecycle(out fsm.Output) {
	g.mu.Lock()
	g.term = out.CurrentTerm
	g.leader = out.LeaderHint
	g.commitIndex = out.CommitIndex
	g.lastApplied = out.LastApplied
	var electionDuration time.Duration
	wonElection := false
	if out.RoleChange != nil {
		g.role = out.RoleChange.To
		switch out.RoleChange.To {
		case raft.PreCandidate:
			if g.electionStartedAt.IsZero() {
				g.electionStartedAt = time.Now()
			}
		case raft.Leader:
			if !g.electionStartedAt.IsZero() {
				electionDuration = time.Since(g.electionStartedAt)
				g.electionStartedAt = time.Time{}
			}
			wonElection = true
		case raft.Follower:
			g.electionStartedAt = time.Time{}
		}
	}
	commitAdvanced := out.CommitIndex > g.lastPublishedCommit
	if commitAdvanced {
		g.lastPublishedCommit = out.CommitIndex
	}
	if out.Configuration != nil {
		g.configuration = *out.Configuration
	}
	g.mu.Unlock()

	if g.col.Metrics != nil {
		if wonElection {
			g.col.Metrics.RecordElection()
			if electionDuration > 0 {
				g.col.Metrics.RecordElectionDuration(electionDuration)
			}
		}
		if commitAdvanced {
			g.col.Metrics.RecordCommandCommitted()
		}
	}

	if out.RoleChange != nil {
		pubsub.Publish(g.pubsub, pubsub.NewEvent(EventRoleChanged, RoleChangedPayload{
			From: out.RoleChange.From, To: out.RoleChange.To, Term: out.CurrentTerm,
		}))
	}
	if out.TermVote != nil {
		pubsub.Publish(g.pubsub, pubsub.NewEvent(EventTermAdvanced, TermAdvancedPayload{Term: out.TermVote.Term}))
	}
	if out.Configuration != nil {
		pubsub.Publish(g.pubsub, pubsub.NewEvent(EventConfigurationChanged, ConfigurationChangedPayload{
			Configuration: *out.Configuration,
		}))
	}
	if commitAdvanced {
		pubsub.Publish(g.pubsub, pubsub.NewEvent(EventCommitAdvanced, CommitAdvancedPayload{CommitIndex: out.CommitIndex}))
	}
}
