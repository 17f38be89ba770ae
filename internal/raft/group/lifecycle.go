package group

import (
	"github.com/GavinJE/scylla/internal/pubsub"
	"github.com/GavinJE/scylla/internal/raft"
)

// Lifecycle event types published on the group's pub/sub bus (SPEC_FULL.md
// §4.2 EXPANSION), so external observers (metrics, a demo CLI, tests) can
// watch a running group without the hot path taking a callback dependency.
const (
	EventRoleChanged pubsub.EventType = iota + 1
	EventTermAdvanced
	EventConfigurationChanged
	EventCommitAdvanced
)

// RoleChangedPayload is published whenever the FSM reports a role
// transition.
type RoleChangedPayload struct {
	From raft.State
	To   raft.State
	Term raft.Term
}

// TermAdvancedPayload is published whenever current_term changes.
type TermAdvancedPayload struct {
	Term raft.Term
}

// ConfigurationChangedPayload is published whenever the active configuration
// changes (joint entry appended, C_new appended, or change finalized).
type ConfigurationChangedPayload struct {
	Configuration raft.Configuration
}

// CommitAdvancedPayload is published whenever commit_index moves forward.
type CommitAdvancedPayload struct {
	CommitIndex raft.Index
}
