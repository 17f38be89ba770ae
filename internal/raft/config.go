package raft

import "time"

// Config holds the tunables from spec §6, plus the ambient wall-clock
// knobs a runnable loop needs (§6 EXPANSION: heartbeat/tick/rpc timing).
// Every field has the documented default; DefaultConfig returns a Config with
// them all applied, the way the teacher's server/config.go validates a
// small options struct rather than exposing raw fields.
type Config struct {
	// SnapshotThreshold triggers a state-machine snapshot once this many
	// entries have been applied since the last one.
	SnapshotThreshold uint64
	// SnapshotTrailing is how many entries are kept in the log after a
	// snapshot, to avoid an immediate install_snapshot to a briefly-lagging
	// follower.
	SnapshotTrailing uint64
	// AppendRequestThreshold caps a single append_entries payload, in bytes.
	AppendRequestThreshold uint64
	// MaxLogSize is the in-memory log size at which AddEntry starts
	// rejecting submissions until a snapshot shrinks the log. Must exceed
	// SnapshotTrailing.
	MaxLogSize uint64
	// EnablePreVoting toggles the pre-vote round before a real election.
	EnablePreVoting bool

	// ElectionTimeout is the base of the randomized [T, 2T) election
	// timeout window, expressed in logical ticks.
	ElectionTimeout Tick
	// HeartbeatInterval is how often a leader sends append_entries/
	// heartbeats to each follower, in logical ticks. Defaults to
	// ElectionTimeout/5.
	HeartbeatInterval Tick

	// TickInterval is the wall-clock duration the group loop sleeps between
	// logical ticks fed to fsm.Tick.
	TickInterval time.Duration
	// RPCTimeout is a per-attempt RPC bound and RPCMaxRetries a per-RPC retry
	// cap for a transport. raftrpc.Transport does not read either field; it
	// uses its own RPCTimeout and MaxSendRetries constants.
	RPCTimeout    time.Duration
	RPCMaxRetries int
}

// DefaultConfig returns the configuration defaults from spec §6.
func DefaultConfig() Config {
	c := Config{
		SnapshotThreshold:      1024,
		SnapshotTrailing:       200,
		AppendRequestThreshold: 100_000,
		MaxLogSize:             5000,
		EnablePreVoting:        true,
		ElectionTimeout:        10,
		TickInterval:           50 * time.Millisecond,
		RPCTimeout:             50 * time.Millisecond,
		RPCMaxRetries:          3,
	}
	c.HeartbeatInterval = c.ElectionTimeout / 5
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 1
	}
	return c
}

// Validate checks the cross-field invariant spec §6 calls out explicitly
// (MaxLogSize must exceed SnapshotTrailing, or snapshotting can never
// recover enough space to admit new entries again).
func (c Config) Validate() error {
	if c.MaxLogSize <= c.SnapshotTrailing {
		return IOError(errConfigInvariant)
	}
	return nil
}

var errConfigInvariant = configError("max_log_size must exceed snapshot_trailing")

type configError string

func (e configError) Error() string { return string(e) }
