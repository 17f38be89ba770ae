package raft

// EntryPayload is the closed set of things a LogEntry can carry. Using an
// interface with an unexported marker method (instead of the teacher's
// int-tag-plus-optional-fields proto.LogEntryType) makes "tag says
// configuration but the configuration field is nil" unrepresentable.
type EntryPayload interface {
	isEntryPayload()
}

// Command is opaque user bytes destined for the state machine.
type Command []byte

func (Command) isEntryPayload() {}

// ConfigurationPayload carries a full membership set, used for joint
// consensus transitions. It wraps Configuration so both the wire message
// and the log entry payload speak the same type.
type ConfigurationPayload struct {
	Configuration Configuration
}

func (ConfigurationPayload) isEntryPayload() {}

// Dummy is an empty payload appended by a fresh leader to force commit
// progress, and as the trailing entry after C_new that closes a
// configuration change.
type Dummy struct{}

func (Dummy) isEntryPayload() {}

// LogEntry is a single, immutable-once-appended position in the replicated
// log.
type LogEntry struct {
	Term    Term
	Index   Index
	Payload EntryPayload
}

// Configuration is a set of server_address records. It is "simple" (Joint
// is false, only Current matters) or "joint" (Joint is true; quorum
// requires a majority in both Current and Old).
type Configuration struct {
	Current []ServerAddressRecord
	Joint   bool
	Old     []ServerAddressRecord
}

// ServerAddressRecord is one voting member of a configuration.
type ServerAddressRecord struct {
	ID      ServerID
	Address ServerAddress
}

// IDs returns the member ids of the configuration's current set.
func (c Configuration) IDs() []ServerID {
	ids := make([]ServerID, len(c.Current))
	for i, r := range c.Current {
		ids[i] = r.ID
	}
	return ids
}

// Contains reports whether id is a voting member of the current set.
func (c Configuration) Contains(id ServerID) bool {
	for _, r := range c.Current {
		if r.ID == id {
			return true
		}
	}
	return false
}

// oldSet returns a simple Configuration view over just the Old set, used to
// evaluate the "majority of C_old" half of a joint quorum check.
func (c Configuration) oldSet() Configuration {
	return Configuration{Current: c.Old}
}

// HasQuorum reports whether acked contains a majority of every active
// configuration component (both halves, for a joint configuration).
func (c Configuration) HasQuorum(acked map[ServerID]bool) bool {
	if !quorumReached(c.Current, acked) {
		return false
	}
	if c.Joint {
		return quorumReached(c.Old, acked)
	}
	return true
}

func quorumReached(set []ServerAddressRecord, acked map[ServerID]bool) bool {
	if len(set) == 0 {
		return true
	}
	count := 0
	for _, r := range set {
		if acked[r.ID] {
			count++
		}
	}
	return count >= len(set)/2+1
}
