// Package kvstore is a toy raft.StateMachine, adapted from the teacher's
// internal/raft/state_machine.KVStateMachine (SET/DEL command parsing,
// per-server logging) with TakeSnapshot/LoadSnapshot added (SPEC_FULL.md
// §4.3 EXPANSION).
package kvstore

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/GavinJE/scylla/internal/raft"
)

// Store is a simple key-value store driven entirely by committed log
// entries. Commands are "SET key=value" or "DEL key"; anything else is
// logged and ignored, the way the teacher's Apply does.
type Store struct {
	mu    sync.RWMutex
	data  map[string]string
	id    raft.ServerID
}

func New(id raft.ServerID) *Store {
	return &Store{id: id, data: make(map[string]string)}
}

func (s *Store) Apply(entries []raft.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		cmd, ok := entry.Payload.(raft.Command)
		if !ok {
			// Dummy/ConfigurationPayload entries carry no state-machine
			// work: dummies force commit progress and configuration
			// entries are consumed by the FSM itself.
			continue
		}
		s.applyOne(entry.Index, string(cmd))
	}
}

func (s *Store) applyOne(index raft.Index, command string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return
	}

	switch strings.ToUpper(parts[0]) {
	case "SET":
		if len(parts) < 2 {
			return
		}
		kv := strings.SplitN(parts[1], "=", 2)
		if len(kv) != 2 {
			return
		}
		s.data[kv[0]] = kv[1]
		log.Printf("[KVSTORE %s] applied SET %s=%s (index=%d)", s.id, kv[0], kv[1], index)
	case "DEL":
		if len(parts) < 2 {
			return
		}
		delete(s.data, parts[1])
		log.Printf("[KVSTORE %s] applied DEL %s (index=%d)", s.id, parts[1], index)
	default:
		log.Printf("[KVSTORE %s] unknown command %q (index=%d)", s.id, command, index)
	}
}

// Get is a read-only accessor for callers that have already cleared a read
// barrier (group.Group.ReadBarrier) or don't need linearizability.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// TakeSnapshot serializes the whole map as JSON. Simple and sufficient for a
// demo store; a production state machine would stream large data sets
// instead of holding one big buffer.
func (s *Store) TakeSnapshot() (raft.SnapshotHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := json.Marshal(s.data)
	if err != nil {
		return nil, fmt.Errorf("marshal kvstore snapshot: %w", err)
	}
	return raft.SnapshotHandle(data), nil
}

func (s *Store) LoadSnapshot(handle raft.SnapshotHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(handle) == 0 {
		s.data = make(map[string]string)
		return nil
	}
	var loaded map[string]string
	if err := json.Unmarshal(handle, &loaded); err != nil {
		return fmt.Errorf("unmarshal kvstore snapshot: %w", err)
	}
	s.data = loaded
	return nil
}
