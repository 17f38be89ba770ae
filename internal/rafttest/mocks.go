// Package rafttest provides in-memory fakes for the raft package's
// collaborator interfaces, adapted from the teacher's internal/raft/mocks
// (MockLogStorage, MockStateMachine): same error-injection-field and
// call-count-tracking idiom, rebound to raft.Persistence/raft.StateMachine/
// raft.RPC/raft.FailureDetector instead of the teacher's storage.LogStorage/
// state_machine.StateMachine.
package rafttest

import (
	"sync"

	"github.com/GavinJE/scylla/internal/raft"
)

// MockPersistence is an in-memory raft.Persistence. Each *Error field, when
// set, is returned instead of performing the operation, the way the
// teacher's MockLogStorage injects errors.
type MockPersistence struct {
	mu       sync.RWMutex
	term     raft.Term
	votedFor *raft.ServerID
	entries  map[raft.Index]raft.LogEntry
	snapshot raft.SnapshotDescriptor
	hasSnap  bool

	StoreTermVoteError    error
	StoreLogEntriesError  error
	StoreSnapshotError    error
	LoadTermVoteError     error
	LoadLogError          error
	LoadSnapshotError     error
	TruncatePrefixError   error
	TruncateSuffixError   error
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{entries: make(map[raft.Index]raft.LogEntry)}
}

func (m *MockPersistence) StoreTermVote(term raft.Term, votedFor *raft.ServerID) error {
	if m.StoreTermVoteError != nil {
		return m.StoreTermVoteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.term = term
	m.votedFor = votedFor
	return nil
}

func (m *MockPersistence) StoreLogEntries(entries []raft.LogEntry) error {
	if m.StoreLogEntriesError != nil {
		return m.StoreLogEntriesError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.Index] = e
	}
	return nil
}

func (m *MockPersistence) StoreSnapshot(desc raft.SnapshotDescriptor) error {
	if m.StoreSnapshotError != nil {
		return m.StoreSnapshotError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = desc
	m.hasSnap = true
	return nil
}

func (m *MockPersistence) LoadTermVote() (raft.Term, *raft.ServerID, error) {
	if m.LoadTermVoteError != nil {
		return 0, nil, m.LoadTermVoteError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.term, m.votedFor, nil
}

func (m *MockPersistence) LoadLog() ([]raft.LogEntry, error) {
	if m.LoadLogError != nil {
		return nil, m.LoadLogError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]raft.LogEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sortByIndex(out)
	return out, nil
}

func (m *MockPersistence) LoadSnapshot() (raft.SnapshotDescriptor, bool, error) {
	if m.LoadSnapshotError != nil {
		return raft.SnapshotDescriptor{}, false, m.LoadSnapshotError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot, m.hasSnap, nil
}

func (m *MockPersistence) TruncateLogPrefix(upTo raft.Index) error {
	if m.TruncatePrefixError != nil {
		return m.TruncatePrefixError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx := range m.entries {
		if idx <= upTo {
			delete(m.entries, idx)
		}
	}
	return nil
}

func (m *MockPersistence) TruncateLogSuffix(from raft.Index) error {
	if m.TruncateSuffixError != nil {
		return m.TruncateSuffixError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx := range m.entries {
		if idx >= from {
			delete(m.entries, idx)
		}
	}
	return nil
}

func (m *MockPersistence) Close() error { return nil }

func sortByIndex(entries []raft.LogEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Index < entries[j-1].Index; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// MockStateMachine records every batch of applied entries, the way the
// teacher's MockStateMachine records AppliedLogs/ApplyCallCount.
type MockStateMachine struct {
	mu             sync.RWMutex
	AppliedLogs    []raft.LogEntry
	ApplyCallCount int
	SnapshotHandle raft.SnapshotHandle
	ShouldPanic    bool
}

func NewMockStateMachine() *MockStateMachine {
	return &MockStateMachine{AppliedLogs: make([]raft.LogEntry, 0)}
}

func (m *MockStateMachine) Apply(entries []raft.LogEntry) {
	if m.ShouldPanic {
		panic("mock state machine panic")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppliedLogs = append(m.AppliedLogs, entries...)
	m.ApplyCallCount++
}

func (m *MockStateMachine) GetAppliedLogs() []raft.LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]raft.LogEntry, len(m.AppliedLogs))
	copy(out, m.AppliedLogs)
	return out
}

func (m *MockStateMachine) TakeSnapshot() (raft.SnapshotHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SnapshotHandle, nil
}

func (m *MockStateMachine) LoadSnapshot(handle raft.SnapshotHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SnapshotHandle = handle
	return nil
}

func (m *MockStateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppliedLogs = make([]raft.LogEntry, 0)
	m.ApplyCallCount = 0
}

// MockFailureDetector reports every id in Dead as dead and everything else
// as alive, defaulting to "everyone is alive" (empty Dead set) so tests
// that don't care about the failure detector don't have to populate it.
type MockFailureDetector struct {
	mu   sync.RWMutex
	Dead map[raft.ServerID]bool
}

func NewMockFailureDetector() *MockFailureDetector {
	return &MockFailureDetector{Dead: make(map[raft.ServerID]bool)}
}

func (m *MockFailureDetector) IsAlive(id raft.ServerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.Dead[id]
}

func (m *MockFailureDetector) MarkDead(id raft.ServerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Dead[id] = true
}

// MockRPC records every Send* call instead of performing network I/O, and
// lets a test script manually deliver a canned response back into a Group
// by calling the appropriate group.Deliver. It does not implement AddServer/
// RemoveServer dialing since there is no real connection to manage.
type MockRPC struct {
	mu                      sync.Mutex
	VoteRequests            []voteRequestCall
	VoteResponses           []voteResponseCall
	PreVoteRequests         []preVoteRequestCall
	PreVoteResponses        []preVoteResponseCall
	AppendEntriesRequests   []appendEntriesRequestCall
	AppendEntriesResponses  []appendEntriesResponseCall
	InstallSnapshotRequests []installSnapshotRequestCall
	TimeoutNows             []timeoutNowCall
}

type voteRequestCall struct {
	Peer raft.ServerID
	Req  raft.VoteRequest
}
type voteResponseCall struct {
	Peer raft.ServerID
	Resp raft.VoteResponse
}
type preVoteRequestCall struct {
	Peer raft.ServerID
	Req  raft.PreVoteRequest
}
type preVoteResponseCall struct {
	Peer raft.ServerID
	Resp raft.PreVoteResponse
}
type appendEntriesRequestCall struct {
	Peer raft.ServerID
	Req  raft.AppendEntriesRequest
}
type appendEntriesResponseCall struct {
	Peer raft.ServerID
	Resp raft.AppendEntriesResponse
}
type installSnapshotRequestCall struct {
	Peer raft.ServerID
	Req  raft.InstallSnapshotRequest
}
type timeoutNowCall struct {
	Peer raft.ServerID
	Req  raft.TimeoutNow
}

func NewMockRPC() *MockRPC { return &MockRPC{} }

func (r *MockRPC) SendVoteRequest(peer raft.ServerID, req raft.VoteRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.VoteRequests = append(r.VoteRequests, voteRequestCall{peer, req})
}

func (r *MockRPC) SendVoteResponse(peer raft.ServerID, resp raft.VoteResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.VoteResponses = append(r.VoteResponses, voteResponseCall{peer, resp})
}

func (r *MockRPC) SendPreVoteRequest(peer raft.ServerID, req raft.PreVoteRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PreVoteRequests = append(r.PreVoteRequests, preVoteRequestCall{peer, req})
}

func (r *MockRPC) SendPreVoteResponse(peer raft.ServerID, resp raft.PreVoteResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PreVoteResponses = append(r.PreVoteResponses, preVoteResponseCall{peer, resp})
}

func (r *MockRPC) SendAppendEntries(peer raft.ServerID, req raft.AppendEntriesRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AppendEntriesRequests = append(r.AppendEntriesRequests, appendEntriesRequestCall{peer, req})
}

func (r *MockRPC) SendAppendEntriesResponse(peer raft.ServerID, resp raft.AppendEntriesResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AppendEntriesResponses = append(r.AppendEntriesResponses, appendEntriesResponseCall{peer, resp})
}

func (r *MockRPC) SendInstallSnapshot(peer raft.ServerID, req raft.InstallSnapshotRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.InstallSnapshotRequests = append(r.InstallSnapshotRequests, installSnapshotRequestCall{peer, req})
}

func (r *MockRPC) SendInstallSnapshotResponse(raft.ServerID, raft.InstallSnapshotResponse) {}

func (r *MockRPC) SendTimeoutNow(peer raft.ServerID, req raft.TimeoutNow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TimeoutNows = append(r.TimeoutNows, timeoutNowCall{peer, req})
}

func (r *MockRPC) AddServer(raft.ServerID, raft.ServerAddress) error { return nil }
func (r *MockRPC) RemoveServer(raft.ServerID) error                  { return nil }

// Reset clears every recorded call, the way the teacher's mocks' Reset does.
func (r *MockRPC) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.VoteRequests = nil
	r.VoteResponses = nil
	r.PreVoteRequests = nil
	r.PreVoteResponses = nil
	r.AppendEntriesRequests = nil
	r.AppendEntriesResponses = nil
	r.InstallSnapshotRequests = nil
	r.TimeoutNows = nil
}
