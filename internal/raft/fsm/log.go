package fsm

import "github.com/GavinJE/scylla/internal/raft"

// memLog is the FSM's in-memory view of the replicated log. It may be a
// suffix of the full log: entries up to snapshotIndex have been compacted
// away, the way the teacher's BboltDb logically keeps only what
// DeleteEntriesFrom/prefix truncation left behind. All indices are log
// positions (1-based); index 0 is the sentinel "before the log".
type memLog struct {
	// snapshotIndex/snapshotTerm describe the entry immediately before
	// entries[0] (i.e. the last-included-index/term of the latest
	// snapshot). They are 0 if no snapshot has been taken yet.
	snapshotIndex raft.Index
	snapshotTerm  raft.Term
	// entries[i] holds the log entry at index snapshotIndex+1+i.
	entries []raft.LogEntry
}

func newMemLog() *memLog {
	return &memLog{}
}

// lastIndex returns the index of the last entry in the log (possibly the
// snapshot's last-included-index if the in-memory suffix is empty).
func (l *memLog) lastIndex() raft.Index {
	return l.snapshotIndex + raft.Index(len(l.entries))
}

// lastTerm returns the term of the last entry in the log.
func (l *memLog) lastTerm() raft.Term {
	if len(l.entries) == 0 {
		return l.snapshotTerm
	}
	return l.entries[len(l.entries)-1].Term
}

// firstIndex returns the first index retained in memory (snapshotIndex+1),
// or 1 if no snapshot has been taken. Indices before this are only known
// via the snapshot descriptor.
func (l *memLog) firstIndex() raft.Index {
	return l.snapshotIndex + 1
}

// termAt returns the term of the entry at idx, and whether idx is known
// (either in the in-memory suffix, or equal to the snapshot's
// last-included-index).
func (l *memLog) termAt(idx raft.Index) (raft.Term, bool) {
	if idx == 0 {
		return 0, true
	}
	if idx == l.snapshotIndex {
		return l.snapshotTerm, true
	}
	if idx < l.firstIndex() || idx > l.lastIndex() {
		return 0, false
	}
	return l.entries[idx-l.firstIndex()].Term, true
}

// entryAt returns the entry at idx, if it is in the in-memory suffix.
func (l *memLog) entryAt(idx raft.Index) (raft.LogEntry, bool) {
	if idx < l.firstIndex() || idx > l.lastIndex() {
		return raft.LogEntry{}, false
	}
	return l.entries[idx-l.firstIndex()], true
}

// slice returns entries in [from, to] inclusive, clamped to what is held in
// memory.
func (l *memLog) slice(from, to raft.Index) []raft.LogEntry {
	if from < l.firstIndex() {
		from = l.firstIndex()
	}
	if to > l.lastIndex() {
		to = l.lastIndex()
	}
	if from > to {
		return nil
	}
	start := from - l.firstIndex()
	end := to - l.firstIndex() + 1
	out := make([]raft.LogEntry, end-start)
	copy(out, l.entries[start:end])
	return out
}

// append appends entries after lastIndex(). Callers are responsible for
// having already resolved any conflicting suffix via truncateSuffix.
func (l *memLog) append(entries ...raft.LogEntry) {
	l.entries = append(l.entries, entries...)
}

// truncateSuffix discards every entry at index >= from. Only ever called on
// uncommitted indices (Log Matching + Leader Completeness keep committed
// entries immutable).
func (l *memLog) truncateSuffix(from raft.Index) {
	if from <= l.firstIndex() {
		l.entries = l.entries[:0]
		return
	}
	if from > l.lastIndex() {
		return
	}
	l.entries = l.entries[:from-l.firstIndex()]
}

// truncatePrefix discards every entry at index <= upTo and records it as
// covered by a snapshot at (upTo, term).
func (l *memLog) truncatePrefix(upTo raft.Index, term raft.Term) {
	if upTo <= l.snapshotIndex {
		return
	}
	if upTo > l.lastIndex() {
		l.entries = nil
	} else {
		l.entries = l.entries[upTo-l.firstIndex():]
	}
	l.snapshotIndex = upTo
	l.snapshotTerm = term
}

// isUpToDate reports whether a candidate whose log ends at
// (candLastTerm, candLastIndex) is at least as up-to-date as this log,
// per spec §4.1: higher last-term, or equal last-term and higher-or-equal
// last-index.
func (l *memLog) isUpToDate(candLastTerm raft.Term, candLastIndex raft.Index) bool {
	myTerm, myIndex := l.lastTerm(), l.lastIndex()
	if candLastTerm != myTerm {
		return candLastTerm > myTerm
	}
	return candLastIndex >= myIndex
}
