// Package boltstore is a go.etcd.io/bbolt-backed raft.Persistence, adapted
// from the teacher's internal/raft/storage.BboltDb (bucket layout, cursor
// seek/delete helpers, big-endian uint64 keys) and extended with snapshot
// storage and prefix/suffix truncation.
package boltstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/GavinJE/scylla/internal/raft"
)

var (
	logBucket      = []byte("logs")
	metadataBucket = []byte("metadata")
	snapshotBucket = []byte("snapshot")

	currentTermKey = []byte("currentTerm")
	votedForKey    = []byte("votedFor")
	descriptorKey  = []byte("descriptor")
	handleKey      = []byte("handle")
)

// Store is a bbolt-backed raft.Persistence implementation. One Store serves
// one participant; the file is exclusively locked by bbolt while open.
type Store struct {
	conn *bbolt.DB
}

// Open creates or reopens a Store at path, creating its buckets on first
// use (mirrors the teacher's NewBboltStorage).
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{logBucket, metadataBucket, snapshotBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{conn: db}, nil
}

func (s *Store) StoreTermVote(term raft.Term, votedFor *raft.ServerID) error {
	return s.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(metadataBucket)
		if err := bucket.Put(currentTermKey, uint64ToBytes(uint64(term))); err != nil {
			return err
		}
		if votedFor == nil {
			return bucket.Delete(votedForKey)
		}
		return bucket.Put(votedForKey, []byte(*votedFor))
	})
}

func (s *Store) LoadTermVote() (raft.Term, *raft.ServerID, error) {
	var term raft.Term
	var votedFor *raft.ServerID
	err := s.conn.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(metadataBucket)
		if data := bucket.Get(currentTermKey); data != nil {
			term = raft.Term(bytesToUint64(data))
		}
		if data := bucket.Get(votedForKey); data != nil {
			id := raft.ServerID(data)
			votedFor = &id
		}
		return nil
	})
	return term, votedFor, err
}

func (s *Store) StoreLogEntries(entries []raft.LogEntry) error {
	return s.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		for _, e := range entries {
			data, err := encodeEntry(e)
			if err != nil {
				return fmt.Errorf("encode entry %d: %w", e.Index, err)
			}
			if err := bucket.Put(uint64ToBytes(uint64(e.Index)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadLog() ([]raft.LogEntry, error) {
	var entries []raft.LogEntry
	err := s.conn.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			entry, err := decodeEntry(v)
			if err != nil {
				return fmt.Errorf("decode entry at key %x: %w", k, err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// TruncateLogSuffix deletes every entry at index >= from.
func (s *Store) TruncateLogSuffix(from raft.Index) error {
	return s.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		cursor := bucket.Cursor()
		startKey := uint64ToBytes(uint64(from))
		for k, _ := cursor.Seek(startKey); k != nil; k, _ = cursor.Next() {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// TruncateLogPrefix deletes every entry at index <= upTo (the snapshot now
// covers them).
func (s *Store) TruncateLogPrefix(upTo raft.Index) error {
	return s.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		cursor := bucket.Cursor()
		endKey := uint64ToBytes(uint64(upTo))
		for k, _ := cursor.First(); k != nil && bytes.Compare(k, endKey) <= 0; k, _ = cursor.Next() {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) StoreSnapshot(desc raft.SnapshotDescriptor) error {
	return s.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(snapshotBucket)
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(descriptorMeta{
			LastIncludedIndex: desc.LastIncludedIndex,
			LastIncludedTerm:  desc.LastIncludedTerm,
			Configuration:     desc.Configuration,
		}); err != nil {
			return fmt.Errorf("encode snapshot descriptor: %w", err)
		}
		if err := bucket.Put(descriptorKey, buf.Bytes()); err != nil {
			return err
		}
		return bucket.Put(handleKey, desc.Handle)
	})
}

func (s *Store) LoadSnapshot() (raft.SnapshotDescriptor, bool, error) {
	var desc raft.SnapshotDescriptor
	var found bool
	err := s.conn.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(snapshotBucket)
		data := bucket.Get(descriptorKey)
		if data == nil {
			return nil
		}
		found = true
		var meta descriptorMeta
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&meta); err != nil {
			return fmt.Errorf("decode snapshot descriptor: %w", err)
		}
		desc.LastIncludedIndex = meta.LastIncludedIndex
		desc.LastIncludedTerm = meta.LastIncludedTerm
		desc.Configuration = meta.Configuration
		if handle := bucket.Get(handleKey); handle != nil {
			desc.Handle = append(raft.SnapshotHandle(nil), handle...)
		}
		return nil
	})
	return desc, found, err
}

func (s *Store) Close() error {
	return s.conn.Close()
}

type descriptorMeta struct {
	LastIncludedIndex raft.Index
	LastIncludedTerm  raft.Term
	Configuration     raft.Configuration
}

func encodeEntry(e raft.LogEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (raft.LogEntry, error) {
	var e raft.LogEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return raft.LogEntry{}, err
	}
	return e, nil
}

func uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
