// Package snapshot persists every emitted event to an on-disk LevelDB
// instance, sequence-keyed so a restart can replay the event log in order.
// Grounded on the teacher's storage.LevelDB wrapper (storage/db.go): the
// same goleveldb.OpenFile/Put/Get/Close shape, generalized from a single
// flat key-value store to an append-only sequence log of JSON envelopes.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"

	"predcore/internal/events"
)

// envelope wraps an event's concrete payload with its type discriminator,
// since events.Event values are decoded generically (the store never needs
// to reconstruct a concrete Go type, only to replay the JSON for an
// operator or downstream consumer).
type envelope struct {
	Sequence  uint64          `json:"sequence"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// Store is a goleveldb-backed events.Emitter: every Emit call appends one
// sequence-keyed record. Safe for concurrent use (Emit advances the
// sequence atomically and goleveldb itself serializes writes).
type Store struct {
	db  *leveldb.DB
	seq uint64
}

// Open creates or opens a LevelDB database at path and resumes the
// sequence counter from the highest key already present.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.resumeSequence(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) resumeSequence() error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	var last uint64
	for iter.Next() {
		seq := binary.BigEndian.Uint64(iter.Key())
		if seq > last {
			last = seq
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("snapshot: scan existing keys: %w", err)
	}
	s.seq = last
	return nil
}

// Emit implements events.Emitter. Marshal failures are swallowed after
// logging nothing (there is nowhere safe to report them from inside a
// hot path the caller must not block on) rather than panicking the
// component that emitted the event.
func (s *Store) Emit(e events.Event) {
	if e == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	seq := atomic.AddUint64(&s.seq, 1)
	env := envelope{Sequence: seq, EventType: e.EventType(), Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	_ = s.db.Put(key, data, nil)
}

// Record is a decoded envelope returned by Replay.
type Record struct {
	Sequence  uint64
	EventType string
	Payload   json.RawMessage
}

// Replay returns every record with sequence > afterSeq, in order, for a
// process resuming from a prior snapshot.
func (s *Store) Replay(afterSeq uint64) ([]Record, error) {
	var iter iterator.Iterator
	if afterSeq == 0 {
		iter = s.db.NewIterator(nil, nil)
	} else {
		startKey := make([]byte, 8)
		binary.BigEndian.PutUint64(startKey, afterSeq+1)
		iter = s.db.NewIterator(&util.Range{Start: startKey}, nil)
	}
	defer iter.Release()

	var out []Record
	for iter.Next() {
		var env envelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			return nil, fmt.Errorf("snapshot: decode record: %w", err)
		}
		out = append(out, Record{Sequence: env.Sequence, EventType: env.EventType, Payload: env.Payload})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("snapshot: replay: %w", err)
	}
	return out, nil
}

// Close releases the underlying LevelDB handle.
func (s *Store) Close() error {
	return s.db.Close()
}
