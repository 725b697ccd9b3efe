// Package mem provides an in-memory EventLog and SnapshotStore. It is
// concurrency-safe and suitable for tests, prototypes, and local runs;
// events and snapshots are kept in-process and lost on restart.
package mem

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-ges/ges"
)

type storedEvent struct {
	seqNo uint64
	bytes []byte
}

type storedSnapshot struct {
	seqNo    uint64
	state    []byte
	metadata ges.Metadata
	at       time.Time
}

// EventLog is an in-memory ges.EventLog. The zero value is not usable;
// construct one with NewEventLog.
type EventLog struct {
	mu      sync.RWMutex
	streams map[uuid.UUID][]storedEvent
}

// NewEventLog creates an empty, concurrency-safe EventLog.
func NewEventLog() *EventLog {
	return &EventLog{streams: make(map[uuid.UUID][]storedEvent)}
}

// Persist appends payloads atomically, rejecting the call if
// expectedLastSeqNo does not match the stream's current length.
func (l *EventLog) Persist(_ context.Context, id uuid.UUID, payloads [][]byte, expectedLastSeqNo uint64) (ges.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.streams[id]
	current := uint64(len(seq))
	if current != expectedLastSeqNo {
		return nil, &SeqNoConflictError{ID: id, Expected: expectedLastSeqNo, Actual: current}
	}

	for _, payload := range payloads {
		current++
		seq = append(seq, storedEvent{seqNo: current, bytes: payload})
	}
	l.streams[id] = seq
	return nil, nil
}

// LastSeqNo returns 0 if id has no events, otherwise its highest stored
// sequence number.
func (l *EventLog) LastSeqNo(_ context.Context, id uuid.UUID) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seq := l.streams[id]
	if len(seq) == 0 {
		return 0, nil
	}
	return seq[len(seq)-1].seqNo, nil
}

// EventsByID yields the stored events for id within [fromSeqNo,
// toSeqNo], ascending.
func (l *EventLog) EventsByID(_ context.Context, id uuid.UUID, fromSeqNo, toSeqNo uint64, _ ges.Metadata) (iter.Seq2[ges.StoredEvent, error], error) {
	l.mu.RLock()
	seq := append([]storedEvent(nil), l.streams[id]...)
	l.mu.RUnlock()

	return func(yield func(ges.StoredEvent, error) bool) {
		for _, e := range seq {
			if e.seqNo < fromSeqNo || e.seqNo > toSeqNo {
				continue
			}
			if !yield(ges.StoredEvent{SeqNo: e.seqNo, Bytes: e.bytes}, nil) {
				return
			}
		}
	}, nil
}

var _ ges.EventLog = (*EventLog)(nil)

// SnapshotStore is an in-memory ges.SnapshotStore. The zero value is not
// usable; construct one with NewSnapshotStore.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]storedSnapshot
}

// NewSnapshotStore creates an empty, concurrency-safe SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[uuid.UUID]storedSnapshot)}
}

// Save stores state at seqNo for id, replacing any prior snapshot.
func (s *SnapshotStore) Save(_ context.Context, id uuid.UUID, seqNo uint64, state []byte, metadata ges.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[id] = storedSnapshot{
		seqNo:    seqNo,
		state:    append([]byte(nil), state...),
		metadata: metadata,
		at:       time.Now(),
	}
	return nil
}

// Load returns the stored snapshot for id, if any.
func (s *SnapshotStore) Load(_ context.Context, id uuid.UUID) (ges.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return ges.Snapshot{}, false, nil
	}
	return ges.Snapshot{
		SeqNo:    snap.seqNo,
		Bytes:    snap.state,
		Metadata: snap.metadata,
		At:       snap.at,
	}, true, nil
}

var _ ges.SnapshotStore = (*SnapshotStore)(nil)
