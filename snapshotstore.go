package ges

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a stored checkpoint of an entity's state at a specific
// sequence number, as returned by SnapshotStore.Load.
type Snapshot struct {
	SeqNo    uint64
	Bytes    []byte
	Metadata Metadata
	At       time.Time
}

// SnapshotStore stores at most one snapshot per entity id; newer writes
// overwrite older ones. Snapshotting is a pure optimization for recovery
// speed: correctness never depends on snapshots existing or being
// current, see NoopSnapshotStore.
//
// Implementations must be safe for concurrent use across many entities.
type SnapshotStore interface {
	// Save durably stores state at seqNo for id, replacing any prior
	// snapshot. metadata is whatever the EventLog returned alongside
	// the events that produced this state, so adapters that want to
	// resume EventsByID from a snapshot can round-trip it.
	Save(ctx context.Context, id uuid.UUID, seqNo uint64, state []byte, metadata Metadata) error

	// Load returns the stored snapshot for id, or found=false if none
	// exists.
	Load(ctx context.Context, id uuid.UUID) (snapshot Snapshot, found bool, err error)
}

// NoopSnapshotStore is a trivial SnapshotStore: Save discards, Load always
// reports "none found". It is useful for entity kinds that never need
// accelerated recovery, or for tests asserting that snapshots never
// affect observable behavior (see Testable Property "snapshot
// transparency").
type NoopSnapshotStore struct{}

// Save discards state without error.
func (NoopSnapshotStore) Save(context.Context, uuid.UUID, uint64, []byte, Metadata) error {
	return nil
}

// Load always reports no snapshot found.
func (NoopSnapshotStore) Load(context.Context, uuid.UUID) (Snapshot, bool, error) {
	return Snapshot{}, false, nil
}

var _ SnapshotStore = NoopSnapshotStore{}
