package ges

import (
	"context"
	"iter"

	"github.com/google/uuid"
)

// Metadata is an opaque token round-tripped between Persist and EventsByID
// of the same EventLog implementation. It lets an adapter pass, e.g., a
// stream name or a partition cursor learned during Persist back to
// EventsByID. The core treats it as a black box; adapters that need
// nothing use nil.
type Metadata = any

// StoredEvent is a single event as returned by EventsByID: its assigned
// sequence number and its encoded payload.
type StoredEvent struct {
	SeqNo uint64
	Bytes []byte
}

// EventLog is an append-only per-entity journal with ordered replay.
//
// Implementations must be safe for concurrent use: many Entity goroutines,
// each serving a different entity, share one EventLog. For a single id,
// the runtime calls Persist from one goroutine at a time, always with
// expectedLastSeqNo equal to the value returned by the previous successful
// Persist (or the initial LastSeqNo). Implementations without optimistic
// locking may ignore expectedLastSeqNo entirely because the runtime
// guarantees exclusivity per id; implementations that do check it should
// reject a mismatch with a conflict error.
//
// Events are handed to and returned from the log already encoded: the
// runtime calls the entity's EvtToBytes/EvtFromBytes functions itself
// around these calls rather than threading them through the interface,
// since Go methods cannot carry their own type parameters. This keeps
// EventLog a single, non-generic interface that any adapter can implement
// once, no matter how many different entity kinds it stores events for.
type EventLog interface {
	// Persist appends payloads as a contiguous run whose first assigned
	// SeqNo is expectedLastSeqNo+1. The call is atomic: either every
	// payload becomes durably visible at strictly increasing sequence
	// numbers, or none do. The runtime never calls Persist with an empty
	// payload slice. Returns an opaque metadata token.
	Persist(ctx context.Context, id uuid.UUID, payloads [][]byte, expectedLastSeqNo uint64) (Metadata, error)

	// LastSeqNo returns 0 if id has no events, otherwise the largest
	// stored sequence number.
	LastSeqNo(ctx context.Context, id uuid.UUID) (uint64, error)

	// EventsByID yields exactly the events with fromSeqNo <= seq_no <=
	// toSeqNo, in ascending order. The returned sequence is finite and
	// non-restartable; metadata is whatever a prior Persist call
	// returned (or nil). Iteration fails fast: once a yielded error is
	// non-nil, the core stops ranging and items after that point are
	// undefined.
	EventsByID(ctx context.Context, id uuid.UUID, fromSeqNo, toSeqNo uint64, metadata Metadata) (iter.Seq2[StoredEvent, error], error)
}
