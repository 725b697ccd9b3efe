// Package entitytest is a compliance suite shared by every EventLog and
// SnapshotStore adapter in this repository: each adapter package runs
// Run against a freshly constructed instance to prove it honors the
// contracts in spec.md §4.2/§4.3, the way the teacher's internal/storetest
// package proved EventStore compliance.
package entitytest

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/go-ges/ges"
)

// EventLogFactory builds a fresh, isolated EventLog for one test.
type EventLogFactory func(t *testing.T) ges.EventLog

// SnapshotStoreFactory builds a fresh, isolated SnapshotStore for one test.
type SnapshotStoreFactory func(t *testing.T) ges.SnapshotStore

// Run executes the EventLog and SnapshotStore compliance suites. Each
// subtest runs in parallel, so adapters under test must be
// concurrency-safe.
func Run(t *testing.T, newEventLog EventLogFactory, newSnapshotStore SnapshotStoreFactory) {
	t.Run("EventLog", func(t *testing.T) {
		runEventLog(t, newEventLog)
	})
	t.Run("SnapshotStore", func(t *testing.T) {
		runSnapshotStore(t, newSnapshotStore)
	})
}

func runEventLog(t *testing.T, newEventLog EventLogFactory) {
	t.Run("persist/last_seq_no/events_by_id", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		log := newEventLog(t)
		id := uuid.New()

		n, err := log.LastSeqNo(ctx, id)
		require.NoError(t, err)
		require.Zero(t, n, "a fresh stream has no events")

		_, err = log.Persist(ctx, id, [][]byte{[]byte("e1")}, 0)
		require.NoError(t, err)

		n, err = log.LastSeqNo(ctx, id)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		_, err = log.Persist(ctx, id, [][]byte{[]byte("e2"), []byte("e3")}, n)
		require.NoError(t, err)

		n, err = log.LastSeqNo(ctx, id)
		require.NoError(t, err)
		require.EqualValues(t, 3, n)

		seq, err := log.EventsByID(ctx, id, 1, 3, nil)
		require.NoError(t, err)

		var got []ges.StoredEvent
		for ev, iterErr := range seq {
			require.NoError(t, iterErr)
			got = append(got, ev)
		}
		require.Len(t, got, 3)
		for i, ev := range got {
			require.EqualValues(t, i+1, ev.SeqNo)
		}
		require.Equal(t, []byte("e1"), got[0].Bytes)
		require.Equal(t, []byte("e2"), got[1].Bytes)
		require.Equal(t, []byte("e3"), got[2].Bytes)
	})

	t.Run("events_by_id range is inclusive on both ends", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		log := newEventLog(t)
		id := uuid.New()

		_, err := log.Persist(ctx, id, [][]byte{
			[]byte("e1"), []byte("e2"), []byte("e3"), []byte("e4"),
		}, 0)
		require.NoError(t, err)

		seq, err := log.EventsByID(ctx, id, 2, 3, nil)
		require.NoError(t, err)

		var got []ges.StoredEvent
		for ev, iterErr := range seq {
			require.NoError(t, iterErr)
			got = append(got, ev)
		}
		require.Len(t, got, 2)
		require.EqualValues(t, 2, got[0].SeqNo)
		require.EqualValues(t, 3, got[1].SeqNo)
	})

	t.Run("seq_no conflict on mismatched expectation", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		log := newEventLog(t)
		id := uuid.New()

		_, err := log.Persist(ctx, id, [][]byte{[]byte("e1")}, 0)
		require.NoError(t, err)

		_, err = log.Persist(ctx, id, [][]byte{[]byte("e2")}, 0)
		require.Error(t, err, "expectedLastSeqNo 0 is stale: one event already persisted")
	})

	t.Run("empty batch is never called by the compliance suite", func(t *testing.T) {
		t.Parallel()
		// spec.md §4.2: "If the batch is empty the core will not call
		// this." Adapters are free to do anything for an empty slice;
		// this suite intentionally never exercises that input.
	})
}

func runSnapshotStore(t *testing.T, newSnapshotStore SnapshotStoreFactory) {
	t.Run("load on empty store reports not found", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		store := newSnapshotStore(t)

		_, found, err := store.Load(ctx, uuid.New())
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("save then load round-trips", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		store := newSnapshotStore(t)
		id := uuid.New()

		require.NoError(t, store.Save(ctx, id, 10, []byte("state-v10"), nil))

		snap, found, err := store.Load(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		require.EqualValues(t, 10, snap.SeqNo)
		require.Equal(t, []byte("state-v10"), snap.Bytes)
	})

	t.Run("save overwrites the prior snapshot", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		store := newSnapshotStore(t)
		id := uuid.New()

		require.NoError(t, store.Save(ctx, id, 10, []byte("state-v10"), nil))
		require.NoError(t, store.Save(ctx, id, 20, []byte("state-v20"), nil))

		snap, found, err := store.Load(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		require.EqualValues(t, 20, snap.SeqNo)
		require.Equal(t, []byte("state-v20"), snap.Bytes)
	})
}

// AssertErrorIs is a small helper matching the teacher's style of
// asserting on sentinel errors via errors.Is rather than type switches.
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected errors.Is(err, %v), got %v", target, err)
	}
}
