package ges_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/go-ges/ges"
	"github.com/go-ges/ges/convert"
)

// --- a tiny counter behavior, mirroring the Cmd::Inc/Cmd::Dec example
// used throughout spec.md §8. Cmd and Evt are each a single concrete
// struct acting as a tagged union (one non-nil field per variant),
// the idiomatic Go stand-in for the original's protobuf oneof.

type Inc struct{ N int64 }
type Dec struct{ N int64 }

type Cmd struct {
	Inc *Inc
	Dec *Dec
}

type Increased struct{ Old, Inc int64 }
type Decreased struct{ Old, Dec int64 }

type Evt struct {
	Increased *Increased
	Decreased *Decreased
}

func incCmd(n int64) Cmd { return Cmd{Inc: &Inc{N: n}} }
func decCmd(n int64) Cmd { return Cmd{Dec: &Dec{N: n}} }

// Counter is a ges.EventSourced[Cmd, Evt, int64]. It snapshots every
// snapshotEvery events when positive; 0 disables snapshotting.
type Counter struct {
	value         int64
	snapshotEvery int
}

func (c *Counter) HandleCmd(cmd Cmd) ([]Evt, error) {
	switch {
	case cmd.Inc != nil:
		if cmd.Inc.N <= 0 {
			return nil, fmt.Errorf("inc amount must be positive, got %d", cmd.Inc.N)
		}
		return []Evt{{Increased: &Increased{Old: c.value, Inc: cmd.Inc.N}}}, nil
	case cmd.Dec != nil:
		if cmd.Dec.N <= 0 {
			return nil, fmt.Errorf("dec amount must be positive, got %d", cmd.Dec.N)
		}
		if c.value-cmd.Dec.N < 0 {
			return nil, fmt.Errorf("cannot go negative: %d - %d", c.value, cmd.Dec.N)
		}
		return []Evt{{Decreased: &Decreased{Old: c.value, Dec: cmd.Dec.N}}}, nil
	default:
		return nil, fmt.Errorf("empty command")
	}
}

func (c *Counter) HandleEvt(seqNo ges.SeqNo, evt *Evt) (int64, bool) {
	switch {
	case evt.Increased != nil:
		c.value += evt.Increased.Inc
	case evt.Decreased != nil:
		c.value -= evt.Decreased.Dec
	}
	if c.snapshotEvery > 0 && seqNo.AsU64()%uint64(c.snapshotEvery) == 0 {
		return c.value, true
	}
	return 0, false
}

func (c *Counter) SetState(state int64) { c.value = state }

func counterBinarizer() convert.Binarizer[Evt, int64] {
	return convert.JSON[Evt, int64]()
}

// --- minimal in-memory EventLog/SnapshotStore fakes, local to this test
// file the way the original Rust crate's own unit tests define
// TestEvtLog/TestSnapshotStore directly in-module rather than reaching
// for an adapter package.

type fakeEventLog struct {
	mu      sync.Mutex
	streams map[uuid.UUID][]ges.StoredEvent

	failAfter int // Persist fails starting with the (failAfter+1)-th call, 0 = never
	calls     int
}

func newFakeEventLog() *fakeEventLog {
	return &fakeEventLog{streams: make(map[uuid.UUID][]ges.StoredEvent)}
}

func (l *fakeEventLog) Persist(_ context.Context, id uuid.UUID, payloads [][]byte, expectedLastSeqNo uint64) (ges.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.failAfter > 0 && l.calls > l.failAfter {
		return nil, errors.New("fakeEventLog: injected persist failure")
	}

	seq := l.streams[id]
	if uint64(len(seq)) != expectedLastSeqNo {
		return nil, fmt.Errorf("fakeEventLog: seq_no conflict: expected=%d actual=%d", expectedLastSeqNo, len(seq))
	}
	next := expectedLastSeqNo
	for _, p := range payloads {
		next++
		seq = append(seq, ges.StoredEvent{SeqNo: next, Bytes: p})
	}
	l.streams[id] = seq
	return nil, nil
}

func (l *fakeEventLog) LastSeqNo(_ context.Context, id uuid.UUID) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := l.streams[id]
	if len(seq) == 0 {
		return 0, nil
	}
	return seq[len(seq)-1].SeqNo, nil
}

func (l *fakeEventLog) EventsByID(_ context.Context, id uuid.UUID, fromSeqNo, toSeqNo uint64, _ ges.Metadata) (iter.Seq2[ges.StoredEvent, error], error) {
	l.mu.Lock()
	seq := append([]ges.StoredEvent(nil), l.streams[id]...)
	l.mu.Unlock()

	return func(yield func(ges.StoredEvent, error) bool) {
		for _, e := range seq {
			if e.SeqNo < fromSeqNo || e.SeqNo > toSeqNo {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}, nil
}

type fakeSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]ges.Snapshot

	failSave bool
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{snapshots: make(map[uuid.UUID]ges.Snapshot)}
}

func (s *fakeSnapshotStore) Save(_ context.Context, id uuid.UUID, seqNo uint64, state []byte, metadata ges.Metadata) error {
	if s.failSave {
		return errors.New("fakeSnapshotStore: injected save failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[id] = ges.Snapshot{SeqNo: seqNo, Bytes: append([]byte(nil), state...), Metadata: metadata}
	return nil
}

func (s *fakeSnapshotStore) Load(_ context.Context, id uuid.UUID) (ges.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	return snap, ok, nil
}

func seedSnapshot(t *testing.T, store *fakeSnapshotStore, id uuid.UUID, seqNo uint64, state int64) {
	t.Helper()
	b, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), id, seqNo, b, nil))
}

func seedEvents(t *testing.T, log *fakeEventLog, id uuid.UUID, fromExclusive uint64, evts []Evt) {
	t.Helper()
	payloads := make([][]byte, len(evts))
	for i, e := range evts {
		b, err := convert.JSONEncode(e)
		require.NoError(t, err)
		payloads[i] = b
	}
	_, err := log.Persist(context.Background(), id, payloads, fromExclusive)
	require.NoError(t, err)
}

// unitIncrements returns n Increased events that count a fresh counter
// from 0 up to n, one step at a time.
func unitIncrements(n int) []Evt {
	evts := make([]Evt, n)
	for i := range evts {
		evts[i] = Evt{Increased: &Increased{Old: int64(i), Inc: 1}}
	}
	return evts
}

// S1: fresh spawn, single command.
func TestS1_FreshSpawnSingleCommand(t *testing.T) {
	ctx := context.Background()
	log := newFakeEventLog()
	snapshots := newFakeSnapshotStore()
	id := uuid.New()

	ref, err := ges.Spawn[Cmd, Evt, int64](ctx, id, &Counter{}, 8, log, snapshots, counterBinarizer())
	require.NoError(t, err)

	evts, err := ref.HandleCmd(ctx, incCmd(1))
	require.NoError(t, err)
	require.Equal(t, []Evt{{Increased: &Increased{Old: 0, Inc: 1}}}, evts)

	last, err := log.LastSeqNo(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 1, last)
}

// S2: recovery with snapshot only.
func TestS2_RecoveryWithSnapshotOnly(t *testing.T) {
	ctx := context.Background()
	log := newFakeEventLog()
	snapshots := newFakeSnapshotStore()
	id := uuid.New()
	seedEvents(t, log, id, 0, unitIncrements(42))
	seedSnapshot(t, snapshots, id, 42, 42)

	ref, err := ges.Spawn[Cmd, Evt, int64](ctx, id, &Counter{}, 8, log, snapshots, counterBinarizer())
	require.NoError(t, err)

	evts, err := ref.HandleCmd(ctx, incCmd(1))
	require.NoError(t, err)
	require.Equal(t, []Evt{{Increased: &Increased{Old: 42, Inc: 1}}}, evts)
}

// S3: recovery with snapshot + tail.
func TestS3_RecoveryWithSnapshotAndTail(t *testing.T) {
	ctx := context.Background()
	log := newFakeEventLog()
	snapshots := newFakeSnapshotStore()
	id := uuid.New()
	seedSnapshot(t, snapshots, id, 42, 42)
	// Events 1..43; the 43rd is Increased{Old: 42, Inc: 1}.
	seedEvents(t, log, id, 0, unitIncrements(43))

	counter := &Counter{}
	ref, err := ges.Spawn[Cmd, Evt, int64](ctx, id, counter, 8, log, snapshots, counterBinarizer())
	require.NoError(t, err)

	last, err := log.LastSeqNo(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 43, last)
	require.EqualValues(t, 43, counter.value)

	_ = ref
}

// S4: rejected command.
func TestS4_RejectedCommand(t *testing.T) {
	ctx := context.Background()
	log := newFakeEventLog()
	snapshots := newFakeSnapshotStore()
	id := uuid.New()

	ref, err := ges.Spawn[Cmd, Evt, int64](ctx, id, &Counter{}, 8, log, snapshots, counterBinarizer())
	require.NoError(t, err)

	_, err = ref.HandleCmd(ctx, decCmd(1))
	require.Error(t, err)
	var refErr *ges.RefError
	require.ErrorAs(t, err, &refErr)
	require.Equal(t, ges.InvalidCommand, refErr.Kind)

	last, err := log.LastSeqNo(ctx, id)
	require.NoError(t, err)
	require.Zero(t, last, "a rejected command must not append to the log")

	evts, err := ref.HandleCmd(ctx, incCmd(5))
	require.NoError(t, err)
	require.Equal(t, []Evt{{Increased: &Increased{Old: 0, Inc: 5}}}, evts)

	last, err = log.LastSeqNo(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 1, last)
}

// S5: snapshot cadence.
func TestS5_SnapshotCadence(t *testing.T) {
	ctx := context.Background()
	log := newFakeEventLog()
	snapshots := newFakeSnapshotStore()
	id := uuid.New()

	ref, err := ges.Spawn[Cmd, Evt, int64](ctx, id, &Counter{snapshotEvery: 10}, 8, log, snapshots, counterBinarizer())
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		_, err := ref.HandleCmd(ctx, incCmd(1))
		require.NoError(t, err)
	}

	last, err := log.LastSeqNo(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 25, last)

	snap, found, err := snapshots.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 20, snap.SeqNo, "only the latest cadence snapshot (seq_no 20) should be stored last")
}

// S6: fatal persistence failure.
func TestS6_FatalPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	log := newFakeEventLog()
	log.failAfter = 1
	snapshots := newFakeSnapshotStore()
	id := uuid.New()

	ref, err := ges.Spawn[Cmd, Evt, int64](ctx, id, &Counter{}, 8, log, snapshots, counterBinarizer())
	require.NoError(t, err)

	_, err = ref.HandleCmd(ctx, incCmd(1))
	require.NoError(t, err)

	_, err = ref.HandleCmd(ctx, incCmd(1))
	require.Error(t, err)
	var refErr *ges.RefError
	require.ErrorAs(t, err, &refErr)
	require.True(t, refErr.Kind == ges.SendCmd || refErr.Kind == ges.EntityTerminated)
	require.ErrorIs(t, err, ges.ErrEntityTerminated)

	last, err := log.LastSeqNo(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 1, last, "exactly the first event must remain in the log")
}

// Inconsistent recovery: snapshot seq_no ahead of the log's last_seq_no
// must fail Spawn instead of silently proceeding.
func TestSpawn_InconsistentRecoveryFails(t *testing.T) {
	ctx := context.Background()
	log := newFakeEventLog()
	snapshots := newFakeSnapshotStore()
	id := uuid.New()
	seedSnapshot(t, snapshots, id, 100, 100)

	_, err := ges.Spawn[Cmd, Evt, int64](ctx, id, &Counter{}, 8, log, snapshots, counterBinarizer())
	require.Error(t, err)
	require.ErrorIs(t, err, ges.ErrInconsistentRecovery)
}

// Empty batch no-op: HandleCmd returning no events must not persist or
// advance seq_no.
func TestEmptyBatchNoOp(t *testing.T) {
	ctx := context.Background()
	log := newFakeEventLog()
	snapshots := newFakeSnapshotStore()
	id := uuid.New()

	behavior := &noopCounter{}
	ref, err := ges.Spawn[Cmd, Evt, int64](ctx, id, behavior, 8, log, snapshots, counterBinarizer())
	require.NoError(t, err)

	evts, err := ref.HandleCmd(ctx, incCmd(1))
	require.NoError(t, err)
	require.Empty(t, evts)

	last, err := log.LastSeqNo(ctx, id)
	require.NoError(t, err)
	require.Zero(t, last)
}

type noopCounter struct{ Counter }

func (c *noopCounter) HandleCmd(Cmd) ([]Evt, error) { return nil, nil }

// Snapshot transparency: the same command sequence reaches identical
// state whether or not a snapshot store is actually backed by storage.
func TestSnapshotTransparency(t *testing.T) {
	ctx := context.Background()
	run := func(snapshots ges.SnapshotStore) int64 {
		log := newFakeEventLog()
		id := uuid.New()
		counter := &Counter{snapshotEvery: 3}
		ref, err := ges.Spawn[Cmd, Evt, int64](ctx, id, counter, 8, log, snapshots, counterBinarizer())
		require.NoError(t, err)
		for i := 0; i < 7; i++ {
			_, err := ref.HandleCmd(ctx, incCmd(1))
			require.NoError(t, err)
		}
		ref.Close()

		replay := &Counter{}
		ref2, err := ges.Spawn[Cmd, Evt, int64](ctx, id, replay, 8, log, snapshots, counterBinarizer())
		require.NoError(t, err)
		ref2.Close()
		return replay.value
	}

	withNoop := run(ges.NoopSnapshotStore{})
	withReal := run(newFakeSnapshotStore())
	require.Equal(t, withNoop, withReal)
}

// Determinism of recovery: spawning twice over the same stores yields
// identical in-memory state.
func TestRecoveryIsDeterministic(t *testing.T) {
	ctx := context.Background()
	log := newFakeEventLog()
	snapshots := newFakeSnapshotStore()
	id := uuid.New()
	seedEvents(t, log, id, 0, []Evt{
		{Increased: &Increased{Old: 0, Inc: 5}},
		{Increased: &Increased{Old: 5, Inc: 2}},
		{Decreased: &Decreased{Old: 7, Dec: 1}},
	})

	a := &Counter{}
	refA, err := ges.Spawn[Cmd, Evt, int64](ctx, id, a, 8, log, snapshots, counterBinarizer())
	require.NoError(t, err)
	refA.Close()

	b := &Counter{}
	refB, err := ges.Spawn[Cmd, Evt, int64](ctx, id, b, 8, log, snapshots, counterBinarizer())
	require.NoError(t, err)
	refB.Close()

	require.Equal(t, a.value, b.value)
	require.EqualValues(t, 6, a.value)
}

// Backpressure: HandleCmd blocks (does not drop) when the mailbox is
// full. We check this indirectly: with buffer_size 1, twenty concurrent
// HandleCmd calls all succeed and all twenty events reach the log, so no
// command was dropped while the mailbox was full.
func TestBackpressureBlocksSender(t *testing.T) {
	ctx := context.Background()
	log := newFakeEventLog()
	snapshots := newFakeSnapshotStore()
	id := uuid.New()

	ref, err := ges.Spawn[Cmd, Evt, int64](ctx, id, &Counter{}, 1, log, snapshots, counterBinarizer())
	require.NoError(t, err)

	const n = 20
	errCh := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ref.HandleCmd(ctx, incCmd(1))
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	last, err := log.LastSeqNo(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, n, last)
}

func TestBufferSizeMustBePositive(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r, "Spawn must panic (assertion failure) on buffer_size < 1")
	}()
	_, _ = ges.Spawn[Cmd, Evt, int64](context.Background(), uuid.New(), &Counter{}, 0,
		newFakeEventLog(), newFakeSnapshotStore(), counterBinarizer())
}
