package ges

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-ges/ges/convert"
	"github.com/go-ges/ges/internal/logging"
)

// entityMsg is one mailbox item: a command plus the one-shot reply sink
// it expects a result on.
type entityMsg[Cmd, Evt any] struct {
	cmd   Cmd
	reply chan cmdResult[Evt]
}

// cmdResult is what a command handler produced. A reply channel that is
// closed instead of sent to signals EntityTerminated: the entity task
// died before it could answer, mirroring a dropped Rust oneshot sender.
type cmdResult[Evt any] struct {
	events []Evt
	err    error
}

// entity is the running state owned exclusively by its own goroutine.
// Nothing outside run/handleOne ever touches behavior, seqNo, or the
// stores concurrently with it.
type entity[Cmd, Evt, State any] struct {
	id       uuid.UUID
	kind     string
	seqNo    uint64
	behavior EventSourced[Cmd, Evt, State]

	eventLog      EventLog
	snapshotStore SnapshotStore
	codec         convert.Binarizer[Evt, State]

	ctx    context.Context
	logger zerolog.Logger
	tracer trace.Tracer
}

// refState is the shared, reference-counted tail of every clone of an
// EntityRef: the mailbox itself plus the bookkeeping needed to emulate
// "close the channel once every clone is dropped" in a language without
// Drop. Close() decrements the count and closes cmdCh exactly once, when
// the count reaches zero; trySend and Close synchronize through mu so a
// send can never race a close into a panic.
type refState[Cmd, Evt any] struct {
	mu         sync.RWMutex
	count      int32
	closed     bool
	terminated bool
	cmdCh      chan entityMsg[Cmd, Evt]
}

func (s *refState[Cmd, Evt]) trySend(msg entityMsg[Cmd, Evt]) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.terminated {
		return &RefError{Kind: SendCmd, Err: ErrEntityTerminated}
	}
	s.cmdCh <- msg
	return nil
}

func (s *refState[Cmd, Evt]) clone() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
}

func (s *refState[Cmd, Evt]) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count--
	if s.count == 0 && !s.closed {
		s.closed = true
		close(s.cmdCh)
	}
}

func (s *refState[Cmd, Evt]) markTerminated() {
	s.mu.Lock()
	s.terminated = true
	s.mu.Unlock()
}

// EntityRef is a clone-able, lightweight handle that dispatches commands
// to a spawned Entity and awaits its reply. The zero value is not usable;
// obtain one from Spawn or Clone.
type EntityRef[Cmd, Evt, State any] struct {
	id    uuid.UUID
	state *refState[Cmd, Evt]
}

// ID returns the identifier of the proxied entity.
func (r *EntityRef[Cmd, Evt, State]) ID() uuid.UUID {
	return r.id
}

// Clone returns a new handle to the same entity. The underlying mailbox
// is only closed once every clone (including r) has been closed via
// Close, emulating reference-counted ownership of the Rust Sender half.
func (r *EntityRef[Cmd, Evt, State]) Clone() *EntityRef[Cmd, Evt, State] {
	r.state.clone()
	return &EntityRef[Cmd, Evt, State]{id: r.id, state: r.state}
}

// Close releases this handle. When the last clone of an EntityRef is
// closed, the entity's mailbox closes, the run loop drains and exits.
func (r *EntityRef[Cmd, Evt, State]) Close() {
	r.state.release()
}

// HandleCmd sends cmd to the entity and waits for its reply. It may
// block or suspend when the mailbox is full: that is the runtime's only
// backpressure mechanism. Canceling ctx stops this call from waiting,
// but the command keeps running to completion inside the entity once it
// has been accepted into the mailbox.
func (r *EntityRef[Cmd, Evt, State]) HandleCmd(ctx context.Context, cmd Cmd) ([]Evt, error) {
	reply := make(chan cmdResult[Evt], 1)
	if err := r.state.trySend(entityMsg[Cmd, Evt]{cmd: cmd, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res, ok := <-reply:
		if !ok {
			return nil, &RefError{Kind: EntityTerminated, Err: ErrEntityTerminated}
		}
		if res.err != nil {
			return nil, &RefError{Kind: InvalidCommand, Err: res.err}
		}
		return res.events, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Spawn recovers an entity from its SnapshotStore and EventLog, then
// starts its run loop and returns a handle to it.
//
// Recovery: the snapshot store is consulted first; if it holds a
// snapshot, the behavior's state is installed from it. The event log's
// last sequence number is then compared against the snapshot's: if the
// snapshot is ahead, the stores are inconsistent and Spawn fails. Any
// events after the snapshot (or all events, if there was none) are
// replayed through the behavior's event handler; snapshot requests
// returned during this replay are intentionally discarded, per the
// "snapshot transparency" property - snapshots only ever affect recovery
// speed, never observable state.
func Spawn[Cmd, Evt, State any](
	ctx context.Context,
	id uuid.UUID,
	behavior EventSourced[Cmd, Evt, State],
	bufferSize int,
	eventLog EventLog,
	snapshotStore SnapshotStore,
	binarizer convert.Binarizer[Evt, State],
	opts ...Option,
) (*EntityRef[Cmd, Evt, State], error) {
	if bufferSize < 1 {
		panic("ges: Spawn buffer size must be positive")
	}

	o := defaultSpawnOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.ForEntity(o.kind, id)
	if o.logger != nil {
		logger = *o.logger
	}

	ctx, span := o.tracer.Start(ctx, "ges.entity.spawn", trace.WithAttributes(
		attribute.String("entity.id", id.String()),
		attribute.String("entity.kind", o.kind),
	))
	defer span.End()

	snapshotSeqNo, metadata, err := recoverSnapshot(ctx, snapshotStore, id, binarizer, behavior, logger)
	if err != nil {
		return nil, err
	}

	lastSeqNo, err := eventLog.LastSeqNo(ctx, id)
	if err != nil {
		return nil, &SpawnError{Kind: LastSeqNo, Err: err}
	}

	if snapshotSeqNo > lastSeqNo {
		return nil, &SpawnError{
			Kind: Inconsistent,
			Err: fmt.Errorf("ges: entity %s: snapshot seq_no %d exceeds event log last_seq_no %d",
				id, snapshotSeqNo, lastSeqNo),
		}
	}

	if snapshotSeqNo < lastSeqNo {
		if err := replayEvents(ctx, eventLog, id, snapshotSeqNo, lastSeqNo, metadata, binarizer, behavior, logger); err != nil {
			return nil, err
		}
	}

	e := &entity[Cmd, Evt, State]{
		id:            id,
		kind:          o.kind,
		seqNo:         lastSeqNo,
		behavior:      behavior,
		eventLog:      eventLog,
		snapshotStore: snapshotStore,
		codec:         binarizer,
		ctx:           ctx,
		logger:        logger,
		tracer:        o.tracer,
	}
	logger.Debug().Msg("entity created")

	cmdCh := make(chan entityMsg[Cmd, Evt], bufferSize)
	state := &refState[Cmd, Evt]{count: 1, cmdCh: cmdCh}
	ref := &EntityRef[Cmd, Evt, State]{id: id, state: state}

	go e.run(cmdCh, state)

	return ref, nil
}

func recoverSnapshot[Cmd, Evt, State any](
	ctx context.Context,
	snapshotStore SnapshotStore,
	id uuid.UUID,
	binarizer convert.Binarizer[Evt, State],
	behavior EventSourced[Cmd, Evt, State],
	logger zerolog.Logger,
) (seqNo uint64, metadata Metadata, err error) {
	snap, found, err := snapshotStore.Load(ctx, id)
	if err != nil {
		return 0, nil, &SpawnError{Kind: LoadSnapshot, Err: err}
	}
	if !found {
		return 0, nil, nil
	}
	state, decErr := binarizer.StateFromBytes(snap.Bytes)
	if decErr != nil {
		return 0, nil, &SpawnError{Kind: LoadSnapshot, Err: decErr}
	}
	logger.Debug().Uint64("seq_no", snap.SeqNo).Msg("restoring snapshot")
	behavior.SetState(state)
	return snap.SeqNo, snap.Metadata, nil
}

func replayEvents[Cmd, Evt, State any](
	ctx context.Context,
	eventLog EventLog,
	id uuid.UUID,
	fromExclusive, toInclusive uint64,
	metadata Metadata,
	binarizer convert.Binarizer[Evt, State],
	behavior EventSourced[Cmd, Evt, State],
	logger zerolog.Logger,
) error {
	fromSeqNo := fromExclusive + 1
	logger.Debug().Uint64("from_seq_no", fromSeqNo).Uint64("last_seq_no", toInclusive).Msg("replaying events")

	seq, err := eventLog.EventsByID(ctx, id, fromSeqNo, toInclusive, metadata)
	if err != nil {
		return &SpawnError{Kind: EventsByID, Err: err}
	}

	for stored, iterErr := range seq {
		if iterErr != nil {
			return &SpawnError{Kind: NextEvent, Err: iterErr}
		}
		evt, decErr := binarizer.EvtFromBytes(stored.Bytes)
		if decErr != nil {
			return &SpawnError{Kind: NextEvent, Err: decErr}
		}
		seqNo, convErr := NewSeqNo(stored.SeqNo)
		if convErr != nil {
			return &SpawnError{Kind: NextEvent, Err: convErr}
		}
		// Any snapshot request surfaced during replay is ignored: see
		// the "snapshot transparency" testable property.
		behavior.HandleEvt(seqNo, &evt)
	}
	return nil
}

// run is the entity's single-threaded command loop: Recovering has
// already happened by the time run starts, so run moves directly
// between Idle and Handling until the mailbox closes (graceful exit) or
// a storage failure makes the entity Terminated.
func (e *entity[Cmd, Evt, State]) run(cmdCh chan entityMsg[Cmd, Evt], state *refState[Cmd, Evt]) {
	defer e.logger.Debug().Msg("entity terminated")
	for msg := range cmdCh {
		if e.handleOne(msg) {
			continue
		}
		state.markTerminated()
		close(msg.reply)
		drainTerminated(cmdCh)
		return
	}
}

// drainTerminated closes the reply channel of every message still
// buffered in the mailbox after a fatal error, so their callers observe
// EntityTerminated immediately instead of blocking forever.
func drainTerminated[Cmd, Evt any](cmdCh chan entityMsg[Cmd, Evt]) {
	for {
		select {
		case msg, ok := <-cmdCh:
			if !ok {
				return
			}
			close(msg.reply)
		default:
			return
		}
	}
}

// handleOne processes exactly one command to completion. It returns
// false when a storage failure makes the entity unrecoverable; the
// caller then terminates the run loop.
func (e *entity[Cmd, Evt, State]) handleOne(msg entityMsg[Cmd, Evt]) bool {
	ctx, span := e.tracer.Start(e.ctx, "ges.entity.handle_cmd", trace.WithAttributes(
		attribute.String("entity.id", e.id.String()),
		attribute.String("entity.kind", e.kind),
	))
	defer span.End()

	events, err := e.behavior.HandleCmd(msg.cmd)
	if err != nil {
		msg.reply <- cmdResult[Evt]{err: err}
		return true
	}
	if len(events) == 0 {
		msg.reply <- cmdResult[Evt]{events: []Evt{}}
		return true
	}

	payloads := make([][]byte, len(events))
	for i, evt := range events {
		b, encErr := e.codec.EvtToBytes(evt)
		if encErr != nil {
			e.logger.Error().Err(encErr).Msg("cannot encode event")
			return false
		}
		payloads[i] = b
	}

	metadata, err := e.eventLog.Persist(ctx, e.id, payloads, e.seqNo)
	if err != nil {
		e.logger.Error().Err(err).Msg("cannot persist events")
		return false
	}

	var (
		snapshotState State
		haveSnapshot  bool
	)
	for i := range events {
		e.seqNo++
		seqNo, convErr := NewSeqNo(e.seqNo)
		if convErr != nil {
			e.logger.Error().Err(convErr).Msg("invalid seq_no after persist")
			return false
		}
		if state, snap := e.behavior.HandleEvt(seqNo, &events[i]); snap {
			snapshotState = state
			haveSnapshot = true
		}
	}

	if haveSnapshot {
		stateBytes, encErr := e.codec.StateToBytes(snapshotState)
		if encErr != nil {
			e.logger.Error().Err(encErr).Msg("cannot encode snapshot state")
			return false
		}
		e.logger.Debug().Uint64("seq_no", e.seqNo).Msg("saving snapshot")
		if err := e.snapshotStore.Save(ctx, e.id, e.seqNo, stateBytes, metadata); err != nil {
			e.logger.Error().Err(err).Msg("cannot save snapshot")
			return false
		}
	}

	msg.reply <- cmdResult[Evt]{events: events}
	return true
}
