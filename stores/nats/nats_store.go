// Package nats is a NATS JetStream-backed EventLog/SnapshotStore pair,
// the Go analogue of the original's async-nats-based eventsourced-nats
// crate (see original_source). Events live as ordinary JetStream
// messages on a per-entity subject; a dedicated KeyValue bucket tracks
// each entity's last_seq_no so LastSeqNo never has to scan a stream,
// and a second bucket holds snapshots.
package nats

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/go-ges/ges"
)

const seqNoHeader = "Ges-Seq-No"

// Store is a concrete ges.EventLog and ges.SnapshotStore pair backed by
// a JetStream stream plus two KeyValue buckets.
type Store struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config

	seqNoKV     jetstream.KeyValue
	snapshotsKV jetstream.KeyValue
}

// New connects to config.URL and returns a Store. When config.Setup is
// true it also creates the backing stream and KeyValue buckets if they
// do not already exist.
func New(ctx context.Context, config Config) (*Store, error) {
	nc, err := nats.Connect(config.URL, nats.Name("ges"))
	if err != nil {
		return nil, fmt.Errorf("ges-nats: could not connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ges-nats: could not open jetstream context: %w", err)
	}

	s := &Store{nc: nc, js: js, config: config}
	if config.Setup {
		if err := s.setup(ctx); err != nil {
			nc.Close()
			return nil, err
		}
	} else {
		seqNoKV, err := js.KeyValue(ctx, config.seqNoBucket())
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("ges-nats: could not open seq_no bucket: %w", err)
		}
		snapshotsKV, err := js.KeyValue(ctx, config.snapshotsBucket())
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("ges-nats: could not open snapshots bucket: %w", err)
		}
		s.seqNoKV, s.snapshotsKV = seqNoKV, snapshotsKV
	}
	return s, nil
}

func (s *Store) setup(ctx context.Context) error {
	if _, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     s.config.EventsBucket,
		Subjects: []string{s.config.eventsSubjectPrefix() + ".>"},
	}); err != nil {
		return fmt.Errorf("ges-nats: could not create stream: %w", err)
	}

	seqNoKV, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: s.config.seqNoBucket()})
	if err != nil {
		return fmt.Errorf("ges-nats: could not create seq_no bucket: %w", err)
	}
	snapshotsKV, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: s.config.snapshotsBucket()})
	if err != nil {
		return fmt.Errorf("ges-nats: could not create snapshots bucket: %w", err)
	}
	s.seqNoKV, s.snapshotsKV = seqNoKV, snapshotsKV
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() {
	s.nc.Close()
}

// Persist publishes payloads in order onto the entity's subject, each
// tagged with its assigned seq_no via a message header, then records
// the new last_seq_no in the seq_no bucket with a compare-and-swap
// against expectedLastSeqNo so concurrent writers (there should never
// be more than one per id, but the bucket enforces it regardless) never
// silently overwrite each other.
func (s *Store) Persist(ctx context.Context, id uuid.UUID, payloads [][]byte, expectedLastSeqNo uint64) (ges.Metadata, error) {
	key := id.String()

	actual, revision, err := s.readSeqNo(ctx, key)
	if err != nil {
		return nil, err
	}
	if actual != expectedLastSeqNo {
		return nil, &SeqNoConflictError{ID: id, Expected: expectedLastSeqNo, Actual: actual}
	}

	seqNo := expectedLastSeqNo
	var lastStreamSeq uint64
	for _, payload := range payloads {
		seqNo++
		msg := &nats.Msg{
			Subject: s.config.eventSubject(key),
			Data:    payload,
			Header:  nats.Header{seqNoHeader: []string{strconv.FormatUint(seqNo, 10)}},
		}
		ack, err := s.js.PublishMsg(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("ges-nats: could not publish event: %w", err)
		}
		lastStreamSeq = ack.Sequence
	}

	if err := s.writeSeqNo(ctx, key, seqNo, revision); err != nil {
		return nil, &SeqNoConflictError{ID: id, Expected: expectedLastSeqNo, Actual: actual}
	}

	return lastStreamSeq, nil
}

func (s *Store) readSeqNo(ctx context.Context, key string) (value uint64, revision uint64, err error) {
	entry, err := s.seqNoKV.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("ges-nats: could not read seq_no: %w", err)
	}
	v, parseErr := strconv.ParseUint(string(entry.Value()), 10, 64)
	if parseErr != nil {
		return 0, 0, fmt.Errorf("ges-nats: corrupt seq_no value: %w", parseErr)
	}
	return v, entry.Revision(), nil
}

func (s *Store) writeSeqNo(ctx context.Context, key string, seqNo, priorRevision uint64) error {
	value := []byte(strconv.FormatUint(seqNo, 10))
	if priorRevision == 0 {
		_, err := s.seqNoKV.Create(ctx, key, value)
		return err
	}
	_, err := s.seqNoKV.Update(ctx, key, value, priorRevision)
	return err
}

// LastSeqNo returns 0 if id has no entry in the seq_no bucket, otherwise
// its tracked value.
func (s *Store) LastSeqNo(ctx context.Context, id uuid.UUID) (uint64, error) {
	v, _, err := s.readSeqNo(ctx, id.String())
	return v, err
}

// EventsByID yields the events with fromSeqNo <= seq_no <= toSeqNo in
// ascending order. It opens an ephemeral ordered consumer filtered to
// the entity's subject. When metadata carries a stream sequence returned
// by a prior Persist call (a uint64), the consumer starts just after it
// instead of at the beginning of the stream; otherwise it reads from the
// start. Save does not keep metadata and Load returns a snapshot without
// it, so recovery through this Store always reads the subject from the
// start and skips events below fromSeqNo. Iteration ends after the event
// at toSeqNo. Per-entity publish order on a single subject always
// matches seq_no order, so this never needs to look at any other
// entity's messages.
func (s *Store) EventsByID(ctx context.Context, id uuid.UUID, fromSeqNo, toSeqNo uint64, metadata ges.Metadata) (iter.Seq2[ges.StoredEvent, error], error) {
	subject := s.config.eventSubject(id.String())
	consumerConfig := jetstream.OrderedConsumerConfig{FilterSubjects: []string{subject}}
	if lastStreamSeq, ok := metadata.(uint64); ok && lastStreamSeq > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = lastStreamSeq + 1
	}
	consumer, err := s.js.OrderedConsumer(ctx, s.config.EventsBucket, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("ges-nats: could not open ordered consumer: %w", err)
	}

	return func(yield func(ges.StoredEvent, error) bool) {
		msgs, err := consumer.Messages()
		if err != nil {
			yield(ges.StoredEvent{}, fmt.Errorf("ges-nats: could not start consuming: %w", err))
			return
		}
		defer msgs.Stop()

		for {
			msg, err := msgs.Next()
			if err != nil {
				yield(ges.StoredEvent{}, fmt.Errorf("ges-nats: could not read next message: %w", err))
				return
			}
			_ = msg.Ack()

			seqNo, parseErr := strconv.ParseUint(msg.Headers().Get(seqNoHeader), 10, 64)
			if parseErr != nil {
				yield(ges.StoredEvent{}, fmt.Errorf("ges-nats: message missing %s header: %w", seqNoHeader, parseErr))
				return
			}
			if seqNo < fromSeqNo {
				continue
			}
			if seqNo > toSeqNo {
				return
			}
			if !yield(ges.StoredEvent{SeqNo: seqNo, Bytes: msg.Data()}, nil) {
				return
			}
			if seqNo == toSeqNo {
				return
			}
		}
	}, nil
}

// Save upserts the snapshot for id in the snapshots bucket.
func (s *Store) Save(ctx context.Context, id uuid.UUID, seqNo uint64, state []byte, _ ges.Metadata) error {
	env := convertEnvelope(seqNo, state)
	if _, err := s.snapshotsKV.Put(ctx, id.String(), env); err != nil {
		return fmt.Errorf("ges-nats: could not save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot for id, or found=false if the
// snapshots bucket has no entry (or the key was deleted/purged).
func (s *Store) Load(ctx context.Context, id uuid.UUID) (ges.Snapshot, bool, error) {
	entry, err := s.snapshotsKV.Get(ctx, id.String())
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ges.Snapshot{}, false, nil
		}
		return ges.Snapshot{}, false, fmt.Errorf("ges-nats: could not load snapshot: %w", err)
	}
	seqNo, state, err := parseEnvelope(entry.Value())
	if err != nil {
		return ges.Snapshot{}, false, err
	}
	return ges.Snapshot{SeqNo: seqNo, Bytes: state}, true, nil
}

var (
	_ ges.EventLog      = (*Store)(nil)
	_ ges.SnapshotStore = (*Store)(nil)
)
