// Package pgx is a PostgreSQL-backed EventLog/SnapshotStore pair built
// on jackc/pgx, generalized from the teacher's string-stream,
// JSON-registry EventStore to the bytes-at-the-boundary contracts in
// github.com/go-ges/ges: Store never decodes an event or state itself,
// it only moves already-encoded payloads in and out of two tables.
package pgx

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-ges/ges"
)

// Store is a concrete ges.EventLog and ges.SnapshotStore pair backed by
// a shared connection pool. A single Store may back many entity kinds
// provided they share the same table pair.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// New opens a pool for config and returns a Store over it. When
// config.Setup is true it also creates the events/snapshots tables if
// they do not already exist.
func New(ctx context.Context, config Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("ges-pgx: could not open pool: %w", err)
	}
	s, err := NewWithPool(ctx, pool, config)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wraps an already-open pool, useful for callers (and
// tests) that build the pool from a raw connection string rather than
// the discrete Config fields.
func NewWithPool(ctx context.Context, pool *pgxpool.Pool, config Config) (*Store, error) {
	s := &Store{pool: pool, config: config}
	if config.Setup {
		if err := s.setup(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) setup(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id      uuid    NOT NULL,
			seq_no  bigint  NOT NULL,
			payload bytea   NOT NULL,
			PRIMARY KEY (id, seq_no)
		)`, s.config.EventsTable))
	if err != nil {
		return fmt.Errorf("ges-pgx: could not create events table: %w", err)
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id       uuid        NOT NULL,
			seq_no   bigint      NOT NULL,
			state    bytea       NOT NULL,
			saved_at timestamptz NOT NULL,
			PRIMARY KEY (id)
		)`, s.config.SnapshotsTable))
	if err != nil {
		return fmt.Errorf("ges-pgx: could not create snapshots table: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Persist appends payloads as a contiguous run starting at
// expectedLastSeqNo+1, atomically and with optimistic concurrency
// control, grounded on the teacher's Append.
func (s *Store) Persist(ctx context.Context, id uuid.UUID, payloads [][]byte, expectedLastSeqNo uint64) (ges.Metadata, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ges-pgx: could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var actual uint64
	if err := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(seq_no), 0) FROM %s WHERE id = $1`, s.config.EventsTable),
		id,
	).Scan(&actual); err != nil {
		return nil, fmt.Errorf("ges-pgx: could not read last seq_no: %w", err)
	}
	if actual != expectedLastSeqNo {
		return nil, &SeqNoConflictError{ID: id, Expected: expectedLastSeqNo, Actual: actual}
	}

	seqNo := expectedLastSeqNo
	for _, payload := range payloads {
		seqNo++
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, seq_no, payload) VALUES ($1, $2, $3)`, s.config.EventsTable),
			id, seqNo, payload,
		); err != nil {
			if isUniqueViolation(err) {
				return nil, &SeqNoConflictError{ID: id, Expected: expectedLastSeqNo, Actual: seqNo}
			}
			return nil, fmt.Errorf("ges-pgx: could not insert event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ges-pgx: could not commit transaction: %w", err)
	}
	return nil, nil
}

// LastSeqNo returns 0 if id has no events, otherwise its largest stored
// sequence number.
func (s *Store) LastSeqNo(ctx context.Context, id uuid.UUID) (uint64, error) {
	var last uint64
	if err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(seq_no), 0) FROM %s WHERE id = $1`, s.config.EventsTable),
		id,
	).Scan(&last); err != nil {
		return 0, fmt.Errorf("ges-pgx: could not read last seq_no: %w", err)
	}
	return last, nil
}

// EventsByID yields the events with fromSeqNo <= seq_no <= toSeqNo in
// ascending order, streaming lazily from the underlying pgx.Rows.
func (s *Store) EventsByID(ctx context.Context, id uuid.UUID, fromSeqNo, toSeqNo uint64, _ ges.Metadata) (iter.Seq2[ges.StoredEvent, error], error) {
	return func(yield func(ges.StoredEvent, error) bool) {
		rows, err := s.pool.Query(ctx,
			fmt.Sprintf(`SELECT seq_no, payload FROM %s WHERE id = $1 AND seq_no BETWEEN $2 AND $3 ORDER BY seq_no ASC`, s.config.EventsTable),
			id, fromSeqNo, toSeqNo,
		)
		if err != nil {
			yield(ges.StoredEvent{}, fmt.Errorf("ges-pgx: could not query events: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				seqNo   uint64
				payload []byte
			)
			if err := rows.Scan(&seqNo, &payload); err != nil {
				yield(ges.StoredEvent{}, fmt.Errorf("ges-pgx: could not scan event: %w", err))
				return
			}
			if !yield(ges.StoredEvent{SeqNo: seqNo, Bytes: payload}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(ges.StoredEvent{}, fmt.Errorf("ges-pgx: row iteration failed: %w", err))
		}
	}, nil
}

// Save upserts the snapshot for id, replacing any prior one, grounded
// on the teacher's SaveSnapshot.
func (s *Store) Save(ctx context.Context, id uuid.UUID, seqNo uint64, state []byte, _ ges.Metadata) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, seq_no, state, saved_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET seq_no   = EXCLUDED.seq_no,
		    state    = EXCLUDED.state,
		    saved_at = EXCLUDED.saved_at
		`, s.config.SnapshotsTable),
		id, seqNo, state,
	)
	if err != nil {
		return fmt.Errorf("ges-pgx: could not save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot for id, grounded on the teacher's
// LoadSnapshot.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (ges.Snapshot, bool, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT seq_no, state, saved_at FROM %s WHERE id = $1`, s.config.SnapshotsTable),
		id,
	)

	var (
		seqNo   uint64
		state   []byte
		savedAt time.Time
	)
	if err := row.Scan(&seqNo, &state, &savedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ges.Snapshot{}, false, nil
		}
		return ges.Snapshot{}, false, fmt.Errorf("ges-pgx: could not scan snapshot: %w", err)
	}

	return ges.Snapshot{SeqNo: seqNo, Bytes: state, At: savedAt}, true, nil
}

var (
	_ ges.EventLog      = (*Store)(nil)
	_ ges.SnapshotStore = (*Store)(nil)
)
