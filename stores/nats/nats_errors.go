package nats

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrSeqNoConflict is the sentinel matched by errors.Is for a
// SeqNoConflictError, mirroring stores/pgx.ErrSeqNoConflict.
var ErrSeqNoConflict = errors.New("ges-nats: seq_no conflict")

// SeqNoConflictError reports a Persist call whose expectedLastSeqNo did
// not match the value tracked in the seq_no KeyValue bucket.
type SeqNoConflictError struct {
	ID       uuid.UUID
	Expected uint64
	Actual   uint64
}

func (e *SeqNoConflictError) Error() string {
	return fmt.Sprintf("ges-nats: entity %s: expected last_seq_no %d, actual %d", e.ID, e.Expected, e.Actual)
}

func (e *SeqNoConflictError) Is(target error) bool {
	return target == ErrSeqNoConflict
}
