package pgx

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSeqNoConflict is the sentinel matched by errors.Is for a
// SeqNoConflictError, mirroring the teacher's VersionConflictError
// sentinel pattern.
var ErrSeqNoConflict = errors.New("ges-pgx: seq_no conflict")

// SeqNoConflictError reports a Persist call whose expectedLastSeqNo did
// not match the stream's actual last sequence number.
type SeqNoConflictError struct {
	ID       uuid.UUID
	Expected uint64
	Actual   uint64
}

func (e *SeqNoConflictError) Error() string {
	return fmt.Sprintf("ges-pgx: entity %s: expected last_seq_no %d, actual %d", e.ID, e.Expected, e.Actual)
}

func (e *SeqNoConflictError) Is(target error) bool {
	return target == ErrSeqNoConflict
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}
