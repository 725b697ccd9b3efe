package mem

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrSeqNoConflict is the sentinel matched by errors.Is for a
// SeqNoConflictError.
var ErrSeqNoConflict = fmt.Errorf("mem: seq_no conflict")

// SeqNoConflictError reports that Persist's expectedLastSeqNo did not
// match the stream's actual length, i.e. a concurrent writer got there
// first.
type SeqNoConflictError struct {
	ID       uuid.UUID
	Expected uint64
	Actual   uint64
}

func (e *SeqNoConflictError) Error() string {
	return fmt.Sprintf("mem: seq_no conflict for %s: expected=%d actual=%d", e.ID, e.Expected, e.Actual)
}

// Is allows errors.Is(err, ErrSeqNoConflict) to match.
func (e *SeqNoConflictError) Is(target error) bool {
	return target == ErrSeqNoConflict
}
