package ges

import (
	"fmt"
)

// SpawnErrorKind discriminates the stage of recovery that failed.
type SpawnErrorKind int

const (
	// LoadSnapshot means SnapshotStore.Load failed, or the loaded state
	// failed to decode.
	LoadSnapshot SpawnErrorKind = iota
	// LastSeqNo means EventLog.LastSeqNo failed.
	LastSeqNo
	// EventsByID means EventLog.EventsByID failed to start iterating.
	EventsByID
	// NextEvent means an error was yielded while ranging over the event
	// stream, or a yielded event failed to decode.
	NextEvent
	// Inconsistent means the stores disagree: a stored snapshot's seq_no
	// is greater than the log's last_seq_no. This indicates operator
	// intervention is required; it is never expected in a healthy
	// system.
	Inconsistent
)

func (k SpawnErrorKind) String() string {
	switch k {
	case LoadSnapshot:
		return "LoadSnapshot"
	case LastSeqNo:
		return "LastSeqNo"
	case EventsByID:
		return "EventsByID"
	case NextEvent:
		return "NextEvent"
	case Inconsistent:
		return "Inconsistent"
	default:
		return fmt.Sprintf("SpawnErrorKind(%d)", int(k))
	}
}

// ErrInconsistentRecovery is the sentinel matched by errors.Is for a
// SpawnError of kind Inconsistent.
var ErrInconsistentRecovery = fmt.Errorf("ges: snapshot seq_no exceeds event log last_seq_no")

// SpawnError is returned by Spawn when recovery fails. It wraps the
// underlying storage or codec error and records which stage failed.
type SpawnError struct {
	Kind SpawnErrorKind
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("ges: spawn failed at %s: %v", e.Kind, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrInconsistentRecovery) to match an
// Inconsistent SpawnError regardless of its wrapped error value.
func (e *SpawnError) Is(target error) bool {
	return e.Kind == Inconsistent && target == ErrInconsistentRecovery
}

// RefErrorKind discriminates why EntityRef.HandleCmd failed.
type RefErrorKind int

const (
	// InvalidCommand means the behavior's HandleCmd rejected the
	// command; this is a client error and the entity continues serving
	// further commands.
	InvalidCommand RefErrorKind = iota
	// SendCmd means the command channel was already closed: the entity
	// has already terminated.
	SendCmd
	// EntityTerminated means the reply was never delivered: the entity
	// task died while handling this command (a fatal storage error).
	EntityTerminated
)

func (k RefErrorKind) String() string {
	switch k {
	case InvalidCommand:
		return "InvalidCommand"
	case SendCmd:
		return "SendCmd"
	case EntityTerminated:
		return "EntityTerminated"
	default:
		return fmt.Sprintf("RefErrorKind(%d)", int(k))
	}
}

// ErrEntityTerminated is the sentinel matched by errors.Is for a RefError
// of kind SendCmd or EntityTerminated.
var ErrEntityTerminated = fmt.Errorf("ges: entity already terminated")

// RefError is returned by EntityRef.HandleCmd.
type RefError struct {
	Kind RefErrorKind
	Err  error
}

func (e *RefError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ges: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("ges: %s", e.Kind)
}

func (e *RefError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrEntityTerminated) to match either
// termination-related kind.
func (e *RefError) Is(target error) bool {
	return target == ErrEntityTerminated && (e.Kind == SendCmd || e.Kind == EntityTerminated)
}
