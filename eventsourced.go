package ges

// EventSourced is user-supplied command/event/snapshot logic for one entity
// kind. A value implementing EventSourced carries the entity's mutable
// in-memory state; it is owned exclusively by the Entity task that runs it
// and must never be shared or mutated from outside the run loop.
//
// Cmd, Evt and State are the command, event and snapshot state types for
// this entity kind; they are opaque to the runtime.
type EventSourced[Cmd, Evt, State any] interface {
	// HandleCmd validates cmd against the current in-memory state and
	// returns the events it produces, or a domain error rejecting the
	// command. HandleCmd MUST be pure: it must not mutate the receiver.
	// An empty, non-error result means "accepted no-op": the runtime
	// persists nothing and reports success with zero events.
	HandleCmd(cmd Cmd) ([]Evt, error)

	// HandleEvt applies a single persisted event to the in-memory state.
	// It is called exactly once per produced event, in production order,
	// only after the event has been durably persisted. seqNo is the
	// event's post-increment sequence number. HandleEvt MAY mutate the
	// receiver. Returning (state, true) signals the runtime to snapshot
	// at this seqNo; when a batch produces more than one such signal,
	// the runtime snapshots only the last (highest seqNo) one.
	HandleEvt(seqNo SeqNo, evt *Evt) (state State, snapshot bool)

	// SetState installs a loaded snapshot. It is invoked at most once,
	// during recovery, before any event is replayed and before any
	// command is handled.
	SetState(state State)
}
