// Package convert collects the pure byte-conversion functions an Entity
// needs for its events and state, mirroring the codec bundle of
// spec.md §6. The core package uses only the Binarizer type from here;
// entity kinds pick the codec that fits (JSON for quick prototypes and
// tests, Protobuf for production adapters) and supply the resulting
// Binarizer to ges.Spawn.
package convert

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// EvtToBytes encodes a single event.
type EvtToBytes[Evt any] func(Evt) ([]byte, error)

// EvtFromBytes decodes a single event.
type EvtFromBytes[Evt any] func([]byte) (Evt, error)

// StateToBytes encodes a snapshot state value.
type StateToBytes[State any] func(State) ([]byte, error)

// StateFromBytes decodes a snapshot state value.
type StateFromBytes[State any] func([]byte) (State, error)

// Binarizer bundles the four conversion functions an entity kind needs,
// matching the eventsourced crate's Binarizer type.
type Binarizer[Evt, State any] struct {
	EvtToBytes     EvtToBytes[Evt]
	EvtFromBytes   EvtFromBytes[Evt]
	StateToBytes   StateToBytes[State]
	StateFromBytes StateFromBytes[State]
}

// JSON builds a Binarizer for Evt and State that encodes both events and state as
// JSON. It is the lightest-weight codec here, suited to local runs,
// examples and tests that would rather not maintain .proto schemas.
func JSON[Evt, State any]() Binarizer[Evt, State] {
	return Binarizer[Evt, State]{
		EvtToBytes:     JSONEncode[Evt],
		EvtFromBytes:   JSONDecode[Evt],
		StateToBytes:   JSONEncode[State],
		StateFromBytes: JSONDecode[State],
	}
}

// JSONEncode marshals v as JSON.
func JSONEncode[T any](v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert: cannot encode json: %w", err)
	}
	return b, nil
}

// JSONDecode unmarshals b into a T.
func JSONDecode[T any](b []byte) (T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("convert: cannot decode json: %w", err)
	}
	return v, nil
}

// Protobuf builds a Binarizer for a proto.Message-backed entity kind,
// the reference binary codec named in spec.md §6. newEvt/newState must
// return a fresh zero-value message of the concrete type to decode into;
// this sidesteps Go's lack of generic "new T()" for interface-constrained
// type parameters.
func Protobuf[Evt, State proto.Message](newEvt func() Evt, newState func() State) Binarizer[Evt, State] {
	return Binarizer[Evt, State]{
		EvtToBytes:     ProtobufEncode[Evt],
		EvtFromBytes:   protobufDecode(newEvt),
		StateToBytes:   ProtobufEncode[State],
		StateFromBytes: protobufDecode(newState),
	}
}

// ProtobufEncode marshals v using the standard protobuf binary wire
// format.
func ProtobufEncode[T proto.Message](v T) ([]byte, error) {
	b, err := proto.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert: cannot encode protobuf: %w", err)
	}
	return b, nil
}

func protobufDecode[T proto.Message](newT func() T) func([]byte) (T, error) {
	return func(b []byte) (T, error) {
		v := newT()
		if err := proto.Unmarshal(b, v); err != nil {
			var zero T
			return zero, fmt.Errorf("convert: cannot decode protobuf: %w", err)
		}
		return v, nil
	}
}
