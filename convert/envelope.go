package convert

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// SnapshotEnvelope is the two-field wire message { seq_no: uint64, state:
// bytes } named in spec.md §6, used by adapters that can only store a
// single opaque blob per key (e.g. a KV bucket) and so must fold the
// sequence number into the blob itself rather than keeping it in a
// separate column. It is encoded/decoded with the raw protobuf wire
// format via protowire, without a generated .proto schema, since its
// shape never changes and is entirely internal to such adapters.
type SnapshotEnvelope struct {
	SeqNo uint64
	State []byte
}

const (
	envelopeSeqNoField = protowire.Number(1)
	envelopeStateField = protowire.Number(2)
)

// EncodeSnapshotEnvelope serializes e to bytes.
func EncodeSnapshotEnvelope(e SnapshotEnvelope) []byte {
	var b []byte
	b = protowire.AppendTag(b, envelopeSeqNoField, protowire.VarintType)
	b = protowire.AppendVarint(b, e.SeqNo)
	b = protowire.AppendTag(b, envelopeStateField, protowire.BytesType)
	b = protowire.AppendBytes(b, e.State)
	return b
}

// DecodeSnapshotEnvelope parses bytes produced by EncodeSnapshotEnvelope.
func DecodeSnapshotEnvelope(b []byte) (SnapshotEnvelope, error) {
	var e SnapshotEnvelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return SnapshotEnvelope{}, fmt.Errorf("convert: cannot consume snapshot envelope tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case envelopeSeqNoField:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return SnapshotEnvelope{}, fmt.Errorf("convert: cannot consume snapshot envelope seq_no: %w", protowire.ParseError(n))
			}
			e.SeqNo = v
			b = b[n:]
		case envelopeStateField:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return SnapshotEnvelope{}, fmt.Errorf("convert: cannot consume snapshot envelope state: %w", protowire.ParseError(n))
			}
			e.State = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return SnapshotEnvelope{}, fmt.Errorf("convert: cannot skip unknown snapshot envelope field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}
