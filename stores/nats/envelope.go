package nats

import (
	"fmt"

	"github.com/go-ges/ges/convert"
)

func convertEnvelope(seqNo uint64, state []byte) []byte {
	return convert.EncodeSnapshotEnvelope(convert.SnapshotEnvelope{SeqNo: seqNo, State: state})
}

func parseEnvelope(b []byte) (seqNo uint64, state []byte, err error) {
	env, err := convert.DecodeSnapshotEnvelope(b)
	if err != nil {
		return 0, nil, fmt.Errorf("ges-nats: corrupt snapshot envelope: %w", err)
	}
	return env.SeqNo, env.State, nil
}
