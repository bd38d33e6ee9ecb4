package queue

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/crategate/crategate/internal/engine"
)

// payload is the request a deferred job replays. It is persisted with the
// job so a restart can re-run SCHEDULED jobs.
type payload struct {
	APIKey string `cbor:"1,keyasint,omitempty"`
	// Export is set for export jobs.
	Export *engine.ExportRequest `cbor:"2,keyasint,omitempty"`
	// Document is the JSON-LD metadata of validate jobs, already unpacked
	// from its archive.
	Document []byte `cbor:"3,keyasint,omitempty"`
}

// encMode uses Core Deterministic Encoding: the same payload always
// produces identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("queue: CBOR encoder initialization failed: " + err.Error())
	}
}

func encodePayload(p payload) ([]byte, error) {
	b, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	return b, nil
}

func decodePayload(b []byte) (payload, error) {
	var p payload
	if len(b) == 0 {
		return p, errors.New("job has no payload")
	}
	if err := cbor.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("decode job payload: %w", err)
	}
	return p, nil
}
