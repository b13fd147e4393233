// Package codec encodes the snapshot structs exchanged between master and
// wall processes and stored in session files.
package codec

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// encMode uses Core Deterministic Encoding so that the same snapshot always
// produces identical bytes on every rank.
var encMode cbor.EncMode

// decMode ignores unknown fields so that older walls accept newer snapshots.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %T", v)
	}
	return data, nil
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %T", v)
	}
	return nil
}

// IntSize is the encoded size of an integer used by collective operations.
const IntSize = 8

// PutInt encodes v as a little-endian int64.
func PutInt(v int) []byte {
	buf := make([]byte, IntSize)
	binary.LittleEndian.PutUint64(buf, uint64(int64(v)))
	return buf
}

// Int decodes a value produced by PutInt.
func Int(buf []byte) (int, error) {
	if len(buf) != IntSize {
		return 0, errors.Errorf("integer payload has %d bytes, want %d", len(buf), IntSize)
	}
	return int(int64(binary.LittleEndian.Uint64(buf))), nil
}
