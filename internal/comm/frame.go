package comm

import (
	"encoding/binary"
	"io"

	"wall-controller/internal/message"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

const (
	headerSize = 16

	// compressThreshold is the payload size above which frames are
	// lz4-compressed when that makes them smaller.
	compressThreshold = 64 << 10

	maxFrameSize = 1 << 30

	flagLZ4 uint8 = 1
)

type kind uint8

const (
	kindPointToPoint kind = iota + 1
	kindBroadcast
	kindCollective
)

func (k kind) valid() bool {
	return k >= kindPointToPoint && k <= kindCollective
}

type frame struct {
	kind    kind
	typ     message.Type
	payload []byte
}

// Header layout, big endian:
//
//	0  kind
//	1  flags
//	2  reserved
//	4  message type
//	8  payload size
//	12 wire size
func writeFrame(w io.Writer, f frame) error {
	payload := f.payload
	var flags uint8
	if len(payload) > compressThreshold {
		if c, ok := compress(payload); ok {
			payload = c
			flags |= flagLZ4
		}
	}

	buf := make([]byte, headerSize+len(payload))
	buf[0] = byte(f.kind)
	buf[1] = flags
	binary.BigEndian.PutUint32(buf[4:], uint32(f.typ))
	binary.BigEndian.PutUint32(buf[8:], uint32(len(f.payload)))
	binary.BigEndian.PutUint32(buf[12:], uint32(len(payload)))
	copy(buf[headerSize:], payload)

	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return frame{}, err
	}
	f := frame{
		kind: kind(hdr[0]),
		typ:  message.Type(binary.BigEndian.Uint32(hdr[4:])),
	}
	if !f.kind.valid() {
		return frame{}, errors.Errorf("unknown frame kind %d", hdr[0])
	}
	flags := hdr[1]
	size := binary.BigEndian.Uint32(hdr[8:])
	wire := binary.BigEndian.Uint32(hdr[12:])
	if size > maxFrameSize || wire > maxFrameSize {
		return frame{}, errors.Errorf("frame too large (%d bytes)", size)
	}

	payload := make([]byte, wire)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame{}, errors.Wrap(err, "read payload")
	}
	if flags&flagLZ4 != 0 {
		raw := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return frame{}, errors.Wrap(err, "lz4 decompress")
		}
		if n != int(size) {
			return frame{}, errors.Errorf("lz4 decompressed %d bytes, want %d", n, size)
		}
		payload = raw
	} else if wire != size {
		return frame{}, errors.Errorf("uncompressed frame size mismatch: %d != %d", wire, size)
	}
	f.payload = payload
	return f, nil
}

func compress(src []byte) ([]byte, bool) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil || n == 0 || n >= len(src) {
		return nil, false
	}
	return dst[:n], true
}
