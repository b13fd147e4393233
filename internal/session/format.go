package session

import (
	"bytes"
	"encoding/binary"

	"wall-controller/internal/codec"
	"wall-controller/internal/scene"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// File layout:
//
//	magic     8 bytes  "WALLSESS"
//	version   u16      format version
//	reserved  u16
//	size      u32      uncompressed body size
//	digest    32 bytes BLAKE3 of the compressed body
//	body      zstd(CBOR(scene.Snapshot))
const (
	magic      = "WALLSESS"
	headerSize = len(magic) + 2 + 2 + 4 + digestSize
	digestSize = 32

	// LegacyVersion marks sessions whose coordinates are normalized to the
	// unit square.
	LegacyVersion = 0

	// FormatVersion is written by Encode.
	FormatVersion = 1

	maxBodySize = 64 << 20
)

var (
	ErrBadMagic       = errors.New("not a session file")
	ErrDigestMismatch = errors.New("session digest mismatch")
	ErrFormatVersion  = errors.New("unsupported session format")
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("session: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("session: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serialises snap with the given format version.
func Encode(snap scene.Snapshot, version int) ([]byte, error) {
	if version < LegacyVersion || version > FormatVersion {
		return nil, errors.Wrapf(ErrFormatVersion, "version %d", version)
	}
	body, err := codec.Marshal(snap)
	if err != nil {
		return nil, err
	}
	compressed := zstdEncoder.EncodeAll(body, nil)
	digest := blake3.Sum256(compressed)

	var buf bytes.Buffer
	buf.Grow(headerSize + len(compressed))
	buf.WriteString(magic)
	var fixed [8]byte
	binary.BigEndian.PutUint16(fixed[0:], uint16(version))
	binary.BigEndian.PutUint32(fixed[4:], uint32(len(body)))
	buf.Write(fixed[:])
	buf.Write(digest[:])
	buf.Write(compressed)
	return buf.Bytes(), nil
}

// Decode parses a session file and returns its snapshot and format version.
func Decode(data []byte) (scene.Snapshot, int, error) {
	var snap scene.Snapshot
	if len(data) < headerSize || string(data[:len(magic)]) != magic {
		return snap, 0, ErrBadMagic
	}
	rest := data[len(magic):]
	version := int(binary.BigEndian.Uint16(rest[0:]))
	size := int(binary.BigEndian.Uint32(rest[4:]))
	var digest [digestSize]byte
	copy(digest[:], rest[8:8+digestSize])
	compressed := rest[8+digestSize:]

	if version > FormatVersion {
		return snap, version, errors.Wrapf(ErrFormatVersion, "version %d", version)
	}
	if size > maxBodySize {
		return snap, version, errors.Errorf("session body too large (%d bytes)", size)
	}
	if blake3.Sum256(compressed) != digest {
		return snap, version, ErrDigestMismatch
	}

	body, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return snap, version, errors.Wrap(err, "zstd decompress")
	}
	if len(body) != size {
		return snap, version, errors.Errorf("session body is %d bytes, header says %d", len(body), size)
	}
	if err := codec.Unmarshal(body, &snap); err != nil {
		return snap, version, err
	}
	return snap, version, nil
}
