// Package framecodec implements the length-prefixed, checksummed frame
// format carrying wire.Envelope values over a duplex byte stream.
package framecodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/atom-ide/atomd/internal/wire"
)

// Magic is the constant 4-byte sequence every frame header starts with.
var Magic = [4]byte{'A', 'T', 'O', 'M'}

// ProtocolVersion is the only version this codec understands.
const ProtocolVersion byte = 1

// HeaderSize is the fixed on-wire size of a frame header: magic(4) +
// version(1) + flags(1) + length(4) + checksum(4).
const HeaderSize = 14

// DefaultMaxFrameSize is the default per-frame payload cap (1 MiB).
const DefaultMaxFrameSize = 1 << 20

// ErrInvalidFrame is the sentinel wrapped into every frame-format error;
// it is always fatal for the connection.
var ErrInvalidFrame = errors.New("framecodec: invalid frame")

// Codec encodes and decodes frames against a configured per-frame cap.
// Stateless beyond that cap and safe for concurrent use.
type Codec struct {
	MaxFrameSize uint32
}

// New returns a Codec with the given cap, or DefaultMaxFrameSize if zero.
func New(maxFrameSize uint32) *Codec {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{MaxFrameSize: maxFrameSize}
}

// EncodeTo serializes env and writes the header, then the payload, to w.
func (c *Codec) EncodeTo(w io.Writer, env wire.Envelope) error {
	payload := wire.Encode(env)
	if uint32(len(payload)) > c.MaxFrameSize {
		return fmt.Errorf("%w: Message too large: %d bytes", ErrInvalidFrame, len(payload))
	}

	var header [HeaderSize]byte
	copy(header[0:4], Magic[:])
	header[4] = ProtocolVersion
	header[5] = 0 // flags: reserved, always 0
	binary.LittleEndian.PutUint32(header[6:10], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[10:14], crc32.ChecksumIEEE(payload))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("framecodec: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("framecodec: write payload: %w", err)
		}
	}
	return nil
}

// EncodeBytes serializes env into a standalone frame buffer.
func (c *Codec) EncodeBytes(env wire.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.EncodeTo(&buf, env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads exactly one frame from r and returns the decoded envelope.
// A clean disconnect at a frame boundary is reported as io.EOF; any other
// failure (bad magic, unsupported version, oversize length, checksum
// mismatch, truncated payload, malformed envelope) is wrapped in
// ErrInvalidFrame and is fatal for the connection.
func (c *Codec) Decode(r io.Reader) (wire.Envelope, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return wire.Envelope{}, io.EOF
		}
		return wire.Envelope{}, fmt.Errorf("%w: header read: %w", ErrInvalidFrame, err)
	}

	if header[0] != Magic[0] || header[1] != Magic[1] || header[2] != Magic[2] || header[3] != Magic[3] {
		return wire.Envelope{}, fmt.Errorf("%w: bad magic", ErrInvalidFrame)
	}
	if version := header[4]; version != ProtocolVersion {
		return wire.Envelope{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidFrame, version)
	}
	length := binary.LittleEndian.Uint32(header[6:10])
	if length > c.MaxFrameSize {
		return wire.Envelope{}, fmt.Errorf("%w: Message too large: %d bytes", ErrInvalidFrame, length)
	}
	checksum := binary.LittleEndian.Uint32(header[10:14])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return wire.Envelope{}, fmt.Errorf("%w: truncated payload: %w", ErrInvalidFrame, err)
		}
	}
	if actual := crc32.ChecksumIEEE(payload); actual != checksum {
		return wire.Envelope{}, fmt.Errorf("%w: Checksum mismatch", ErrInvalidFrame)
	}

	env, err := wire.Decode(payload)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return env, nil
}
