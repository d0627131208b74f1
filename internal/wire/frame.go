// Package wire implements the length-prefixed JSON frame protocol used
// between registration agents and the prismd server: four octets of
// big-endian length followed by that many octets of UTF-8 JSON.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// FrameHeaderSize is the number of octets in the length prefix.
	FrameHeaderSize = 4

	// DefaultMaxMessageSize is the default per-frame payload cap in bytes.
	DefaultMaxMessageSize = 65536

	// DefaultMaxBufferSize is the default per-connection receive buffer cap
	// in bytes.
	DefaultMaxBufferSize = 1048576
)

// ErrFrameTooLarge is returned when a frame's declared length exceeds the
// configured maximum message size. Connection-fatal per the wire contract.
var ErrFrameTooLarge = errors.New("wire: frame exceeds max message size")

// ErrBufferOverflow is returned when the per-connection receive buffer would
// exceed the configured maximum buffer size. Connection-fatal.
var ErrBufferOverflow = errors.New("wire: receive buffer exceeds max buffer size")

// ErrDecodeError wraps a JSON/UTF-8 decode failure for a single frame's
// payload. Connection-fatal: the stream position after a malformed payload
// cannot be trusted for further framing.
type ErrDecodeError struct {
	Err error
}

func (e *ErrDecodeError) Error() string { return fmt.Sprintf("wire: decode error: %v", e.Err) }
func (e *ErrDecodeError) Unwrap() error { return e.Err }

// Encode serializes v to a length-prefixed JSON frame. It fails if the
// serialized payload would exceed maxMessageSize.
func Encode(v interface{}, maxMessageSize int) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}
	// json.Encoder.Encode appends a trailing newline; the frame length must
	// reflect exactly what we send.
	payload := bytes.TrimRight(buf.Bytes(), "\n")

	if len(payload) > maxMessageSize {
		return nil, ErrFrameTooLarge
	}

	out := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[:FrameHeaderSize], uint32(len(payload)))
	copy(out[FrameHeaderSize:], payload)
	return out, nil
}

// Decoder incrementally reconstructs JSON messages from a stream of framed
// octets, buffering partial frames across reads.
type Decoder struct {
	maxMessageSize int
	maxBufferSize  int
	buf            []byte
}

// NewDecoder creates a Decoder enforcing the given per-frame and
// per-connection size caps. A zero value for either falls back to the
// package default.
func NewDecoder(maxMessageSize, maxBufferSize int) *Decoder {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultMaxBufferSize
	}
	return &Decoder{maxMessageSize: maxMessageSize, maxBufferSize: maxBufferSize}
}

// Feed appends newly received octets to the decoder's buffer and extracts
// every complete frame it can. It returns the raw JSON payloads of all
// messages emitted during this call, in arrival order, along with an error
// if one was encountered. Messages already emitted before an error occurred
// are still returned — the caller decides whether the connection survives
// the error (only FrameTooLarge/BufferOverflow/DecodeError are fatal, and
// that decision belongs to the connection handler, not this decoder).
func (d *Decoder) Feed(data []byte) ([]json.RawMessage, error) {
	d.buf = append(d.buf, data...)
	if len(d.buf) > d.maxBufferSize {
		return nil, ErrBufferOverflow
	}

	var out []json.RawMessage
	for {
		msg, consumed, err := d.extractOne()
		if err != nil {
			return out, err
		}
		if !consumed {
			break
		}
		out = append(out, msg)
	}
	return out, nil
}

// extractOne attempts to pull a single complete frame off the front of the
// buffer. consumed is false (with a nil error) when more data is needed.
func (d *Decoder) extractOne() (msg json.RawMessage, consumed bool, err error) {
	if len(d.buf) < FrameHeaderSize {
		return nil, false, nil
	}

	n := binary.BigEndian.Uint32(d.buf[:FrameHeaderSize])
	if int(n) > d.maxMessageSize {
		return nil, false, ErrFrameTooLarge
	}

	total := FrameHeaderSize + int(n)
	if len(d.buf) < total {
		return nil, false, nil
	}

	payload := make([]byte, n)
	copy(payload, d.buf[FrameHeaderSize:total])
	d.buf = d.buf[total:]

	if !utf8.Valid(payload) || !json.Valid(payload) {
		return nil, false, &ErrDecodeError{Err: fmt.Errorf("invalid JSON or UTF-8 in %d-byte payload", len(payload))}
	}

	return json.RawMessage(payload), true, nil
}

// Pending reports the number of buffered-but-not-yet-emitted octets.
func (d *Decoder) Pending() int {
	return len(d.buf)
}
