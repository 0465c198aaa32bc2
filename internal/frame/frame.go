package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Delimiter terminates every frame on the wire.
const Delimiter byte = '\n'

// ErrFrameTooLarge reports a frame that grew past the decoder limit without a delimiter.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Message is a structured record exchanged over the bus.
type Message map[string]any

// String returns the named field when it holds a non-empty string.
func (m Message) String(field string) (string, bool) {
	if m == nil {
		return "", false
	}
	raw, ok := m[field]
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// Encode serializes msg and appends the delimiter.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		msg = Message{}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if bytes.IndexByte(data, Delimiter) >= 0 {
		return nil, errors.New("encode frame: serialization contains delimiter")
	}
	return append(data, Delimiter), nil
}

// DecodeError describes a single frame that could not be parsed.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Result carries one decoded frame or the error for that frame.
type Result struct {
	Message Message
	Err     error
}

// Decoder reassembles frames from a chunked byte stream. It is not safe for
// concurrent use; each connection owns its own Decoder.
type Decoder struct {
	// MaxFrameBytes caps the retained tail; zero disables the limit.
	MaxFrameBytes int

	buf      []byte
	skipping bool
}

// NewDecoder returns a decoder with the given frame size limit.
func NewDecoder(maxFrameBytes int) *Decoder {
	return &Decoder{MaxFrameBytes: maxFrameBytes}
}

// Feed appends chunk to the stream and returns every frame it completed, in order.
func (d *Decoder) Feed(chunk []byte) []Result {
	if len(chunk) == 0 {
		return nil
	}
	var results []Result
	data := chunk
	for len(data) > 0 {
		idx := bytes.IndexByte(data, Delimiter)
		if idx < 0 {
			if d.skipping {
				return results
			}
			d.buf = append(d.buf, data...)
			if d.MaxFrameBytes > 0 && len(d.buf) > d.MaxFrameBytes {
				results = append(results, Result{Err: &DecodeError{Raw: d.head(), Err: ErrFrameTooLarge}})
				d.buf = d.buf[:0]
				d.skipping = true
			}
			return results
		}

		segment := data[:idx]
		data = data[idx+1:]
		if d.skipping {
			d.skipping = false
			continue
		}

		var unit []byte
		if len(d.buf) > 0 {
			d.buf = append(d.buf, segment...)
			unit = d.buf
		} else {
			unit = segment
		}
		if d.MaxFrameBytes > 0 && len(unit) > d.MaxFrameBytes {
			results = append(results, Result{Err: &DecodeError{Raw: clip(unit, 64), Err: ErrFrameTooLarge}})
		} else if res, ok := decodeUnit(unit); ok {
			results = append(results, res)
		}
		d.buf = d.buf[:0]
	}
	return results
}

// Buffered reports how many bytes are waiting for a delimiter.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.skipping = false
}

func (d *Decoder) head() []byte {
	return clip(d.buf, 64)
}

func decodeUnit(unit []byte) (Result, bool) {
	if len(bytes.TrimSpace(unit)) == 0 {
		return Result{}, false
	}
	var msg Message
	if err := json.Unmarshal(unit, &msg); err != nil {
		return Result{Err: &DecodeError{Raw: clip(unit, len(unit)), Err: err}}, true
	}
	if msg == nil {
		return Result{Err: &DecodeError{Raw: clip(unit, len(unit)), Err: errors.New("frame is not an object")}}, true
	}
	return Result{Message: msg}, true
}

func clip(b []byte, limit int) []byte {
	if len(b) > limit {
		b = b[:limit]
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
