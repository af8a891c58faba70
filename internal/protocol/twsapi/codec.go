// Package twsapi implements the TWS API wire format: length-prefixed frames
// of null-terminated text fields, the message catalog, per-kind request
// parsers and response builders.
//
// A frame is `len:u32be || body` where body is a sequence of fields, each
// terminated by a single NUL byte. Field text is latin-1: values are carried
// byte-for-byte, so every byte round-trips without transcoding. The first
// field of a framed body is the decimal message kind; the only exception is
// the handshake reply, which carries no kind.
package twsapi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Unset sentinels for optional numeric fields. An empty wire field decodes
// to the sentinel, and the sentinel encodes back to an empty field. This
// keeps "absent" distinct from zero, matching the vendor API.
const (
	UnsetInt   int64   = math.MaxInt64
	UnsetFloat float64 = math.MaxFloat64
)

// Writer accumulates null-terminated fields and produces a framed message.
// The zero value is ready to use.
type Writer struct {
	buf []byte
}

// String appends a string field.
func (w *Writer) String(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// Int appends an integer field, or an empty field for UnsetInt.
func (w *Writer) Int(v int64) {
	if v == UnsetInt {
		w.Empty()
		return
	}
	w.buf = strconv.AppendInt(w.buf, v, 10)
	w.buf = append(w.buf, 0)
}

// Float appends a floating-point field in plain decimal form, or an empty
// field for UnsetFloat.
func (w *Writer) Float(v float64) {
	if v == UnsetFloat {
		w.Empty()
		return
	}
	w.buf = strconv.AppendFloat(w.buf, v, 'f', -1, 64)
	w.buf = append(w.buf, 0)
}

// Bool appends a boolean field as the single byte '1' or '0'.
func (w *Writer) Bool(b bool) {
	if b {
		w.buf = append(w.buf, '1', 0)
	} else {
		w.buf = append(w.buf, '0', 0)
	}
}

// Empty appends an empty field (a lone NUL).
func (w *Writer) Empty() {
	w.buf = append(w.buf, 0)
}

// Frame returns the accumulated fields prefixed with the 4-byte big-endian
// body length.
func (w *Writer) Frame() []byte {
	out := make([]byte, 4+len(w.buf))
	binary.BigEndian.PutUint32(out, uint32(len(w.buf)))
	copy(out[4:], w.buf)
	return out
}

// message starts a framed body with the given outbound kind.
func message(kind int64) *Writer {
	w := &Writer{}
	w.Int(kind)
	return w
}

// SplitFields splits a frame body into its fields, dropping the trailing
// empty element produced by the terminating NUL. A body consisting of a
// single NUL yields one empty field; an empty body yields no fields.
func SplitFields(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	parts := bytes.Split(body, []byte{0})
	if len(parts) > 0 && len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	fields := make([]string, len(parts))
	for i, p := range parts {
		fields[i] = string(p)
	}
	return fields
}

// Unframe extracts one complete message from the head of data. It returns
// the message kind, the remaining fields, and the number of bytes consumed.
// If data holds less than a full frame, n is 0 and ok is false; nothing is
// consumed. A complete frame whose kind field is missing or non-numeric
// consumes the frame and returns an error.
func Unframe(data []byte) (kind int64, fields []string, n int, ok bool, err error) {
	if len(data) < 4 {
		return 0, nil, 0, false, nil
	}
	bodyLen := binary.BigEndian.Uint32(data)
	total := 4 + int(bodyLen)
	if len(data) < total {
		return 0, nil, 0, false, nil
	}

	all := SplitFields(data[4:total])
	if len(all) == 0 {
		return 0, nil, total, true, fmt.Errorf("frame has no message kind")
	}
	kind, perr := strconv.ParseInt(all[0], 10, 64)
	if perr != nil {
		return 0, nil, total, true, fmt.Errorf("invalid message kind %q", all[0])
	}
	return kind, all[1:], total, true, nil
}

// Decoder turns a TCP byte stream into complete messages. Feed appends
// received bytes; Next pops one message at a time. Incomplete frames stay
// buffered untouched until the remainder arrives.
type Decoder struct {
	buf []byte
}

// Feed appends raw bytes read from the socket.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next extracts the next complete message from the buffer. ok is false when
// no complete frame is buffered. err is non-nil for a structurally complete
// but malformed frame; the frame is consumed and the stream stays usable.
func (d *Decoder) Next() (kind int64, fields []string, ok bool, err error) {
	kind, fields, n, ok, err := Unframe(d.buf)
	if !ok {
		return 0, nil, false, nil
	}
	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return kind, fields, true, err
}

// Buffered reports how many bytes are waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
