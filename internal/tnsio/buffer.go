// Package tnsio implements the TNS wire-level byte encodings and packet
// framing: reading and writing the integer widths the protocol uses
// (UB1/UB2/UB4/UB8/SB1/SB2/SB4), length-prefixed blobs, and chunked LONG
// values, plus the packet framer that turns a duplex byte stream into a
// stream of complete TNS packets and back.
package tnsio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// NullLengthIndicator marks a NULL column value in row data.
const NullLengthIndicator = 0xFF

// LongLengthIndicator marks a column value continued as chunked LONG data:
// a sequence of (UB4 length, bytes) chunks terminated by a zero-length chunk.
const LongLengthIndicator = 0xFE

// ErrShortBuffer is returned by Reader methods when the buffer has fewer
// bytes remaining than the read requires.
var ErrShortBuffer = errors.New("tnsio: short buffer")

// Writer accumulates bytes for an outbound TNS/TTC message using the
// protocol's big-endian integer encodings.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with the given initial capacity hint.
func NewWriter(capHint int) *Writer {
	return &Writer{buf: make([]byte, 0, capHint)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// WriteUB1 writes an unsigned 8-bit integer.
func (w *Writer) WriteUB1(v uint8) { w.buf = append(w.buf, v) }

// WriteSB1 writes a signed 8-bit integer.
func (w *Writer) WriteSB1(v int8) { w.buf = append(w.buf, byte(v)) }

// WriteUB2 writes an unsigned 16-bit big-endian integer.
func (w *Writer) WriteUB2(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteSB2 writes a signed 16-bit big-endian integer.
func (w *Writer) WriteSB2(v int16) { w.WriteUB2(uint16(v)) }

// WriteUB4 writes an unsigned 32-bit big-endian integer.
func (w *Writer) WriteUB4(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteSB4 writes a signed 32-bit big-endian integer.
func (w *Writer) WriteSB4(v int32) { w.WriteUB4(uint32(v)) }

// WriteUB8 writes an unsigned 64-bit big-endian integer.
func (w *Writer) WriteUB8(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteBytes appends raw bytes with no length prefix.
func (w *Writer) WriteBytes(b []byte) { w.buf = append(w.buf, b...) }

// WriteLengthPrefixed writes a single length byte followed by the payload,
// for payloads known to fit the one-byte length-prefix rule (<254 bytes,
// since 0xFE and 0xFF are the chunked-LONG and NULL sentinels). Longer
// payloads must use WriteChunkedLong instead.
func (w *Writer) WriteLengthPrefixed(b []byte) error {
	if len(b) >= LongLengthIndicator {
		return fmt.Errorf("tnsio: payload of %d bytes too long for single-byte length prefix", len(b))
	}
	w.buf = append(w.buf, byte(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

// WriteNull writes the NULL column-value sentinel.
func (w *Writer) WriteNull() { w.buf = append(w.buf, NullLengthIndicator) }

// WriteChunkedLong writes the LONG_LENGTH_INDICATOR sentinel followed by
// data split into UB4-length-prefixed chunks, terminated by a zero-length
// chunk, per the LONG/LOB framing rule in §4.6.
func (w *Writer) WriteChunkedLong(data []byte, chunkSize int) {
	if chunkSize <= 0 {
		chunkSize = 1 << 16
	}
	w.buf = append(w.buf, LongLengthIndicator)
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		w.WriteUB4(uint32(n))
		w.WriteBytes(data[:n])
		data = data[n:]
	}
	w.WriteUB4(0)
}

// WriteNullTerminated writes s followed by a single zero byte.
func (w *Writer) WriteNullTerminated(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// Reader consumes bytes from an inbound TNS/TTC message using the
// protocol's big-endian integer encodings.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for sequential decoding.
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

func (r *Reader) require(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, n, r.Remaining())
	}
	return nil
}

// ReadUB1 reads an unsigned 8-bit integer.
func (r *Reader) ReadUB1() (uint8, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadSB1 reads a signed 8-bit integer.
func (r *Reader) ReadSB1() (int8, error) {
	v, err := r.ReadUB1()
	return int8(v), err
}

// ReadUB2 reads an unsigned 16-bit big-endian integer.
func (r *Reader) ReadUB2() (uint16, error) {
	if err := r.require(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadSB2 reads a signed 16-bit big-endian integer.
func (r *Reader) ReadSB2() (int16, error) {
	v, err := r.ReadUB2()
	return int16(v), err
}

// ReadUB4 reads an unsigned 32-bit big-endian integer.
func (r *Reader) ReadUB4() (uint32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadSB4 reads a signed 32-bit big-endian integer.
func (r *Reader) ReadSB4() (int32, error) {
	v, err := r.ReadUB4()
	return int32(v), err
}

// ReadUB8 reads an unsigned 64-bit big-endian integer.
func (r *Reader) ReadUB8() (uint64, error) {
	if err := r.require(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadBytes reads n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.require(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadNullTerminated reads bytes up to (and consuming) the next zero byte.
func (r *Reader) ReadNullTerminated() (string, error) {
	start := r.pos
	for r.pos < len(r.buf) {
		if r.buf[r.pos] == 0 {
			s := string(r.buf[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
	}
	return "", fmt.Errorf("%w: no null terminator found", ErrShortBuffer)
}

// ColumnValue is the decoded result of ReadColumnValue: exactly one of
// Null, or Data set according to the length-prefix / chunked-LONG rule.
type ColumnValue struct {
	Null bool
	Data []byte
}

// ReadColumnValue decodes one RowData column per the rule in §4.2/§4.6:
// a single length-prefix byte followed by N bytes, the NULL sentinel, or
// the chunked-LONG sentinel followed by (UB4 length, bytes) chunks ending
// in a zero-length chunk.
func (r *Reader) ReadColumnValue() (ColumnValue, error) {
	lenByte, err := r.ReadUB1()
	if err != nil {
		return ColumnValue{}, err
	}
	switch lenByte {
	case NullLengthIndicator:
		return ColumnValue{Null: true}, nil
	case LongLengthIndicator:
		var out []byte
		for {
			chunkLen, err := r.ReadUB4()
			if err != nil {
				return ColumnValue{}, fmt.Errorf("reading LONG chunk length: %w", err)
			}
			if chunkLen == 0 {
				break
			}
			chunk, err := r.ReadBytes(int(chunkLen))
			if err != nil {
				return ColumnValue{}, fmt.Errorf("reading LONG chunk: %w", err)
			}
			out = append(out, chunk...)
		}
		return ColumnValue{Data: out}, nil
	default:
		data, err := r.ReadBytes(int(lenByte))
		if err != nil {
			return ColumnValue{}, fmt.Errorf("reading column value (len %d): %w", lenByte, err)
		}
		return ColumnValue{Data: data}, nil
	}
}
