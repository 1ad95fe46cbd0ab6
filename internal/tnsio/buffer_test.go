package tnsio

import (
	"bytes"
	"testing"
)

func TestWriterReaderIntegerRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.WriteUB1(0xAB)
	w.WriteSB1(-5)
	w.WriteUB2(0x1234)
	w.WriteSB2(-1000)
	w.WriteUB4(0xDEADBEEF)
	w.WriteSB4(-123456)
	w.WriteUB8(0x0102030405060708)

	r := NewReader(w.Bytes())

	if v, err := r.ReadUB1(); err != nil || v != 0xAB {
		t.Fatalf("ReadUB1 = %v, %v", v, err)
	}
	if v, err := r.ReadSB1(); err != nil || v != -5 {
		t.Fatalf("ReadSB1 = %v, %v", v, err)
	}
	if v, err := r.ReadUB2(); err != nil || v != 0x1234 {
		t.Fatalf("ReadUB2 = %v, %v", v, err)
	}
	if v, err := r.ReadSB2(); err != nil || v != -1000 {
		t.Fatalf("ReadSB2 = %v, %v", v, err)
	}
	if v, err := r.ReadUB4(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("ReadUB4 = %v, %v", v, err)
	}
	if v, err := r.ReadSB4(); err != nil || v != -123456 {
		t.Fatalf("ReadSB4 = %v, %v", v, err)
	}
	if v, err := r.ReadUB8(); err != nil || v != 0x0102030405060708 {
		t.Fatalf("ReadUB8 = %v, %v", v, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected buffer exhausted, %d bytes remain", r.Remaining())
	}
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.ReadUB4(); err == nil {
		t.Fatal("expected short-buffer error")
	}
}

func TestColumnValueNull(t *testing.T) {
	w := NewWriter(8)
	w.WriteNull()
	r := NewReader(w.Bytes())
	cv, err := r.ReadColumnValue()
	if err != nil {
		t.Fatal(err)
	}
	if !cv.Null {
		t.Fatal("expected Null column value")
	}
}

func TestColumnValueEmptyVsNull(t *testing.T) {
	w := NewWriter(8)
	if err := w.WriteLengthPrefixed(nil); err != nil {
		t.Fatal(err)
	}
	w.WriteNull()
	r := NewReader(w.Bytes())

	empty, err := r.ReadColumnValue()
	if err != nil {
		t.Fatal(err)
	}
	if empty.Null {
		t.Fatal("empty-but-present value must not decode as Null")
	}
	if len(empty.Data) != 0 {
		t.Fatalf("expected zero-length data, got %v", empty.Data)
	}

	null, err := r.ReadColumnValue()
	if err != nil {
		t.Fatal(err)
	}
	if !null.Null {
		t.Fatal("expected Null column value")
	}
}

func TestChunkedLongRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 300)
	w := NewWriter(16)
	w.WriteChunkedLong(data, 64)
	r := NewReader(w.Bytes())
	cv, err := r.ReadColumnValue()
	if err != nil {
		t.Fatal(err)
	}
	if cv.Null {
		t.Fatal("expected non-null chunked value")
	}
	if !bytes.Equal(cv.Data, data) {
		t.Fatalf("chunked LONG round-trip mismatch: got %d bytes, want %d", len(cv.Data), len(data))
	}
}

func TestWriteLengthPrefixedTooLong(t *testing.T) {
	w := NewWriter(8)
	if err := w.WriteLengthPrefixed(make([]byte, 300)); err == nil {
		t.Fatal("expected error for payload too long for single-byte prefix")
	}
}

func TestNullTerminatedRoundTrip(t *testing.T) {
	w := NewWriter(8)
	w.WriteNullTerminated("hello")
	r := NewReader(w.Bytes())
	s, err := r.ReadNullTerminated()
	if err != nil {
		t.Fatal(err)
	}
	if s != "hello" {
		t.Fatalf("got %q, want %q", s, "hello")
	}
}
