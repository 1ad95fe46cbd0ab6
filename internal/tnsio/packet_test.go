package tnsio

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestFramerSimplePacketRoundTrip(t *testing.T) {
	f := NewFramer()
	wire := f.EncodeSimple(PacketTypeConnect, 0, []byte("(DESCRIPTION=...)"))

	pkts, err := f.Feed(wire)
	if err != nil {
		t.Fatal(err)
	}
	if len(pkts) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(pkts))
	}
	if pkts[0].Type != PacketTypeConnect {
		t.Fatalf("expected CONNECT, got %v", pkts[0].Type)
	}
	if string(pkts[0].Payload) != "(DESCRIPTION=...)" {
		t.Fatalf("payload mismatch: %q", pkts[0].Payload)
	}
}

// TestFramerArbitraryChunking verifies §8 property 1: round-trip byte
// identity regardless of how the encoded bytes are split across reads.
func TestFramerArbitraryChunking(t *testing.T) {
	f := NewFramer()
	f.Negotiate(true, 65536)

	msg1 := bytes.Repeat([]byte{0xAA}, 5000)
	msg2 := []byte("hello world")
	wire1 := f.EncodeData(msg1, 0)
	wire2 := f.EncodeSimple(PacketTypeMarker, 1, msg2)

	var allWire []byte
	for _, w := range wire1 {
		allWire = append(allWire, w...)
	}
	allWire = append(allWire, wire2...)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		rf := NewFramer()
		rf.Negotiate(true, 65536)

		var got []Packet
		remaining := allWire
		for len(remaining) > 0 {
			n := 1 + rng.Intn(37)
			if n > len(remaining) {
				n = len(remaining)
			}
			chunk := remaining[:n]
			remaining = remaining[n:]
			pkts, err := rf.Feed(chunk)
			if err != nil {
				t.Fatalf("trial %d: %v", trial, err)
			}
			got = append(got, pkts...)
		}

		var reassembled []byte
		for _, p := range got {
			if p.Type == PacketTypeData {
				reassembled = append(reassembled, p.Payload...)
			}
		}
		if !bytes.Equal(reassembled, msg1) {
			t.Fatalf("trial %d: data payload mismatch after reassembly", trial)
		}

		var markerFound bool
		for _, p := range got {
			if p.Type == PacketTypeMarker {
				markerFound = true
				if !bytes.Equal(p.Payload, msg2) {
					t.Fatalf("trial %d: marker payload mismatch", trial)
				}
			}
		}
		if !markerFound {
			t.Fatalf("trial %d: marker packet not found", trial)
		}
	}
}

func TestFramerFragmentationRespectsSDU(t *testing.T) {
	f := NewFramer()
	f.Negotiate(true, 1024)

	payload := bytes.Repeat([]byte{0x01}, 5000)
	fragments := f.EncodeData(payload, 0)
	if len(fragments) < 5 {
		t.Fatalf("expected payload to split into multiple SDU-sized fragments, got %d", len(fragments))
	}
	for i, frag := range fragments[:len(fragments)-1] {
		if len(frag) > 1024 {
			t.Fatalf("fragment %d exceeds negotiated SDU: %d bytes", i, len(frag))
		}
	}

	rf := NewFramer()
	rf.Negotiate(true, 1024)
	var reassembled []byte
	var sawEOF bool
	for i, frag := range fragments {
		pkts, err := rf.Feed(frag)
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range pkts {
			reassembled = append(reassembled, p.Payload...)
			isLast := i == len(fragments)-1
			eof := p.DataFlags&uint16(DataFlagEOF) != 0
			if eof != isLast {
				t.Fatalf("fragment %d: EOF flag %v, want %v", i, eof, isLast)
			}
			if eof {
				sawEOF = true
			}
		}
	}
	if !sawEOF {
		t.Fatal("expected final fragment to carry EOF data flag")
	}
	if !bytes.Equal(reassembled, payload) {
		t.Fatal("reassembled payload mismatch")
	}
}

func TestFramerTruncatedHeaderAwaitsMoreData(t *testing.T) {
	f := NewFramer()
	pkts, err := f.Feed([]byte{0x00, 0x10, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if len(pkts) != 0 {
		t.Fatal("expected no packets from a truncated header")
	}
}

func TestFramerImpossibleLengthIsFatal(t *testing.T) {
	f := NewFramer()
	buf := make([]byte, headerSize)
	buf[1] = 2 // length = 2, shorter than the header itself
	buf[4] = byte(PacketTypeData)
	if _, err := f.Feed(buf); err == nil {
		t.Fatal("expected fatal framing error for impossible length")
	}
}

func TestFramerUnknownPacketTypeIsFatal(t *testing.T) {
	f := NewFramer()
	buf := make([]byte, headerSize)
	buf[1] = byte(headerSize)
	buf[4] = 99 // not a known packet type
	if _, err := f.Feed(buf); err == nil {
		t.Fatal("expected fatal framing error for unknown packet type")
	}
}

func TestFramerPartialPayloadAwaitsMoreData(t *testing.T) {
	f := NewFramer()
	wire := f.EncodeSimple(PacketTypeMarker, 0, []byte("0123456789"))

	pkts, err := f.Feed(wire[:headerSize+3])
	if err != nil {
		t.Fatal(err)
	}
	if len(pkts) != 0 {
		t.Fatal("expected no packets until full payload arrives")
	}

	pkts, err = f.Feed(wire[headerSize+3:])
	if err != nil {
		t.Fatal(err)
	}
	if len(pkts) != 1 || string(pkts[0].Payload) != "0123456789" {
		t.Fatalf("expected reassembled marker packet, got %+v", pkts)
	}
}
