package tnsio

import (
	"encoding/binary"
	"fmt"
)

// PacketType identifies a TNS packet's role in the framing layer.
type PacketType uint8

// Packet types per §3.
const (
	PacketTypeConnect  PacketType = 1
	PacketTypeAccept   PacketType = 2
	PacketTypeRefuse   PacketType = 4
	PacketTypeRedirect PacketType = 5
	PacketTypeData     PacketType = 6
	PacketTypeResend   PacketType = 11
	PacketTypeMarker   PacketType = 12
	PacketTypeControl  PacketType = 14
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeConnect:
		return "CONNECT"
	case PacketTypeAccept:
		return "ACCEPT"
	case PacketTypeRefuse:
		return "REFUSE"
	case PacketTypeRedirect:
		return "REDIRECT"
	case PacketTypeData:
		return "DATA"
	case PacketTypeResend:
		return "RESEND"
	case PacketTypeMarker:
		return "MARKER"
	case PacketTypeControl:
		return "CONTROL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// DataFlag bits carried in a Data packet's 16-bit data_flags field.
type DataFlag uint16

const (
	DataFlagEOF DataFlag = 0x0040
)

// headerSize is the fixed 8-byte TNS packet header.
const headerSize = 8

// Packet is one fully-assembled TNS packet.
type Packet struct {
	Type      PacketType
	Flags     uint8
	DataFlags uint16 // only meaningful when Type == PacketTypeData
	Payload   []byte // for Data packets, the bytes *after* the data_flags field
}

// Framer turns an inbound byte stream into a sequence of Packets, and
// serializes outbound Packets into the wire format, including splitting
// outbound Data payloads larger than the peer's SDU into multiple packets
// and reassembling fragmented reads on the inbound side.
//
// A Framer is not safe for concurrent use; the owning connection's single
// I/O goroutine is the only caller, per §5.
type Framer struct {
	largeSDU bool // negotiated protocol_version >= VERSION_MIN_LARGE_SDU
	peerSDU  uint32

	// partial holds bytes read but not yet enough to complete a packet.
	partial []byte
}

// NewFramer returns a Framer in its pre-negotiation state (2-byte length,
// SDU unknown — used only for the initial Connect packet).
func NewFramer() *Framer {
	return &Framer{peerSDU: 2048}
}

// Negotiate switches the framer into its post-Accept mode: large-SDU
// length fields if the negotiated protocol version requires them, and the
// peer's advertised SDU as the fragmentation threshold for outbound Data
// packets.
func (f *Framer) Negotiate(largeSDU bool, peerSDU uint32) {
	f.largeSDU = largeSDU
	f.peerSDU = peerSDU
}

func (f *Framer) lengthFieldSize() int {
	if f.largeSDU {
		return 4
	}
	return 2
}

// Feed appends newly-read bytes to the framer's internal buffer and
// returns every complete packet it can now assemble. Left-over bytes
// (a partial header or a partial payload) are retained for the next Feed
// call — callers must buffer until the full declared length is available.
func (f *Framer) Feed(chunk []byte) ([]Packet, error) {
	f.partial = append(f.partial, chunk...)

	var out []Packet
	for {
		pkt, consumed, err := f.tryParseOne(f.partial)
		if err != nil {
			return out, err
		}
		if consumed == 0 {
			break // not enough data yet for a full packet
		}
		out = append(out, pkt)
		f.partial = f.partial[consumed:]
	}
	return out, nil
}

// tryParseOne attempts to parse exactly one packet from buf. consumed == 0
// means buf does not yet hold a complete packet (await more data).
func (f *Framer) tryParseOne(buf []byte) (Packet, int, error) {
	lf := f.lengthFieldSize()
	if len(buf) < headerSize {
		return Packet{}, 0, nil
	}

	var length int
	if lf == 4 {
		length = int(binary.BigEndian.Uint32(buf[0:4]))
	} else {
		length = int(binary.BigEndian.Uint16(buf[0:2]))
	}
	ptype := PacketType(buf[4])
	flags := buf[5]
	// buf[6:8] is the (unused) checksum.

	if length < headerSize {
		return Packet{}, 0, fmt.Errorf("tnsio: fatal framing error: impossible packet length %d", length)
	}
	if !isKnownPacketType(ptype) {
		return Packet{}, 0, fmt.Errorf("tnsio: fatal framing error: unknown packet type %d", ptype)
	}

	if len(buf) < length {
		return Packet{}, 0, nil // truncated: await more data
	}

	body := buf[headerSize:length]
	pkt := Packet{Type: ptype, Flags: flags}

	if ptype == PacketTypeData {
		if len(body) < 2 {
			return Packet{}, 0, fmt.Errorf("tnsio: fatal framing error: data packet shorter than data_flags field")
		}
		pkt.DataFlags = binary.BigEndian.Uint16(body[0:2])
		pkt.Payload = body[2:]
	} else {
		pkt.Payload = body
	}

	return pkt, length, nil
}

func isKnownPacketType(t PacketType) bool {
	switch t {
	case PacketTypeConnect, PacketTypeAccept, PacketTypeRefuse, PacketTypeRedirect,
		PacketTypeData, PacketTypeResend, PacketTypeMarker, PacketTypeControl:
		return true
	default:
		return false
	}
}

// EncodeSimple serializes a non-Data packet (Connect, Marker, ...) as a
// single TNS packet with the given payload.
func (f *Framer) EncodeSimple(ptype PacketType, flags uint8, payload []byte) []byte {
	return f.encodeOne(ptype, flags, 0, payload)
}

// EncodeData serializes a Data packet's payload, splitting it into
// multiple wire packets if it exceeds the peer's negotiated SDU. Every
// fragment but the last has its EOF data-flag bit cleared; the last (or
// only) fragment has it set, per the peer's expectation of where a
// logical message ends.
func (f *Framer) EncodeData(payload []byte, dataFlags uint16) [][]byte {
	maxChunk := int(f.peerSDU) - headerSize - 2
	if maxChunk <= 0 {
		maxChunk = len(payload)
		if maxChunk == 0 {
			maxChunk = 1
		}
	}

	if len(payload) == 0 {
		return [][]byte{f.encodeOne(PacketTypeData, 0, dataFlags|uint16(DataFlagEOF), nil)}
	}

	var out [][]byte
	for len(payload) > 0 {
		n := maxChunk
		if n > len(payload) {
			n = len(payload)
		}
		chunk := payload[:n]
		payload = payload[n:]

		flags := dataFlags
		if len(payload) == 0 {
			flags |= uint16(DataFlagEOF)
		} else {
			flags &^= uint16(DataFlagEOF)
		}
		out = append(out, f.encodeOne(PacketTypeData, 0, flags, chunk))
	}
	return out
}

func (f *Framer) encodeOne(ptype PacketType, flags uint8, dataFlags uint16, payload []byte) []byte {
	lf := f.lengthFieldSize()
	bodyLen := len(payload)
	if ptype == PacketTypeData {
		bodyLen += 2
	}
	total := headerSize + bodyLen

	buf := make([]byte, total)
	if lf == 4 {
		binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	} else {
		binary.BigEndian.PutUint16(buf[0:2], uint16(total))
		// bytes 2:4 unused in the 2-byte-length header layout
	}
	buf[4] = byte(ptype)
	buf[5] = flags
	// buf[6:8] checksum, unused

	if ptype == PacketTypeData {
		binary.BigEndian.PutUint16(buf[headerSize:headerSize+2], dataFlags)
		copy(buf[headerSize+2:], payload)
	} else {
		copy(buf[headerSize:], payload)
	}
	return buf
}
