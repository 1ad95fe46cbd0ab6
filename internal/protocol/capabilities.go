// Package protocol implements the TTC message layer on top of tnsio: frontend
// message encoders, backend message decoders, and the negotiated Capabilities
// that both depend on.
package protocol

import "fmt"

// Protocol version and SDU/TDU negotiation constants (§4.3).
const (
	VersionDesired     uint16 = 0x0139 // 313 — highest version this driver speaks
	VersionMinimum     uint16 = 0x0133 // 307 — lowest version this driver will offer
	VersionMinAccepted uint16 = 0x012C // 300 — below this, refuse the server
	VersionMinLargeSDU uint16 = 0x0133 // 307 — 4-byte packet lengths from here on
	VersionMinOOBCheck uint16 = 0x0136 // 310 — Accept carries the extra OOB/fast-auth trailer

	DefaultSDU uint32 = 8192
	DefaultTDU uint32 = 65535
)

// TTCMessage tags (§3).
const (
	MsgProtocol           uint8 = 1
	MsgDataTypes          uint8 = 2
	MsgFunction           uint8 = 3
	MsgError              uint8 = 4
	MsgRowHeader          uint8 = 6
	MsgRowData            uint8 = 7
	MsgParameter          uint8 = 8
	MsgStatus             uint8 = 9
	MsgIOVector           uint8 = 11
	MsgLOBData            uint8 = 14
	MsgWarning            uint8 = 15
	MsgDescribeInfo       uint8 = 16
	MsgPiggyback          uint8 = 17
	MsgFlushOutBinds      uint8 = 19
	MsgBitVector          uint8 = 21
	MsgServerSidePiggyback uint8 = 23
	MsgOnewayFn           uint8 = 26
	MsgEndOfRequest       uint8 = 29
	MsgFastAuth           uint8 = 34
)

// Function codes used by Function (3) / OnewayFunction (26) messages.
const (
	FnAuthPhaseOne   uint8 = 118
	FnAuthPhaseTwo   uint8 = 115
	FnExecute        uint8 = 94
	FnFetch          uint8 = 5
	FnCloseCursors   uint8 = 105
	FnCommit         uint8 = 14
	FnRollback       uint8 = 15
	FnPing           uint8 = 147
	FnLogoff         uint8 = 9
	FnLobOp          uint8 = 96
)

// Accept flags word bit (§4.2 Accept decoding).
const acceptFlagFastAuth uint32 = 0x1

// Capabilities holds session-global negotiated state. It is created during
// the handshake and must never be mutated after ReadyForStatement, per the
// invariant in §3.
type Capabilities struct {
	ProtocolVersion uint16
	ProtocolOptions uint16
	SDU             uint32
	TDU             uint32
	TTCFieldVersion uint8

	SupportsOOB      bool
	SupportsFastAuth bool

	CompileCapabilities []byte
	RuntimeCapabilities []byte

	CharsetID  uint16
	NCharsetID uint16
}

// NegotiateFromAccept derives Capabilities from a decoded Accept message's
// fields (see protocol.Accept), applying the version floor in §4.3.
func NegotiateFromAccept(a Accept) (Capabilities, error) {
	if a.ProtocolVersion < VersionMinAccepted {
		return Capabilities{}, ErrServerVersionNotSupported(a.ProtocolVersion)
	}
	return Capabilities{
		ProtocolVersion:  a.ProtocolVersion,
		ProtocolOptions:  a.ProtocolOptions,
		SDU:              a.SDU,
		SupportsOOB:      a.ProtocolVersion >= VersionMinOOBCheck,
		SupportsFastAuth: a.ProtocolVersion >= VersionMinOOBCheck && a.Flags&acceptFlagFastAuth != 0,
	}, nil
}

// LargeSDU reports whether the negotiated version requires 4-byte packet
// length fields.
func (c Capabilities) LargeSDU() bool {
	return c.ProtocolVersion >= VersionMinLargeSDU
}

// ServerVersionNotSupportedError is returned when the server's negotiated
// Accept version falls below VersionMinAccepted (§4.3, §7).
type ServerVersionNotSupportedError struct {
	Version uint16
}

func (e *ServerVersionNotSupportedError) Error() string {
	return fmt.Sprintf("protocol: server version 0x%04x not supported", e.Version)
}

// ErrServerVersionNotSupported constructs the fatal-negotiation error.
func ErrServerVersionNotSupported(version uint16) error {
	return &ServerVersionNotSupportedError{Version: version}
}

// AESKeySizeForVerifier maps the observed AUTH_VFR_DATA length to the AES
// key size the server selected, per the Open Question decided in
// SPEC_FULL.md §6: 16 bytes -> AES-128, 32 bytes -> AES-256.
func AESKeySizeForVerifier(vfrDataLen int) (int, error) {
	switch vfrDataLen {
	case 16:
		return 16, nil
	case 32:
		return 32, nil
	default:
		return 0, &UnsupportedVerifierLengthError{Length: vfrDataLen}
	}
}

// UnsupportedVerifierLengthError is returned when AUTH_VFR_DATA's length
// does not match a known AES key size.
type UnsupportedVerifierLengthError struct {
	Length int
}

func (e *UnsupportedVerifierLengthError) Error() string {
	return "protocol: unsupported AUTH_VFR_DATA length"
}
