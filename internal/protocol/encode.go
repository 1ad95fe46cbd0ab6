package protocol

import (
	"fmt"

	"github.com/oranet/oranet/internal/tnsio"
)

// MaxConnectData is the largest connect descriptor that fits in the initial
// Connect packet before a follow-up data packet is required (§4.2).
const MaxConnectData = 230

// EncodeConnect builds the 58-byte fixed prelude plus connect descriptor
// that makes up a Connect packet's payload. If the descriptor is longer
// than MaxConnectData, the returned overflow must be sent as a subsequent
// Data packet by the caller (the handshake driver), per §4.2.
func EncodeConnect(connectString string) (payload []byte, overflow []byte) {
	w := tnsio.NewWriter(64 + len(connectString))

	w.WriteUB2(VersionDesired)
	w.WriteUB2(VersionMinimum)
	w.WriteUB2(0x0c05) // service options: standard session data unit negotiation
	w.WriteUB2(uint16(DefaultSDU & 0xffff))
	w.WriteUB2(uint16(DefaultTDU & 0xffff))
	w.WriteUB2(0x7f08) // protocol characteristics (NT, direct I/O, etc.)
	w.WriteUB2(0)      // line turnaround
	w.WriteUB2(1)      // value-of-one check for byte order
	descLen := len(connectString)
	if descLen > MaxConnectData {
		descLen = MaxConnectData
	}
	w.WriteUB2(uint16(len(connectString)))
	w.WriteUB2(74) // offset of connect data from the start of the packet (8-byte header + the fields written here)
	w.WriteUB4(0)  // max receivable data
	w.WriteUB1(0)  // NSI flags 1
	w.WriteUB1(0)  // NSI flags 2
	w.WriteUB8(0)  // SDU (large)
	w.WriteUB8(0)  // TDU (large)
	w.WriteUB4(0)  // connect flags 0
	w.WriteUB4(0)  // connect flags 1
	w.WriteUB4(0)  // trace cross facility 0
	w.WriteUB4(0)  // trace cross facility 1
	w.WriteUB8(0)  // trace unique connection id

	w.WriteBytes([]byte(connectString[:descLen]))

	if descLen < len(connectString) {
		overflow = []byte(connectString[descLen:])
	}
	return w.Bytes(), overflow
}

// BuildConnectDescriptor constructs the parenthesized TNS connect descriptor
// string described in §6.
func BuildConnectDescriptor(host string, port int, serviceOrSID string, isSID bool, purity Purity) string {
	connectData := fmt.Sprintf("SERVICE_NAME=%s", serviceOrSID)
	if isSID {
		connectData = fmt.Sprintf("SID=%s", serviceOrSID)
	}
	if purity != PurityDefault {
		connectData += fmt.Sprintf(")(SERVER=POOLED)(POOL_CONNECTION_CLASS=ORANET")
		if purity == PurityNew {
			connectData += ")(POOL_PURITY=NEW"
		} else {
			connectData += ")(POOL_PURITY=SELF"
		}
	}
	return fmt.Sprintf(
		"(DESCRIPTION=(ADDRESS=(PROTOCOL=tcp)(HOST=%s)(PORT=%d))(CONNECT_DATA=(%s)))",
		host, port, connectData,
	)
}

// startMessage begins a TTC message of the given tag within a Data packet
// body that the caller is accumulating.
func startMessage(w *tnsio.Writer, tag uint8) {
	w.WriteUB1(tag)
}

// EncodeProtocol writes a Protocol (tag 1) request: the client's protocol
// banner and driver name.
func EncodeProtocol(w *tnsio.Writer, driverName string) {
	startMessage(w, MsgProtocol)
	w.WriteUB1(6) // protocol array terminator marker used by the reference client
	w.WriteNullTerminated(driverName)
}

// EncodeDataTypes writes a DataTypes (tag 2) request: charset IDs, the
// compile/runtime capability blocks, then the type-conversion array
// terminated by a zero UB2, per §4.2.
func EncodeDataTypes(w *tnsio.Writer, charsetID, ncharsetID uint16, compileCaps, runtimeCaps []byte, typeTriples [][4]uint16) {
	startMessage(w, MsgDataTypes)
	w.WriteUB2(charsetID)
	w.WriteUB2(ncharsetID)
	w.WriteUB1(uint8(len(compileCaps)))
	w.WriteBytes(compileCaps)
	w.WriteUB1(uint8(len(runtimeCaps)))
	w.WriteBytes(runtimeCaps)
	for _, t := range typeTriples {
		w.WriteUB2(t[0])
		w.WriteUB2(t[1])
		w.WriteUB2(t[2])
		w.WriteUB2(t[3])
	}
	w.WriteUB2(0) // terminator
}

// EncodeAuthPhaseOne writes the function-code-118 request that begins
// authentication: username, session flags, and the AUTH_* key/value pairs
// listed in §4.2.
func EncodeAuthPhaseOne(w *tnsio.Writer, ctx AuthContext) {
	startMessage(w, MsgFunction)
	w.WriteUB1(FnAuthPhaseOne)
	w.WriteUB1(0) // sequence number slot

	w.WriteUB4(uint32(len(ctx.Username)))
	w.WriteBytes([]byte(ctx.Username))

	const modeWithLogon = uint32(0x0001)
	w.WriteUB4(modeWithLogon | ctx.ModeFlags)

	pairs := []struct{ k, v string }{
		{AuthTerminal, ctx.Terminal},
		{AuthProgramNm, ctx.Program},
		{AuthMachine, ctx.Machine},
		{AuthPID, ctx.PID},
	}
	w.WriteUB4(uint32(len(pairs)))
	for _, p := range pairs {
		w.WriteUB4(uint32(len(p.k)))
		w.WriteBytes([]byte(p.k))
		w.WriteUB4(uint32(len(p.v)))
		w.WriteBytes([]byte(p.v))
		w.WriteUB4(0) // per-pair flags, unused
	}
}

// AuthPhaseTwoRequest holds the encrypted material computed by
// internal/authcrypto for the phase-two request.
type AuthPhaseTwoRequest struct {
	EncryptedSessionKey []byte
	EncryptedPassword   []byte
	EncryptedNewPassword []byte // optional

	IAMToken        string // optional: token-based auth instead of password
	RSASignatureB64 string

	ModeFlags uint32
}

// EncodeAuthPhaseTwo writes the function-code-115 request that completes
// authentication with the encrypted session key / password material.
func EncodeAuthPhaseTwo(w *tnsio.Writer, ctx AuthContext, req AuthPhaseTwoRequest) {
	startMessage(w, MsgFunction)
	w.WriteUB1(FnAuthPhaseTwo)
	w.WriteUB1(0)

	w.WriteUB4(uint32(len(ctx.Username)))
	w.WriteBytes([]byte(ctx.Username))
	w.WriteUB4(req.ModeFlags)

	var pairs [][2]string
	if req.IAMToken != "" {
		pairs = append(pairs,
			[2]string{"AUTH_TOKEN", req.IAMToken},
			[2]string{"AUTH_TOKEN_SIG", req.RSASignatureB64},
		)
	} else {
		pairs = append(pairs,
			[2]string{"AUTH_SESSKEY", string(req.EncryptedSessionKey)},
			[2]string{"AUTH_PASSWORD", string(req.EncryptedPassword)},
		)
		if req.EncryptedNewPassword != nil {
			pairs = append(pairs, [2]string{"AUTH_NEWPASSWORD", string(req.EncryptedNewPassword)})
		}
	}

	w.WriteUB4(uint32(len(pairs)))
	for _, p := range pairs {
		w.WriteUB4(uint32(len(p[0])))
		w.WriteBytes([]byte(p[0]))
		w.WriteUB4(uint32(len(p[1])))
		w.WriteBytes([]byte(p[1]))
		w.WriteUB4(0)
	}
}

// EncodeExecute writes an Execute (function code 94) request: statement
// text and options (first execute only), bind metadata, and bind values.
func EncodeExecute(w *tnsio.Writer, sql string, cursorID uint32, opts ExecuteOptions, binds []Bind, firstExecute bool) error {
	startMessage(w, MsgFunction)
	w.WriteUB1(FnExecute)
	w.WriteUB1(0)

	w.WriteUB4(cursorID)
	if firstExecute {
		w.WriteUB4(uint32(len(sql)))
		w.WriteBytes([]byte(sql))
	} else {
		w.WriteUB4(0)
	}

	var flags uint32
	if opts.AutoCommit {
		flags |= 0x1
	}
	if opts.DescribeOnly {
		flags |= 0x2
	}
	if opts.Scrollable {
		flags |= 0x4
	}
	if opts.BatchErrors {
		flags |= 0x8
	}
	w.WriteUB4(flags)
	w.WriteUB4(opts.FetchArraySize)
	w.WriteUB4(opts.PrefetchRows)
	w.WriteUB4(opts.ArrayDMLRowCount)

	w.WriteUB4(uint32(len(binds)))
	for _, b := range binds {
		if err := encodeBindMetadata(w, b); err != nil {
			return err
		}
	}
	for _, b := range binds {
		if b.Direction == BindOut {
			continue // OUT-only binds carry no client-supplied value
		}
		if err := encodeBindValue(w, b); err != nil {
			return err
		}
	}
	return nil
}

func encodeBindMetadata(w *tnsio.Writer, b Bind) error {
	w.WriteUB1(b.OracleType)
	w.WriteUB1(uint8(b.Direction))
	w.WriteUB4(b.MaxLength)
	if b.Name != "" {
		w.WriteUB2(uint16(len(b.Name)))
		w.WriteBytes([]byte(b.Name))
	} else {
		w.WriteUB2(0)
	}
	return nil
}

func encodeBindValue(w *tnsio.Writer, b Bind) error {
	if b.Value == nil {
		w.WriteNull()
		return nil
	}
	if len(b.Value) < tnsio.NullLengthIndicator {
		return w.WriteLengthPrefixed(b.Value)
	}
	w.WriteChunkedLong(b.Value, 1<<16)
	return nil
}

// EncodeReExecute writes a re-execute request for a cursor that already
// has a server-side cursor ID and describe info — only bind values are
// resent, not the statement text or metadata.
func EncodeReExecute(w *tnsio.Writer, cursorID uint32, opts ExecuteOptions, binds []Bind) error {
	startMessage(w, MsgFunction)
	w.WriteUB1(FnExecute)
	w.WriteUB1(1) // re-execute indicator
	w.WriteUB4(cursorID)
	w.WriteUB4(0) // no statement text
	w.WriteUB4(opts.ArrayDMLRowCount)
	for _, b := range binds {
		if b.Direction == BindOut {
			continue
		}
		if err := encodeBindValue(w, b); err != nil {
			return err
		}
	}
	return nil
}

// EncodeFetch writes a Fetch (function code 5) request for more rows from
// an open cursor.
func EncodeFetch(w *tnsio.Writer, cursorID uint32, count uint32) {
	startMessage(w, MsgFunction)
	w.WriteUB1(FnFetch)
	w.WriteUB1(0)
	w.WriteUB4(cursorID)
	w.WriteUB4(count)
}

// EncodeCloseCursors writes a close-cursors request, typically piggybacked
// onto the next outbound request per §4.4.
func EncodeCloseCursors(w *tnsio.Writer, cursorIDs []uint32) {
	startMessage(w, MsgFunction)
	w.WriteUB1(FnCloseCursors)
	w.WriteUB1(0)
	w.WriteUB4(uint32(len(cursorIDs)))
	for _, id := range cursorIDs {
		w.WriteUB4(id)
	}
}

// EncodeCommit writes a Commit (function code 14) request.
func EncodeCommit(w *tnsio.Writer) {
	startMessage(w, MsgFunction)
	w.WriteUB1(FnCommit)
	w.WriteUB1(0)
}

// EncodeRollback writes a Rollback (function code 15) request.
func EncodeRollback(w *tnsio.Writer) {
	startMessage(w, MsgFunction)
	w.WriteUB1(FnRollback)
	w.WriteUB1(0)
}

// EncodePing writes a Ping (function code 147) keep-alive request.
func EncodePing(w *tnsio.Writer) {
	startMessage(w, MsgFunction)
	w.WriteUB1(FnPing)
	w.WriteUB1(0)
}

// EncodeLogoff writes a Logoff (function code 9) request.
func EncodeLogoff(w *tnsio.Writer) {
	startMessage(w, MsgFunction)
	w.WriteUB1(FnLogoff)
	w.WriteUB1(0)
}

// LobOpKind selects the direction/operation of a LobOp request.
type LobOpKind uint8

const (
	LobOpRead LobOpKind = iota
	LobOpWrite
)

// EncodeLobOp writes a LOB read/write request addressed by locator,
// offset, and amount, per §4.6.
func EncodeLobOp(w *tnsio.Writer, locator []byte, offset, amount uint64, kind LobOpKind, data []byte) error {
	startMessage(w, MsgFunction)
	w.WriteUB1(FnLobOp)
	w.WriteUB1(0)
	w.WriteUB4(uint32(len(locator)))
	w.WriteBytes(locator)
	w.WriteUB8(offset)
	w.WriteUB8(amount)
	w.WriteUB1(uint8(kind))
	if kind == LobOpWrite {
		w.WriteChunkedLong(data, 1<<16)
	}
	return nil
}

// MarkerKind distinguishes the two outbound Marker purposes.
type MarkerKind uint8

const (
	MarkerReset MarkerKind = 0
	MarkerBreak MarkerKind = 1
)

// EncodeMarker writes a Marker response/request. Markers are their own TNS
// packet type (not wrapped in a Data packet), handled directly by the
// framer.
func EncodeMarker(kind MarkerKind) []byte {
	return []byte{0, 0, byte(kind)}
}
