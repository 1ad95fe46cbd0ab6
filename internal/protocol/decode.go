package protocol

import (
	"fmt"

	"github.com/oranet/oranet/internal/tnsio"
)

// Accept is the decoded Accept packet payload (not a Data-packet TTC
// message — Accept is its own TNS packet type), per §4.2.
type Accept struct {
	ProtocolVersion uint16
	ProtocolOptions uint16
	SDU             uint32
	Flags           uint32 // only meaningful when ProtocolVersion >= VersionMinOOBCheck
}

// DecodeAccept parses an Accept packet's payload.
func DecodeAccept(payload []byte) (Accept, error) {
	r := tnsio.NewReader(payload)
	var a Accept
	var err error
	if a.ProtocolVersion, err = r.ReadUB2(); err != nil {
		return a, fmt.Errorf("decoding accept version: %w", err)
	}
	if a.ProtocolOptions, err = r.ReadUB2(); err != nil {
		return a, fmt.Errorf("decoding accept options: %w", err)
	}
	if _, err = r.ReadBytes(20); err != nil { // 20-byte random/reserved chunk
		return a, fmt.Errorf("decoding accept reserved chunk: %w", err)
	}
	sdu32, err := r.ReadUB2()
	if err != nil {
		return a, fmt.Errorf("decoding accept sdu: %w", err)
	}
	a.SDU = uint32(sdu32)

	if a.ProtocolVersion >= VersionMinOOBCheck && r.Remaining() >= 5+4 {
		if _, err = r.ReadBytes(5); err != nil {
			return a, fmt.Errorf("decoding accept oob trailer: %w", err)
		}
		if a.Flags, err = r.ReadUB4(); err != nil {
			return a, fmt.Errorf("decoding accept flags word: %w", err)
		}
	}
	return a, nil
}

// ProtocolResponse is the decoded Protocol (tag 1) backend message.
type ProtocolResponse struct {
	ServerBanner string
	CharsetID    uint16
	NCharsetID   uint16
	ServerFlags  uint8
}

// ParameterMessage is a key-to-(value, flags) map, used both during
// authentication and for general session/row-count parameters (§4.2).
type ParameterMessage struct {
	Params map[string]AuthParam
}

// ErrorMessage is a decoded Error (tag 4) or Warning (tag 15) message.
type ErrorMessage struct {
	Code        uint16
	IsWarning   bool
	Message     string
	BatchErrors []BatchError
}

// BatchError is one per-row error in an array-DML batch.
type BatchError struct {
	RowOffset uint32
	Code      uint16
	Message   string
}

// DescribeInfoMessage carries the column list for a query, decoded from
// tag 16, per §4.2.
type DescribeInfoMessage struct {
	Columns []Column
}

// RowHeaderMessage signals a row-descriptor change for subsequent RowData
// messages (tag 6).
type RowHeaderMessage struct {
	BitVector []byte
}

// RowDataMessage is one decoded row: raw column buffers in column order,
// as produced by tnsio.Reader.ReadColumnValue (tag 7).
type RowDataMessage struct {
	Columns []tnsio.ColumnValue
}

// StatusMessage signals the end of a response burst (tag 9).
type StatusMessage struct {
	CallStatus       uint32
	EndToEndSeqNum   uint16
}

// LobDataMessage is one chunk of LOB data streamed in response to a
// LobOp read request (tag 14).
type LobDataMessage struct {
	Data  []byte
	Final bool
}

// Message is a decoded backend TTC message, modeled as a tagged union: the
// Kind field selects exactly one of the pointer fields below. Exhaustive
// switches over Kind are the intended consumption pattern (§9).
type Message struct {
	Kind uint8

	Protocol     *ProtocolResponse
	Parameter    *ParameterMessage
	Error        *ErrorMessage
	DescribeInfo *DescribeInfoMessage
	RowHeader    *RowHeaderMessage
	RowData      *RowDataMessage
	Status       *StatusMessage
	LobData      *LobDataMessage
}

// UnknownMessageError is returned for any in-band TTC message tag this
// driver does not recognize — per the Open Question decided in
// SPEC_FULL.md §5, unknown tags are always fatal, never silently skipped.
type UnknownMessageError struct {
	Tag uint8
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("protocol: fatal: unknown TTC message tag %d", e.Tag)
}

// DecodeDataPacketMessages decodes every TTC message in a Data packet's
// payload (after its data_flags field, already stripped by tnsio.Framer).
func DecodeDataPacketMessages(payload []byte) ([]Message, error) {
	r := tnsio.NewReader(payload)
	var out []Message
	for r.Remaining() > 0 {
		msg, err := decodeOneMessage(r)
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func decodeOneMessage(r *tnsio.Reader) (Message, error) {
	tag, err := r.ReadUB1()
	if err != nil {
		return Message{}, fmt.Errorf("decoding message tag: %w", err)
	}

	switch tag {
	case MsgProtocol:
		pr, err := decodeProtocolResponse(r)
		return Message{Kind: tag, Protocol: &pr}, err
	case MsgParameter:
		pm, err := decodeParameterMessage(r)
		return Message{Kind: tag, Parameter: &pm}, err
	case MsgError:
		em, err := decodeErrorMessage(r, false)
		return Message{Kind: tag, Error: &em}, err
	case MsgWarning:
		em, err := decodeErrorMessage(r, true)
		return Message{Kind: tag, Error: &em}, err
	case MsgDescribeInfo:
		di, err := decodeDescribeInfo(r)
		return Message{Kind: tag, DescribeInfo: &di}, err
	case MsgRowHeader:
		rh, err := decodeRowHeader(r)
		return Message{Kind: tag, RowHeader: &rh}, err
	case MsgRowData:
		rd, err := decodeRowData(r)
		return Message{Kind: tag, RowData: &rd}, err
	case MsgStatus:
		st, err := decodeStatus(r)
		return Message{Kind: tag, Status: &st}, err
	case MsgLOBData:
		ld, err := decodeLobData(r)
		return Message{Kind: tag, LobData: &ld}, err
	default:
		return Message{}, &UnknownMessageError{Tag: tag}
	}
}

func decodeProtocolResponse(r *tnsio.Reader) (ProtocolResponse, error) {
	var pr ProtocolResponse
	if _, err := r.ReadUB1(); err != nil { // acknowledged protocol array marker
		return pr, err
	}
	banner, err := r.ReadNullTerminated()
	if err != nil {
		return pr, fmt.Errorf("decoding server banner: %w", err)
	}
	pr.ServerBanner = banner
	if pr.CharsetID, err = r.ReadUB2(); err != nil {
		return pr, fmt.Errorf("decoding charset id: %w", err)
	}
	if pr.NCharsetID, err = r.ReadUB2(); err != nil {
		return pr, fmt.Errorf("decoding ncharset id: %w", err)
	}
	flags, err := r.ReadUB1()
	if err != nil {
		return pr, fmt.Errorf("decoding server flags: %w", err)
	}
	pr.ServerFlags = flags
	return pr, nil
}

func decodeParameterMessage(r *tnsio.Reader) (ParameterMessage, error) {
	count, err := r.ReadUB4()
	if err != nil {
		return ParameterMessage{}, fmt.Errorf("decoding parameter count: %w", err)
	}
	params := make(map[string]AuthParam, count)
	for i := uint32(0); i < count; i++ {
		keyLen, err := r.ReadUB4()
		if err != nil {
			return ParameterMessage{}, fmt.Errorf("decoding parameter %d key length: %w", i, err)
		}
		key, err := r.ReadBytes(int(keyLen))
		if err != nil {
			return ParameterMessage{}, fmt.Errorf("decoding parameter %d key: %w", i, err)
		}
		valLen, err := r.ReadUB4()
		if err != nil {
			return ParameterMessage{}, fmt.Errorf("decoding parameter %d value length: %w", i, err)
		}
		val, err := r.ReadBytes(int(valLen))
		if err != nil {
			return ParameterMessage{}, fmt.Errorf("decoding parameter %d value: %w", i, err)
		}
		flags, err := r.ReadUB4()
		if err != nil {
			return ParameterMessage{}, fmt.Errorf("decoding parameter %d flags: %w", i, err)
		}
		valCopy := make([]byte, len(val))
		copy(valCopy, val)
		params[string(key)] = AuthParam{Value: valCopy, Flags: flags}
	}
	return ParameterMessage{Params: params}, nil
}

// OracleNoDataFound is ORA-01403, the end-of-fetch sentinel (§4.6, §7).
const OracleNoDataFound uint16 = 1403

func decodeErrorMessage(r *tnsio.Reader, isWarning bool) (ErrorMessage, error) {
	var em ErrorMessage
	em.IsWarning = isWarning

	batchCount, err := r.ReadUB2()
	if err != nil {
		return em, fmt.Errorf("decoding batch error count: %w", err)
	}
	code, err := r.ReadUB2()
	if err != nil {
		return em, fmt.Errorf("decoding error code: %w", err)
	}
	em.Code = code

	msgLen, err := r.ReadUB2()
	if err != nil {
		return em, fmt.Errorf("decoding error message length: %w", err)
	}
	msgBytes, err := r.ReadBytes(int(msgLen))
	if err != nil {
		return em, fmt.Errorf("decoding error message: %w", err)
	}
	em.Message = string(msgBytes)

	for i := uint16(0); i < batchCount; i++ {
		rowOffset, err := r.ReadUB4()
		if err != nil {
			return em, fmt.Errorf("decoding batch error %d row offset: %w", i, err)
		}
		beCode, err := r.ReadUB2()
		if err != nil {
			return em, fmt.Errorf("decoding batch error %d code: %w", i, err)
		}
		beMsgLen, err := r.ReadUB2()
		if err != nil {
			return em, fmt.Errorf("decoding batch error %d message length: %w", i, err)
		}
		beMsg, err := r.ReadBytes(int(beMsgLen))
		if err != nil {
			return em, fmt.Errorf("decoding batch error %d message: %w", i, err)
		}
		em.BatchErrors = append(em.BatchErrors, BatchError{RowOffset: rowOffset, Code: beCode, Message: string(beMsg)})
	}
	return em, nil
}

func decodeDescribeInfo(r *tnsio.Reader) (DescribeInfoMessage, error) {
	colCount, err := r.ReadUB4()
	if err != nil {
		return DescribeInfoMessage{}, fmt.Errorf("decoding column count: %w", err)
	}
	di := DescribeInfoMessage{Columns: make([]Column, 0, colCount)}
	for i := uint32(0); i < colCount; i++ {
		col, err := decodeColumn(r)
		if err != nil {
			return di, fmt.Errorf("decoding column %d: %w", i, err)
		}
		di.Columns = append(di.Columns, col)
	}
	// trailing current-date blob and DCB flags, per §4.2.
	dateLen, err := r.ReadUB1()
	if err != nil {
		return di, fmt.Errorf("decoding current-date blob length: %w", err)
	}
	if _, err := r.ReadBytes(int(dateLen)); err != nil {
		return di, fmt.Errorf("decoding current-date blob: %w", err)
	}
	if _, err := r.ReadUB4(); err != nil {
		return di, fmt.Errorf("decoding dcb flags: %w", err)
	}
	return di, nil
}

func decodeColumn(r *tnsio.Reader) (Column, error) {
	var c Column
	var err error
	if c.OracleType, err = r.ReadUB1(); err != nil {
		return c, err
	}
	if c.Flags, err = r.ReadUB1(); err != nil {
		return c, err
	}
	if c.Precision, err = r.ReadSB2(); err != nil {
		return c, err
	}
	if c.Scale, err = r.ReadSB2(); err != nil {
		return c, err
	}
	if c.BufferSize, err = r.ReadUB4(); err != nil {
		return c, err
	}
	oidLen, err := r.ReadUB1()
	if err != nil {
		return c, err
	}
	if c.OID, err = r.ReadBytes(int(oidLen)); err != nil {
		return c, err
	}
	if c.CharsetForm, err = r.ReadUB1(); err != nil {
		return c, err
	}
	if c.ByteLength, err = r.ReadUB4(); err != nil {
		return c, err
	}
	hasName, err := r.ReadUB1()
	if err != nil {
		return c, err
	}
	if hasName != 0 {
		if c.TypeName, err = r.ReadNullTerminated(); err != nil {
			return c, err
		}
		if c.SchemaName, err = r.ReadNullTerminated(); err != nil {
			return c, err
		}
	}
	if c.Position, err = r.ReadUB4(); err != nil {
		return c, err
	}
	nullableFlag, err := r.ReadUB1()
	if err != nil {
		return c, err
	}
	c.Nullable = nullableFlag != 0
	return c, nil
}

func decodeRowHeader(r *tnsio.Reader) (RowHeaderMessage, error) {
	n, err := r.ReadUB2()
	if err != nil {
		return RowHeaderMessage{}, fmt.Errorf("decoding row header bit-vector length: %w", err)
	}
	bv, err := r.ReadBytes(int(n))
	if err != nil {
		return RowHeaderMessage{}, fmt.Errorf("decoding row header bit-vector: %w", err)
	}
	return RowHeaderMessage{BitVector: append([]byte(nil), bv...)}, nil
}

func decodeRowData(r *tnsio.Reader) (RowDataMessage, error) {
	colCount, err := r.ReadUB4()
	if err != nil {
		return RowDataMessage{}, fmt.Errorf("decoding row column count: %w", err)
	}
	rd := RowDataMessage{Columns: make([]tnsio.ColumnValue, 0, colCount)}
	for i := uint32(0); i < colCount; i++ {
		cv, err := r.ReadColumnValue()
		if err != nil {
			return rd, fmt.Errorf("decoding row column %d: %w", i, err)
		}
		rd.Columns = append(rd.Columns, cv)
	}
	return rd, nil
}

func decodeStatus(r *tnsio.Reader) (StatusMessage, error) {
	var st StatusMessage
	var err error
	if st.CallStatus, err = r.ReadUB4(); err != nil {
		return st, err
	}
	if st.EndToEndSeqNum, err = r.ReadUB2(); err != nil {
		return st, err
	}
	return st, nil
}

func decodeLobData(r *tnsio.Reader) (LobDataMessage, error) {
	n, err := r.ReadUB4()
	if err != nil {
		return LobDataMessage{}, fmt.Errorf("decoding lob chunk length: %w", err)
	}
	if n == 0 {
		return LobDataMessage{Final: true}, nil
	}
	data, err := r.ReadBytes(int(n))
	if err != nil {
		return LobDataMessage{}, fmt.Errorf("decoding lob chunk: %w", err)
	}
	return LobDataMessage{Data: append([]byte(nil), data...)}, nil
}
