package protocol

// AuthContext carries everything the two-phase authentication driver needs,
// per §3 Data Model.
type AuthContext struct {
	Username    string
	Password    string
	NewPassword string // optional

	IAMToken  string // optional, mutually exclusive with Password
	RSAPEMKey []byte // optional, paired with IAMToken

	Terminal string
	Program  string
	Machine  string
	PID      string
	OSUser   string

	ServiceName string // or SID
	IsSID       bool

	Purity      Purity
	SessionTag  string
	ModeFlags   uint32
}

// Purity selects DRCP connection reuse behavior (§6 glossary).
type Purity uint8

const (
	PurityDefault Purity = 0
	PuritySelf    Purity = 1
	PurityNew     Purity = 2
)

// BindDirection describes the direction of data flow for a bind variable.
type BindDirection uint8

const (
	BindIn BindDirection = iota
	BindOut
	BindInOut
)

// Bind is one bound value in a StatementContext's ordered bind array,
// addressed by 1-based ordinal position (:1, :2, ...) per §4.6.
type Bind struct {
	Name      string // optional; empty for purely-positional binds
	Direction BindDirection
	OracleType uint8
	MaxLength  uint32
	Value      []byte // nil means SQL NULL
	IsReturn   bool   // RETURNING ... INTO
}

// StatementKind classifies the SQL text for encoding/decoding purposes.
type StatementKind uint8

const (
	StatementQuery StatementKind = iota
	StatementDML
	StatementDDL
	StatementPLSQL
	StatementPlain
	StatementCursor
)

// ExecuteOptions controls how Execute/ReExecute frame a statement request.
type ExecuteOptions struct {
	FetchArraySize   uint32
	PrefetchRows     uint32
	ArrayDMLRowCount uint32
	AutoCommit       bool
	DescribeOnly     bool
	Scrollable       bool
	BatchErrors      bool
}

// Column describes one column from DescribeInfo (§4.2).
type Column struct {
	OracleType  uint8
	Flags       uint8
	Precision   int16
	Scale       int16
	BufferSize  uint32
	OID         []byte
	CharsetForm uint8
	ByteLength  uint32
	TypeName    string
	SchemaName  string
	Position    uint32
	Nullable    bool
}

// AuthParam is one key/value pair returned in a Parameter message during
// authentication, with the server-side flags word that accompanies it.
type AuthParam struct {
	Value []byte
	Flags uint32
}

// Well-known AUTH_* parameter keys exchanged during the two-phase handshake.
const (
	AuthTerminal           = "AUTH_TERMINAL"
	AuthProgramNm          = "AUTH_PROGRAM_NM"
	AuthMachine            = "AUTH_MACHINE"
	AuthPID                = "AUTH_PID"
	AuthSID                = "AUTH_SID"
	AuthSessKey            = "AUTH_SESSKEY"
	AuthVfrData            = "AUTH_VFR_DATA"
	AuthPBKDF2CSKSalt      = "AUTH_PBKDF2_CSK_SALT"
	AuthPBKDF2VGenCount    = "AUTH_PBKDF2_VGEN_COUNT"
	AuthPBKDF2SDerCount    = "AUTH_PBKDF2_SDER_COUNT"
	AuthGloballyUniqueDBID = "AUTH_GLOBALLY_UNIQUE_DBID"
)
