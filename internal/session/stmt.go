package session

import (
	"context"

	"github.com/oranet/oranet/internal/protocol"
)

// Builder accumulates a statement's SQL text, bind variables, and execute
// options before submitting it, replacing the macro-driven prepared
// statement surface of the reference implementation with a plain fluent
// API — each call returns the Builder so calls chain.
type Builder struct {
	conn  *Conn
	sql   string
	binds []protocol.Bind
	opts  protocol.ExecuteOptions
}

// NewBuilder starts a statement build against conn.
func NewBuilder(conn *Conn, sql string) *Builder {
	return &Builder{conn: conn, sql: sql, opts: protocol.ExecuteOptions{FetchArraySize: conn.opts.FetchArraySize}}
}

// BindIn appends a positional or named IN bind variable.
func (b *Builder) BindIn(name string, oracleType uint8, value []byte) *Builder {
	b.binds = append(b.binds, protocol.Bind{
		Name:       name,
		Direction:  protocol.BindIn,
		OracleType: oracleType,
		MaxLength:  uint32(len(value)),
		Value:      value,
	})
	return b
}

// BindOut appends an OUT bind variable with no client-supplied value.
func (b *Builder) BindOut(name string, oracleType uint8, maxLength uint32) *Builder {
	b.binds = append(b.binds, protocol.Bind{
		Name:       name,
		Direction:  protocol.BindOut,
		OracleType: oracleType,
		MaxLength:  maxLength,
	})
	return b
}

// BindInOut appends an INOUT bind variable.
func (b *Builder) BindInOut(name string, oracleType uint8, value []byte, maxLength uint32) *Builder {
	b.binds = append(b.binds, protocol.Bind{
		Name:       name,
		Direction:  protocol.BindInOut,
		OracleType: oracleType,
		MaxLength:  maxLength,
		Value:      value,
	})
	return b
}

// FetchArraySize overrides the connection's default row-stream buffer
// capacity and server-side prefetch hint for this statement.
func (b *Builder) FetchArraySize(n uint32) *Builder {
	b.opts.FetchArraySize = n
	return b
}

// AutoCommit toggles whether a successful DML statement auto-commits.
func (b *Builder) AutoCommit(v bool) *Builder {
	b.opts.AutoCommit = v
	return b
}

// DescribeOnly restricts execution to describing the statement's result
// shape without fetching any rows.
func (b *Builder) DescribeOnly(v bool) *Builder {
	b.opts.DescribeOnly = v
	return b
}

// BatchErrors enables per-row error collection for array DML.
func (b *Builder) BatchErrors(v bool) *Builder {
	b.opts.BatchErrors = v
	return b
}

// ArrayDMLRowCount sets the row count for an array DML execution.
func (b *Builder) ArrayDMLRowCount(n uint32) *Builder {
	b.opts.ArrayDMLRowCount = n
	return b
}

// Execute submits the accumulated statement on the Builder's connection.
func (b *Builder) Execute(ctx context.Context) (*StatementResult, error) {
	return b.conn.Execute(ctx, b.sql, b.binds, b.opts)
}
