package pool

import (
	"context"
	"sync"
	"time"

	"github.com/oranet/oranet/internal/session"
)

// ConnState is a pooled connection's lease state, independent of the
// wire-level lifecycle state machine session.Conn tracks internally.
type ConnState int

const (
	ConnStateIdle ConnState = iota
	ConnStateActive
	ConnStateClosed
)

// PooledConn wraps a session.Conn with pooling metadata: lease state,
// creation/use timestamps, and a back-reference so callers can Return it
// without holding onto the Pool directly.
type PooledConn struct {
	mu        sync.Mutex
	conn      *session.Conn
	state     ConnState
	createdAt time.Time
	lastUsed  time.Time
	pool      *Pool
}

// NewPooledConn wraps conn for pool management.
func NewPooledConn(conn *session.Conn, p *Pool) *PooledConn {
	now := time.Now()
	return &PooledConn{
		conn:      conn,
		state:     ConnStateIdle,
		createdAt: now,
		lastUsed:  now,
		pool:      p,
	}
}

// Conn returns the underlying session connection.
func (pc *PooledConn) Conn() *session.Conn {
	return pc.conn
}

// MarkActive marks this connection as in-use.
func (pc *PooledConn) MarkActive() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = ConnStateActive
	pc.lastUsed = time.Now()
}

// MarkIdle marks this connection as idle (returned to pool).
func (pc *PooledConn) MarkIdle() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = ConnStateIdle
	pc.lastUsed = time.Now()
}

// State returns the current lease state.
func (pc *PooledConn) State() ConnState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

// CreatedAt returns when this connection was established.
func (pc *PooledConn) CreatedAt() time.Time {
	return pc.createdAt
}

// LastUsed returns when this connection was last leased or returned.
func (pc *PooledConn) LastUsed() time.Time {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.lastUsed
}

// IsExpired reports whether the connection has exceeded its max lifetime.
func (pc *PooledConn) IsExpired(maxLifetime time.Duration) bool {
	if maxLifetime <= 0 {
		return false
	}
	return time.Since(pc.createdAt) > maxLifetime
}

// IsIdle reports whether the connection has sat idle longer than timeout.
func (pc *PooledConn) IsIdle(idleTimeout time.Duration) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if idleTimeout <= 0 {
		return false
	}
	return pc.state == ConnStateIdle && time.Since(pc.lastUsed) > idleTimeout
}

// Close closes the underlying session connection and marks it closed.
func (pc *PooledConn) Close() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = ConnStateClosed
	return pc.conn.Close()
}

// Ping performs a protocol-level keep-alive check by sending a Ping
// request and waiting for the response, rather than probing the raw
// socket — session.Conn already serializes this safely against any other
// in-flight call on the connection.
func (pc *PooledConn) Ping(ctx context.Context) error {
	return pc.conn.Ping(ctx)
}

// Return releases this connection back to its pool.
func (pc *PooledConn) Return() {
	if pc.pool != nil {
		pc.pool.Return(pc)
	}
}
