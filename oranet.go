// Package oranet is a native, non-blocking Oracle Net8/TTC client driver:
// packet framing and the connection lifecycle state machine live in
// internal/tnsio and internal/session, two-phase AES/PBKDF2 authentication
// in internal/authcrypto, and bounded connection pooling in internal/pool.
// This file is the package's public surface over those internals.
package oranet

import (
	"context"
	"fmt"
	"time"

	"github.com/oranet/oranet/internal/config"
	"github.com/oranet/oranet/internal/pool"
	"github.com/oranet/oranet/internal/protocol"
	"github.com/oranet/oranet/internal/session"
)

// Purity selects DRCP connection reuse behavior when connecting through a
// pooled server.
type Purity = protocol.Purity

const (
	PurityDefault = protocol.PurityDefault
	PuritySelf    = protocol.PuritySelf
	PurityNew     = protocol.PurityNew
)

// Options configures a single Oracle backend connection or pool. Build one
// directly or derive it from a loaded config.BackendConfig via
// OptionsFromConfig.
type Options struct {
	Addr string // host:port of the TNS listener

	Username    string
	Password    string
	NewPassword string

	IAMToken  string
	RSAPEMKey []byte

	ServiceName string
	SID         string
	Purity      Purity

	DriverName     string
	ConnectTimeout time.Duration
	FetchArraySize uint32
}

func (o Options) authContext() protocol.AuthContext {
	return protocol.AuthContext{
		Username:    o.Username,
		Password:    o.Password,
		NewPassword: o.NewPassword,
		IAMToken:    o.IAMToken,
		RSAPEMKey:   o.RSAPEMKey,
		ServiceName: connectDescriptor(o),
		IsSID:       o.ServiceName == "" && o.SID != "",
		Purity:      o.Purity,
	}
}

func connectDescriptor(o Options) string {
	if o.ServiceName != "" {
		return o.ServiceName
	}
	return o.SID
}

func (o Options) dialOptions() session.DialOptions {
	return session.DialOptions{
		ConnectTimeout: o.ConnectTimeout,
		DriverName:     o.DriverName,
		FetchArraySize: o.FetchArraySize,
	}
}

// OptionsFromConfig builds connection Options from a loaded backend
// configuration, resolving its auth mode into the corresponding credential
// fields.
func OptionsFromConfig(b config.BackendConfig) Options {
	opts := Options{
		Addr:        fmt.Sprintf("%s:%d", b.Host, b.Port),
		Username:    b.Username,
		ServiceName: b.ServiceName,
		SID:         b.SID,
	}
	switch b.AuthMode {
	case config.AuthModeIAMToken:
		opts.IAMToken = b.IAMToken
		opts.RSAPEMKey = []byte(b.IAMTokenRSAKeyPEM)
	default:
		opts.Password = b.Password
	}
	switch b.Purity {
	case "self":
		opts.Purity = PuritySelf
	case "new":
		opts.Purity = PurityNew
	}
	return opts
}

// Conn is a single authenticated connection to an Oracle backend. It may be
// shared across goroutines: the underlying session.Conn queues requests and
// runs them one at a time, in submission order.
type Conn struct {
	inner *session.Conn
}

// Connect dials, handshakes, and authenticates a single connection. Most
// callers should prefer Open, which returns a pooled connection source.
func Connect(ctx context.Context, opts Options) (*Conn, error) {
	c, err := session.Dial(ctx, opts.Addr, opts.authContext(), opts.dialOptions())
	if err != nil {
		return nil, err
	}
	return &Conn{inner: c}, nil
}

// Close tears down the connection.
func (c *Conn) Close() error { return c.inner.Close() }

// Ping performs a protocol-level keep-alive round trip.
func (c *Conn) Ping(ctx context.Context) error { return c.inner.Ping(ctx) }

// Commit commits the current transaction.
func (c *Conn) Commit(ctx context.Context) error { return c.inner.Commit(ctx) }

// Rollback rolls back the current transaction.
func (c *Conn) Rollback(ctx context.Context) error { return c.inner.Rollback(ctx) }

// Statement starts a fluent statement build against this connection.
func (c *Conn) Statement(sql string) *session.Builder {
	return session.NewBuilder(c.inner, sql)
}

// Execute runs sql with no bind variables and default options — a
// convenience wrapper around Statement for the common case.
func (c *Conn) Execute(ctx context.Context, sql string) (*session.StatementResult, error) {
	return c.Statement(sql).Execute(ctx)
}

// Pool is a bounded pool of connections to one Oracle backend.
type Pool struct {
	inner *pool.Pool
}

// PoolConfig controls pool sizing and timing, layered on top of the backend
// identified by Options.
type PoolConfig struct {
	Options Options

	MinConns       int
	MaxConns       int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration
	DialTimeout    time.Duration
	MaxBackoff     time.Duration
}

// OpenPool creates a connection pool for one backend and begins warming it
// in the background if MinConns > 0.
func OpenPool(cfg PoolConfig) *Pool {
	p := pool.New(pool.Config{
		Addr:           cfg.Options.Addr,
		Auth:           cfg.Options.authContext(),
		Dial:           cfg.Options.dialOptions(),
		MinConns:       cfg.MinConns,
		MaxConns:       cfg.MaxConns,
		IdleTimeout:    cfg.IdleTimeout,
		MaxLifetime:    cfg.MaxLifetime,
		AcquireTimeout: cfg.AcquireTimeout,
		DialTimeout:    cfg.DialTimeout,
		MaxBackoff:     cfg.MaxBackoff,
	})
	return &Pool{inner: p}
}

// PooledConn is a Conn leased from a Pool; callers must call Release (or
// Close, to discard it instead of returning it) when done.
type PooledConn struct {
	Conn
	pc *pool.PooledConn
}

// Acquire leases a connection from the pool, dialing a new one if the pool
// is under capacity.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	pc, err := p.inner.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &PooledConn{Conn: Conn{inner: pc.Conn()}, pc: pc}, nil
}

// Release returns the connection to its pool for reuse.
func (p *PooledConn) Release() { p.pc.Return() }

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() pool.Stats { return p.inner.Stats() }

// Close drains and closes every connection in the pool.
func (p *Pool) Close() { p.inner.Close() }
