package oranet

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/oranet/oranet/internal/config"
	"github.com/oranet/oranet/internal/session"
)

func TestOptionsFromConfigPasswordAuth(t *testing.T) {
	b := config.BackendConfig{
		Host:        "db.example.com",
		Port:        1521,
		ServiceName: "ORCLPDB1",
		Username:    "scott",
		Password:    "tiger",
		AuthMode:    config.AuthModePassword,
	}
	opts := OptionsFromConfig(b)

	if opts.Addr != "db.example.com:1521" {
		t.Errorf("unexpected addr: %s", opts.Addr)
	}
	if opts.Password != "tiger" || opts.IAMToken != "" {
		t.Error("expected password auth fields to be populated, iam fields empty")
	}
	ctx := opts.authContext()
	if ctx.ServiceName != "ORCLPDB1" || ctx.IsSID {
		t.Errorf("expected service name auth context, got %+v", ctx)
	}
}

func TestOptionsFromConfigIAMAuth(t *testing.T) {
	b := config.BackendConfig{
		Host:              "db.example.com",
		Port:              1521,
		SID:               "ORCL",
		Username:          "scott",
		AuthMode:          config.AuthModeIAMToken,
		IAMToken:          "token-value",
		IAMTokenRSAKeyPEM: "pem-value",
	}
	opts := OptionsFromConfig(b)

	if opts.IAMToken != "token-value" || string(opts.RSAPEMKey) != "pem-value" {
		t.Error("expected IAM token auth fields to be populated")
	}
	ctx := opts.authContext()
	if !ctx.IsSID || ctx.ServiceName != "ORCL" {
		t.Errorf("expected SID-based auth context, got %+v", ctx)
	}
}

func TestConnWrapsSessionOperations(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	// Close's best-effort Logoff write only completes once something reads
	// it, since net.Pipe has no internal buffering.
	go io.Copy(io.Discard, server)

	inner := session.NewTestConn(client, session.DialOptions{})
	c := &Conn{inner: inner}

	if c.inner.State() != session.StateReadyForStatement {
		t.Fatalf("expected a ready test connection, got state %v", c.inner.State())
	}

	if err := c.Close(); err != nil {
		t.Errorf("unexpected error closing test connection: %v", err)
	}
}

func TestPoolConfigBuildsUnderlyingPoolConfig(t *testing.T) {
	p := OpenPool(PoolConfig{
		Options:        Options{Addr: "127.0.0.1:0"},
		MaxConns:       3,
		AcquireTimeout: 10 * time.Millisecond,
	})
	defer p.Close()

	stats := p.Stats()
	if stats.MaxConns != 3 {
		t.Errorf("expected MaxConns=3, got %d", stats.MaxConns)
	}
}
