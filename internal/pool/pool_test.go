package pool

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/oranet/oranet/internal/session"
	"github.com/oranet/oranet/internal/tnsio"
)

func testPool(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:    cfg,
		active: make(map[*PooledConn]struct{}),
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// autoRespond answers every Data packet it reads off server with an empty
// Data+EOF packet of its own, standing in for a real listener so a
// PooledConn's Ping (issued by Acquire against an idle connection) and its
// Close's best-effort Logoff both complete a normal request/response round
// trip instead of blocking forever on an unread net.Pipe write.
func autoRespond(server net.Conn) {
	framer := tnsio.NewFramer()
	buf := make([]byte, 4096)
	for {
		n, err := server.Read(buf)
		if n > 0 {
			pkts, ferr := framer.Feed(buf[:n])
			if ferr != nil {
				return
			}
			if len(pkts) > 0 {
				for _, chunk := range framer.EncodeData(nil, 0) {
					if _, werr := server.Write(chunk); werr != nil {
						return
					}
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// injectPipe wraps one half of a net.Pipe as a ready PooledConn and adds
// it directly to p's idle list, bypassing dial — the same trick the
// reference pool used to test acquire/return without a live backend. The
// server side runs autoRespond in the background so Ping and Close both
// see a completed round trip instead of blocking.
func injectPipe(p *Pool) (pc *PooledConn, serverSide net.Conn) {
	client, server := net.Pipe()
	go autoRespond(server)
	conn := session.NewTestConn(client, session.DialOptions{})
	pc = NewPooledConn(conn, p)
	p.mu.Lock()
	p.idle = append(p.idle, pc)
	p.total++
	p.mu.Unlock()
	return pc, server
}

func TestPooledConnStates(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := session.NewTestConn(client, session.DialOptions{})
	pc := NewPooledConn(conn, nil)

	if pc.State() != ConnStateIdle {
		t.Error("new connection should be idle")
	}
	pc.MarkActive()
	if pc.State() != ConnStateActive {
		t.Error("should be active after MarkActive")
	}
	pc.MarkIdle()
	if pc.State() != ConnStateIdle {
		t.Error("should be idle after MarkIdle")
	}
}

func TestPooledConnExpiry(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := session.NewTestConn(client, session.DialOptions{})
	pc := NewPooledConn(conn, nil)

	if pc.IsExpired(5 * time.Minute) {
		t.Error("new connection should not be expired")
	}
	if pc.IsExpired(0) {
		t.Error("zero max lifetime should never expire")
	}
	time.Sleep(2 * time.Millisecond)
	if !pc.IsExpired(1 * time.Millisecond) {
		t.Error("connection should be expired with 1ms lifetime after 2ms sleep")
	}
}

func TestPooledConnIdle(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := session.NewTestConn(client, session.DialOptions{})
	pc := NewPooledConn(conn, nil)
	pc.MarkIdle()

	if pc.IsIdle(5 * time.Minute) {
		t.Error("freshly used connection should not be idle")
	}
	time.Sleep(2 * time.Millisecond)
	if !pc.IsIdle(1 * time.Millisecond) {
		t.Error("connection should be idle with 1ms timeout")
	}
}

func TestPoolStatsEmpty(t *testing.T) {
	p := testPool(Config{MaxConns: 5, MinConns: 0, AcquireTimeout: 2 * time.Second})
	defer close(p.stopCh)

	stats := p.Stats()
	if stats.MaxConns != 5 {
		t.Errorf("expected max conns 5, got %d", stats.MaxConns)
	}
	if stats.Active != 0 || stats.Idle != 0 {
		t.Errorf("expected empty pool, got %+v", stats)
	}
}

func TestConcurrentAcquireReturn(t *testing.T) {
	p := testPool(Config{MaxConns: 2, MinConns: 0, AcquireTimeout: 2 * time.Second})
	defer close(p.stopCh)

	var pipes []net.Conn
	for i := 0; i < 2; i++ {
		_, server := injectPipe(p)
		pipes = append(pipes, server)
	}
	defer func() {
		for _, c := range pipes {
			c.Close()
		}
	}()

	var wg sync.WaitGroup
	const goroutines = 10
	const iterations = 5

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				pc, err := p.Acquire(context.Background())
				if err != nil {
					continue
				}
				time.Sleep(time.Millisecond)
				p.Return(pc)
			}
		}()
	}
	wg.Wait()

	stats := p.Stats()
	if stats.Active != 0 {
		t.Errorf("expected 0 active after all returns, got %d", stats.Active)
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := testPool(Config{MaxConns: 1, MinConns: 0, AcquireTimeout: 5 * time.Second})
	defer close(p.stopCh)

	_, server := injectPipe(p)
	defer server.Close()

	acquired, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected successful acquire, got: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Acquire(ctx); err == nil {
		t.Error("expected error from cancelled context acquire")
	}

	p.Return(acquired)
}

func TestReapIdleRemovesOldest(t *testing.T) {
	p := testPool(Config{
		MaxConns:       5,
		MinConns:       1,
		IdleTimeout:    time.Millisecond,
		AcquireTimeout: 2 * time.Second,
	})
	defer close(p.stopCh)

	var pipes []net.Conn
	for i := 0; i < 3; i++ {
		pc, server := injectPipe(p)
		pc.MarkIdle()
		pipes = append(pipes, server)
	}
	defer func() {
		for _, c := range pipes {
			c.Close()
		}
	}()

	time.Sleep(5 * time.Millisecond)
	p.reapIdle()

	p.mu.Lock()
	remaining := len(p.idle)
	totalAfter := p.total
	p.mu.Unlock()

	if remaining < p.cfg.MinConns {
		t.Errorf("expected at least minConns(%d) remaining, got %d", p.cfg.MinConns, remaining)
	}
	if totalAfter > remaining {
		t.Errorf("total(%d) should match remaining idle(%d) when no active conns", totalAfter, remaining)
	}
}

func TestDoubleClose(t *testing.T) {
	p := testPool(Config{MaxConns: 5, AcquireTimeout: time.Second})

	// Should not panic.
	p.Close()
	p.Close()
}

func TestDrainClosesIdleImmediately(t *testing.T) {
	p := testPool(Config{MaxConns: 5, AcquireTimeout: time.Second})
	defer close(p.stopCh)

	var pipes []net.Conn
	for i := 0; i < 2; i++ {
		_, server := injectPipe(p)
		pipes = append(pipes, server)
	}
	defer func() {
		for _, c := range pipes {
			c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Drain(ctx)

	stats := p.Stats()
	if stats.Idle != 0 || stats.Total != 0 {
		t.Errorf("expected drain to close all idle connections, got %+v", stats)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	max := 2 * time.Second
	prevUpperBound := time.Duration(0)
	for fails := 1; fails <= 10; fails++ {
		// The jitter ceiling is 200ms doubled per extra failure, capped at max.
		upperBound := (200 * time.Millisecond) << (fails - 1)
		if upperBound > max {
			upperBound = max
		}
		if upperBound < prevUpperBound {
			t.Fatalf("fails=%d: ceiling %s shrank from %s", fails, upperBound, prevUpperBound)
		}
		d := backoffDelay(fails, max)
		if d < 0 || d > upperBound {
			t.Fatalf("fails=%d: delay %s out of bounds [0, %s]", fails, d, upperBound)
		}
		prevUpperBound = upperBound
	}
}
