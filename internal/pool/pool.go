// Package pool implements the bounded connection pool described in §4.7:
// min/max-sized lease/return over session.Conn, idle reaping, a Ping of each
// idle connection as Acquire leases it, and exponential back-off on
// dial/auth failure. There is no background keep-alive: a connection is not
// pinged while it sits idle in the pool.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oranet/oranet/internal/metrics"
	"github.com/oranet/oranet/internal/protocol"
	"github.com/oranet/oranet/internal/session"
)

// Stats holds a snapshot of pool occupancy.
type Stats struct {
	Active    int   `json:"active"`
	Idle      int   `json:"idle"`
	Total     int   `json:"total"`
	Waiting   int   `json:"waiting"`
	MaxConns  int   `json:"max_connections"`
	MinConns  int   `json:"min_connections"`
	Exhausted int64 `json:"pool_exhausted_total"`
}

// OnPoolExhausted is called when the pool reaches max connections and a
// caller must wait.
type OnPoolExhausted func()

// Config describes one backend and the pool's sizing/timing knobs.
type Config struct {
	Addr string
	Auth protocol.AuthContext
	Dial session.DialOptions

	MinConns       int
	MaxConns       int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration
	DialTimeout    time.Duration

	// MaxBackoff caps the exponential back-off applied after consecutive
	// dial/auth failures (§4.7). Defaults to 30s.
	MaxBackoff time.Duration

	// OnPoolExhausted, if set, is called each time Acquire must wait
	// because the pool is already at MaxConns.
	OnPoolExhausted OnPoolExhausted

	// Metrics, if set, records Acquire timing and exhaustion counts, and
	// is threaded down into Dial as the default for Dial.Metrics when
	// that field is left unset.
	Metrics *metrics.Collector
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Pool is a bounded pool of connections to a single Oracle backend,
// modeled directly on the teacher's tenant pool: a cond-guarded idle
// stack, an active set, and a background reaper — generalized from
// multi-tenant Postgres/MySQL pooling to the single-backend Oracle case,
// plus exponential back-off the reference pool did not need.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg Config

	idle      []*PooledConn
	active    map[*PooledConn]struct{}
	total     int
	waiting   int
	exhausted int64

	closed bool
	stopCh chan struct{}

	onPoolExhausted OnPoolExhausted

	backoffMu   sync.Mutex
	backoffFail int
}

// New creates a pool for one backend and starts its background reaper. If
// MinConns > 0, connections are warmed in the background.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	if cfg.Metrics != nil && cfg.Dial.Metrics == nil {
		cfg.Dial.Metrics = cfg.Metrics
	}
	p := &Pool{
		cfg:             cfg,
		active:          make(map[*PooledConn]struct{}),
		stopCh:          make(chan struct{}),
		onPoolExhausted: cfg.OnPoolExhausted,
	}
	p.cond = sync.NewCond(&p.mu)

	go p.reapLoop()
	if cfg.MinConns > 0 {
		go p.warmUp()
	}
	return p
}

func (p *Pool) warmUp() {
	for i := 0; i < p.cfg.MinConns; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.cfg.MinConns {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		pc, err := p.dial(context.Background())
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			slog.Warn("warm-up connection failed", "index", i+1, "total", p.cfg.MinConns, "err", err)
			return
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			pc.Close()
			return
		}
		pc.MarkIdle()
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
	}
	slog.Info("pre-warmed connections", "count", p.cfg.MinConns, "addr", p.cfg.Addr)
}

// Acquire leases a connection, dialing a new one if the pool is under
// capacity or waiting for one to be returned otherwise. When cfg.Metrics is
// set, the whole call is timed as one AcquireDuration observation,
// regardless of whether it resolved from the idle list, a fresh dial, or a
// wait for a returned connection.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	if p.cfg.Metrics != nil {
		start := time.Now()
		defer func() { p.cfg.Metrics.AcquireDuration(time.Since(start)) }()
	}

	deadlineAt := time.Now().Add(p.cfg.AcquireTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadlineAt) {
		deadlineAt = ctxDeadline
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: closed for %s", p.cfg.Addr)
		}

		for len(p.idle) > 0 {
			pc := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if pc.IsExpired(p.cfg.MaxLifetime) {
				pc.Close()
				p.total--
				continue
			}

			p.mu.Unlock()
			pingErr := pc.Ping(ctx)
			p.mu.Lock()
			if pingErr != nil {
				pc.Close()
				p.total--
				continue
			}

			pc.MarkActive()
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		if p.total < p.cfg.MaxConns {
			p.total++
			p.mu.Unlock()

			pc, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, fmt.Errorf("pool: connecting to %s: %w", p.cfg.Addr, err)
			}

			pc.MarkActive()
			p.mu.Lock()
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		p.waiting++
		p.exhausted++
		cb := p.onPoolExhausted
		p.mu.Unlock()

		if p.cfg.Metrics != nil {
			p.cfg.Metrics.PoolExhausted()
		}
		if cb != nil {
			cb()
		}

		p.mu.Lock()
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			p.waiting--
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: acquire timeout (%s): exhausted", p.cfg.AcquireTimeout)
		}

		timer := time.AfterFunc(remaining, func() {
			p.cond.Broadcast()
		})
		p.cond.Wait()
		timer.Stop()

		p.waiting--

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: closing for %s", p.cfg.Addr)
		}
		if time.Now().After(deadlineAt) {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: acquire timeout (%s): exhausted", p.cfg.AcquireTimeout)
		}
	}
}

// Return releases a connection back to the pool.
func (p *Pool) Return(pc *PooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, pc)

	if p.closed || pc.IsExpired(p.cfg.MaxLifetime) || pc.Conn().State() == session.StateError {
		pc.Close()
		p.total--
		p.cond.Signal()
		return
	}

	pc.MarkIdle()
	p.idle = append(p.idle, pc)

	// Signal rather than Broadcast avoids a thundering herd: only one
	// waiter needs to wake for one freed connection. Broadcast is
	// reserved for Close and acquire-timeout wakeups.
	p.cond.Signal()
}

// Stats returns a snapshot of current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:    len(p.active),
		Idle:      len(p.idle),
		Total:     p.total,
		Waiting:   p.waiting,
		MaxConns:  p.cfg.MaxConns,
		MinConns:  p.cfg.MinConns,
		Exhausted: p.exhausted,
	}
}

// Drain closes idle connections immediately and waits (up to a bound) for
// active ones to be returned, then closes them forcibly.
func (p *Pool) Drain(ctx context.Context) {
	p.mu.Lock()
	for _, pc := range p.idle {
		pc.Close()
		p.total--
	}
	p.idle = p.idle[:0]
	activeCount := len(p.active)
	p.mu.Unlock()

	if activeCount == 0 {
		return
	}
	slog.Info("draining active connections", "count", activeCount, "addr", p.cfg.Addr)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if len(p.active) == 0 {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		case <-ctx.Done():
			p.mu.Lock()
			for pc := range p.active {
				pc.Close()
				p.total--
			}
			p.active = make(map[*PooledConn]struct{})
			p.mu.Unlock()
			slog.Warn("force-closed active connections after drain deadline", "addr", p.cfg.Addr)
			return
		}
	}
}

// Close shuts the pool down: no further Acquire calls succeed, every idle
// connection is closed immediately, and active ones are drained with a
// generous bound.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	p.cond.Broadcast()
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p.Drain(ctx)
}

// dial opens and authenticates a new backend connection, applying
// exponential back-off across consecutive failures (§4.7) before
// returning the underlying error.
func (p *Pool) dial(ctx context.Context) (*PooledConn, error) {
	if err := p.waitOutBackoff(ctx); err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()

	conn, err := session.Dial(dialCtx, p.cfg.Addr, p.cfg.Auth, p.cfg.Dial)
	if err != nil {
		p.recordDialFailure()
		return nil, err
	}
	p.recordDialSuccess()
	return NewPooledConn(conn, p), nil
}

// waitOutBackoff blocks until any outstanding back-off window from a
// previous failure has elapsed, or ctx is canceled.
func (p *Pool) waitOutBackoff(ctx context.Context) error {
	p.backoffMu.Lock()
	fails := p.backoffFail
	p.backoffMu.Unlock()
	if fails == 0 {
		return nil
	}

	delay := backoffDelay(fails, p.cfg.MaxBackoff)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) recordDialFailure() {
	p.backoffMu.Lock()
	p.backoffFail++
	p.backoffMu.Unlock()
}

func (p *Pool) recordDialSuccess() {
	p.backoffMu.Lock()
	p.backoffFail = 0
	p.backoffMu.Unlock()
}

// backoffDelay computes a full-jitter exponential back-off: base doubles
// per failure up to maxDelay, and the actual delay is uniform in [0, d],
// d being that doubled-and-capped value, to avoid synchronized retries
// across many pools.
func backoffDelay(fails int, maxDelay time.Duration) time.Duration {
	const base = 200 * time.Millisecond
	d := base
	for i := 1; i < fails && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) <= p.cfg.MinConns {
		return
	}
	kept := make([]*PooledConn, 0, len(p.idle))
	excess := len(p.idle) - p.cfg.MinConns
	for i, pc := range p.idle {
		if i < excess && (pc.IsIdle(p.cfg.IdleTimeout) || pc.IsExpired(p.cfg.MaxLifetime)) {
			pc.Close()
			p.total--
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
}
