// Package health periodically verifies a pool's backend is reachable,
// generalized from the teacher's per-tenant TCP/protocol probes to a
// single protocol-level Ping over a pooled connection, since oranet pools
// exactly one backend per Pool rather than routing across many.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oranet/oranet/internal/metrics"
	"github.com/oranet/oranet/internal/pool"
)

// Status represents the health status of the pooled backend.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Report holds the current health assessment of a pool's backend.
type Report struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker performs periodic health checks against a pool's backend by
// acquiring a connection and issuing a protocol-level Ping — a full
// round trip through the TNS/TTC stack, not just a TCP probe.
type Checker struct {
	name    string
	pool    *pool.Pool
	metrics *metrics.Collector

	interval          time.Duration
	failureThreshold  int
	connectionTimeout time.Duration

	mu     sync.RWMutex
	report Report

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config controls the checker's timing.
type Config struct {
	Interval          time.Duration
	FailureThreshold  int
	ConnectionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 5 * time.Second
	}
	return c
}

// NewChecker creates a health checker for name's pool.
func NewChecker(name string, p *pool.Pool, m *metrics.Collector, cfg Config) *Checker {
	cfg = cfg.withDefaults()
	return &Checker{
		name:              name,
		pool:              p,
		metrics:           m,
		interval:          cfg.Interval,
		failureThreshold:  cfg.FailureThreshold,
		connectionTimeout: cfg.ConnectionTimeout,
		report:            Report{Status: StatusUnknown},
		stopCh:            make(chan struct{}),
	}
}

// Start begins periodic health checking, running one check immediately.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "pool", c.name, "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped", "pool", c.name)
}

func (c *Checker) run() {
	c.check()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.check()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) check() {
	start := time.Now()
	healthy, errMsg := c.ping()
	elapsed := time.Since(start)

	if c.metrics != nil {
		c.metrics.HealthCheckCompleted(elapsed, healthy)
	}
	c.updateStatus(healthy, errMsg)
}

// ping acquires a pooled connection and issues a protocol-level Ping,
// exercising the full TNS/TTC round trip rather than a bare TCP probe.
func (c *Checker) ping() (healthy bool, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.connectionTimeout)
	defer cancel()

	pc, err := c.pool.Acquire(ctx)
	if err != nil {
		return false, "acquire for health check: " + err.Error()
	}
	defer pc.Return()

	if err := pc.Ping(ctx); err != nil {
		return false, "ping: " + err.Error()
	}
	return true, ""
}

func (c *Checker) updateStatus(healthy bool, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.report.LastCheck = time.Now()

	if healthy {
		if c.report.ConsecutiveFailures > 0 {
			slog.Info("pool recovered", "pool", c.name, "failures", c.report.ConsecutiveFailures)
		}
		c.report.Status = StatusHealthy
		c.report.ConsecutiveFailures = 0
		c.report.LastError = ""
		return
	}

	c.report.ConsecutiveFailures++
	c.report.LastError = errMsg
	if c.report.ConsecutiveFailures >= c.failureThreshold && c.report.Status != StatusUnhealthy {
		slog.Warn("pool marked unhealthy", "pool", c.name, "failures", c.report.ConsecutiveFailures, "error", errMsg)
		c.report.Status = StatusUnhealthy
	}
}

// IsHealthy returns whether the pool is healthy. An unknown status (no
// check has run yet) is treated as healthy so callers aren't blocked at
// startup.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report.Status != StatusUnhealthy
}

// GetReport returns the current health report.
func (c *Checker) GetReport() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report
}
