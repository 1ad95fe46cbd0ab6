package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for oranet.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  prometheus.Gauge
	connectionsIdle    prometheus.Gauge
	connectionsTotal   prometheus.Gauge
	connectionsWaiting prometheus.Gauge
	poolExhausted      prometheus.Counter
	acquireDuration    prometheus.Histogram
	dialDuration       prometheus.Histogram
	dialFailures       *prometheus.CounterVec

	authOutcomes     *prometheus.CounterVec
	authDuration     prometheus.Histogram
	statementLatency prometheus.Histogram
	statementErrors  *prometheus.CounterVec

	rowsFetchedTotal   prometheus.Counter
	fetchRoundTrips    prometheus.Counter
	backpressureStalls prometheus.Counter

	breaksSentTotal prometheus.Counter

	healthCheckOutcomes *prometheus.CounterVec
	healthCheckDuration prometheus.Histogram
}

// New creates and registers all Prometheus metrics using a custom registry.
// Safe to call multiple times (e.g., in tests or on config reload) — each call
// creates an independent registry that doesn't conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oranet_connections_active",
			Help: "Number of leased connections in the pool",
		}),
		connectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oranet_connections_idle",
			Help: "Number of idle connections in the pool",
		}),
		connectionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oranet_connections_total",
			Help: "Total number of connections (idle + active) in the pool",
		}),
		connectionsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oranet_connections_waiting",
			Help: "Number of goroutines waiting for a connection",
		}),
		poolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oranet_pool_exhausted_total",
			Help: "Total number of times Acquire had to wait for a free connection",
		}),
		acquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oranet_acquire_duration_seconds",
			Help:    "Time spent waiting in Pool.Acquire",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		dialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oranet_dial_duration_seconds",
			Help:    "Time spent in handshake + authentication for a new connection",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		dialFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oranet_dial_failures_total",
				Help: "Dial/authentication failures by stage",
			},
			[]string{"stage"},
		),

		authOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oranet_auth_outcomes_total",
				Help: "Two-phase authentication outcomes by result",
			},
			[]string{"result"},
		),
		authDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oranet_auth_duration_seconds",
			Help:    "Duration of the two-phase AES/PBKDF2 authentication exchange",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		statementLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oranet_statement_duration_seconds",
			Help:    "Duration of Execute calls from submission to first response",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
		statementErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oranet_statement_errors_total",
				Help: "Statement execution errors by ORA error code",
			},
			[]string{"code"},
		),

		rowsFetchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oranet_rows_fetched_total",
			Help: "Total rows pushed into row streams across all statements",
		}),
		fetchRoundTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oranet_fetch_round_trips_total",
			Help: "Total Fetch round trips issued to refill row streams",
		}),
		backpressureStalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oranet_backpressure_stalls_total",
			Help: "Times a row producer blocked because a row stream's buffer was full",
		}),

		breaksSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oranet_marker_breaks_total",
			Help: "Total out-of-band Break markers sent to cancel an in-flight call",
		}),

		healthCheckOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oranet_health_check_outcomes_total",
				Help: "Pool health check outcomes by result",
			},
			[]string{"result"},
		),
		healthCheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oranet_health_check_duration_seconds",
			Help:    "Duration of a pool health check (acquire + Ping)",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsIdle,
		c.connectionsTotal,
		c.connectionsWaiting,
		c.poolExhausted,
		c.acquireDuration,
		c.dialDuration,
		c.dialFailures,
		c.authOutcomes,
		c.authDuration,
		c.statementLatency,
		c.statementErrors,
		c.rowsFetchedTotal,
		c.fetchRoundTrips,
		c.backpressureStalls,
		c.breaksSentTotal,
		c.healthCheckOutcomes,
		c.healthCheckDuration,
	)

	return c
}

// UpdatePoolStats updates the pool gauge metrics from a stats snapshot.
func (c *Collector) UpdatePoolStats(active, idle, total, waiting int) {
	c.connectionsActive.Set(float64(active))
	c.connectionsIdle.Set(float64(idle))
	c.connectionsTotal.Set(float64(total))
	c.connectionsWaiting.Set(float64(waiting))
}

// PoolExhausted increments the pool exhausted counter.
func (c *Collector) PoolExhausted() {
	c.poolExhausted.Inc()
}

// AcquireDuration observes the time spent waiting for a pool connection.
func (c *Collector) AcquireDuration(d time.Duration) {
	c.acquireDuration.Observe(d.Seconds())
}

// DialCompleted records the duration of a successful dial+handshake+auth.
func (c *Collector) DialCompleted(d time.Duration) {
	c.dialDuration.Observe(d.Seconds())
}

// DialFailed records a dial/handshake/auth failure by the stage it failed at
// ("connect", "handshake", or "auth").
func (c *Collector) DialFailed(stage string) {
	c.dialFailures.WithLabelValues(stage).Inc()
}

// AuthCompleted records an authentication outcome ("success" or "failure")
// and its duration.
func (c *Collector) AuthCompleted(d time.Duration, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.authOutcomes.WithLabelValues(result).Inc()
	c.authDuration.Observe(d.Seconds())
}

// StatementCompleted records an Execute call's latency.
func (c *Collector) StatementCompleted(d time.Duration) {
	c.statementLatency.Observe(d.Seconds())
}

// StatementError records a statement execution error by ORA error code.
func (c *Collector) StatementError(code uint16) {
	c.statementErrors.WithLabelValues(errCodeLabel(code)).Inc()
}

// RowsFetched adds n to the total rows pushed into row streams.
func (c *Collector) RowsFetched(n int) {
	c.rowsFetchedTotal.Add(float64(n))
}

// FetchRoundTrip increments the Fetch round-trip counter.
func (c *Collector) FetchRoundTrip() {
	c.fetchRoundTrips.Inc()
}

// BackpressureStall increments the counter tracking producer stalls caused
// by a full row-stream buffer.
func (c *Collector) BackpressureStall() {
	c.backpressureStalls.Inc()
}

// BreakSent increments the counter tracking out-of-band cancellations.
func (c *Collector) BreakSent() {
	c.breaksSentTotal.Inc()
}

// HealthCheckCompleted records a pool health check's duration and outcome.
func (c *Collector) HealthCheckCompleted(d time.Duration, healthy bool) {
	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	c.healthCheckOutcomes.WithLabelValues(result).Inc()
	c.healthCheckDuration.Observe(d.Seconds())
}

func errCodeLabel(code uint16) string {
	if code == 0 {
		return "0"
	}
	return "ora-" + strconv.Itoa(int(code))
}
