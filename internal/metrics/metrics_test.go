package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// newTestCollector creates a Collector registered with a fresh registry
// so tests don't conflict with each other or with the default registry.
func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	c := New()
	return c, c.Registry
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestUpdatePoolStatsAuthority(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePoolStats(3, 5, 8, 1)
	if v := getGaugeValue(c.connectionsActive); v != 3 {
		t.Errorf("expected active=3, got %v", v)
	}

	// A second call replaces (not increments) the value.
	c.UpdatePoolStats(2, 4, 6, 0)
	if v := getGaugeValue(c.connectionsActive); v != 2 {
		t.Errorf("expected active=2 after update, got %v", v)
	}
}

func TestUpdatePoolStatsAllGauges(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePoolStats(5, 10, 15, 2)

	if v := getGaugeValue(c.connectionsActive); v != 5 {
		t.Errorf("expected active=5, got %v", v)
	}
	if v := getGaugeValue(c.connectionsIdle); v != 10 {
		t.Errorf("expected idle=10, got %v", v)
	}
	if v := getGaugeValue(c.connectionsTotal); v != 15 {
		t.Errorf("expected total=15, got %v", v)
	}
	if v := getGaugeValue(c.connectionsWaiting); v != 2 {
		t.Errorf("expected waiting=2, got %v", v)
	}
}

func TestPoolExhausted(t *testing.T) {
	c, _ := newTestCollector(t)

	c.PoolExhausted()
	c.PoolExhausted()
	c.PoolExhausted()

	if v := getCounterValue(c.poolExhausted); v != 3 {
		t.Errorf("expected exhausted=3, got %v", v)
	}
}

func TestAcquireDuration(t *testing.T) {
	c, reg := newTestCollector(t)

	c.AcquireDuration(5 * time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "oranet_acquire_duration_seconds" {
			found = true
			m := f.GetMetric()
			if len(m) > 0 && m[0].GetHistogram().GetSampleCount() != 1 {
				t.Errorf("expected 1 acquire sample, got %d", m[0].GetHistogram().GetSampleCount())
			}
		}
	}
	if !found {
		t.Error("acquire duration metric not found")
	}
}

func TestDialCompletedAndFailed(t *testing.T) {
	c, reg := newTestCollector(t)

	c.DialCompleted(10 * time.Millisecond)
	c.DialFailed("auth")
	c.DialFailed("auth")
	c.DialFailed("connect")

	if v := getCounterValue(c.dialFailures.WithLabelValues("auth")); v != 2 {
		t.Errorf("expected auth dial failures=2, got %v", v)
	}
	if v := getCounterValue(c.dialFailures.WithLabelValues("connect")); v != 1 {
		t.Errorf("expected connect dial failures=1, got %v", v)
	}

	families, _ := reg.Gather()
	var found bool
	for _, f := range families {
		if f.GetName() == "oranet_dial_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("dial duration metric not found")
	}
}

func TestAuthCompleted(t *testing.T) {
	c, _ := newTestCollector(t)

	c.AuthCompleted(2*time.Millisecond, true)
	c.AuthCompleted(3*time.Millisecond, false)

	if v := getCounterValue(c.authOutcomes.WithLabelValues("success")); v != 1 {
		t.Errorf("expected 1 success outcome, got %v", v)
	}
	if v := getCounterValue(c.authOutcomes.WithLabelValues("failure")); v != 1 {
		t.Errorf("expected 1 failure outcome, got %v", v)
	}
}

func TestStatementErrorLabelsByCode(t *testing.T) {
	c, _ := newTestCollector(t)

	c.StatementError(1403)
	c.StatementError(1403)
	c.StatementError(942)

	if v := getCounterValue(c.statementErrors.WithLabelValues("ora-1403")); v != 2 {
		t.Errorf("expected ora-1403 count=2, got %v", v)
	}
	if v := getCounterValue(c.statementErrors.WithLabelValues("ora-942")); v != 1 {
		t.Errorf("expected ora-942 count=1, got %v", v)
	}
}

func TestRowsFetchedAndFetchRoundTrip(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RowsFetched(100)
	c.RowsFetched(50)
	c.FetchRoundTrip()
	c.FetchRoundTrip()

	if v := getCounterValue(c.rowsFetchedTotal); v != 150 {
		t.Errorf("expected rows fetched=150, got %v", v)
	}
	if v := getCounterValue(c.fetchRoundTrips); v != 2 {
		t.Errorf("expected fetch round trips=2, got %v", v)
	}
}

func TestBackpressureStallAndBreakSent(t *testing.T) {
	c, _ := newTestCollector(t)

	c.BackpressureStall()
	c.BackpressureStall()
	c.BackpressureStall()
	c.BreakSent()

	if v := getCounterValue(c.backpressureStalls); v != 3 {
		t.Errorf("expected backpressure stalls=3, got %v", v)
	}
	if v := getCounterValue(c.breaksSentTotal); v != 1 {
		t.Errorf("expected breaks sent=1, got %v", v)
	}
}

func TestHealthCheckCompleted(t *testing.T) {
	c, _ := newTestCollector(t)

	c.HealthCheckCompleted(2*time.Millisecond, true)
	c.HealthCheckCompleted(1*time.Millisecond, false)
	c.HealthCheckCompleted(3*time.Millisecond, false)

	if v := getCounterValue(c.healthCheckOutcomes.WithLabelValues("healthy")); v != 1 {
		t.Errorf("expected 1 healthy outcome, got %v", v)
	}
	if v := getCounterValue(c.healthCheckOutcomes.WithLabelValues("unhealthy")); v != 2 {
		t.Errorf("expected 2 unhealthy outcomes, got %v", v)
	}
}

func TestNewDoesNotPanicOnMultipleCalls(t *testing.T) {
	// Calling New() multiple times should not panic because each creates
	// its own registry instead of using the global default.
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("New() panicked on repeated calls: %v", r)
		}
	}()

	c1 := New()
	c2 := New()

	c1.UpdatePoolStats(1, 0, 1, 0)
	c2.UpdatePoolStats(2, 0, 2, 0)

	if v := getGaugeValue(c1.connectionsActive); v != 1 {
		t.Errorf("c1 expected active=1, got %v", v)
	}
	if v := getGaugeValue(c2.connectionsActive); v != 2 {
		t.Errorf("c2 expected active=2, got %v", v)
	}
}
