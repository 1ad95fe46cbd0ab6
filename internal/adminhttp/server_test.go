package adminhttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/oranet/oranet/internal/metrics"
	"github.com/oranet/oranet/internal/pool"
)

func newTestServer() (*Server, *mux.Router) {
	s := NewServer(metrics.New())

	r := mux.NewRouter()
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/pools", s.listPoolsHandler).Methods("GET")
	r.HandleFunc("/pools/{name}/stats", s.poolStatsHandler).Methods("GET")

	return s, r
}

func TestStatusHandler(t *testing.T) {
	_, r := newTestServer()

	req := httptest.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if _, ok := body["go_version"]; !ok {
		t.Error("expected go_version field in status response")
	}
}

func TestPoolStatsHandlerNotFound(t *testing.T) {
	_, r := newTestServer()

	req := httptest.NewRequest("GET", "/pools/missing/stats", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered pool, got %d", rr.Code)
	}
}

func TestPoolStatsHandlerReturnsRegisteredPool(t *testing.T) {
	s, r := newTestServer()
	p := pool.New(pool.Config{MaxConns: 5})
	t.Cleanup(p.Close)
	s.RegisterPool("primary", p)

	req := httptest.NewRequest("GET", "/pools/primary/stats", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var stats pool.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats response: %v", err)
	}
	if stats.MaxConns != 5 {
		t.Errorf("expected max_connections=5, got %d", stats.MaxConns)
	}
}

func TestListPoolsHandler(t *testing.T) {
	s, r := newTestServer()
	pa := pool.New(pool.Config{MaxConns: 1})
	pb := pool.New(pool.Config{MaxConns: 2})
	t.Cleanup(pa.Close)
	t.Cleanup(pb.Close)
	s.RegisterPool("a", pa)
	s.RegisterPool("b", pb)

	req := httptest.NewRequest("GET", "/pools", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var stats map[string]pool.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(stats) != 2 {
		t.Errorf("expected 2 pools listed, got %d", len(stats))
	}
}

func TestUnregisterPoolRemovesFromListing(t *testing.T) {
	s, r := newTestServer()
	p := pool.New(pool.Config{MaxConns: 1})
	t.Cleanup(p.Close)
	s.RegisterPool("a", p)
	s.UnregisterPool("a")

	req := httptest.NewRequest("GET", "/pools/a/stats", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after unregister, got %d", rr.Code)
	}
}
