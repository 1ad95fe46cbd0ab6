// Package adminhttp exposes a read-only HTTP surface over a set of named
// pools: process status, per-pool connection stats, and Prometheus
// metrics. Unlike the teacher's API server, there is no tenant CRUD here —
// oranet pools one backend each, so there is no per-tenant object to
// create, update, pause, or route; only the operational visibility the
// teacher exposed over its tenant pools carries over.
package adminhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oranet/oranet/internal/metrics"
	"github.com/oranet/oranet/internal/pool"
)

// Server is the read-only admin HTTP server.
type Server struct {
	metrics    *metrics.Collector
	httpServer *http.Server
	startTime  time.Time

	mu    sync.RWMutex
	pools map[string]*pool.Pool
}

// NewServer creates an admin server reporting on the given metrics
// collector. Pools are registered after construction via RegisterPool so
// the caller doesn't need to stand up every pool before starting to serve.
func NewServer(m *metrics.Collector) *Server {
	return &Server{
		metrics:   m,
		startTime: time.Now(),
		pools:     make(map[string]*pool.Pool),
	}
}

// RegisterPool makes name's stats visible at /pools/{name}/stats.
func (s *Server) RegisterPool(name string, p *pool.Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[name] = p
}

// UnregisterPool removes a pool from the admin surface, e.g. after Close.
func (s *Server) UnregisterPool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pools, name)
}

// Start begins serving the admin HTTP surface on bind:port.
func (s *Server) Start(bind string, port int) error {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/pools", s.listPoolsHandler).Methods("GET")
	r.HandleFunc("/pools/{name}/stats", s.poolStatsHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", bind, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[adminhttp] listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[adminhttp] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.mu.RLock()
	numPools := len(s.pools)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_pools":      numPools,
	})
}

func (s *Server) listPoolsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]pool.Stats, len(s.pools))
	for name, p := range s.pools {
		result[name] = p.Stats()
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) poolStatsHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	s.mu.RLock()
	p, ok := s.pools[name]
	s.mu.RUnlock()

	if !ok {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	writeJSON(w, http.StatusOK, p.Stats())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
