// Command oranet-admin runs a standalone pool against one configured Oracle
// backend and exposes its operational surface (status, pool stats,
// Prometheus metrics) over HTTP. It exists for operators who want a
// pool/health/metrics process without embedding oranet as a library.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oranet/oranet/internal/adminhttp"
	"github.com/oranet/oranet/internal/config"
	"github.com/oranet/oranet/internal/health"
	"github.com/oranet/oranet/internal/metrics"
	"github.com/oranet/oranet/internal/pool"
	"github.com/oranet/oranet/internal/protocol"
	"github.com/oranet/oranet/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/oranet.yaml", "path to configuration file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("oranet-admin starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("configuration loaded from %s (backend %s:%d)", *configPath, cfg.Backend.Host, cfg.Backend.Port)

	m := metrics.New()
	p := buildPool(cfg, m)
	go reportPoolStats(p, m)

	hc := health.NewChecker("primary", p, m, health.Config{})
	hc.Start()

	admin := adminhttp.NewServer(m)
	admin.RegisterPool("primary", p)
	if err := admin.Start(cfg.Listen.AdminBind, cfg.Listen.AdminPort); err != nil {
		log.Fatalf("failed to start admin HTTP server: %v", err)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("configuration change detected; pool sizing/backend changes require a restart")
	})
	if err != nil {
		log.Printf("warning: config hot-reload not available: %v", err)
	}

	log.Printf("oranet-admin ready - admin:%d", cfg.Listen.AdminPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down...", sig)

	if configWatcher != nil {
		configWatcher.Stop()
	}
	admin.Stop()
	hc.Stop()
	p.Close()

	log.Printf("oranet-admin stopped")
}

func buildPool(cfg *config.Config, m *metrics.Collector) *pool.Pool {
	b := cfg.Backend
	auth := protocol.AuthContext{
		Username:    b.Username,
		Password:    b.Password,
		ServiceName: b.ConnectDescriptor(),
		IsSID:       b.ServiceName == "" && b.SID != "",
	}
	if b.AuthMode == config.AuthModeIAMToken {
		auth.IAMToken = b.IAMToken
		auth.RSAPEMKey = []byte(b.IAMTokenRSAKeyPEM)
	}

	return pool.New(pool.Config{
		Addr:           fmt.Sprintf("%s:%d", b.Host, b.Port),
		Auth:           auth,
		Dial:           session.DialOptions{},
		MinConns:       b.EffectiveMinConnections(cfg.Pool),
		MaxConns:       b.EffectiveMaxConnections(cfg.Pool),
		IdleTimeout:    b.EffectiveIdleTimeout(cfg.Pool),
		MaxLifetime:    b.EffectiveMaxLifetime(cfg.Pool),
		AcquireTimeout: b.EffectiveAcquireTimeout(cfg.Pool),
		DialTimeout:    cfg.Pool.DialTimeout,
		MaxBackoff:     cfg.Pool.MaxBackoff,
		Metrics:        m,
	})
}

func reportPoolStats(p *pool.Pool, m *metrics.Collector) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s := p.Stats()
		m.UpdatePoolStats(s.Active, s.Idle, s.Total, s.Waiting)
	}
}
