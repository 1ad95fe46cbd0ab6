package pool

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/oranet/oranet/internal/session"
)

// newBenchPool creates a Pool pre-loaded with n injected net.Pipe
// connections and a large AcquireTimeout so waits don't skew results.
func newBenchPool(b *testing.B, n int) (*Pool, []net.Conn) {
	b.Helper()
	p := testPool(Config{
		MinConns:       0,
		MaxConns:       n,
		IdleTimeout:    5 * time.Minute,
		MaxLifetime:    30 * time.Minute,
		AcquireTimeout: 30 * time.Second,
	})

	pipes := make([]net.Conn, 0, n*2)
	for i := 0; i < n; i++ {
		client, server := net.Pipe()
		go autoRespond(server)
		pipes = append(pipes, client, server)
		conn := session.NewTestConn(client, session.DialOptions{})
		pc := NewPooledConn(conn, p)
		p.mu.Lock()
		p.idle = append(p.idle, pc)
		p.total++
		p.mu.Unlock()
	}
	return p, pipes
}

// BenchmarkAcquireReturn measures the throughput of a single goroutine
// repeatedly acquiring and immediately returning a connection.
// Pool size = 1 so no contention; measures pure acquire/return overhead.
func BenchmarkAcquireReturn(b *testing.B) {
	p, pipes := newBenchPool(b, 1)
	defer close(p.stopCh)
	defer func() {
		for _, c := range pipes {
			c.Close()
		}
	}()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pc, err := p.Acquire(ctx)
		if err != nil {
			b.Fatalf("Acquire failed: %v", err)
		}
		p.Return(pc)
	}
}

// BenchmarkAcquireReturnParallel measures throughput under concurrent access
// with a pool sized to allow all goroutines to acquire simultaneously.
func BenchmarkAcquireReturnParallel(b *testing.B) {
	p, pipes := newBenchPool(b, 12)
	defer close(p.stopCh)
	defer func() {
		for _, c := range pipes {
			c.Close()
		}
	}()

	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			pc, err := p.Acquire(ctx)
			if err != nil {
				continue
			}
			p.Return(pc)
		}
	})
}

// BenchmarkAcquireContended measures latency when goroutines compete for
// fewer connections than goroutines (realistic production scenario).
func BenchmarkAcquireContended(b *testing.B) {
	const poolSize = 4
	p, pipes := newBenchPool(b, poolSize)
	defer close(p.stopCh)
	defer func() {
		for _, c := range pipes {
			c.Close()
		}
	}()

	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			pc, err := p.Acquire(ctx)
			if err != nil {
				continue
			}
			// 1µs simulated work to ensure genuine contention at poolSize=4
			time.Sleep(time.Microsecond)
			p.Return(pc)
		}
	})
}

// BenchmarkPoolStats measures the overhead of reading pool stats
// (polled periodically by the admin HTTP surface in production).
func BenchmarkPoolStats(b *testing.B) {
	p, pipes := newBenchPool(b, 4)
	defer close(p.stopCh)
	defer func() {
		for _, c := range pipes {
			c.Close()
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.Stats()
	}
}

// BenchmarkConcurrentAcquireReturnThroughput measures aggregate ops/sec with a
// realistic worker-pool pattern: N workers each acquire → work → return.
func BenchmarkConcurrentAcquireReturnThroughput(b *testing.B) {
	const poolSize = 8
	p, pipes := newBenchPool(b, poolSize)
	defer close(p.stopCh)
	defer func() {
		for _, c := range pipes {
			c.Close()
		}
	}()

	ctx := context.Background()
	const workers = 32
	work := make(chan struct{}, b.N)
	for i := 0; i < b.N; i++ {
		work <- struct{}{}
	}
	close(work)

	b.ResetTimer()
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				pc, err := p.Acquire(ctx)
				if err != nil {
					continue
				}
				p.Return(pc)
			}
		}()
	}
	wg.Wait()
}
