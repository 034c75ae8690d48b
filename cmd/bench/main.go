// Command bench drives the pool with a burst of concurrent long-
// holding acquires to exercise emergency scale-up (spec.md §8,
// scenario 4), then reports the resulting stats.
//
// Usage: go run ./cmd/bench -db /tmp/bench.sqlite -holders 10 -hold 200ms
//
// Grounded on the teacher's scripts/test_phase4.go saturate-then-queue
// harness, replacing its networked sql.Open dials with direct calls
// against an in-process pool.Pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/lunarforge/sqlitepool/config"
	"github.com/lunarforge/sqlitepool/pool"
)

func main() {
	dbPath := flag.String("db", "bench.sqlite", "Path to the SQLite file to pool")
	holders := flag.Int("holders", 10, "Number of concurrent long-holding acquires")
	holdFor := flag.Duration("hold", 200*time.Millisecond, "How long each holder keeps its connection")
	minConns := flag.Int("min", 2, "Pool min-connections")
	maxConns := flag.Int("max", 20, "Pool max-connections")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg := config.Default(*dbPath)
	cfg.MinConnections = *minConns
	cfg.MaxConnections = *maxConns
	cfg.EnableMonitoring = true

	p := pool.New(cfg, logger)
	if err := p.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to start pool")
	}
	defer p.Stop()

	logger.Info().Int("holders", *holders).Dur("hold_for", *holdFor).Msg("starting burst")

	var (
		wg      sync.WaitGroup
		success atomic.Int64
		failed  atomic.Int64
	)

	start := time.Now()
	for i := 0; i < *holders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			w, err := p.Acquire(ctx)
			if err != nil {
				logger.Warn().Int("holder", id).Err(err).Msg("acquire failed")
				failed.Add(1)
				return
			}
			defer p.Release(w)

			time.Sleep(*holdFor)

			if !w.IsHealthy(ctx) {
				logger.Warn().Int("holder", id).Msg("held connection went unhealthy")
				failed.Add(1)
				return
			}
			success.Add(1)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	snap := p.Stats()
	perf := p.PerformanceMetrics()

	fmt.Printf("burst complete in %s: %d ok, %d failed\n", elapsed, success.Load(), failed.Load())
	fmt.Printf("stats: active=%d idle=%d waiting=%d total_created=%d\n",
		snap.Active, snap.Idle, snap.Waiting, snap.TotalCreated)
	fmt.Printf("performance: p50=%.1fms p95=%.1fms p99=%.1fms throughput=%.1f rps error_rate=%.2f%%\n",
		perf.P50Ms, perf.P95Ms, perf.P99Ms, perf.ThroughputRPS, perf.ErrorRatePct)
}
