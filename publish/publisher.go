// Package publish implements the optional stats publisher: on an
// interval it serializes a pool snapshot to JSON and writes it to a
// Redis key for external dashboards to read. It is entirely optional
// (disabled unless config.PublishConfig.Enabled is set) and never
// participates in pooling decisions — this is one-way telemetry
// export, not distributed coordination.
//
// Grounded on the teacher's RedisCoordinator client construction
// (internal/coordinator/redis.go), stripped of the Lua-scripted
// acquire/release coordination that package implements: spec.md §7
// Non-goals explicitly excludes distributed coordination, so only the
// redis.Client wiring survives here.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lunarforge/sqlitepool/config"
	"github.com/lunarforge/sqlitepool/metrics"
	"github.com/lunarforge/sqlitepool/pool"
)

// Publisher periodically writes a pool snapshot to Redis.
type Publisher struct {
	cfg    config.PublishConfig
	pool   *pool.Pool
	client *redis.Client
	logger zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// snapshot is the JSON document written to Redis.
type snapshot struct {
	Stats       pool.Snapshot `json:"stats"`
	Performance pool.Metrics  `json:"performance"`
	PublishedAt time.Time     `json:"published_at"`
}

// New builds a Publisher. Callers should check cfg.Enabled before
// calling Start.
func New(cfg config.PublishConfig, p *pool.Pool, logger zerolog.Logger) *Publisher {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &Publisher{
		cfg:    cfg,
		pool:   p,
		client: client,
		logger: logger.With().Str("component", "publisher").Logger(),
		done:   make(chan struct{}),
	}
}

// Start spawns the publish loop in the background.
func (p *Publisher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.loop(ctx)
}

// Stop cancels the publish loop and closes the Redis client.
func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
	p.client.Close()
}

func (p *Publisher) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce(ctx)
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) {
	snap := snapshot{
		Stats:       p.pool.Stats(),
		Performance: p.pool.PerformanceMetrics(),
		PublishedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to marshal stats snapshot")
		metrics.PublishOperations.WithLabelValues("marshal_error").Inc()
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()

	if err := p.client.Set(writeCtx, p.cfg.Key, data, 0).Err(); err != nil {
		p.logger.Warn().Err(err).Msg("failed to publish stats to redis")
		metrics.PublishOperations.WithLabelValues("write_error").Inc()
		return
	}
	metrics.PublishOperations.WithLabelValues("ok").Inc()
}
