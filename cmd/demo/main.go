// Package main is a demonstration entrypoint wiring config, pool,
// admin server and the optional stats publisher together, with
// graceful shutdown on SIGINT/SIGTERM.
//
// Grounded on the teacher's cmd/proxy/main.go wiring order (config →
// metrics → health server → pool → shutdown), collapsed to this
// module's smaller subsystem set.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunarforge/sqlitepool/adminserver"
	"github.com/lunarforge/sqlitepool/config"
	"github.com/lunarforge/sqlitepool/pool"
	"github.com/lunarforge/sqlitepool/publish"
)

var (
	configPath = flag.String("config", "configs/pool.yaml", "Path to pool configuration file")
	envPath    = flag.String("env", ".env", "Path to optional .env overlay")
)

func main() {
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Info().
		Str("database_path", cfg.DatabasePath).
		Int("min_connections", cfg.MinConnections).
		Int("max_connections", cfg.MaxConnections).
		Msg("configuration loaded")

	p := pool.New(cfg, logger)
	if err := p.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to start pool")
	}
	defer p.Stop()
	logger.Info().Msg("pool started")

	admin := adminserver.New(p, fmt.Sprintf(":%d", cfg.AdminPort), logger)
	admin.Start()
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := admin.Shutdown(shutCtx); err != nil {
			logger.Warn().Err(err).Msg("admin server shutdown error")
		}
	}()

	if cfg.Publish.Enabled {
		pub := publish.New(cfg.Publish, p, logger)
		pub.Start()
		defer pub.Stop()
		logger.Info().Str("redis_addr", cfg.Publish.RedisAddr).Msg("stats publisher started")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info().Msg("ready, waiting for shutdown signal")
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down gracefully")
}
