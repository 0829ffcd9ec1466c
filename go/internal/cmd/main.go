package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/gateway"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/itemsource"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/queue"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/registry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	setupLogging()

	cfg := &Config{}
	configPath := getEnv("CONFIG_PATH", "config.yaml")
	if loaded, err := loadConfig(configPath); err != nil {
		log.Warn().Err(err).Str("path", configPath).Msg("config file not loaded, using defaults")
	} else {
		cfg = loaded
	}

	addr := fmt.Sprintf(":%d", getEnvAsInt("PORT", 8080))
	if cfg.Server.Addr != "" {
		addr = cfg.Server.Addr
	}

	q := queue.New()
	seedQueue(cfg, q)

	clock := clockwork.NewRealClock()
	cm := gateway.NewConnectionManager(cfg.connectionConfig())
	reg := registry.New(q, cm, clock)
	svc := gateway.NewService(cm, reg, q, nil, clock)

	server := setupServer(addr, svc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", addr).Msg("estimation server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func setupLogging() {
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// seedQueue fills the global queue from the configured item source. A
// missing seed file is not fatal: the queue simply starts empty and clients
// populate it over the wire.
func seedQueue(cfg *Config, q *queue.Queue) {
	if cfg.Seed.Path == "" {
		return
	}

	src := itemsource.NewFileSource(cfg.Seed.Path)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	items, err := src.Items(ctx)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Seed.Path).Msg("queue seed skipped")
		return
	}
	snapshot, _ := q.Add(items)
	log.Info().Int("items", len(snapshot)).Msg("estimation queue seeded")
}
