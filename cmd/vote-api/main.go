// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main runs the vote cache as an HTTP service.
//
// Posts enter the cache through PUT /api/posts/:id (or the seed list in the
// config file) and votes are cast with POST /api/posts/:id/vote. Each vote is
// written to the cache immediately and then sent to the configured remote
// backend; a failed remote call leaves the optimistic value in place and is
// reported through the response, /api/failures, the vote log and metrics.
//
// Try it:
//
//	go run ./cmd/vote-api
//	curl -X PUT localhost:8080/api/posts/7 -d '{"points":10,"voteStatus":null}'
//	curl -X POST localhost:8080/api/posts/7/vote -d '{"direction":"up"}'
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"votecache/internal/reconciler/api"
	"votecache/internal/reconciler/config"
	"votecache/internal/reconciler/core"
	"votecache/internal/reconciler/remote"
	"votecache/internal/reconciler/telemetry"
	"votecache/internal/sinks"
	"votecache/pkg/wire"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file")
	httpAddr := flag.String("http_addr", ":8080", "HTTP listen address (e.g., :8080)")
	adapter := flag.String("remote", "mock", "Remote vote backend: mock, http, redis, kafka, postgres")
	remoteURL := flag.String("remote_url", "", "GraphQL endpoint for the http backend")
	remoteTimeout := flag.Duration("remote_timeout", 10*time.Second, "Upper bound for one remote vote call")
	userID := flag.Int64("user_id", 0, "Viewer id stamped on remote vote requests")
	evictionAge := flag.Duration("eviction_age", time.Hour, "Evict posts that haven't been touched for this long")
	evictionInterval := flag.Duration("eviction_interval", 10*time.Minute, "How often to scan for idle posts to evict")
	voteLog := flag.String("vote_log", "", "If non-empty, append settled casts to this JSONL file")
	metrics := flag.Bool("metrics", true, "Serve Prometheus metrics at /metrics")
	logLevel := flag.String("log_level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http_addr":
			cfg.Server.Addr = *httpAddr
		case "remote":
			cfg.Remote.Adapter = *adapter
		case "remote_url":
			cfg.Remote.URL = *remoteURL
		case "remote_timeout":
			cfg.Remote.Timeout = *remoteTimeout
		case "user_id":
			cfg.Remote.UserID = *userID
		case "eviction_age":
			cfg.Cache.EvictionAge = *evictionAge
		case "eviction_interval":
			cfg.Cache.EvictionInterval = *evictionInterval
		case "vote_log":
			cfg.VoteLog = *voteLog
		case "metrics":
			cfg.Server.Metrics = *metrics
		case "log_level":
			cfg.Logging.Level = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	// Capture configuration for the final summary.
	core.SetConfig("http_addr", cfg.Server.Addr)
	core.SetConfig("remote", cfg.Remote.Adapter)
	core.SetConfigDuration("remote_timeout", cfg.Remote.Timeout)
	core.SetConfigInt64("user_id", cfg.Remote.UserID)
	core.SetConfigDuration("eviction_age", cfg.Cache.EvictionAge)
	core.SetConfigDuration("eviction_interval", cfg.Cache.EvictionInterval)
	core.SetConfigBool("metrics", cfg.Server.Metrics)
	core.SetConfig("vote_log", cfg.VoteLog)

	// 1. Remote backend.
	var db *sql.DB
	if cfg.Remote.Adapter == "postgres" {
		// The driver is linked by whoever embeds this binary; sql.Open
		// reports an unknown driver otherwise.
		db, err = sql.Open(cfg.Remote.PostgresDriver, cfg.Remote.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("open postgres")
		}
		defer db.Close()
	}
	voter, err := remote.BuildVoter(cfg.Remote.Adapter, remote.Options{
		UserID:         cfg.Remote.UserID,
		RedisAddr:      cfg.Remote.RedisAddr,
		RedisMarkerTTL: cfg.Remote.RedisMarkerTTL,
		KafkaTopic:     cfg.Remote.KafkaTopic,
		HTTPEndpoint:   cfg.Remote.URL,
		HTTPTimeout:    cfg.Remote.Timeout,
		HTTPHeaders:    cfg.Remote.Headers,
		DB:             db,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build remote voter")
	}

	// 2. Observers: metrics and the vote log.
	var observers []core.Observer
	var metricsHandler http.Handler
	if cfg.Server.Metrics {
		m, err := telemetry.New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
		if err != nil {
			logger.Fatal().Err(err).Msg("register metrics")
		}
		observers = append(observers, m)
		metricsHandler = m.Handler()
	}
	var sink *sinks.VoteLogSink
	if cfg.VoteLog != "" {
		sink, err = sinks.NewVoteLogSink(cfg.VoteLog)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.VoteLog).Msg("open vote log")
		}
		observers = append(observers, sink)
	}

	// 3. Cache, reconciler and janitor.
	store := core.NewStore()
	for _, f := range cfg.Seed {
		st, _ := wire.StatusFromWire(f.VoteStatus) // validated by config
		store.Put(core.Post{ID: f.ID, Points: f.Points, Status: st, CreatorID: f.CreatorID})
	}
	rec, err := core.NewReconciler(store, voter, core.Options{
		Logger:          &logger,
		Observers:       observers,
		FailureCapacity: cfg.Remote.FailureCapacity,
		RemoteTimeout:   cfg.Remote.Timeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create reconciler")
	}
	var janitor *core.Janitor
	if cfg.Cache.EvictionAge > 0 {
		janitor = core.NewJanitor(store, cfg.Cache.EvictionAge, cfg.Cache.EvictionInterval, logger)
		janitor.Start()
	}

	// 4. HTTP server.
	apiServer := api.NewServer(rec, api.Options{
		Metrics:      metricsHandler,
		Logger:       &logger,
		StreamBuffer: cfg.Cache.StreamBuffer,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("remote", cfg.Remote.Adapter).Int("seeded", len(cfg.Seed)).Msg("vote api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Str("addr", cfg.Server.Addr).Msg("listen")
		}
	}()

	// 5. Graceful shutdown.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if janitor != nil {
		janitor.Stop()
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			logger.Error().Err(err).Msg("close vote log")
		}
	}
	if mv, ok := voter.(*core.MockVoter); ok {
		mv.PrintFinalMetrics()
	}
	if c, ok := voter.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Error().Err(err).Msg("close remote adapter")
		}
	}
	logger.Info().Msg("server gracefully stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
