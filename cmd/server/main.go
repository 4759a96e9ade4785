// Copyright (c) 2026 John Earle
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


// EcoTrace ingestion service
//
// Entry point for the long-running service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects the invoice store, mailbox, AI gateway and run lock
//  3. Serves the completion callback, health check and dashboard API
//  4. Runs the ingestion pipeline on the configured schedule
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ecotrace/ingestion/internal/app"
	"github.com/ecotrace/ingestion/internal/config"
	"github.com/ecotrace/ingestion/internal/dashboard"
	"github.com/ecotrace/ingestion/internal/scheduler"
	"github.com/ecotrace/ingestion/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	slog.Info("starting EcoTrace ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"mailbox", cfg.Mailbox.Provider,
		"store", cfg.Store.Backend,
		"ai", cfg.AI.Provider,
		"schedule", cfg.Schedule,
		"timezone", cfg.Location.String(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Wire Components ---
	svc, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// --- HTTP Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("POST /callback", svc.Callback.ServeCompletion)
	mux.HandleFunc("GET /health", svc.Callback.ServeHealth)
	dashboard.NewHandler(svc.Store, svc.Generator).Register(mux)

	ready, err := webhook.Serve(ctx, cfg.Port, mux)
	if err != nil {
		slog.Error("failed to start http server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Scheduler ---
	sched := scheduler.New(svc.Runner, cfg.RunTimeout)
	if err := sched.Start(ctx, cfg.Schedule); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	select {
	case <-sched.Stop().Done():
	case <-time.After(15 * time.Second):
		slog.Warn("in-flight run did not finish before shutdown")
	}

	slog.Info("ingestion service stopped")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
