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


// Command ecotrace runs one-off ingestion tasks against the configured
// mailbox and invoice store.
//
// Usage:
//
//	ecotrace run
//	ecotrace backfill --since 720h
//	ecotrace report --year 2025
//	ecotrace callback --invoice INV-1 [--success]
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ecotrace/ingestion/internal/app"
	"github.com/ecotrace/ingestion/internal/config"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	cliApp := newCLIApp(env{loadConfig: config.Load, newApp: app.New})
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
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
