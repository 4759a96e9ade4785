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


// Package scheduler runs the ingestion pipeline on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ecotrace/ingestion/internal/pipeline"
)

const (
	// DefaultSchedule runs the pipeline once a minute.
	DefaultSchedule = "@every 1m"
	// DefaultRunTimeout bounds a single run.
	DefaultRunTimeout = 10 * time.Minute
)

// Runner performs one pipeline pass.
type Runner interface {
	Run(ctx context.Context) (*pipeline.RunResult, error)
}

// Scheduler triggers pipeline runs. Overlapping ticks are skipped.
type Scheduler struct {
	runner  Runner
	cron    *cron.Cron
	timeout time.Duration
	base    context.Context
}

// New creates a scheduler for runner.
func New(runner Runner, runTimeout time.Duration) *Scheduler {
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	logger := cronLogger{}
	return &Scheduler{
		runner: runner,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		timeout: runTimeout,
		base:    context.Background(),
	}
}

// Start registers the job and starts the cron loop. Runs derive their
// context from ctx, so cancelling it aborts an in-flight run.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s.base = ctx

	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	slog.Info("pipeline scheduler started", "schedule", schedule, "run_timeout", s.timeout)
	return nil
}

// Stop stops scheduling and returns a context that is done once the
// running job, if any, has finished.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	slog.Info("pipeline scheduler stopped")
	return ctx
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(s.base, s.timeout)
	defer cancel()

	res, err := s.runner.Run(ctx)
	if err != nil {
		slog.Error("scheduled run failed", "error", err)
		return
	}
	if res.Skipped {
		return
	}
	slog.Info("scheduled run completed",
		"run_id", res.RunID,
		"threads", res.Threads,
		"messages", res.Messages,
		"duration", res.Finished.Sub(res.StartedAt),
	)
}

// cronLogger routes cron's logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
