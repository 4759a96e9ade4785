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


// Package app wires the configured collaborators into a pipeline runner,
// a completion handler and a report generator.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ecotrace/ingestion/internal/ai"
	"github.com/ecotrace/ingestion/internal/config"
	"github.com/ecotrace/ingestion/internal/dedup"
	"github.com/ecotrace/ingestion/internal/gmail"
	"github.com/ecotrace/ingestion/internal/graph"
	"github.com/ecotrace/ingestion/internal/llm"
	"github.com/ecotrace/ingestion/internal/notify"
	"github.com/ecotrace/ingestion/internal/pipeline"
	"github.com/ecotrace/ingestion/internal/report"
	"github.com/ecotrace/ingestion/internal/runlock"
	"github.com/ecotrace/ingestion/internal/sheet"
	"github.com/ecotrace/ingestion/internal/trigger"
	"github.com/ecotrace/ingestion/internal/webhook"
)

// App holds the wired service components.
type App struct {
	Store     sheet.Store
	Runner    *pipeline.Runner
	Callback  *webhook.Handler
	Generator *report.Generator

	closers []func()
}

// Close releases connections opened by New.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// New connects to the configured backends and builds the components.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	store, err := a.newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store

	mailbox, err := newMailbox(ctx, cfg)
	if err != nil {
		return nil, err
	}

	locker, err := a.newLocker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	completer := newCompleter(cfg, httpClient)

	triggerClient := trigger.NewClient(trigger.Config{
		APIURL:        cfg.Workflow.APIURL,
		EnvironmentID: cfg.Workflow.EnvironmentID,
		DefinitionID:  cfg.Workflow.DefinitionID,
		APIKey:        cfg.Workflow.APIKey,
		Timeout:       cfg.HTTPTimeout,
	}, cfg.Workflow.Credentials.TokenSource(httpClient))

	var notifier notify.Notifier = notify.Log{}
	if cfg.Notify.SendGridAPIKey != "" {
		notifier = notify.NewSendGrid(notify.Config{
			APIKey:    cfg.Notify.SendGridAPIKey,
			FromName:  cfg.Notify.FromName,
			FromEmail: cfg.Notify.FromEmail,
			To:        cfg.Notify.To,
		})
	} else {
		slog.Warn("no SendGrid API key configured, failures are only logged")
	}

	a.Runner = pipeline.NewRunner(pipeline.Config{
		Mailbox:        mailbox,
		Classifier:     ai.NewClassifier(completer),
		Extractor:      ai.NewExtractor(completer),
		Store:          store,
		Gate:           dedup.NewGate(store),
		Trigger:        triggerClient,
		Locker:         locker,
		Notifier:       notifier,
		ProcessedLabel: cfg.Mailbox.ProcessedLabel,
		Location:       cfg.Location,
	})
	a.Callback = webhook.NewHandler(store)
	a.Generator = report.NewGenerator(store, report.NewNarrator(completer), cfg.Location)

	ok = true
	return a, nil
}

func (a *App) newStore(ctx context.Context, cfg *config.Config) (sheet.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSheets:
		return sheet.NewGoogleSheets(ctx, sheet.GoogleConfig{
			SpreadsheetID:   cfg.Store.SpreadsheetID,
			SheetName:       cfg.Store.SheetName,
			CredentialsFile: cfg.Store.CredentialsFile,
		})

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create Postgres pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		slog.Info("connected to PostgreSQL")
		return sheet.NewPostgres(ctx, pool)

	default:
		slog.Warn("using in-memory invoice store, rows are lost on exit")
		return sheet.NewMemory(), nil
	}
}

func newMailbox(ctx context.Context, cfg *config.Config) (pipeline.Mailbox, error) {
	mc := cfg.Mailbox
	if mc.Provider == config.ProviderGraph {
		return graph.New(ctx, graph.Config{
			TenantID:          mc.GraphTenantID,
			ClientID:          mc.GraphClientID,
			ClientSecret:      mc.GraphClientSecret,
			UserID:            mc.GraphUserID,
			ProcessedCategory: mc.ProcessedLabel,
			NewerThanDays:     mc.NewerThanDays,
		}), nil
	}
	return gmail.New(ctx, gmail.Config{
		ClientID:       mc.GmailClientID,
		ClientSecret:   mc.GmailClientSecret,
		RefreshToken:   mc.GmailRefreshToken,
		User:           mc.GmailUser,
		ProcessedLabel: mc.ProcessedLabel,
		NewerThanDays:  mc.NewerThanDays,
	})
}

func (a *App) newLocker(ctx context.Context, cfg *config.Config) (runlock.Locker, error) {
	if cfg.RedisURL == "" {
		return runlock.NewLocal(), nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	a.closers = append(a.closers, func() { rdb.Close() })

	lock := runlock.NewRedis(rdb, cfg.LockKey, cfg.LockTTL)
	if err := lock.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	slog.Info("connected to Redis", "lock_key", cfg.LockKey)
	return lock, nil
}

func newCompleter(cfg *config.Config, httpClient *http.Client) llm.Completer {
	if cfg.AI.Provider == config.AIOpenAI {
		return llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.AI.OpenAIKey,
			BaseURL: cfg.AI.OpenAIBaseURL,
			Model:   cfg.AI.OpenAIModel,
			Timeout: cfg.HTTPTimeout,
		})
	}
	return llm.NewOrchestration(llm.OrchestrationConfig{
		APIURL:        cfg.AI.APIURL,
		DeploymentID:  cfg.AI.DeploymentID,
		ResourceGroup: cfg.AI.ResourceGroup,
		ModelName:     cfg.AI.ModelName,
		ModelVersion:  cfg.AI.ModelVersion,
		Timeout:       cfg.HTTPTimeout,
	}, cfg.AI.Credentials.TokenSource(httpClient))
}
