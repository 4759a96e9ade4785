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


// Package pipeline runs one ingestion pass: it reads unprocessed mailbox
// threads, classifies and extracts each message, stores new records and
// starts a workflow for each of them, then marks the thread processed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ecotrace/ingestion/internal/models"
	"github.com/ecotrace/ingestion/internal/normalize"
	"github.com/ecotrace/ingestion/internal/notify"
	"github.com/ecotrace/ingestion/internal/runlock"
	"github.com/ecotrace/ingestion/internal/runlog"
	"github.com/ecotrace/ingestion/internal/trigger"
)

// DefaultProcessedLabel marks handled threads when none is configured.
const DefaultProcessedLabel = "SAP_SUSTAINABILITY_PROCESSED"

// Mailbox lists unprocessed threads and marks them handled.
type Mailbox interface {
	Unprocessed(ctx context.Context) ([]models.Thread, error)
	MarkProcessed(ctx context.Context, thread models.Thread) error
}

// Classifier assigns a category to an email.
type Classifier interface {
	Classify(ctx context.Context, payload models.EmailPayload) models.Category
}

// Extractor pulls invoice fields out of a classified email.
type Extractor interface {
	Extract(ctx context.Context, category models.Category, payload models.EmailPayload) models.ExtractedFields
}

// Gate appends a record unless an identical one is already stored.
type Gate interface {
	Admit(ctx context.Context, rec models.CanonicalRecord) (bool, error)
}

// HeaderStore makes sure the store carries its header row.
type HeaderStore interface {
	EnsureHeader(ctx context.Context) error
}

// Triggerer starts a workflow for a stored record.
type Triggerer interface {
	Start(ctx context.Context, rec models.CanonicalRecord) trigger.Result
}

// State is the stage a message reached.
type State string

const (
	StateStart             State = "START"
	StateClassified        State = "CLASSIFIED"
	StateSkippedIrrelevant State = "SKIPPED_IRRELEVANT"
	StateExtracted         State = "EXTRACTED"
	StateNormalized        State = "NORMALIZED"
	StateSkippedDuplicate  State = "SKIPPED_DUPLICATE"
	StatePersisted         State = "PERSISTED"
	StateTriggered         State = "TRIGGERED"
)

// Terminal reports whether no further work follows s.
func (s State) Terminal() bool {
	return s == StateSkippedIrrelevant || s == StateSkippedDuplicate || s == StateTriggered
}

// MessageOutcome records how far one message got.
type MessageOutcome struct {
	ThreadID  string                  `json:"threadId"`
	MessageID string                  `json:"messageId"`
	Subject   string                  `json:"subject"`
	State     State                   `json:"state"`
	Category  models.Category         `json:"category,omitempty"`
	Record    *models.CanonicalRecord `json:"record,omitempty"`
	Trigger   *trigger.Result         `json:"trigger,omitempty"`
}

// RunResult summarises a run.
type RunResult struct {
	RunID     string           `json:"runId"`
	StartedAt time.Time        `json:"startedAt"`
	Finished  time.Time        `json:"finished"`
	Threads   int              `json:"threads"`
	Messages  int              `json:"messages"`
	Outcomes  []MessageOutcome `json:"outcomes"`
	Log       []string         `json:"log"`
	Skipped   bool             `json:"skipped"`
}

// Config holds the runner's collaborators.
type Config struct {
	Mailbox        Mailbox
	Classifier     Classifier
	Extractor      Extractor
	Store          HeaderStore
	Gate           Gate
	Trigger        Triggerer
	Locker         runlock.Locker
	Notifier       notify.Notifier
	ProcessedLabel string
	Location       *time.Location
}

// Runner executes pipeline runs.
type Runner struct {
	cfg Config
	now func() time.Time
}

// NewRunner creates a runner. A nil Locker defaults to an in-process lock
// and a nil Notifier to the log notifier.
func NewRunner(cfg Config) *Runner {
	if cfg.Locker == nil {
		cfg.Locker = runlock.NewLocal()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Log{}
	}
	if cfg.ProcessedLabel == "" {
		cfg.ProcessedLabel = DefaultProcessedLabel
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Runner{cfg: cfg, now: time.Now}
}

// Run performs one pass over the mailbox. When another run holds the lock
// the result is marked Skipped and no error is returned. Any error that
// aborts the run is reported through the notifier with the full run log.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{RunID: uuid.New().String(), StartedAt: r.now()}

	release, err := r.cfg.Locker.Acquire(ctx)
	if errors.Is(err, runlock.ErrHeld) {
		slog.Info("previous run still active, skipping", "run_id", result.RunID)
		result.Skipped = true
		result.Finished = r.now()
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer release()

	rl := runlog.New()
	logger := rl.Logger(slog.Default().Handler())
	ctx = runlog.WithLogger(ctx, logger)

	logger.Info("pipeline run started", "run_id", result.RunID)
	err = r.process(ctx, result)
	if err != nil {
		logger.Error("pipeline run failed", "error", err)
	} else {
		logger.Info("pipeline run finished",
			"threads", result.Threads,
			"messages", result.Messages,
		)
	}

	result.Finished = r.now()
	result.Log = rl.Lines()

	if err != nil {
		if nerr := r.cfg.Notifier.NotifyFailure(context.WithoutCancel(ctx), err, rl.String()); nerr != nil {
			slog.Error("failed to send failure notification", "error", nerr)
		}
		return result, err
	}
	return result, nil
}

func (r *Runner) process(ctx context.Context, result *RunResult) error {
	log := runlog.Logger(ctx)

	threads, err := r.cfg.Mailbox.Unprocessed(ctx)
	if err != nil {
		return fmt.Errorf("list threads: %w", err)
	}

	for _, thread := range threads {
		if thread.HasLabel(r.cfg.ProcessedLabel) {
			log.Info("thread already processed", "thread_id", thread.ID)
			continue
		}
		result.Threads++

		for _, msg := range thread.Messages {
			if !msg.InInbox || msg.Draft {
				continue
			}
			result.Messages++

			outcome, err := r.handleMessage(ctx, msg)
			outcome.ThreadID = thread.ID
			result.Outcomes = append(result.Outcomes, outcome)
			if err != nil {
				return fmt.Errorf("message %s: %w", msg.ID, err)
			}
		}

		if err := r.cfg.Mailbox.MarkProcessed(ctx, thread); err != nil {
			return fmt.Errorf("mark thread %s processed: %w", thread.ID, err)
		}
		log.Info("thread marked processed", "thread_id", thread.ID)
	}
	return nil
}

func (r *Runner) handleMessage(ctx context.Context, msg models.Message) (MessageOutcome, error) {
	log := runlog.Logger(ctx).With("message_id", msg.ID)
	payload := models.NewEmailPayload(msg)
	out := MessageOutcome{MessageID: msg.ID, Subject: msg.Subject, State: StateStart}

	log.Info("processing message", "subject", msg.Subject)

	category := r.cfg.Classifier.Classify(ctx, payload)
	out.Category = category
	out.State = StateClassified
	if !category.Relevant() {
		out.State = StateSkippedIrrelevant
		log.Info("message not relevant", "category", category)
		return out, nil
	}
	log.Info("message classified", "category", category)

	fields := r.cfg.Extractor.Extract(ctx, category, payload)
	out.State = StateExtracted

	rec := normalize.Record(fields, category, payload, r.cfg.Location)
	out.Record = &rec
	out.State = StateNormalized

	if err := r.cfg.Store.EnsureHeader(ctx); err != nil {
		return out, fmt.Errorf("ensure header: %w", err)
	}

	appended, err := r.cfg.Gate.Admit(ctx, rec)
	if err != nil {
		return out, fmt.Errorf("persist record: %w", err)
	}
	if !appended {
		out.State = StateSkippedDuplicate
		log.Info("duplicate record, not appended", "invoice", rec.InvoiceNb)
		return out, nil
	}
	out.State = StatePersisted
	log.Info("record appended", "invoice", rec.InvoiceNb)

	res := r.cfg.Trigger.Start(ctx, rec)
	out.Trigger = &res
	out.State = StateTriggered
	log.Info("workflow trigger finished",
		"invoice", rec.InvoiceNb,
		"started", res.Started,
		"reason", res.Reason,
	)
	return out, nil
}
