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

// Package gmail reads unprocessed inbox threads from a Gmail mailbox and
// marks them with the processed label once handled.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ecotrace/ingestion/internal/models"
	"github.com/ecotrace/ingestion/internal/runlog"
)

const (
	// DefaultProcessedLabel marks threads that have been handled.
	DefaultProcessedLabel = "SAP_SUSTAINABILITY_PROCESSED"
	// DefaultNewerThanDays bounds the search window.
	DefaultNewerThanDays = 7

	pageSize = 100
)

// Config configures access to one Gmail mailbox.
type Config struct {
	ClientID       string
	ClientSecret   string
	RefreshToken   string
	User           string // "me" when empty
	ProcessedLabel string
	NewerThanDays  int
}

// Mailbox lists and labels threads through the Gmail API. All API calls
// go through a circuit breaker.
type Mailbox struct {
	svc   *gmail.Service
	user  string
	label string
	days  int
	cb    *gobreaker.CircuitBreaker

	mu      sync.Mutex
	labelID string
}

// New authenticates with the stored refresh token and returns a mailbox.
func New(ctx context.Context, cfg Config) (*Mailbox, error) {
	if cfg.RefreshToken == "" {
		return nil, errors.New("gmail refresh token is required")
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailModifyScope, gmail.GmailLabelsScope},
	}
	ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewWithService(svc, cfg), nil
}

// NewWithService wraps an existing Gmail service.
func NewWithService(svc *gmail.Service, cfg Config) *Mailbox {
	if cfg.User == "" {
		cfg.User = "me"
	}
	if cfg.ProcessedLabel == "" {
		cfg.ProcessedLabel = DefaultProcessedLabel
	}
	if cfg.NewerThanDays <= 0 {
		cfg.NewerThanDays = DefaultNewerThanDays
	}

	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Mailbox{
		svc:   svc,
		user:  cfg.User,
		label: cfg.ProcessedLabel,
		days:  cfg.NewerThanDays,
		cb:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Query is the search expression for unprocessed inbox threads.
func (m *Mailbox) Query() string {
	return fmt.Sprintf("in:inbox -label:%s newer_than:%dd", m.label, m.days)
}

// Unprocessed returns the inbox threads that do not carry the processed
// label, with their messages fully loaded.
func (m *Mailbox) Unprocessed(ctx context.Context) ([]models.Thread, error) {
	log := runlog.Logger(ctx)

	labelID, err := m.ensureLabel(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	pageToken := ""
	for {
		var resp *gmail.ListThreadsResponse
		err := m.execute(ctx, "threads.list", func() error {
			call := m.svc.Users.Threads.List(m.user).Q(m.Query()).MaxResults(pageSize).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list threads: %w", err)
		}
		for _, t := range resp.Threads {
			ids = append(ids, t.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	log.Info("found threads", "count", len(ids), "query", m.Query())

	threads := make([]models.Thread, 0, len(ids))
	for _, id := range ids {
		var full *gmail.Thread
		err := m.execute(ctx, "threads.get", func() error {
			var err error
			full, err = m.svc.Users.Threads.Get(m.user, id).Format("full").Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("get thread %s: %w", id, err)
		}
		threads = append(threads, convertThread(full, labelID, m.label))
	}
	return threads, nil
}

// MarkProcessed adds the processed label to the whole thread.
func (m *Mailbox) MarkProcessed(ctx context.Context, thread models.Thread) error {
	labelID, err := m.ensureLabel(ctx)
	if err != nil {
		return err
	}

	err = m.execute(ctx, "threads.modify", func() error {
		_, err := m.svc.Users.Threads.Modify(m.user, thread.ID, &gmail.ModifyThreadRequest{
			AddLabelIds: []string{labelID},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("label thread %s: %w", thread.ID, err)
	}
	return nil
}

// ensureLabel returns the id of the processed label, creating it if needed.
func (m *Mailbox) ensureLabel(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.labelID != "" {
		return m.labelID, nil
	}

	var list *gmail.ListLabelsResponse
	err := m.execute(ctx, "labels.list", func() error {
		var err error
		list, err = m.svc.Users.Labels.List(m.user).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("list labels: %w", err)
	}
	for _, l := range list.Labels {
		if l.Name == m.label {
			m.labelID = l.Id
			return m.labelID, nil
		}
	}

	var created *gmail.Label
	err = m.execute(ctx, "labels.create", func() error {
		var err error
		created, err = m.svc.Users.Labels.Create(m.user, &gmail.Label{
			Name:                  m.label,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create label %s: %w", m.label, err)
	}
	slog.Info("created processed label", "label", m.label, "id", created.Id)
	m.labelID = created.Id
	return m.labelID, nil
}

// execute wraps an API call with circuit breaker protection. Client errors
// are returned unchanged but do not count against the breaker.
func (m *Mailbox) execute(ctx context.Context, operation string, fn func() error) error {
	_, err := m.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case 400, 401, 403, 404:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}
	if err != nil {
		runlog.Logger(ctx).Warn("gmail api call failed",
			"operation", operation,
			"breaker", m.cb.State().String(),
			"error", err,
		)
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}
