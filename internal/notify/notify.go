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


// Package notify sends the failure notification of a pipeline run.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Subject is the subject line of failure notifications.
const Subject = "EcoTrace ingestion run failed"

// Notifier delivers a failure report.
type Notifier interface {
	NotifyFailure(ctx context.Context, runErr error, runLog string) error
}

// Config configures the SendGrid notifier.
type Config struct {
	APIKey    string
	FromName  string
	FromEmail string
	To        []string
	Host      string // SendGrid API host, https://api.sendgrid.com when empty
}

// SendGrid mails failure reports through the SendGrid v3 API.
type SendGrid struct {
	cfg Config
	now func() time.Time
}

// NewSendGrid creates a SendGrid notifier.
func NewSendGrid(cfg Config) *SendGrid {
	if cfg.FromName == "" {
		cfg.FromName = "EcoTrace Ingestion"
	}
	return &SendGrid{cfg: cfg, now: time.Now}
}

// NotifyFailure sends one email with the error and the full run log.
func (s *SendGrid) NotifyFailure(ctx context.Context, runErr error, runLog string) error {
	if s.cfg.APIKey == "" {
		return fmt.Errorf("SendGrid API key not configured")
	}
	if len(s.cfg.To) == 0 {
		return fmt.Errorf("no notification recipients configured")
	}

	body := Body(runErr, runLog, s.now())

	from := mail.NewEmail(s.cfg.FromName, s.cfg.FromEmail)
	p := mail.NewPersonalization()
	for _, addr := range s.cfg.To {
		p.AddTos(mail.NewEmail("", addr))
	}
	message := mail.NewV3Mail()
	message.SetFrom(from)
	message.Subject = Subject
	message.AddPersonalizations(p)
	message.AddContent(mail.NewContent("text/plain", body))

	request := sendgrid.GetRequest(s.cfg.APIKey, "/v3/mail/send", s.cfg.Host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid API error: status %d, body: %s", response.StatusCode, response.Body)
	}

	slog.Info("failure notification sent", "recipients", len(s.cfg.To))
	return nil
}

// Log writes failure reports to the process log. It stands in for SendGrid
// when no API key is configured.
type Log struct{}

// NotifyFailure logs the report.
func (Log) NotifyFailure(ctx context.Context, runErr error, runLog string) error {
	slog.Error("pipeline run failed", "error", runErr, "run_log", runLog)
	return nil
}

// Body renders the notification text.
func Body(runErr error, runLog string, at time.Time) string {
	return fmt.Sprintf(`The email ingestion run failed.

Time: %s
Error: %v

Run log:
%s`, at.UTC().Format(time.RFC3339), runErr, runLog)
}
