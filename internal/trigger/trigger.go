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

// Package trigger starts a downstream workflow instance for each newly
// stored invoice record. Calls are made once and never retried; the
// outcome is reported as a Result rather than an error.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ecotrace/ingestion/internal/credentials"
	"github.com/ecotrace/ingestion/internal/models"
	"github.com/ecotrace/ingestion/internal/runlog"
)

// MaxAttempts is the number of calls made per record. Triggers are not
// retried: a failed start is logged and left for the operator.
const MaxAttempts = 1

// Reason explains the outcome of a trigger call.
type Reason string

const (
	ReasonStarted        Reason = "started"
	ReasonNoCredential   Reason = "no_credential"
	ReasonTransportError Reason = "transport_error"
	ReasonDecodeError    Reason = "decode_error"
	ReasonRejected       Reason = "rejected"
)

// Result is the outcome of a single trigger call.
type Result struct {
	Started    bool   `json:"started"`
	Reason     Reason `json:"reason"`
	InstanceID string `json:"instanceId,omitempty"`
	StartedAt  string `json:"startedAt,omitempty"`
	Attempts   int    `json:"attempts"`
	Detail     string `json:"detail,omitempty"`
}

// Config configures the workflow service client.
type Config struct {
	APIURL        string
	EnvironmentID string
	DefinitionID  string
	APIKey        string
	Timeout       time.Duration
}

// Client starts workflow instances.
type Client struct {
	cfg    Config
	tokens oauth2.TokenSource
	client *http.Client
}

// NewClient creates a workflow client. tokens may be nil, in which case
// every call reports ReasonNoCredential.
func NewClient(cfg Config, tokens oauth2.TokenSource) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		client: &http.Client{Timeout: timeout},
	}
}

type startRequest struct {
	DefinitionID string                 `json:"definitionId"`
	Context      models.CanonicalRecord `json:"context"`
}

// startResponse keeps both fields raw: the instance id may come back as a
// string or a number.
type startResponse struct {
	ID        json.RawMessage `json:"id"`
	StartedAt json.RawMessage `json:"startedAt"`
}

// Start requests a new workflow instance with rec as its context. The call
// counts as started only when the response carries both id and startedAt.
func (c *Client) Start(ctx context.Context, rec models.CanonicalRecord) Result {
	log := runlog.Logger(ctx)
	res := Result{Attempts: MaxAttempts}

	token, err := credentials.Bearer(c.tokens)
	if err != nil {
		log.Warn("no workflow token, skipping trigger", "error", err)
		res.Reason = ReasonNoCredential
		res.Detail = err.Error()
		return res
	}

	body, err := c.post(ctx, token, rec)
	if err != nil {
		log.Error("workflow trigger request failed", "error", err)
		res.Reason = ReasonTransportError
		res.Detail = err.Error()
		return res
	}
	log.Info("workflow trigger response", "raw", string(body))

	started, err := Evaluate(body)
	if err != nil {
		res.Reason = ReasonDecodeError
		res.Detail = err.Error()
		return res
	}
	if !started.Started {
		res.Reason = ReasonRejected
		res.Detail = string(body)
		return res
	}

	res.Started = true
	res.Reason = ReasonStarted
	res.InstanceID = started.InstanceID
	res.StartedAt = started.StartedAt
	return res
}

func (c *Client) post(ctx context.Context, token string, rec models.CanonicalRecord) ([]byte, error) {
	data, err := json.Marshal(startRequest{DefinitionID: c.cfg.DefinitionID, Context: rec})
	if err != nil {
		return nil, fmt.Errorf("marshal start request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/workflow/rest/v1/workflow-instances?environmentId=%s",
		strings.TrimRight(c.cfg.APIURL, "/"), url.QueryEscape(c.cfg.EnvironmentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create start request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// Evaluate applies the success predicate to a raw workflow response. It
// returns an error only when the body cannot be decoded.
func Evaluate(body []byte) (Result, error) {
	var resp startResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("decode workflow response: %w", err)
	}

	id, ok := presentValue(resp.ID)
	if !ok {
		return Result{Reason: ReasonRejected}, nil
	}
	startedAt, ok := presentValue(resp.StartedAt)
	if !ok {
		return Result{Reason: ReasonRejected}, nil
	}
	return Result{
		Started:    true,
		Reason:     ReasonStarted,
		InstanceID: id,
		StartedAt:  startedAt,
	}, nil
}

// presentValue reports whether raw holds a value other than null, false,
// zero or the empty string, and renders it as text. Strings are returned
// unquoted; other values in their JSON form.
func presentValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false
	}

	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case bool:
		return "true", t
	case json.Number:
		if f, err := t.Float64(); err == nil && f == 0 {
			return "", false
		}
		return t.String(), true
	default:
		return strings.TrimSpace(string(raw)), true
	}
}
