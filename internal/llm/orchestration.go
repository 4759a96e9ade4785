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

// Package llm talks to the language-model gateway. Completers return the
// raw response body; ParseObject and ContentText turn it into something
// usable regardless of which gateway variant produced it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ecotrace/ingestion/internal/credentials"
	"github.com/ecotrace/ingestion/internal/runlog"
)

// ErrNoCredential is returned by a Completer that could not authenticate.
var ErrNoCredential = credentials.ErrNoCredential

const (
	// DefaultModelName is the gateway model used when none is configured.
	DefaultModelName = "gemini-2.5-pro"
	// DefaultModelVersion pins the model version.
	DefaultModelVersion = "latest"

	maxResponseBytes = 4 << 20
)

// Completer sends a single user prompt and returns the raw response body.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OrchestrationConfig configures the orchestration gateway client.
type OrchestrationConfig struct {
	APIURL        string
	DeploymentID  string
	ResourceGroup string
	ModelName     string
	ModelVersion  string
	Timeout       time.Duration
}

// Orchestration calls a deployment's completion endpoint on the
// orchestration gateway.
type Orchestration struct {
	cfg    OrchestrationConfig
	tokens oauth2.TokenSource
	client *http.Client
}

// NewOrchestration creates a gateway client. tokens may be nil, in which
// case every call fails with ErrNoCredential.
func NewOrchestration(cfg OrchestrationConfig, tokens oauth2.TokenSource) *Orchestration {
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModelName
	}
	if cfg.ModelVersion == "" {
		cfg.ModelVersion = DefaultModelVersion
	}
	if cfg.ResourceGroup == "" {
		cfg.ResourceGroup = "default"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Orchestration{
		cfg:    cfg,
		tokens: tokens,
		client: &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	OrchestrationConfig orchestrationConfig `json:"orchestration_config"`
	InputParams         map[string]string   `json:"input_params"`
}

type orchestrationConfig struct {
	ModuleConfigurations moduleConfigurations `json:"module_configurations"`
}

type moduleConfigurations struct {
	Templating templatingConfig `json:"templating_module_config"`
	LLM        modelConfig      `json:"llm_module_config"`
}

type templatingConfig struct {
	Template []templateMessage `json:"template"`
}

type templateMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type modelConfig struct {
	ModelName    string `json:"model_name"`
	ModelVersion string `json:"model_version"`
}

// Complete posts prompt as a single user message and returns the body.
func (o *Orchestration) Complete(ctx context.Context, prompt string) (string, error) {
	token, err := credentials.Bearer(o.tokens)
	if err != nil {
		return "", err
	}

	reqBody := completionRequest{
		OrchestrationConfig: orchestrationConfig{
			ModuleConfigurations: moduleConfigurations{
				Templating: templatingConfig{
					Template: []templateMessage{{Role: "user", Content: prompt}},
				},
				LLM: modelConfig{
					ModelName:    o.cfg.ModelName,
					ModelVersion: o.cfg.ModelVersion,
				},
			},
		},
		InputParams: map[string]string{},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	url := fmt.Sprintf("%s/v2/inference/deployments/%s/completion",
		strings.TrimRight(o.cfg.APIURL, "/"), o.cfg.DeploymentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("ai-resource-group", o.cfg.ResourceGroup)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode >= 300 {
		runlog.Logger(ctx).Warn("completion endpoint returned error status",
			"status", resp.StatusCode,
			"body", string(body),
		)
	}

	// Error bodies are returned as-is; the parser decides what they mean.
	return string(body), nil
}
