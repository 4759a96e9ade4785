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


// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ecotrace/ingestion/internal/credentials"
)

// Mailbox providers.
const (
	ProviderGmail = "gmail"
	ProviderGraph = "graph"
)

// Store backends.
const (
	BackendSheets   = "sheets"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// AI providers.
const (
	AIOrchestration = "orchestration"
	AIOpenAI        = "openai"
)

// MailboxConfig selects and configures the mailbox provider.
type MailboxConfig struct {
	Provider       string
	ProcessedLabel string
	NewerThanDays  int

	// Gmail
	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string
	GmailUser         string

	// Microsoft Graph
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphUserID       string
}

// StoreConfig selects and configures the row store.
type StoreConfig struct {
	Backend         string
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	DatabaseURL     string
}

// AIConfig configures the language-model gateway.
type AIConfig struct {
	Provider      string
	Credentials   credentials.Config
	APIURL        string
	DeploymentID  string
	ResourceGroup string
	ModelName     string
	ModelVersion  string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
}

// WorkflowConfig configures the downstream workflow trigger.
type WorkflowConfig struct {
	Credentials   credentials.Config
	APIURL        string
	EnvironmentID string
	DefinitionID  string
	APIKey        string
}

// NotifyConfig configures failure notifications.
type NotifyConfig struct {
	SendGridAPIKey string
	FromName       string
	FromEmail      string
	To             []string
}

// Config holds all configuration for the ingestion service.
type Config struct {
	Mailbox  MailboxConfig
	Store    StoreConfig
	AI       AIConfig
	Workflow WorkflowConfig
	Notify   NotifyConfig

	// Redis (run lock); empty URL means an in-process lock
	RedisURL string
	LockKey  string
	LockTTL  time.Duration

	// Scheduling
	Schedule   string
	RunTimeout time.Duration

	Location        *time.Location
	HTTPTimeout     time.Duration
	ReportOutputDir string

	// Server (callback, health and dashboard)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mailbox struct {
		Provider       string `yaml:"provider"`
		ProcessedLabel string `yaml:"processed_label"`
		NewerThanDays  int    `yaml:"newer_than_days"`
		Gmail          struct {
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			RefreshToken string `yaml:"refresh_token"`
			User         string `yaml:"user"`
		} `yaml:"gmail"`
		Graph struct {
			TenantID     string `yaml:"tenant_id"`
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			UserID       string `yaml:"user_id"`
		} `yaml:"graph"`
	} `yaml:"mailbox"`
	Store struct {
		Backend string `yaml:"backend"`
		Sheets  struct {
			SpreadsheetID   string `yaml:"spreadsheet_id"`
			SheetName       string `yaml:"sheet_name"`
			CredentialsFile string `yaml:"credentials_file"`
		} `yaml:"sheets"`
		Postgres struct {
			URL string `yaml:"url"`
		} `yaml:"postgres"`
	} `yaml:"store"`
	AI struct {
		Provider           string `yaml:"provider"`
		credentials.Config `yaml:",inline"`
		APIURL             string `yaml:"api_url"`
		DeploymentID       string `yaml:"deployment_id"`
		ResourceGroup      string `yaml:"resource_group"`
		ModelName          string `yaml:"model_name"`
		ModelVersion       string `yaml:"model_version"`
		OpenAI             struct {
			APIKey  string `yaml:"api_key"`
			BaseURL string `yaml:"base_url"`
			Model   string `yaml:"model"`
		} `yaml:"openai"`
	} `yaml:"ai"`
	Workflow struct {
		credentials.Config `yaml:",inline"`
		APIURL             string `yaml:"api_url"`
		EnvironmentID      string `yaml:"environment_id"`
		DefinitionID       string `yaml:"definition_id"`
		APIKey             string `yaml:"api_key"`
	} `yaml:"workflow"`
	Redis struct {
		URL     string `yaml:"url"`
		LockKey string `yaml:"lock_key"`
		LockTTL string `yaml:"lock_ttl"`
	} `yaml:"redis"`
	Notify struct {
		SendGridAPIKey string   `yaml:"sendgrid_api_key"`
		FromName       string   `yaml:"from_name"`
		FromEmail      string   `yaml:"from_email"`
		To             []string `yaml:"to"`
	} `yaml:"notify"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Schedule    string `yaml:"schedule"`
	RunTimeout  string `yaml:"run_timeout"`
	Timezone    string `yaml:"timezone"`
	HTTPTimeout string `yaml:"http_timeout"`
	Report      struct {
		OutputDir string `yaml:"output_dir"`
	} `yaml:"report"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	configPath := envOrDefault("CONFIG_PATH", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML, expanding ${VAR} references first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Mailbox: MailboxConfig{
			Provider:          strings.ToLower(firstNonEmpty(raw.Mailbox.Provider, envOrDefault("MAILBOX_PROVIDER", ProviderGmail))),
			ProcessedLabel:    firstNonEmpty(raw.Mailbox.ProcessedLabel, envOrDefault("PROCESSED_LABEL", "SAP_SUSTAINABILITY_PROCESSED")),
			NewerThanDays:     firstPositive(raw.Mailbox.NewerThanDays, envOrDefaultInt("NEWER_THAN_DAYS", 7)),
			GmailClientID:     raw.Mailbox.Gmail.ClientID,
			GmailClientSecret: raw.Mailbox.Gmail.ClientSecret,
			GmailRefreshToken: raw.Mailbox.Gmail.RefreshToken,
			GmailUser:         firstNonEmpty(raw.Mailbox.Gmail.User, "me"),
			GraphTenantID:     raw.Mailbox.Graph.TenantID,
			GraphClientID:     raw.Mailbox.Graph.ClientID,
			GraphClientSecret: raw.Mailbox.Graph.ClientSecret,
			GraphUserID:       raw.Mailbox.Graph.UserID,
		},
		Store: StoreConfig{
			Backend:         strings.ToLower(firstNonEmpty(raw.Store.Backend, envOrDefault("STORE_BACKEND", BackendSheets))),
			SpreadsheetID:   raw.Store.Sheets.SpreadsheetID,
			SheetName:       raw.Store.Sheets.SheetName,
			CredentialsFile: firstNonEmpty(raw.Store.Sheets.CredentialsFile, os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
			DatabaseURL:     firstNonEmpty(raw.Store.Postgres.URL, os.Getenv("DATABASE_URL")),
		},
		AI: AIConfig{
			Provider:      strings.ToLower(firstNonEmpty(raw.AI.Provider, envOrDefault("AI_PROVIDER", AIOrchestration))),
			Credentials:   raw.AI.Config,
			APIURL:        raw.AI.APIURL,
			DeploymentID:  raw.AI.DeploymentID,
			ResourceGroup: firstNonEmpty(raw.AI.ResourceGroup, "default"),
			ModelName:     firstNonEmpty(raw.AI.ModelName, "gemini-2.5-pro"),
			ModelVersion:  firstNonEmpty(raw.AI.ModelVersion, "latest"),
			OpenAIKey:     firstNonEmpty(raw.AI.OpenAI.APIKey, os.Getenv("OPENAI_API_KEY")),
			OpenAIBaseURL: raw.AI.OpenAI.BaseURL,
			OpenAIModel:   raw.AI.OpenAI.Model,
		},
		Workflow: WorkflowConfig{
			Credentials:   raw.Workflow.Config,
			APIURL:        raw.Workflow.APIURL,
			EnvironmentID: raw.Workflow.EnvironmentID,
			DefinitionID:  raw.Workflow.DefinitionID,
			APIKey:        raw.Workflow.APIKey,
		},
		Notify: NotifyConfig{
			SendGridAPIKey: firstNonEmpty(raw.Notify.SendGridAPIKey, os.Getenv("SENDGRID_API_KEY")),
			FromName:       raw.Notify.FromName,
			FromEmail:      raw.Notify.FromEmail,
			To:             nonBlank(raw.Notify.To),
		},
		RedisURL:        firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		LockKey:         firstNonEmpty(raw.Redis.LockKey, "ecotrace:run-lock"),
		Schedule:        firstNonEmpty(raw.Schedule, envOrDefault("SCHEDULE", "@every 1m")),
		ReportOutputDir: firstNonEmpty(raw.Report.OutputDir, envOrDefault("REPORT_OUTPUT_DIR", ".")),
		Port:            firstPositive(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
	}

	var err error
	if cfg.LockTTL, err = durationOr(raw.Redis.LockTTL, envOrDefaultDuration("LOCK_TTL", 10*time.Minute)); err != nil {
		return nil, fmt.Errorf("redis.lock_ttl: %w", err)
	}
	if cfg.RunTimeout, err = durationOr(raw.RunTimeout, envOrDefaultDuration("RUN_TIMEOUT", 10*time.Minute)); err != nil {
		return nil, fmt.Errorf("run_timeout: %w", err)
	}
	if cfg.HTTPTimeout, err = durationOr(raw.HTTPTimeout, envOrDefaultDuration("HTTP_TIMEOUT", 60*time.Second)); err != nil {
		return nil, fmt.Errorf("http_timeout: %w", err)
	}

	tz := firstNonEmpty(raw.Timezone, envOrDefault("TIMEZONE", "UTC"))
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Mailbox.Provider {
	case ProviderGmail:
		if c.Mailbox.GmailRefreshToken == "" {
			return fmt.Errorf("mailbox.gmail.refresh_token is required for the gmail provider")
		}
	case ProviderGraph:
		if c.Mailbox.GraphTenantID == "" || c.Mailbox.GraphClientID == "" || c.Mailbox.GraphUserID == "" {
			return fmt.Errorf("mailbox.graph requires tenant_id, client_id and user_id")
		}
	default:
		return fmt.Errorf("unknown mailbox provider %q", c.Mailbox.Provider)
	}

	switch c.Store.Backend {
	case BackendSheets:
		if c.Store.SpreadsheetID == "" {
			return fmt.Errorf("store.sheets.spreadsheet_id is required for the sheets backend")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.postgres.url is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.AI.Provider {
	case AIOrchestration, AIOpenAI:
	default:
		return fmt.Errorf("unknown ai provider %q", c.AI.Provider)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func durationOr(raw string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(raw))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func nonBlank(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
