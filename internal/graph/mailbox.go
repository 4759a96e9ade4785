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

// Package graph reads inbox messages of a Microsoft 365 mailbox through the
// Graph API. Messages are grouped into threads by conversation, and an
// Outlook category plays the role of the processed label.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ecotrace/ingestion/internal/models"
	"github.com/ecotrace/ingestion/internal/runlog"
)

const (
	// DefaultBaseURL is the Graph API v1.0 root.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	// DefaultProcessedCategory marks conversations that have been handled.
	DefaultProcessedCategory = "SAP_SUSTAINABILITY_PROCESSED"

	messageSelect = "id,conversationId,subject,from,toRecipients,body,receivedDateTime,categories,isDraft,hasAttachments"
	pageSize      = 50
)

// Config configures access to one mailbox.
type Config struct {
	TenantID          string
	ClientID          string
	ClientSecret      string
	UserID            string
	ProcessedCategory string
	NewerThanDays     int
	BaseURL           string
}

// Mailbox lists inbox conversations and categorises them once processed.
type Mailbox struct {
	httpClient *http.Client
	baseURL    string
	userID     string
	category   string
	days       int
	now        func() time.Time
}

// New creates a mailbox that authenticates with app-only client
// credentials against the tenant.
func New(ctx context.Context, cfg Config) *Mailbox {
	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return NewWithClient(creds.Client(ctx), cfg)
}

// NewWithClient creates a mailbox using an already authenticated client.
func NewWithClient(httpClient *http.Client, cfg Config) *Mailbox {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.NewerThanDays <= 0 {
		cfg.NewerThanDays = 7
	}
	if cfg.ProcessedCategory == "" {
		cfg.ProcessedCategory = DefaultProcessedCategory
	}
	return &Mailbox{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userID:     cfg.UserID,
		category:   cfg.ProcessedCategory,
		days:       cfg.NewerThanDays,
		now:        time.Now,
	}
}

// Unprocessed returns recent inbox conversations that do not yet carry the
// processed category, in the order their first message was listed.
func (m *Mailbox) Unprocessed(ctx context.Context) ([]models.Thread, error) {
	since := m.now().UTC().AddDate(0, 0, -m.days).Format(time.RFC3339)

	q := url.Values{}
	q.Set("$filter", "receivedDateTime ge "+since)
	q.Set("$select", messageSelect)
	q.Set("$orderby", "receivedDateTime asc")
	q.Set("$top", fmt.Sprint(pageSize))
	next := fmt.Sprintf("%s/users/%s/mailFolders/inbox/messages?%s", m.baseURL, url.PathEscape(m.userID), q.Encode())

	var messages []graphMessage
	for next != "" {
		var page messagePage
		if err := m.getJSON(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("list inbox messages: %w", err)
		}
		messages = append(messages, page.Value...)
		next = page.NextLink
	}

	threads := groupByConversation(messages)
	out := make([]models.Thread, 0, len(threads))
	for _, t := range threads {
		if t.HasLabel(m.category) {
			continue
		}
		for i := range t.Messages {
			if !t.Messages[i].hasAttachments {
				continue
			}
			atts, err := m.attachments(ctx, t.Messages[i].ID)
			if err != nil {
				return nil, err
			}
			t.Messages[i].Attachments = atts
		}
		out = append(out, t.Thread())
	}

	runlog.Logger(ctx).Info("found threads", "count", len(out), "messages", len(messages))
	return out, nil
}

// MarkProcessed adds the processed category to every message of thread,
// keeping each message's own categories.
func (m *Mailbox) MarkProcessed(ctx context.Context, thread models.Thread) error {
	for _, msg := range thread.Messages {
		categories := append([]string{}, msg.Labels...)
		if !slices.Contains(categories, m.category) {
			categories = append(categories, m.category)
		}

		body, err := json.Marshal(map[string][]string{"categories": categories})
		if err != nil {
			return err
		}

		endpoint := fmt.Sprintf("%s/users/%s/messages/%s", m.baseURL, url.PathEscape(m.userID), url.PathEscape(msg.ID))
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("categorise message %s: %w", msg.ID, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("graph API returned HTTP %d categorising message %s", resp.StatusCode, msg.ID)
		}
	}
	return nil
}

func (m *Mailbox) attachments(ctx context.Context, messageID string) ([]models.Attachment, error) {
	endpoint := fmt.Sprintf("%s/users/%s/messages/%s/attachments?$select=name,contentType,size,isInline",
		m.baseURL, url.PathEscape(m.userID), url.PathEscape(messageID))

	var page attachmentPage
	if err := m.getJSON(ctx, endpoint, &page); err != nil {
		return nil, fmt.Errorf("list attachments of %s: %w", messageID, err)
	}

	atts := make([]models.Attachment, 0, len(page.Value))
	for _, a := range page.Value {
		if a.IsInline {
			continue
		}
		atts = append(atts, models.Attachment{Name: a.Name, ContentType: a.ContentType, Length: a.Size})
	}
	return atts, nil
}

func (m *Mailbox) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "outlook.body-content-type=\"text\"")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graph API returned HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
