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

// Package models defines the data structures shared across the ingestion service.
package models

import (
	"regexp"
	"strings"
	"time"
)

// Attachment describes a file attached to an email. Only metadata is kept;
// the content bytes never leave the mailbox provider.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Length      int64  `json:"length"`
}

// Message is a single mailbox message as returned by a mailbox provider.
type Message struct {
	ID          string
	From        string // raw header, e.g. `CoolAir GmbH <billing@coolair.de>`
	To          string
	Subject     string
	Date        time.Time
	PlainBody   string
	HTMLBody    string
	Attachments []Attachment
	InInbox     bool
	Draft       bool
	Labels      []string // labels or categories on this message alone
}

// Thread groups the messages of one conversation together with the labels
// currently attached to it.
type Thread struct {
	ID       string
	Labels   []string
	Messages []Message
}

// HasLabel reports whether the thread already carries the named label.
func (t Thread) HasLabel(name string) bool {
	for _, l := range t.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// EmailPayload is the structured view of a message that is handed to the
// language model. It is built once per message and never modified.
//
// The JSON field names are part of the prompt contract.
type EmailPayload struct {
	Subject     string       `json:"subject"`
	From        string       `json:"from"`
	FromName    string       `json:"fromName"`
	FromEmail   string       `json:"fromEmail"`
	To          string       `json:"to"`
	Date        time.Time    `json:"date"`
	PlainBody   string       `json:"plainBody"`
	HTMLBody    string       `json:"htmlBody"`
	Attachments []Attachment `json:"attachments"`
}

// NewEmailPayload builds the payload for a mailbox message.
func NewEmailPayload(msg Message) EmailPayload {
	name, addr := ParseSender(msg.From)

	attachments := make([]Attachment, 0, len(msg.Attachments))
	attachments = append(attachments, msg.Attachments...)

	return EmailPayload{
		Subject:     msg.Subject,
		From:        msg.From,
		FromName:    name,
		FromEmail:   addr,
		To:          msg.To,
		Date:        msg.Date,
		PlainBody:   msg.PlainBody,
		HTMLBody:    msg.HTMLBody,
		Attachments: attachments,
	}
}

var senderPattern = regexp.MustCompile(`^(.*)<([^>]+)>$`)

// ParseSender splits a From header into display name and address.
// "Name <addr>" yields both (surrounding quotes removed from the name);
// anything else is treated as a bare address.
func ParseSender(raw string) (name, address string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	if m := senderPattern.FindStringSubmatch(raw); m != nil {
		name = strings.TrimSpace(m[1])
		name = strings.TrimPrefix(name, `"`)
		name = strings.TrimSuffix(name, `"`)
		return name, strings.TrimSpace(m[2])
	}

	return "", raw
}
