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

package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/ecotrace/ingestion/internal/models"
)

type emailAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"emailAddress"`
}

// graphMessage represents the relevant fields from a Graph API message response.
type graphMessage struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Subject        string         `json:"subject"`
	From           emailAddress   `json:"from"`
	ToRecipients   []emailAddress `json:"toRecipients"`
	Body           struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ReceivedDateTime string   `json:"receivedDateTime"`
	Categories       []string `json:"categories"`
	IsDraft          bool     `json:"isDraft"`
	HasAttachments   bool     `json:"hasAttachments"`
}

type messagePage struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

type attachmentPage struct {
	Value []struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size"`
		IsInline    bool   `json:"isInline"`
	} `json:"value"`
}

// conversation collects the listed messages of one conversationId.
type conversation struct {
	id       string
	labels   []string
	Messages []pendingMessage
}

type pendingMessage struct {
	models.Message
	hasAttachments bool
}

// HasLabel reports whether any message of the conversation carries name.
func (c *conversation) HasLabel(name string) bool {
	for _, l := range c.labels {
		if l == name {
			return true
		}
	}
	return false
}

// Thread returns the conversation as a shared-model thread.
func (c *conversation) Thread() models.Thread {
	t := models.Thread{ID: c.id, Labels: c.labels}
	for _, m := range c.Messages {
		t.Messages = append(t.Messages, m.Message)
	}
	return t
}

// groupByConversation groups messages by conversationId, keeping the order
// in which conversations first appear.
func groupByConversation(messages []graphMessage) []*conversation {
	var order []*conversation
	byID := make(map[string]*conversation)

	for _, gm := range messages {
		key := gm.ConversationID
		if key == "" {
			key = gm.ID
		}
		c, ok := byID[key]
		if !ok {
			c = &conversation{id: key}
			byID[key] = c
			order = append(order, c)
		}
		for _, cat := range gm.Categories {
			if !c.HasLabel(cat) {
				c.labels = append(c.labels, cat)
			}
		}
		c.Messages = append(c.Messages, pendingMessage{
			Message:        convertMessage(gm),
			hasAttachments: gm.HasAttachments,
		})
	}
	return order
}

// convertMessage maps a Graph message onto the shared model. The From
// header is rebuilt in "Name <address>" form.
func convertMessage(gm graphMessage) models.Message {
	to := make([]string, 0, len(gm.ToRecipients))
	for _, r := range gm.ToRecipients {
		to = append(to, formatAddress(r))
	}

	msg := models.Message{
		ID:      gm.ID,
		From:    formatAddress(gm.From),
		To:      strings.Join(to, ", "),
		Subject: gm.Subject,
		InInbox: true,
		Draft:   gm.IsDraft,
		Labels:  gm.Categories,
	}
	if strings.EqualFold(gm.Body.ContentType, "html") {
		msg.HTMLBody = gm.Body.Content
	} else {
		msg.PlainBody = gm.Body.Content
	}
	if ts, err := time.Parse(time.RFC3339, gm.ReceivedDateTime); err == nil {
		msg.Date = ts
	}
	return msg
}

func formatAddress(a emailAddress) string {
	if a.EmailAddress.Name == "" {
		return a.EmailAddress.Address
	}
	return fmt.Sprintf("%s <%s>", a.EmailAddress.Name, a.EmailAddress.Address)
}
