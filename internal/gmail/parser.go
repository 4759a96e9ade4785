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

package gmail

import (
	"encoding/base64"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"

	"github.com/ecotrace/ingestion/internal/models"
)

// convertThread maps a Gmail thread onto the shared model. Label ids are
// kept as-is except the processed label, which is reported by name.
func convertThread(t *gmail.Thread, processedID, processedName string) models.Thread {
	thread := models.Thread{ID: t.Id}

	seen := make(map[string]bool)
	for _, msg := range t.Messages {
		for _, id := range msg.LabelIds {
			name := id
			if id == processedID {
				name = processedName
			}
			if !seen[name] {
				seen[name] = true
				thread.Labels = append(thread.Labels, name)
			}
		}
		thread.Messages = append(thread.Messages, convertMessage(msg))
	}
	return thread
}

func convertMessage(msg *gmail.Message) models.Message {
	out := models.Message{
		ID:      msg.Id,
		Date:    time.UnixMilli(msg.InternalDate),
		InInbox: hasLabel(msg.LabelIds, "INBOX"),
		Draft:   hasLabel(msg.LabelIds, "DRAFT"),
		Labels:  msg.LabelIds,
	}
	if msg.Payload == nil {
		return out
	}

	out.From = getHeader(msg.Payload.Headers, "From")
	out.To = getHeader(msg.Payload.Headers, "To")
	out.Subject = getHeader(msg.Payload.Headers, "Subject")

	extractBody(msg.Payload, &out)
	out.Attachments = extractAttachments(msg.Payload)
	return out
}

// extractBody walks the MIME tree and keeps the first text/plain and
// text/html parts.
func extractBody(part *gmail.MessagePart, out *models.Message) {
	if part == nil {
		return
	}

	if part.Filename == "" && part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			if out.PlainBody == "" {
				out.PlainBody = decodeData(part.Body.Data)
			}
		case "text/html":
			if out.HTMLBody == "" {
				out.HTMLBody = decodeData(part.Body.Data)
			}
		}
	}

	for _, p := range part.Parts {
		extractBody(p, out)
	}
}

// extractAttachments lists file parts, skipping inline images.
func extractAttachments(part *gmail.MessagePart) []models.Attachment {
	var attachments []models.Attachment
	if part == nil {
		return attachments
	}

	if part.Filename != "" && !isInline(part) {
		att := models.Attachment{
			Name:        part.Filename,
			ContentType: part.MimeType,
		}
		if part.Body != nil {
			att.Length = part.Body.Size
		}
		attachments = append(attachments, att)
	}

	for _, p := range part.Parts {
		attachments = append(attachments, extractAttachments(p)...)
	}
	return attachments
}

func isInline(part *gmail.MessagePart) bool {
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, "Content-ID") {
			return true
		}
		if strings.EqualFold(h.Name, "Content-Disposition") && strings.HasPrefix(strings.ToLower(h.Value), "inline") {
			return true
		}
	}
	return false
}

// decodeData decodes Gmail's base64url body data, padded or not.
func decodeData(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "=")); err == nil {
		return string(b)
	}
	return ""
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func hasLabel(ids []string, label string) bool {
	for _, id := range ids {
		if id == label {
			return true
		}
	}
	return false
}
