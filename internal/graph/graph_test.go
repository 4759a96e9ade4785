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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ecotrace/ingestion/internal/models"
)

const inboxPage1 = `{
  "value": [
    {
      "id": "m1",
      "conversationId": "c1",
      "subject": "Gas invoice 2025-03",
      "from": {"emailAddress": {"name": "Energie AG", "address": "billing@energie.at"}},
      "toRecipients": [{"emailAddress": {"name": "", "address": "finance@example.com"}}],
      "body": {"contentType": "text", "content": "Verbrauch 830 m3"},
      "receivedDateTime": "2025-03-14T09:30:00Z",
      "categories": [],
      "isDraft": false,
      "hasAttachments": true
    },
    {
      "id": "m2",
      "conversationId": "c2",
      "subject": "Already done",
      "from": {"emailAddress": {"name": "", "address": "x@example.com"}},
      "body": {"contentType": "text", "content": ""},
      "receivedDateTime": "2025-03-14T10:00:00Z",
      "categories": ["SAP_SUSTAINABILITY_PROCESSED"]
    }
  ],
  "@odata.nextLink": "%NEXT%"
}`

const inboxPage2 = `{
  "value": [
    {
      "id": "m3",
      "conversationId": "c1",
      "subject": "RE: Gas invoice 2025-03",
      "from": {"emailAddress": {"name": "Energie AG", "address": "billing@energie.at"}},
      "body": {"contentType": "html", "content": "<p>Korrektur</p>"},
      "receivedDateTime": "2025-03-15T08:00:00Z",
      "categories": ["Blue category"],
      "isDraft": true
    }
  ]
}`

type fakeGraph struct {
	mu      sync.Mutex
	srv     *httptest.Server
	filter  string
	prefer  string
	patched map[string][]string
}

func (f *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/users/ops@example.com/mailFolders/inbox/messages" && r.URL.Query().Get("page") == "2":
		w.Write([]byte(inboxPage2))
	case r.URL.Path == "/users/ops@example.com/mailFolders/inbox/messages":
		f.filter = r.URL.Query().Get("$filter")
		f.prefer = r.Header.Get("Prefer")
		next := f.srv.URL + "/users/ops@example.com/mailFolders/inbox/messages?page=2"
		w.Write([]byte(strings.Replace(inboxPage1, "%NEXT%", next, 1)))
	case r.URL.Path == "/users/ops@example.com/messages/m1/attachments":
		w.Write([]byte(`{"value":[
			{"name":"rechnung.pdf","contentType":"application/pdf","size":4096,"isInline":false},
			{"name":"logo.png","contentType":"image/png","size":12,"isInline":true}
		]}`))
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/users/ops@example.com/messages/"):
		var body struct {
			Categories []string `json:"categories"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if f.patched == nil {
			f.patched = make(map[string][]string)
		}
		f.patched[strings.TrimPrefix(r.URL.Path, "/users/ops@example.com/messages/")] = body.Categories
		w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newFakeMailbox(t *testing.T) (*Mailbox, *fakeGraph) {
	t.Helper()
	api := &fakeGraph{}
	api.srv = httptest.NewServer(api)
	t.Cleanup(api.srv.Close)

	mb := NewWithClient(api.srv.Client(), Config{UserID: "ops@example.com", BaseURL: api.srv.URL})
	mb.now = func() time.Time { return time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC) }
	return mb, api
}

func unprocessedThread(t *testing.T, mb *Mailbox) models.Thread {
	t.Helper()
	threads, err := mb.Unprocessed(context.Background())
	if err != nil {
		t.Fatalf("Unprocessed: %v", err)
	}
	// Conversation c2 already carries the processed category.
	if len(threads) != 1 {
		t.Fatalf("got %d threads, want 1", len(threads))
	}
	return threads[0]
}

// TestUnprocessed_GroupsConversations verifies paging, grouping by
// conversation and message conversion.
func TestUnprocessed_GroupsConversations(t *testing.T) {
	mb, api := newFakeMailbox(t)
	th := unprocessedThread(t, mb)

	if want := "receivedDateTime ge 2025-03-13T12:00:00Z"; api.filter != want {
		t.Errorf("$filter = %q, want %q", api.filter, want)
	}
	if !strings.Contains(api.prefer, "outlook.body-content-type") {
		t.Errorf("Prefer = %q, want body content type preference", api.prefer)
	}

	if th.ID != "c1" {
		t.Errorf("thread id = %q, want c1", th.ID)
	}
	if !reflect.DeepEqual(th.Labels, []string{"Blue category"}) {
		t.Errorf("thread labels = %v, want [Blue category]", th.Labels)
	}
	if len(th.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(th.Messages))
	}

	first := th.Messages[0]
	tests := []struct {
		field string
		got   any
		want  any
	}{
		{"From", first.From, "Energie AG <billing@energie.at>"},
		{"To", first.To, "finance@example.com"},
		{"PlainBody", first.PlainBody, "Verbrauch 830 m3"},
		{"InInbox", first.InInbox, true},
		{"Date", first.Date, time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)},
		{"Attachments", len(first.Attachments), 1},
		{"HTMLBody (second)", th.Messages[1].HTMLBody, "<p>Korrektur</p>"},
		{"PlainBody (second)", th.Messages[1].PlainBody, ""},
		{"Draft (second)", th.Messages[1].Draft, true},
	}
	for _, tt := range tests {
		if !reflect.DeepEqual(tt.got, tt.want) {
			t.Errorf("%s = %v, want %v", tt.field, tt.got, tt.want)
		}
	}

	if len(first.Attachments) == 1 {
		att := first.Attachments[0]
		if att.Name != "rechnung.pdf" || att.Length != 4096 {
			t.Errorf("attachment = %+v, want rechnung.pdf of 4096 bytes", att)
		}
	}
}

// TestMarkProcessed_KeepsPerMessageCategories verifies that each message
// keeps its own categories and gains only the processed category.
func TestMarkProcessed_KeepsPerMessageCategories(t *testing.T) {
	mb, api := newFakeMailbox(t)
	th := unprocessedThread(t, mb)

	if err := mb.MarkProcessed(context.Background(), th); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	want := map[string][]string{
		"m1": {DefaultProcessedCategory},
		"m3": {"Blue category", DefaultProcessedCategory},
	}
	if !reflect.DeepEqual(api.patched, want) {
		t.Errorf("patched categories = %v, want %v", api.patched, want)
	}
}

// TestUnprocessed_HTTPError verifies that a failed listing is returned.
func TestUnprocessed_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	mb := NewWithClient(srv.Client(), Config{UserID: "u", BaseURL: srv.URL})
	_, err := mb.Unprocessed(context.Background())
	if err == nil {
		t.Fatal("expected error, got none")
	}
	if !strings.Contains(err.Error(), "HTTP 401") {
		t.Errorf("error = %q, want it to mention HTTP 401", err)
	}
}

// TestFormatAddress verifies the From/To rendering.
func TestFormatAddress(t *testing.T) {
	tests := []struct {
		name, address string
		want          string
	}{
		{"", "a@b.c", "a@b.c"},
		{"Stadtwerke", "a@b.c", "Stadtwerke <a@b.c>"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			var a emailAddress
			a.EmailAddress.Name = tt.name
			a.EmailAddress.Address = tt.address
			if got := formatAddress(a); got != tt.want {
				t.Errorf("formatAddress = %q, want %q", got, tt.want)
			}
		})
	}
}
