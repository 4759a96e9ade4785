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


package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ecotrace/ingestion/internal/models"
	"github.com/ecotrace/ingestion/internal/sheet"
)

func newTestHandler(t *testing.T, invoices ...string) (*Handler, *sheet.Memory) {
	t.Helper()
	store := sheet.NewMemory()
	for _, id := range invoices {
		if err := store.Append(context.Background(), []string{id, "2025-01-01"}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	h := NewHandler(store)
	h.now = func() time.Time { return time.Date(2025, 5, 6, 7, 8, 9, 123456789, time.FixedZone("CET", 3600)) }
	return h, store
}

func post(t *testing.T, h *Handler, body string) Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeCompletion(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func invoices(t *testing.T, store sheet.Store) []string {
	t.Helper()
	rows, err := store.Rows(context.Background())
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.Values[models.ColInvoiceNb])
	}
	return ids
}

// TestCallback verifies the outcome message and the remaining rows for each
// kind of completion payload.
func TestCallback(t *testing.T) {
	tests := []struct {
		name        string
		stored      []string
		body        string
		wantMessage string
		wantRows    []string
	}{
		{
			name:        "failure deletes the row",
			stored:      []string{"INV-1"},
			body:        `{"InvoiceNb":"INV-1","success":false}`,
			wantMessage: MsgRowDeleted,
			wantRows:    []string{},
		},
		{
			name:        "success keeps the row",
			stored:      []string{"INV-1"},
			body:        `{"InvoiceNb":"INV-1","success":true}`,
			wantMessage: MsgRowRetained,
			wantRows:    []string{"INV-1"},
		},
		{
			name:        "string true counts as success",
			stored:      []string{"INV-1"},
			body:        `{"InvoiceNb":"INV-1","success":"true"}`,
			wantMessage: MsgRowRetained,
			wantRows:    []string{"INV-1"},
		},
		{
			name:        "unknown invoice",
			stored:      []string{"INV-1"},
			body:        `{"InvoiceNb":"INV-404","success":false}`,
			wantMessage: MsgRowNotFound,
			wantRows:    []string{"INV-1"},
		},
		{
			name:        "failure deletes every match",
			stored:      []string{"INV-1", "INV-2", "INV-1"},
			body:        `{"InvoiceNb":"INV-1","success":"no"}`,
			wantMessage: "2 rows found and deleted because the success flag was false.",
			wantRows:    []string{"INV-2"},
		},
		{
			name:        "success reports every match",
			stored:      []string{"INV-1", "INV-1"},
			body:        `{"InvoiceNb":"INV-1","success":true}`,
			wantMessage: "2 rows found and retained because the success flag was true.",
			wantRows:    []string{"INV-1", "INV-1"},
		},
		{
			name:        "numeric invoice id",
			stored:      []string{"4711"},
			body:        `{"InvoiceNb":4711,"success":false}`,
			wantMessage: MsgRowDeleted,
			wantRows:    []string{},
		},
		{
			name:        "empty body",
			stored:      []string{"INV-1"},
			body:        ``,
			wantMessage: MsgNoPayload,
			wantRows:    []string{"INV-1"},
		},
		{
			name:        "invalid json",
			stored:      []string{"INV-1"},
			body:        `not json`,
			wantMessage: MsgNoPayload,
			wantRows:    []string{"INV-1"},
		},
		{
			name:        "missing invoice id",
			stored:      []string{"INV-1"},
			body:        `{"success":false}`,
			wantMessage: MsgNoInvoiceID,
			wantRows:    []string{"INV-1"},
		},
		{
			name:        "blank invoice id",
			stored:      []string{"INV-1"},
			body:        `{"InvoiceNb":"","success":false}`,
			wantMessage: MsgNoInvoiceID,
			wantRows:    []string{"INV-1"},
		},
		{
			name:        "empty store",
			body:        `{"InvoiceNb":"INV-1","success":false}`,
			wantMessage: MsgNoDataRows,
			wantRows:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store := newTestHandler(t, tt.stored...)

			resp := post(t, h, tt.body)
			if resp.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMessage)
			}
			if resp.Timestamp != "2025-05-06T06:08:09.123Z" {
				t.Errorf("timestamp = %q, want 2025-05-06T06:08:09.123Z", resp.Timestamp)
			}
			if got := invoices(t, store); !reflect.DeepEqual(got, tt.wantRows) {
				t.Errorf("remaining rows = %v, want %v", got, tt.wantRows)
			}
		})
	}
}

type brokenStore struct {
	*sheet.Memory
}

func (brokenStore) DeleteByInvoice(context.Context, string) (int, error) {
	return 0, errors.New("sheet is protected")
}

// TestCallback_StoreErrorIsReportedInMessage verifies that store failures
// are answered with a message rather than an HTTP error.
func TestCallback_StoreErrorIsReportedInMessage(t *testing.T) {
	mem := sheet.NewMemory()
	if err := mem.Append(context.Background(), []string{"INV-1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	h := NewHandler(brokenStore{mem})

	resp := post(t, h, `{"InvoiceNb":"INV-1","success":false}`)
	if want := "Error processing request: sheet is protected"; resp.Message != want {
		t.Errorf("message = %q, want %q", resp.Message, want)
	}
}

// rowNumberStore addresses rows by their current position, like a
// spreadsheet: Ref is the sheet row number and shifts on every deletion.
type rowNumberStore struct {
	mu       sync.Mutex
	ids      []string
	onDelete func(id string)
}

func (s *rowNumberStore) EnsureHeader(context.Context) error { return nil }

func (s *rowNumberStore) Rows(context.Context) ([]sheet.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]sheet.Row, len(s.ids))
	for i, id := range s.ids {
		rows[i] = sheet.Row{Ref: int64(i + 2), Values: models.PadRow([]string{id})}
	}
	return rows, nil
}

func (s *rowNumberStore) Append(_ context.Context, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, values[0])
	return nil
}

func (s *rowNumberStore) DeleteByInvoice(_ context.Context, id string) (int, error) {
	if s.onDelete != nil {
		s.onDelete(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.ids[:0]
	for _, v := range s.ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	n := len(s.ids) - len(kept)
	s.ids = kept
	return n, nil
}

// TestCallback_OverlappingFailuresDeleteOwnRows verifies that a callback
// whose read happened before another callback's deletion still removes its
// own invoice and nothing else.
func TestCallback_OverlappingFailuresDeleteOwnRows(t *testing.T) {
	reached := make(chan struct{})
	resume := make(chan struct{})
	store := &rowNumberStore{ids: []string{"INV-1", "INV-2", "INV-3", "INV-4"}}
	store.onDelete = func(id string) {
		if id == "INV-3" {
			close(reached)
			<-resume
		}
	}
	h := NewHandler(store)
	ctx := context.Background()

	first := make(chan string, 1)
	go func() {
		first <- h.Complete(ctx, CompletionRequest{InvoiceNb: json.RawMessage(`"INV-3"`), Success: json.RawMessage(`false`)})
	}()
	<-reached

	if got := h.Complete(ctx, CompletionRequest{InvoiceNb: json.RawMessage(`"INV-1"`), Success: json.RawMessage(`false`)}); got != MsgRowDeleted {
		t.Errorf("second callback = %q, want %q", got, MsgRowDeleted)
	}
	close(resume)

	if got := <-first; got != MsgRowDeleted {
		t.Errorf("first callback = %q, want %q", got, MsgRowDeleted)
	}
	if got, want := invoices(t, store), []string{"INV-2", "INV-4"}; !reflect.DeepEqual(got, want) {
		t.Errorf("remaining rows = %v, want %v", got, want)
	}
}

// TestCallback_RowsGoneBeforeDelete verifies the answer when another
// callback removed the invoice between the read and the delete.
func TestCallback_RowsGoneBeforeDelete(t *testing.T) {
	store := &rowNumberStore{ids: []string{"INV-1", "INV-2"}}
	store.onDelete = func(id string) {
		store.mu.Lock()
		store.ids = []string{"INV-2"}
		store.mu.Unlock()
	}
	h := NewHandler(store)

	got := h.Complete(context.Background(), CompletionRequest{InvoiceNb: json.RawMessage(`"INV-1"`), Success: json.RawMessage(`false`)})
	if got != MsgRowNotFound {
		t.Errorf("message = %q, want %q", got, MsgRowNotFound)
	}
}

// TestInvoiceID verifies rendering of raw InvoiceNb values.
func TestInvoiceID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"INV-1"`, "INV-1"},
		{`12.5`, "12.5"},
		{`0`, ""},
		{`null`, ""},
		{`true`, ""},
		{``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := InvoiceID(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("InvoiceID(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

// TestSuccessFlag verifies which raw success values count as true.
func TestSuccessFlag(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{`true`, true},
		{`"true"`, true},
		{`"TRUE"`, false},
		{`1`, false},
		{`false`, false},
		{``, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := SuccessFlag(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("SuccessFlag(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

// TestServeHealth verifies the liveness response.
func TestServeHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	h.ServeHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", body, `{"status":"ok"}`)
	}
}
