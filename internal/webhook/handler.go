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

// Package webhook serves the completion callback of the downstream
// workflow. When a workflow instance finishes it POSTs the invoice id and
// a success flag; failed invoices are removed from the store so they can
// be picked up again.
//
// The endpoint always answers 200 with a JSON {message, timestamp} body.
// Callers read the outcome from the message, never from the status code.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ecotrace/ingestion/internal/sheet"
)

// Callback outcome messages.
const (
	MsgNoPayload    = "Invalid request: no payload received."
	MsgNoInvoiceID  = "Invalid request: no InvoiceNb provided."
	MsgNoDataRows   = "No data rows available. Invoice not found."
	MsgRowNotFound  = "Row not found for the provided InvoiceNb."
	MsgRowDeleted   = "Row found and deleted because the success flag was false."
	MsgRowsDeleted  = "%d rows found and deleted because the success flag was false."
	MsgRowRetained  = "Row found and retained because the success flag was true."
	MsgRowsRetained = "%d rows found and retained because the success flag was true."
	msgErrorPrefix  = "Error processing request: "
)

// timestampLayout renders UTC timestamps with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// CompletionRequest is the callback payload. Both fields are kept raw so
// that string and non-string encodings can be accepted.
type CompletionRequest struct {
	InvoiceNb json.RawMessage `json:"InvoiceNb"`
	Success   json.RawMessage `json:"success"`
}

// Response is the body of every callback answer.
type Response struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Handler processes completion callbacks against the invoice store.
type Handler struct {
	store sheet.Store
	now   func() time.Time
}

// NewHandler creates a completion callback handler.
func NewHandler(store sheet.Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

// ServeCompletion handles POST /callback.
func (h *Handler) ServeCompletion(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		slog.Error("failed to read callback body", "error", err)
		h.respond(w, msgErrorPrefix+err.Error())
		return
	}

	var req CompletionRequest
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &req) != nil {
		slog.Info("callback without usable payload", "body_len", len(body))
		h.respond(w, MsgNoPayload)
		return
	}

	h.respond(w, h.Complete(r.Context(), req))
}

// ServeHealth answers liveness checks.
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Complete applies a callback to the store and returns the outcome message.
// A false success flag deletes every row carrying the invoice id.
func (h *Handler) Complete(ctx context.Context, req CompletionRequest) string {
	invoiceID := InvoiceID(req.InvoiceNb)
	if invoiceID == "" {
		return MsgNoInvoiceID
	}
	success := SuccessFlag(req.Success)

	rows, err := h.store.Rows(ctx)
	if err != nil {
		slog.Error("callback failed to read rows", "invoice", invoiceID, "error", err)
		return msgErrorPrefix + err.Error()
	}
	if len(rows) == 0 {
		return MsgNoDataRows
	}

	refs := sheet.FindByInvoice(rows, invoiceID)
	if len(refs) == 0 {
		slog.Info("callback for unknown invoice", "invoice", invoiceID)
		return MsgRowNotFound
	}

	if success {
		slog.Info("workflow succeeded, keeping rows", "invoice", invoiceID, "rows", len(refs))
		if len(refs) == 1 {
			return MsgRowRetained
		}
		return fmt.Sprintf(MsgRowsRetained, len(refs))
	}

	// Match again inside the store: rows may have moved since the read.
	deleted, err := h.store.DeleteByInvoice(ctx, invoiceID)
	if err != nil {
		slog.Error("callback failed to delete rows", "invoice", invoiceID, "error", err)
		return msgErrorPrefix + err.Error()
	}
	switch deleted {
	case 0:
		slog.Info("invoice rows already gone", "invoice", invoiceID)
		return MsgRowNotFound
	case 1:
		slog.Info("workflow failed, rows deleted", "invoice", invoiceID, "rows", deleted)
		return MsgRowDeleted
	default:
		slog.Info("workflow failed, rows deleted", "invoice", invoiceID, "rows", deleted)
		return fmt.Sprintf(MsgRowsDeleted, deleted)
	}
}

func (h *Handler) respond(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Response{
		Message:   message,
		Timestamp: h.now().UTC().Format(timestampLayout),
	})
}

// InvoiceID renders a raw InvoiceNb value. Strings are used as-is and
// numbers in their JSON form; anything else, including "" and 0, yields "".
func InvoiceID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return ""
	}

	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil && f == 0 {
			return ""
		}
		return t.String()
	default:
		return ""
	}
}

// SuccessFlag reports whether a raw success value is JSON true or the
// string "true".
func SuccessFlag(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "true", `"true"`:
		return true
	default:
		return false
	}
}

// Serve starts the HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections.
func Serve(ctx context.Context, port int, handler http.Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind http port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("http server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	return ready, nil
}
