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


// Package dashboard serves the JSON endpoints behind the sustainability
// dashboard and the yearly PDF download.
package dashboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ecotrace/ingestion/internal/report"
	"github.com/ecotrace/ingestion/internal/sheet"
)

// Handler serves dashboard data from the stored rows.
type Handler struct {
	rows      report.RowSource
	generator *report.Generator
}

// NewHandler creates a dashboard handler. generator may be nil, in which
// case the report endpoint answers 503.
func NewHandler(rows report.RowSource, generator *report.Generator) *Handler {
	return &Handler{rows: rows, generator: generator}
}

// Register mounts the dashboard routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/summary", h.ranged(func(w http.ResponseWriter, q query) {
		writeJSON(w, http.StatusOK, report.Summarize(q.rows, q.rng))
	}))
	mux.HandleFunc("GET /api/monthly", h.ranged(func(w http.ResponseWriter, q query) {
		writeJSON(w, http.StatusOK, nonNil(report.MonthlySeries(q.rows, q.rng)))
	}))
	mux.HandleFunc("GET /api/categories", h.ranged(func(w http.ResponseWriter, q query) {
		writeJSON(w, http.StatusOK, nonNil(report.SpendByCategory(q.rows, q.rng)))
	}))
	mux.HandleFunc("GET /api/amounts", h.ranged(func(w http.ResponseWriter, q query) {
		writeJSON(w, http.StatusOK, nonNil(report.InvoiceAmounts(q.rows, q.rng)))
	}))
	mux.HandleFunc("GET /api/years", h.ServeYears)
	mux.HandleFunc("GET /api/report", h.ServeReport)
}

type query struct {
	rows []sheet.Row
	rng  report.Range
}

// ranged parses start/end and loads the rows before calling fn.
func (h *Handler) ranged(fn func(http.ResponseWriter, query)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rng, err := report.ParseRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rows, err := h.rows.Rows(r.Context())
		if err != nil {
			slog.Error("dashboard: read rows", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		fn(w, query{rows: rows, rng: rng})
	}
}

// ServeYears lists the years present in the data.
func (h *Handler) ServeYears(w http.ResponseWriter, r *http.Request) {
	rows, err := h.rows.Rows(r.Context())
	if err != nil {
		slog.Error("dashboard: read rows", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(report.AvailableYears(rows)))
}

// ServeReport renders the PDF report of the requested year.
func (h *Handler) ServeReport(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("report generation is not configured"))
		return
	}

	year, err := report.ParseYear(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var buf bytes.Buffer
	if err := h.generator.GenerateYear(r.Context(), year, &buf); err != nil {
		slog.Error("dashboard: generate report", "year", year, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName(year)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// nonNil makes empty results encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
