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


package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ecotrace/ingestion/internal/runlog"
	"github.com/ecotrace/ingestion/internal/sheet"
)

// ErrInvalidYear is returned for a missing or malformed report year.
var ErrInvalidYear = errors.New("invalid report year")

// RowSource lists the stored rows.
type RowSource interface {
	Rows(ctx context.Context) ([]sheet.Row, error)
}

// Generator builds yearly reports from the stored rows.
type Generator struct {
	rows     RowSource
	narrator *Narrator
	loc      *time.Location
	now      func() time.Time
}

// NewGenerator creates a report generator.
func NewGenerator(rows RowSource, narrator *Narrator, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{rows: rows, narrator: narrator, loc: loc, now: time.Now}
}

// ParseYear validates a four-digit year.
func ParseYear(s string) (int, error) {
	year, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || year < 1900 || year > 9999 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidYear, s)
	}
	return year, nil
}

// Build aggregates the rows of year and writes the narratives.
func (g *Generator) Build(ctx context.Context, year int) (Document, error) {
	if year < 1900 || year > 9999 {
		return Document{}, fmt.Errorf("%w: %d", ErrInvalidYear, year)
	}

	rows, err := g.rows.Rows(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("read rows: %w", err)
	}

	r := YearRange(year)
	doc := Document{
		Year:       year,
		Created:    g.now().In(g.loc),
		Summary:    Summarize(rows, r),
		Monthly:    MonthlySeries(rows, r),
		Categories: SpendByCategory(rows, r),
		Amounts:    InvoiceAmounts(rows, r),
	}

	doc.Executive = g.narrator.Executive(ctx, year, doc.Summary, doc.Monthly, doc.Categories)
	doc.MonthlyText = g.narrator.Monthly(ctx, year, doc.Monthly)
	doc.CategoryText = g.narrator.Categories(ctx, year, doc.Categories)
	doc.DistributionText = g.narrator.Distribution(ctx, year, doc.Amounts)

	runlog.Logger(ctx).Info("report data assembled",
		"year", year,
		"invoices", doc.Summary.Invoices,
		"months", len(doc.Monthly),
		"categories", len(doc.Categories),
	)
	return doc, nil
}

// GenerateYear writes the PDF report for year to w.
func (g *Generator) GenerateYear(ctx context.Context, year int, w io.Writer) error {
	doc, err := g.Build(ctx, year)
	if err != nil {
		return err
	}
	return WritePDF(w, doc)
}
