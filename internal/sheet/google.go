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

package sheet

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ecotrace/ingestion/internal/models"
)

// GoogleConfig identifies the spreadsheet and the service account used to
// reach it.
type GoogleConfig struct {
	SpreadsheetID   string
	SheetName       string // empty selects the first sheet
	CredentialsFile string
}

// GoogleSheets stores rows in one sheet of a Google spreadsheet. Row refs
// are 1-based sheet row numbers; row 1 holds the header.
type GoogleSheets struct {
	svc           *sheets.Service
	spreadsheetID string

	mu      sync.Mutex
	title   string
	sheetID int64
	located bool
}

// NewGoogleSheets authenticates with the service account key in
// cfg.CredentialsFile and returns a store for the configured sheet.
func NewGoogleSheets(ctx context.Context, cfg GoogleConfig) (*GoogleSheets, error) {
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read sheets credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse sheets credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.Info("invoice store initialised", "backend", "google_sheets", "spreadsheet_id", cfg.SpreadsheetID)
	return NewGoogleSheetsWithService(svc, cfg.SpreadsheetID, cfg.SheetName), nil
}

// NewGoogleSheetsWithService wraps an existing Sheets service.
func NewGoogleSheetsWithService(svc *sheets.Service, spreadsheetID, sheetName string) *GoogleSheets {
	return &GoogleSheets{svc: svc, spreadsheetID: spreadsheetID, title: sheetName}
}

// lastColumn is the A1 letter of the final header column.
var lastColumn = string(rune('A' + models.NumColumns - 1))

// locate resolves the sheet title and numeric sheet id. Callers hold g.mu.
func (g *GoogleSheets) locate(ctx context.Context) error {
	if g.located {
		return nil
	}

	ss, err := g.svc.Spreadsheets.Get(g.spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}

	for _, s := range ss.Sheets {
		if s.Properties == nil {
			continue
		}
		if g.title == "" || s.Properties.Title == g.title {
			g.title = s.Properties.Title
			g.sheetID = s.Properties.SheetId
			g.located = true
			return nil
		}
	}
	return fmt.Errorf("sheet %q not found in spreadsheet %s", g.title, g.spreadsheetID)
}

func (g *GoogleSheets) a1(cells string) string {
	return fmt.Sprintf("'%s'!%s", g.title, cells)
}

func (g *GoogleSheets) EnsureHeader(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.locate(ctx); err != nil {
		return err
	}

	headerRange := g.a1("A1:" + lastColumn + "1")
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header row: %w", err)
	}
	if len(resp.Values) > 0 && !blank(resp.Values[0]) {
		return nil
	}

	header := make([]interface{}, len(models.Headers))
	for i, h := range models.Headers {
		header[i] = h
	}
	_, err = g.svc.Spreadsheets.Values.Update(g.spreadsheetID, headerRange, &sheets.ValueRange{
		Values: [][]interface{}{header},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header row: %w", err)
	}
	return nil
}

func (g *GoogleSheets) Rows(ctx context.Context) ([]Row, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.locate(ctx); err != nil {
		return nil, err
	}
	return g.readRows(ctx)
}

// readRows reads every data row. Callers hold g.mu.
func (g *GoogleSheets) readRows(ctx context.Context) ([]Row, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, g.a1("A2:"+lastColumn)).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	rows := make([]Row, 0, len(resp.Values))
	for i, cells := range resp.Values {
		values := make([]string, len(cells))
		for j, c := range cells {
			values[j] = fmt.Sprint(c)
		}
		rows = append(rows, Row{Ref: int64(i + 2), Values: models.PadRow(values)})
	}
	return rows, nil
}

func (g *GoogleSheets) Append(ctx context.Context, values []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.locate(ctx); err != nil {
		return err
	}

	padded := models.PadRow(values)
	row := make([]interface{}, len(padded))
	for i, v := range padded {
		row[i] = v
	}

	_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, g.a1("A1:"+lastColumn), &sheets.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

// DeleteByInvoice re-reads the sheet and deletes the matching rows in one
// batch while holding g.mu. Row refs are sheet row numbers, so they are
// only valid until the next deletion.
func (g *GoogleSheets) DeleteByInvoice(ctx context.Context, id string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.locate(ctx); err != nil {
		return 0, err
	}

	rows, err := g.readRows(ctx)
	if err != nil {
		return 0, err
	}
	refs := FindByInvoice(rows, id)
	if len(refs) == 0 {
		return 0, nil
	}

	// Bottom-up so earlier deletions do not shift later row numbers.
	sort.Slice(refs, func(i, j int) bool { return refs[i] > refs[j] })

	requests := make([]*sheets.Request, 0, len(refs))
	for _, ref := range refs {
		requests = append(requests, &sheets.Request{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:         g.sheetID,
					Dimension:       "ROWS",
					StartIndex:      ref - 1,
					EndIndex:        ref,
					ForceSendFields: []string{"SheetId"},
				},
			},
		})
	}

	_, err = g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("delete rows: %w", err)
	}
	return len(refs), nil
}

func blank(cells []interface{}) bool {
	for _, c := range cells {
		if fmt.Sprint(c) != "" {
			return false
		}
	}
	return true
}
