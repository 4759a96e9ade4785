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

// Package sheet stores invoice rows in a tabular backend. Every backend
// keeps the column order of models.Headers and serializes its own
// mutations in-process.
package sheet

import (
	"context"

	"github.com/ecotrace/ingestion/internal/models"
)

// Row is one stored data row. Values always has models.NumColumns entries.
type Row struct {
	Ref    int64
	Values []string
}

// Record returns the row as a canonical record.
func (r Row) Record() models.CanonicalRecord {
	return models.RecordFromValues(r.Values)
}

// Store is a tabular store of invoice rows.
type Store interface {
	// EnsureHeader writes the header row (or schema) when it is missing.
	EnsureHeader(ctx context.Context) error
	// Rows returns every data row in insertion order.
	Rows(ctx context.Context) ([]Row, error)
	// Append adds one row at the end.
	Append(ctx context.Context, values []string) error
	// DeleteByInvoice removes every row whose InvoiceNb equals id and
	// returns how many were removed. Matching and deleting happen under one
	// lock, so a concurrent deletion cannot redirect it to another row.
	DeleteByInvoice(ctx context.Context, id string) (int, error)
}

// FindByInvoice returns the refs of all rows whose InvoiceNb equals id.
func FindByInvoice(rows []Row, id string) []int64 {
	var refs []int64
	for _, r := range rows {
		if len(r.Values) > models.ColInvoiceNb && r.Values[models.ColInvoiceNb] == id {
			refs = append(refs, r.Ref)
		}
	}
	return refs
}
