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

// Package dedup keeps the invoice store free of repeated observations. A
// record is a duplicate when every one of its fields, after trimming,
// equals the corresponding field of a stored row.
//
// The check-then-append sequence is not atomic on its own; callers hold the
// run lock while using the gate.
package dedup

import (
	"context"
	"fmt"
	"strings"

	"github.com/ecotrace/ingestion/internal/models"
	"github.com/ecotrace/ingestion/internal/sheet"
)

// keySeparator joins field values into a row key.
const keySeparator = "||"

// Key builds the identity key of a row from its values in header order.
func Key(values []string) string {
	padded := models.PadRow(values)
	for i, v := range padded {
		padded[i] = strings.TrimSpace(v)
	}
	return strings.Join(padded, keySeparator)
}

// Gate checks records against the store before appending them.
type Gate struct {
	store sheet.Store
}

// NewGate creates a gate over store.
func NewGate(store sheet.Store) *Gate {
	return &Gate{store: store}
}

// IsDuplicate reports whether a row with the same key is already stored.
// It scans the whole table.
func (g *Gate) IsDuplicate(ctx context.Context, rec models.CanonicalRecord) (bool, error) {
	rows, err := g.store.Rows(ctx)
	if err != nil {
		return false, fmt.Errorf("dedup read rows: %w", err)
	}

	key := Key(rec.Values())
	for _, r := range rows {
		if Key(r.Values) == key {
			return true, nil
		}
	}
	return false, nil
}

// Append stores rec as a new row.
func (g *Gate) Append(ctx context.Context, rec models.CanonicalRecord) error {
	if err := g.store.Append(ctx, rec.Values()); err != nil {
		return fmt.Errorf("dedup append row: %w", err)
	}
	return nil
}

// Admit appends rec unless it is a duplicate and reports whether it did.
func (g *Gate) Admit(ctx context.Context, rec models.CanonicalRecord) (bool, error) {
	dup, err := g.IsDuplicate(ctx, rec)
	if err != nil {
		return false, err
	}
	if dup {
		return false, nil
	}
	if err := g.Append(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}
