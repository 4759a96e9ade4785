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
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecotrace/ingestion/internal/models"
)

// pgColumns maps models.Headers onto table columns, in the same order.
var pgColumns = []string{
	"invoice_nb",
	"invoice_date",
	"supplier",
	"material",
	"energy_kwh",
	"litres_fuel",
	"cloud_hours",
	"storage_cloud",
	"data_transfer_cloud",
	"transport_mode",
	"distance_transport",
	"amount",
	"price",
	"unit",
	"category",
	"supplier_email",
}

// Postgres stores invoice rows in the invoice_rows table. The table schema
// plays the role of the header row.
type Postgres struct {
	pool *pgxpool.Pool
	mu   sync.Mutex
}

// NewPostgres creates a store backed by the given pool and ensures the
// table exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{pool: pool}
	if err := s.EnsureHeader(ctx); err != nil {
		return nil, fmt.Errorf("ensure invoice schema: %w", err)
	}
	slog.Info("invoice store initialised", "backend", "postgres")
	return s, nil
}

func (s *Postgres) EnsureHeader(ctx context.Context) error {
	cols := make([]string, len(pgColumns))
	for i, c := range pgColumns {
		cols[i] = fmt.Sprintf("%s TEXT NOT NULL DEFAULT ''", c)
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS invoice_rows (
			id         BIGSERIAL PRIMARY KEY,
			%s,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_invoice_rows_nb ON invoice_rows(invoice_nb);
	`, strings.Join(cols, ",\n\t\t\t")))
	return err
}

func (s *Postgres) Rows(ctx context.Context) ([]Row, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, %s
		FROM invoice_rows
		ORDER BY id
	`, strings.Join(pgColumns, ", ")))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

func (s *Postgres) Append(ctx context.Context, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	padded := models.PadRow(values)
	args := make([]any, len(padded))
	placeholders := make([]string, len(padded))
	for i, v := range padded {
		args[i] = v
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO invoice_rows (%s) VALUES (%s)
	`, strings.Join(pgColumns, ", "), strings.Join(placeholders, ", ")), args...)
	return err
}

func (s *Postgres) DeleteByInvoice(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `DELETE FROM invoice_rows WHERE invoice_nb = $1`, id)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// collectRows scans id plus the value columns of each row.
func collectRows(rows pgx.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var ref int64
		values := make([]string, models.NumColumns)
		dest := make([]any, 0, models.NumColumns+1)
		dest = append(dest, &ref)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, Row{Ref: ref, Values: values})
	}
	return out, rows.Err()
}
