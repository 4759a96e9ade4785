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
	"sync"

	"github.com/ecotrace/ingestion/internal/models"
)

// Memory is an in-process Store for tests and local runs.
type Memory struct {
	mu      sync.Mutex
	header  bool
	rows    []Row
	nextRef int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nextRef: 1}
}

func (m *Memory) EnsureHeader(_ context.Context) error {
	m.mu.Lock()
	m.header = true
	m.mu.Unlock()
	return nil
}

// HasHeader reports whether EnsureHeader has been called.
func (m *Memory) HasHeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.header
}

func (m *Memory) Rows(_ context.Context) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Row, len(m.rows))
	for i, r := range m.rows {
		out[i] = Row{Ref: r.Ref, Values: models.PadRow(r.Values)}
	}
	return out, nil
}

func (m *Memory) Append(_ context.Context, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows = append(m.rows, Row{Ref: m.nextRef, Values: models.PadRow(values)})
	m.nextRef++
	return nil
}

func (m *Memory) DeleteByInvoice(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.rows[:0]
	for _, r := range m.rows {
		if r.Values[models.ColInvoiceNb] != id {
			kept = append(kept, r)
		}
	}
	removed := len(m.rows) - len(kept)
	m.rows = kept
	return removed, nil
}
