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

package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotrace/ingestion/internal/models"
)

func payload() models.EmailPayload {
	return models.NewEmailPayload(models.Message{
		From: "CoolAir Services GmbH <billing@coolair.de>",
		Date: time.Date(2025, 3, 31, 23, 30, 0, 0, time.UTC),
	})
}

func TestRecordEmptyExtraction(t *testing.T) {
	for _, extracted := range []models.ExtractedFields{nil, {}} {
		rec := Record(extracted, models.CategoryServiceMaintenance, payload(), nil)

		values := rec.Values()
		require.Len(t, values, models.NumColumns)
		assert.Equal(t, "2025-03-31", rec.Date)
		assert.Equal(t, "CoolAir Services GmbH", rec.Supplier)
		assert.Equal(t, "SERVICE_MAINTENANCE", rec.Category)
		assert.Equal(t, "billing@coolair.de", rec.SupplierEmail)
		assert.Empty(t, rec.InvoiceNb)
		assert.Empty(t, rec.Price)
	}
}

func TestRecordEmailDateUsesLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	rec := Record(nil, models.CategoryGas, payload(), berlin)
	assert.Equal(t, "2025-04-01", rec.Date)

	noDate := payload()
	noDate.Date = time.Time{}
	assert.Empty(t, Record(nil, models.CategoryGas, noDate, nil).Date)
}

func TestRecordSynonymsAndPriority(t *testing.T) {
	extracted := models.ExtractedFields{
		"invoice_number":   "INV-9",
		"invoice_id":       "ignored",
		"invoice_date":     "2025-02-14",
		"supplier_name":    "Stadtwerke",
		"description":      "Strom",
		"quantity_kwh":     1842.5,
		"fuel_litres":      nil,
		"compute_hours":    0,
		"storage_gb_month": 12,
		"transfer_gb":      "3.5",
		"transport_mode":   "Truck",
		"distance_km":      float64(420),
		"quantity":         float64(7000),
		"Price":            "",
		"total_amount":     float64(512.3),
		"uom":              "kWh",
		"Category":         "ENERGY_INVOICE_ELECTRICITY",
		"SupplierEmail":    "ap@stadtwerke.de",
	}

	rec := Record(extracted, models.CategoryGas, payload(), nil)

	assert.Equal(t, models.CanonicalRecord{
		InvoiceNb:         "INV-9",
		Date:              "2025-02-14",
		Supplier:          "Stadtwerke",
		Material:          "Strom",
		Energykhw:         "1842.5",
		LitresFuel:        "",
		CloudHours:        "0",
		StorageCloud:      "12",
		DataTransferCloud: "3.5",
		TransportMode:     "Truck",
		DistanceTransport: "420",
		Amount:            "7000",
		Price:             "512.3",
		Unit:              "kWh",
		Category:          "ENERGY_INVOICE_ELECTRICITY",
		SupplierEmail:     "ap@stadtwerke.de",
	}, rec)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "7000", Stringify(float64(7000)))
	assert.Equal(t, "0.1", Stringify(0.1))
	assert.Equal(t, "99999999", Stringify(float64(99999999)))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
	assert.Equal(t, `[1,"x"]`, Stringify([]any{1, "x"}))
}
