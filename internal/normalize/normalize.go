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

// Package normalize maps loosely keyed extraction output onto the fixed
// invoice record layout.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ecotrace/ingestion/internal/models"
)

// DateLayout is the format of the Date column.
const DateLayout = "2006-01-02"

// Synonyms lists, per canonical field, the extraction keys accepted for it
// in priority order.
var Synonyms = map[string][]string{
	"InvoiceNb":         {"InvoiceNb", "invoiceNb", "invoice_number", "invoiceId", "invoice_id"},
	"Date":              {"Date", "invoice_date", "date"},
	"Supplier":          {"Supplier", "supplier_name"},
	"Material":          {"Material", "material", "description", "line_item_description"},
	"Energykhw":         {"Energykhw", "energy_kwh", "quantity_kwh", "energyKwh"},
	"Litres_Fuel":       {"Litres_Fuel", "litres_fuel", "fuel_litres"},
	"CloudHours":        {"CloudHours", "cloud_hours", "compute_hours"},
	"StorageCloud":      {"StorageCloud", "storage_gb_month", "storage_usage_gb_month"},
	"DataTransferCloud": {"DataTransferCloud", "transfer_gb", "data_transfer_gb"},
	"TransportMode":     {"TransportMode", "transport_mode"},
	"DistanceTransport": {"DistanceTransport", "distance_km"},
	"Amount":            {"Amount", "amount", "quantity"},
	"Price":             {"Price", "total_amount", "price_eur", "price"},
	"Unit":              {"Unit", "unit", "uom"},
	"Category":          {"Category"},
	"SupplierEmail":     {"SupplierEmail"},
}

// Record builds a canonical record. It is total: any input, including a nil
// map, yields a record whose unresolved fields are empty strings. The email
// date is formatted in loc (UTC when nil) when the extraction has no date.
func Record(extracted models.ExtractedFields, category models.Category, payload models.EmailPayload, loc *time.Location) models.CanonicalRecord {
	if loc == nil {
		loc = time.UTC
	}

	field := func(name string, fallback ...string) string {
		if v := pick(extracted, Synonyms[name]...); v != "" {
			return v
		}
		for _, f := range fallback {
			if f != "" {
				return f
			}
		}
		return ""
	}

	emailDate := ""
	if !payload.Date.IsZero() {
		emailDate = payload.Date.In(loc).Format(DateLayout)
	}

	return models.CanonicalRecord{
		InvoiceNb:         field("InvoiceNb"),
		Date:              field("Date", emailDate),
		Supplier:          field("Supplier", payload.FromName),
		Material:          field("Material"),
		Energykhw:         field("Energykhw"),
		LitresFuel:        field("Litres_Fuel"),
		CloudHours:        field("CloudHours"),
		StorageCloud:      field("StorageCloud"),
		DataTransferCloud: field("DataTransferCloud"),
		TransportMode:     field("TransportMode"),
		DistanceTransport: field("DistanceTransport"),
		Amount:            field("Amount"),
		Price:             field("Price"),
		Unit:              field("Unit"),
		Category:          field("Category", string(category)),
		SupplierEmail:     field("SupplierEmail", payload.FromEmail),
	}
}

// pick returns the first candidate that is present, not null and not an
// empty string, rendered as a string.
func pick(extracted models.ExtractedFields, keys ...string) string {
	for _, k := range keys {
		v, ok := extracted[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		return Stringify(v)
	}
	return ""
}

// Stringify renders a decoded JSON value as a cell string. Numbers use the
// shortest decimal form, booleans "true"/"false", nested values compact JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
