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

package models

// ExtractedFields is the loosely typed object decoded from an extraction
// response. Keys may be canonical header names or any of their synonyms.
type ExtractedFields map[string]any

// Headers is the fixed column order of the invoice table. The order matters:
// it defines both the stored row layout and the dedup key.
var Headers = []string{
	"InvoiceNb",
	"Date",
	"Supplier",
	"Material",
	"Energykhw",
	"Litres_Fuel",
	"CloudHours",
	"StorageCloud",
	"DataTransferCloud",
	"TransportMode",
	"DistanceTransport",
	"Amount",
	"Price",
	"Unit",
	"Category",
	"SupplierEmail",
}

// Column indexes into Headers.
const (
	ColInvoiceNb = iota
	ColDate
	ColSupplier
	ColMaterial
	ColEnergyKwh
	ColFuelLitres
	ColCloudHours
	ColStorageCloud
	ColDataTransfer
	ColTransportMode
	ColDistance
	ColAmount
	ColPrice
	ColUnit
	ColCategory
	ColSupplierEmail

	NumColumns
)

// CanonicalRecord is one normalized invoice line. Every field is always
// present; unknown values are empty strings. Unit holds a physical unit,
// never a currency; that rule is enforced by the extraction prompt only.
type CanonicalRecord struct {
	InvoiceNb         string `json:"InvoiceNb"`
	Date              string `json:"Date"`
	Supplier          string `json:"Supplier"`
	Material          string `json:"Material"`
	Energykhw         string `json:"Energykhw"`
	LitresFuel        string `json:"Litres_Fuel"`
	CloudHours        string `json:"CloudHours"`
	StorageCloud      string `json:"StorageCloud"`
	DataTransferCloud string `json:"DataTransferCloud"`
	TransportMode     string `json:"TransportMode"`
	DistanceTransport string `json:"DistanceTransport"`
	Amount            string `json:"Amount"`
	Price             string `json:"Price"`
	Unit              string `json:"Unit"`
	Category          string `json:"Category"`
	SupplierEmail     string `json:"SupplierEmail"`
}

// Values returns the record's fields in Headers order.
func (r CanonicalRecord) Values() []string {
	return []string{
		r.InvoiceNb,
		r.Date,
		r.Supplier,
		r.Material,
		r.Energykhw,
		r.LitresFuel,
		r.CloudHours,
		r.StorageCloud,
		r.DataTransferCloud,
		r.TransportMode,
		r.DistanceTransport,
		r.Amount,
		r.Price,
		r.Unit,
		r.Category,
		r.SupplierEmail,
	}
}

// RecordFromValues rebuilds a record from a stored row. Missing trailing
// cells become empty strings and extra cells are ignored.
func RecordFromValues(values []string) CanonicalRecord {
	v := PadRow(values)
	return CanonicalRecord{
		InvoiceNb:         v[ColInvoiceNb],
		Date:              v[ColDate],
		Supplier:          v[ColSupplier],
		Material:          v[ColMaterial],
		Energykhw:         v[ColEnergyKwh],
		LitresFuel:        v[ColFuelLitres],
		CloudHours:        v[ColCloudHours],
		StorageCloud:      v[ColStorageCloud],
		DataTransferCloud: v[ColDataTransfer],
		TransportMode:     v[ColTransportMode],
		DistanceTransport: v[ColDistance],
		Amount:            v[ColAmount],
		Price:             v[ColPrice],
		Unit:              v[ColUnit],
		Category:          v[ColCategory],
		SupplierEmail:     v[ColSupplierEmail],
	}
}

// PadRow returns a copy of values sized to exactly NumColumns.
func PadRow(values []string) []string {
	out := make([]string, NumColumns)
	copy(out, values)
	return out
}
