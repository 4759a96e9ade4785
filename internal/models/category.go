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

import "strings"

// Category is the sustainability class assigned to an email.
type Category string

const (
	CategoryElectricity        Category = "ENERGY_INVOICE_ELECTRICITY"
	CategoryGas                Category = "ENERGY_INVOICE_GAS"
	CategoryWater              Category = "WATER_INVOICE"
	CategoryFuel               Category = "FUEL_INVOICE"
	CategoryWaste              Category = "WASTE_MANAGEMENT"
	CategoryServiceMaintenance Category = "SERVICE_MAINTENANCE"
	CategoryEmissionsReport    Category = "EMISSIONS_REPORT"
	CategoryGeneralConsumption Category = "GENERAL_CONSUMPTION_INFO"

	// CategoryNotRelevant is the fail-closed default. Messages in this class
	// never reach the store or the workflow trigger.
	CategoryNotRelevant Category = "NOT_RELEVANT_FOR_SUSTAINABILITY"
)

// Categories lists every class in prompt order.
var Categories = []Category{
	CategoryElectricity,
	CategoryGas,
	CategoryWater,
	CategoryFuel,
	CategoryWaste,
	CategoryServiceMaintenance,
	CategoryEmissionsReport,
	CategoryGeneralConsumption,
	CategoryNotRelevant,
}

// ParseCategory maps a model-produced label onto the closed set. Unknown or
// empty labels resolve to CategoryNotRelevant.
func ParseCategory(label string) Category {
	c := Category(strings.ToUpper(strings.TrimSpace(label)))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return CategoryNotRelevant
}

// Relevant reports whether the category should flow through extraction.
func (c Category) Relevant() bool {
	return c != "" && c != CategoryNotRelevant
}
