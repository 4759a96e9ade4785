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

package ai

import (
	"encoding/json"
	"strings"

	"github.com/ecotrace/ingestion/internal/models"
)

const classifyInstructions = `You are a sustainability email classifier. Your ONLY task is to classify the email into one sustainability class.

You MUST assign one of these classes based on KEYWORDS, EVEN IF THERE IS NO ATTACHMENT:
- ENERGY_INVOICE_ELECTRICITY: electricity, kwh, power, energy consumed, meter id, strom, eon, utility bill
- ENERGY_INVOICE_GAS: gas, m³, gasverbrauch, gas supply, heating gas
- WATER_INVOICE: water, wasser, liters, cubic meters, wasserverbrauch, wasserrechnung
- FUEL_INVOICE: diesel, petrol, fuel, liters, fleet, transport fuel, tanken
- WASTE_MANAGEMENT: waste, recycling, disposal, entsorgung
- SERVICE_MAINTENANCE: maintenance, repair, service visit, inspection
- EMISSIONS_REPORT: emissions, co2, greenhouse gas, footprint
- GENERAL_CONSUMPTION_INFO: any utility consumption info that is not a bill
- NOT_RELEVANT_FOR_SUSTAINABILITY: only choose this if ABSOLUTELY nothing relates to consumption, utilities, energy, water, fuel, emissions, waste, or sustainability.`

const extractDefinitions = `Use the following precise definitions:
- InvoiceNb: invoice number or reference id as string.
- Date: invoice date in ISO format YYYY-MM-DD.
- Supplier: name of the supplier or issuer.
- Material: short description of the billed material or service.
- Energykhw: total electricity consumption in kWh, numeric.
- Litres_Fuel: total fuel quantity in litres, numeric.
- CloudHours: hours of cloud compute, numeric.
- StorageCloud: amount of cloud storage, numeric.
- DataTransferCloud: data transferred in GB, numeric.
- TransportMode: type of transport (for example Truck, Ship, Train, Plane).
- DistanceTransport: distance covered in km, numeric.
- Amount: quantity of the main material or service (for example 7000 for 7000 L of water, or 1842 for 1842 kWh), numeric.
- Price: total monetary cost in EUR for this invoice line. Only a number, no currency symbol, always in EUR.
- Unit: PHYSICAL unit of the Amount, for example L, kWh, m3, kg, t, h, pcs.
IMPORTANT: Unit must NEVER be a currency. Never set Unit to "EUR", "Euro", "USD", "$", "€" or any money symbol.
If the invoice is in another currency (for example USD or GBP), convert to EUR using a reasonable approximate rate and write the converted value in Price.
If a field is unknown, set it to null.`

// ClassifyPrompt builds the classification prompt for payload.
func ClassifyPrompt(payload models.EmailPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(classifyInstructions)
	b.WriteString("\n\nEmail JSON:\n")
	b.Write(data)
	b.WriteString("\n\nReturn ONLY a JSON object like: {\"class\":\"WATER_INVOICE\"} with no explanation.")
	return b.String(), nil
}

// ExtractPrompt builds the field extraction prompt for a classified payload.
func ExtractPrompt(category models.Category, payload models.EmailPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("You are an information extraction assistant for sustainability reporting.\n")
	b.WriteString("The email is already classified as: " + string(category) + ".\n\n")
	b.WriteString("You must fill exactly these fields for ONE invoice line:\n")
	b.WriteString(strings.Join(models.Headers, ", "))
	b.WriteString("\n\n")
	b.WriteString(extractDefinitions)
	b.WriteString("\n\nReturn ONLY a JSON object with exactly these keys and no explanation.\n\n")
	b.WriteString("Email JSON:\n")
	b.Write(data)
	return b.String(), nil
}
