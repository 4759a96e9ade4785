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


package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ecotrace/ingestion/internal/llm"
	"github.com/ecotrace/ingestion/internal/runlog"
)

// Narrator writes report paragraphs with the language model. Every method
// returns a fixed paragraph when the model gives nothing usable.
type Narrator struct {
	completer llm.Completer
}

// NewNarrator creates a narrator. A nil completer always yields the
// fallback text.
func NewNarrator(completer llm.Completer) *Narrator {
	return &Narrator{completer: completer}
}

func (n *Narrator) ask(ctx context.Context, kind, prompt string) string {
	if n.completer == nil {
		return ""
	}
	raw, err := n.completer.Complete(ctx, prompt)
	if err != nil {
		runlog.Logger(ctx).Warn("narrative request failed", "kind", kind, "error", err)
		return ""
	}
	return llm.ContentText(raw)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// Executive writes the executive summary.
func (n *Narrator) Executive(ctx context.Context, year int, s Summary, monthly []MonthPoint, categories []CategorySpend) string {
	type catSpend struct {
		Category string  `json:"category"`
		SpendEUR float64 `json:"spendEur"`
	}
	cats := make([]catSpend, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, catSpend{Category: c.Category, SpendEUR: c.PriceEUR})
	}
	input := map[string]any{
		"year":          year,
		"totals":        s,
		"monthlyPoints": len(monthly),
		"categories":    cats,
	}

	prompt := fmt.Sprintf("You are helping to write a professional ESG sustainability report for the company EcoTrace for the year %d. "+
		"Use the following JSON with aggregated KPIs and category spend to write a compact executive summary (4 to 6 paragraphs):\n\n%s\n\n"+
		"Focus on energy and fuel consumption, cloud and digital infrastructure, spend structure by sustainability category, and risks or opportunities. "+
		"Write in a neutral, business style that could be used directly in a board level ESG report. "+
		"Do not include any markdown, bullet points, titles or code fences, only plain text paragraphs.", year, mustJSON(input))

	if text := n.ask(ctx, "executive", prompt); text != "" {
		return text
	}
	return fmt.Sprintf("In the reporting year %d the company processed %d sustainability relevant invoices. "+
		"Total spend covered by the system amounted to approximately %.2f EUR. "+
		"The main cost drivers were energy, fuel and cloud infrastructure. "+
		"The data set provides a robust foundation for tracking environmental performance and preparing the ESG disclosures.",
		year, s.Invoices, s.PriceEUR)
}

// Monthly describes the monthly energy and spend series.
func (n *Narrator) Monthly(ctx context.Context, year int, monthly []MonthPoint) string {
	if len(monthly) == 0 {
		return "No monthly data was available for the selected period."
	}

	type point struct {
		Month     string  `json:"month"`
		EnergyKWh float64 `json:"energyKwh"`
		SpendEUR  float64 `json:"spendEur"`
	}
	points := make([]point, 0, len(monthly))
	for _, m := range monthly {
		points = append(points, point{Month: m.Month, EnergyKWh: m.EnergyKWh, SpendEUR: m.PriceEUR})
	}

	prompt := fmt.Sprintf("You are an ESG analyst. You receive monthly data for one year in JSON with the fields \"month\", \"energyKwh\" and \"spendEur\". "+
		"Explain in 2 to 3 short paragraphs how energy consumption and related spend evolved during the year %d. "+
		"Comment on peaks, troughs and any noticeable correlation between kWh and spend. "+
		"Answer with plain text, no bullets or markdown.\n\n%s", year, mustJSON(points))

	if text := n.ask(ctx, "monthly", prompt); text != "" {
		return text
	}
	return "The monthly time series shows how electricity consumption and related spend developed throughout the year, " +
		"with clear seasonal fluctuations and a visible link between kWh and cost."
}

// Categories describes the spend per category.
func (n *Narrator) Categories(ctx context.Context, year int, categories []CategorySpend) string {
	if len(categories) == 0 {
		return "There was no classified spend by sustainability category in this period."
	}

	prompt := fmt.Sprintf("You are an ESG analyst. You receive a JSON array with objects { \"category\": \"...\", \"totalPriceEur\": number } "+
		"representing the annual spend by sustainability category for the year %d. "+
		"Summarize in 2 short paragraphs which categories dominate the spend and what that implies for the environmental footprint. "+
		"Answer with plain text, no bullets or markdown.\n\n%s", year, mustJSON(categories))

	if text := n.ask(ctx, "categories", prompt); text != "" {
		return text
	}
	return "The spend by category chart highlights which sustainability related cost centers dominate the year, " +
		"such as energy, fuel, water, waste and emissions reporting."
}

// Distribution describes the spread of invoice amounts.
func (n *Narrator) Distribution(ctx context.Context, year int, amounts []float64) string {
	if len(amounts) == 0 {
		return "No invoice amounts were available for this period."
	}

	prompt := fmt.Sprintf("You are an ESG reporting assistant. You receive summary statistics of invoice amounts for the year %d in this JSON: %s. "+
		"Write 1 to 2 short paragraphs that describe the distribution of invoice sizes, "+
		"highlighting whether the cost structure is dominated by many small invoices or a few large ones. "+
		"Use plain text only, no markdown or code.", year, mustJSON(ComputeStats(amounts)))

	if text := n.ask(ctx, "distribution", prompt); text != "" {
		return text
	}
	return "The distribution of invoice amounts indicates that most invoices fall in the lower value range, " +
		"with a few large documents driving a significant share of the annual spend. " +
		"This pattern is typical for utilities, services and cloud charges consolidated into periodic statements."
}
