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


// Package report aggregates stored invoice rows into the figures shown on
// the dashboard and in the yearly sustainability report.
package report

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ecotrace/ingestion/internal/dedup"
	"github.com/ecotrace/ingestion/internal/models"
	"github.com/ecotrace/ingestion/internal/sheet"
)

// DateLayout is the layout of range bounds and stored dates.
const DateLayout = "2006-01-02"

// rowDateLayouts are tried in order when reading a stored Date cell.
var rowDateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02.01.2006",
}

// Range is an inclusive date filter. Zero bounds are open.
type Range struct {
	Start time.Time
	End   time.Time
}

// ParseRange parses YYYY-MM-DD bounds. Blank bounds stay open.
func ParseRange(start, end string) (Range, error) {
	var r Range
	var err error
	if s := strings.TrimSpace(start); s != "" {
		if r.Start, err = time.Parse(DateLayout, s); err != nil {
			return Range{}, fmt.Errorf("invalid start date %q: %w", start, err)
		}
	}
	if e := strings.TrimSpace(end); e != "" {
		if r.End, err = time.Parse(DateLayout, e); err != nil {
			return Range{}, fmt.Errorf("invalid end date %q: %w", end, err)
		}
	}
	return r, nil
}

// YearRange covers January 1st to December 31st of year.
func YearRange(year int) Range {
	return Range{
		Start: time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func (r Range) bounded() bool {
	return !r.Start.IsZero() || !r.End.IsZero()
}

func (r Range) contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Amounts are the summed KPI columns.
type Amounts struct {
	PriceEUR       float64 `json:"totalPriceEur"`
	EnergyKWh      float64 `json:"totalEnergyKwh"`
	FuelLitres     float64 `json:"totalFuelLitres"`
	CloudHours     float64 `json:"totalCloudHours"`
	StorageGBMonth float64 `json:"totalStorageGbMonth"`
	TransferGB     float64 `json:"totalTransferGb"`
}

func (a *Amounts) add(v []string) {
	a.PriceEUR += ToNumber(v[models.ColPrice])
	a.EnergyKWh += ToNumber(v[models.ColEnergyKwh])
	a.FuelLitres += ToNumber(v[models.ColFuelLitres])
	a.CloudHours += ToNumber(v[models.ColCloudHours])
	a.StorageGBMonth += ToNumber(v[models.ColStorageCloud])
	a.TransferGB += ToNumber(v[models.ColDataTransfer])
}

// Summary holds the invoice count and KPI totals.
type Summary struct {
	Invoices int `json:"totalInvoices"`
	Amounts
}

// MonthPoint holds the KPI totals of one YYYY-MM month.
type MonthPoint struct {
	Month string `json:"month"`
	Amounts
}

// CategorySpend is the price total of one category.
type CategorySpend struct {
	Category string  `json:"category"`
	PriceEUR float64 `json:"totalPriceEur"`
}

// Stats describes a set of invoice amounts.
type Stats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
}

// Bucket is one histogram bar.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// entry is a row that passed the common filters.
type entry struct {
	values []string
	date   time.Time // zero when the row has no parsable date
	dated  bool      // Date cell is non-blank
}

// selectRows applies the date range, drops rows with nothing to report and
// counts identical rows once. strictDates drops rows whose Date cell
// cannot be parsed.
func selectRows(rows []sheet.Row, r Range, strictDates bool) []entry {
	seen := make(map[string]bool)
	var out []entry

	for _, row := range rows {
		v := models.PadRow(row.Values)
		e := entry{values: v, dated: strings.TrimSpace(v[models.ColDate]) != ""}

		if e.dated {
			d, ok := parseRowDate(v[models.ColDate])
			if !ok && strictDates {
				continue
			}
			if ok {
				if !r.contains(d) {
					continue
				}
				e.date = d
			}
		} else if r.bounded() {
			continue
		}

		if allEmpty(v) {
			continue
		}

		key := dedup.Key(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

func allEmpty(v []string) bool {
	for _, col := range []int{
		models.ColDate, models.ColEnergyKwh, models.ColFuelLitres, models.ColCloudHours,
		models.ColStorageCloud, models.ColDataTransfer, models.ColPrice,
	} {
		if strings.TrimSpace(v[col]) != "" {
			return false
		}
	}
	return true
}

func parseRowDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range rowDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Summarize counts invoices and totals the KPI columns.
func Summarize(rows []sheet.Row, r Range) Summary {
	var s Summary
	for _, e := range selectRows(rows, r, false) {
		s.Invoices++
		s.add(e.values)
	}
	return s
}

// MonthlySeries totals the KPI columns per month, sorted by month. Rows
// without a date are grouped under "Unknown" when the range is open.
func MonthlySeries(rows []sheet.Row, r Range) []MonthPoint {
	byMonth := make(map[string]*MonthPoint)
	for _, e := range selectRows(rows, r, true) {
		key := "Unknown"
		if e.dated {
			key = e.date.Format("2006-01")
		}
		p, ok := byMonth[key]
		if !ok {
			p = &MonthPoint{Month: key}
			byMonth[key] = p
		}
		p.add(e.values)
	}

	out := make([]MonthPoint, 0, len(byMonth))
	for _, p := range byMonth {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// SpendByCategory totals the price per category, sorted by name. Rows
// without a category count as "Uncategorized".
func SpendByCategory(rows []sheet.Row, r Range) []CategorySpend {
	byCat := make(map[string]float64)
	for _, e := range selectRows(rows, r, true) {
		cat := strings.TrimSpace(e.values[models.ColCategory])
		if cat == "" {
			cat = "Uncategorized"
		}
		byCat[cat] += ToNumber(e.values[models.ColPrice])
	}

	out := make([]CategorySpend, 0, len(byCat))
	for cat, total := range byCat {
		out = append(out, CategorySpend{Category: cat, PriceEUR: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// InvoiceAmounts lists the positive prices in row order.
func InvoiceAmounts(rows []sheet.Row, r Range) []float64 {
	var out []float64
	for _, e := range selectRows(rows, r, true) {
		if p := ToNumber(e.values[models.ColPrice]); p > 0 {
			out = append(out, p)
		}
	}
	return out
}

// AvailableYears lists the distinct years of parsable row dates.
func AvailableYears(rows []sheet.Row) []int {
	seen := make(map[int]bool)
	var years []int
	for _, row := range rows {
		v := models.PadRow(row.Values)
		d, ok := parseRowDate(v[models.ColDate])
		if !ok || seen[d.Year()] {
			continue
		}
		seen[d.Year()] = true
		years = append(years, d.Year())
	}
	sort.Ints(years)
	return years
}

// ComputeStats returns count, extremes, mean and the nearest-rank median
// and 90th percentile of amounts.
func ComputeStats(amounts []float64) Stats {
	if len(amounts) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), amounts...)
	sort.Float64s(sorted)

	n := len(sorted)
	var sum float64
	for _, a := range sorted {
		sum += a
	}
	return Stats{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   sum / float64(n),
		Median: sorted[int(math.Floor(0.5*float64(n-1)))],
		P90:    sorted[int(math.Floor(0.9*float64(n-1)))],
	}
}

// Histogram spreads amounts over equal-width buckets. Ten buckets are used
// unless the value range is narrower than ten, then one per unit of range
// with a minimum of three. Identical values give a single bucket.
func Histogram(amounts []float64) []Bucket {
	if len(amounts) == 0 {
		return nil
	}
	sorted := append([]float64(nil), amounts...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]

	if lo == hi {
		return []Bucket{{Label: strconv.FormatFloat(round(lo), 'f', 0, 64), Count: len(sorted)}}
	}

	count := 10
	span := hi - lo
	if span < float64(count) {
		count = int(math.Floor(span))
		if count < 3 {
			count = 3
		}
	}
	size := span / float64(count)

	buckets := make([]Bucket, count)
	for i := range buckets {
		start := lo + float64(i)*size
		buckets[i].Label = fmt.Sprintf("%.0f - %.0f", round(start), round(start+size))
	}
	for _, v := range sorted {
		i := int(math.Floor((v - lo) / size))
		if i >= count {
			i = count - 1
		}
		if i < 0 {
			i = 0
		}
		buckets[i].Count++
	}
	return buckets
}

// round rounds half up.
func round(x float64) float64 {
	return math.Floor(x + 0.5)
}

var numericPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ToNumber reads a lenient decimal: the first comma is taken as the
// decimal point and the longest numeric prefix is used. Anything else is 0.
func ToNumber(s string) float64 {
	s = strings.Replace(strings.TrimSpace(s), ",", ".", 1)
	m := numericPrefix.FindString(s)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return f
}
