package core

import (
	"sort"
	"time"
)

// Aggregator computes per-run analytics. It performs no I/O and holds no
// state, so summarizing the same records twice yields identical rows.
type Aggregator struct {
	regions []string
}

// NewAggregator creates an aggregator for schema.
func NewAggregator(schema *Schema) *Aggregator {
	return &Aggregator{regions: schema.Regions()}
}

type total struct {
	revenue Money
	orders  int
}

// addMoney adds b to a, reporting false on int64 overflow.
func addMoney(a, b Money) (Money, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// Summarize returns one overall row, one row per configured region (zero
// when unobserved), then one row per observed product and per observed
// day. Products and days are ordered by key. A total that overflows is an
// internal consistency fault: no partial summary is returned.
func (a *Aggregator) Summarize(runID string, records []CleanRecord) ([]AnalyticsSummary, error) {
	var overall total
	regions := make(map[string]total, len(a.regions))
	products := make(map[string]total)
	days := make(map[string]total)

	add := func(t *total, rec CleanRecord) bool {
		sum, ok := addMoney(t.revenue, rec.Revenue)
		if !ok {
			return false
		}
		t.revenue = sum
		t.orders++
		return true
	}
	addTo := func(m map[string]total, key string, rec CleanRecord) bool {
		t := m[key]
		ok := add(&t, rec)
		m[key] = t
		return ok
	}

	for _, rec := range records {
		if !add(&overall, rec) ||
			!addTo(regions, rec.Region, rec) ||
			!addTo(products, rec.Product, rec) ||
			!addTo(days, rec.OrderDate.Format(time.DateOnly), rec) {
			return nil, consistencyf("revenue total overflows at record %s (order %s)", rec.RecordID, rec.OrderID)
		}
	}

	out := make([]AnalyticsSummary, 0, 1+len(a.regions)+len(products)+len(days))
	row := func(dim Dimension, key string, t total) AnalyticsSummary {
		return AnalyticsSummary{RunID: runID, Dimension: dim, Key: key, TotalRevenue: t.revenue, TotalOrders: t.orders}
	}

	out = append(out, row(DimensionOverall, "all", overall))
	for _, r := range a.regions {
		out = append(out, row(DimensionRegion, r, regions[r]))
	}
	for _, k := range sortedKeys(products) {
		out = append(out, row(DimensionProduct, k, products[k]))
	}
	for _, k := range sortedKeys(days) {
		out = append(out, row(DimensionDay, k, days[k]))
	}
	return out, nil
}

func sortedKeys(m map[string]total) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
