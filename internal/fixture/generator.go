// Package fixture generates synthetic sales batches with a controlled
// share of defective rows. It feeds the generate command, demos and
// property tests; the pipeline never depends on it.
package fixture

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/JonMunkholm/salesqc/internal/core"
)

// Products is the catalogue sampled by the generator.
var Products = []string{
	"Tomato Ketchup 500g", "Chili Sauce 250g", "Soy Sauce 200ml",
	"Chicken Biryani Ready Meal", "Paneer Curry Ready Meal", "Dal Tadka Ready Meal",
	"Paneer 200g", "Milk 1L", "Yogurt 500g", "Cheese Spread 100g",
	"Potato Chips 50g", "Namkeen Mix 100g", "Biscuits 200g",
	"Mango Juice 1L", "Cola 500ml", "Water Bottle 1L",
}

// Rates are per-row defect probabilities.
type Rates struct {
	MissingDate      float64
	BadDate          float64
	DuplicateID      float64
	NegativeQuantity float64
	NegativeRevenue  float64
	MissingRegion    float64
}

// DefaultRates mirror a realistic messy export.
var DefaultRates = Rates{
	MissingDate:      0.05,
	BadDate:          0.03,
	DuplicateID:      0.02,
	NegativeQuantity: 0.01,
	NegativeRevenue:  0.015,
	MissingRegion:    0.02,
}

// Config controls a generated batch.
type Config struct {
	Rows   int
	Seed   int64 // 0 picks a random seed
	Source string
	End    time.Time // last possible order date; zero means today
	Days   int       // order dates span [End-Days, End]
	Rates  Rates
}

// Generate builds a batch of sales rows using the sales field names.
// The same non-zero seed always yields the same batch.
func Generate(cfg Config) core.Batch {
	f := gofakeit.New(cfg.Seed)

	end := cfg.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	days := cfg.Days
	if days <= 0 {
		days = 365
	}
	start := end.AddDate(0, 0, -days)
	source := cfg.Source
	if source == "" {
		source = "generated"
	}

	hit := func(p float64) bool { return p > 0 && f.Float64Range(0, 1) < p }

	batch := core.Batch{Source: source, Rows: make([]core.RawRow, 0, cfg.Rows)}
	for i := 1; i <= cfg.Rows; i++ {
		var orderDate any = f.DateRange(start, end).Format(core.DefaultDateLayout)
		if hit(cfg.Rates.MissingDate) {
			orderDate = nil
		} else if hit(cfg.Rates.BadDate) {
			orderDate = "invalid_date"
		}

		orderID := fmt.Sprintf("ORD%06d", i)
		if i > 1 && hit(cfg.Rates.DuplicateID) {
			orderID = fmt.Sprintf("ORD%06d", f.Number(1, i-1))
		}

		quantity := f.Number(1, 50)
		if hit(cfg.Rates.NegativeQuantity) {
			quantity = -f.Number(1, 10)
		}

		revenue := core.Money(int64(quantity) * int64(f.Number(1000, 50000)))
		if hit(cfg.Rates.NegativeRevenue) && revenue > 0 {
			revenue = -revenue
		}

		var region any = f.RandomString([]string{"North", "South", "East", "West", "Central"})
		if hit(cfg.Rates.MissingRegion) {
			region = nil
		}

		batch.Rows = append(batch.Rows, core.RawRow{
			{Name: "order_id", Value: orderID},
			{Name: "order_date", Value: orderDate},
			{Name: "region", Value: region},
			{Name: "product", Value: f.RandomString(Products)},
			{Name: "quantity", Value: fmt.Sprint(quantity)},
			{Name: "revenue", Value: revenue.String()},
		})
	}
	return batch
}

// WriteCSV writes batch as CSV with a header of the schema's columns.
// Null values are written as empty cells.
func WriteCSV(w io.Writer, schema *core.Schema, batch core.Batch) error {
	cw := csv.NewWriter(w)
	cols := schema.Columns()
	if err := cw.Write(cols); err != nil {
		return err
	}

	record := make([]string, len(cols))
	for _, row := range batch.Rows {
		for i := range record {
			record[i] = ""
		}
		for _, field := range row {
			for i, c := range cols {
				if c == field.Name && field.Value != nil {
					record[i] = fmt.Sprint(field.Value)
				}
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
