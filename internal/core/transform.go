package core

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Transformer turns a validated raw record into a clean record. It is pure
// apart from the processed-at clock.
type Transformer struct {
	schema *Schema
	now    func() time.Time
}

// NewTransformer creates a transformer for schema.
func NewTransformer(schema *Schema) *Transformer {
	return &Transformer{schema: schema, now: time.Now}
}

// Transform converts rec. A violated precondition means the validator let
// through a record it should have rejected; the returned error matches
// ErrInternalConsistency and carries the record id and position.
func (t *Transformer) Transform(rec RawRecord) (CleanRecord, error) {
	roles := t.schema.Roles
	fault := func(format string, args ...any) (CleanRecord, error) {
		err := consistencyf(format, args...)
		err = errors.WithDetailf(err, "record_id=%s position=%d source=%s", rec.ID(), rec.Position(), rec.Source())
		return CleanRecord{}, err
	}

	orderID, ok := businessKey(t.schema, rec)
	if !ok {
		return fault("record %d: %s is missing", rec.Position(), roles.OrderID)
	}

	rawQty, _ := rec.Value(roles.Quantity)
	qty, ok := integerValue(rawQty)
	if !ok || qty <= 0 {
		return fault("record %d: %s %v does not satisfy > 0", rec.Position(), roles.Quantity, rawQty)
	}

	rawRev, _ := rec.Value(roles.Revenue)
	revenue, ok := moneyValue(rawRev)
	if !ok || revenue < 0 {
		return fault("record %d: %s %v does not satisfy >= 0", rec.Position(), roles.Revenue, rawRev)
	}

	rawDate, _ := rec.Value(roles.OrderDate)
	date, ok := dateValue(rawDate, t.schema.layout())
	if !ok {
		return fault("record %d: %s %v does not parse with %s", rec.Position(), roles.OrderDate, rawDate, t.schema.layout())
	}

	rawRegion, _ := rec.Value(roles.Region)
	regionText, _ := cellText(rawRegion)
	region, ok := canonicalRegion(t.schema, regionText)
	if !ok {
		return fault("record %d: %s %q is not a known region", rec.Position(), roles.Region, regionText)
	}

	rawProduct, _ := rec.Value(roles.Product)
	product, ok := cellText(rawProduct)
	if !ok {
		return fault("record %d: %s is missing", rec.Position(), roles.Product)
	}

	return CleanRecord{
		RunID:          rec.RunID(),
		RecordID:       rec.ID(),
		OrderID:        orderID,
		OrderDate:      date,
		Region:         region,
		Product:        strings.TrimSpace(product),
		Quantity:       qty,
		Revenue:        revenue,
		RevenuePerUnit: revenue.DivRound(qty),
		ProcessedAt:    t.now(),
	}, nil
}
