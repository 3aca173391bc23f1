package core

import (
	"fmt"
	"strings"
)

// Control names.
const (
	ControlRequiredFields     = "REQUIRED_FIELDS"
	ControlFieldTypes         = "FIELD_TYPES"
	ControlNonNegativeRevenue = "NON_NEGATIVE_REVENUE"
	ControlRevenueLimit       = "REVENUE_WITHIN_LIMIT"
	ControlPositiveQuantity   = "POSITIVE_QUANTITY"
	ControlValidRegion        = "VALID_REGION"
	ControlExpectedFields     = "EXPECTED_FIELDS"
	ControlDateFormat         = "DATE_FORMAT"
	ControlUniqueBusinessKey  = "UNIQUE_BUSINESS_KEY"
	ControlValidatorFault     = "VALIDATOR_FAULT"
)

// control is one named check. check returns a non-empty reason on failure.
type control struct {
	name     string
	category Category
	check    func(rec RawRecord, dups *DuplicateIndex) string
}

type layer struct {
	name     Layer
	controls []control
}

// Validator applies the layered controls to raw records. It holds no
// mutable state and is safe for concurrent use.
type Validator struct {
	schema *Schema
	layers []layer
}

// NewValidator builds the validation layers for schema.
func NewValidator(schema *Schema) *Validator {
	v := &Validator{schema: schema}
	v.layers = []layer{
		{LayerSchema, []control{
			{ControlRequiredFields, CategoryMissingRequiredField, v.checkRequired},
			{ControlFieldTypes, CategoryDataFormatError, v.checkTypes},
		}},
		{LayerBusinessRule, []control{
			{ControlNonNegativeRevenue, CategoryBusinessRule, v.checkRevenue},
			{ControlRevenueLimit, CategoryBusinessRule, v.checkRevenueLimit},
			{ControlPositiveQuantity, CategoryBusinessRule, v.checkQuantity},
			{ControlValidRegion, CategoryBusinessRule, v.checkRegion},
		}},
		{LayerDataQuality, []control{
			{ControlExpectedFields, CategoryDataQuality, v.checkExpected},
			{ControlDateFormat, CategoryDataQuality, v.checkDate},
		}},
		{LayerDuplicate, []control{
			{ControlUniqueBusinessKey, CategoryBusinessRule, v.checkDuplicate},
		}},
	}
	return v
}

// Evaluate runs the layers in order and stops after the first layer with a
// failing control. Every control of an evaluated layer yields a verdict.
// dups may be nil, in which case the duplicate layer always passes.
func (v *Validator) Evaluate(rec RawRecord, dups *DuplicateIndex) []Verdict {
	var out []Verdict
	for _, l := range v.layers {
		failed := false
		for _, c := range l.controls {
			verdict := Verdict{
				RunID:    rec.RunID(),
				RecordID: rec.ID(),
				Layer:    l.name,
				Control:  c.name,
				Outcome:  OutcomePass,
			}
			if reason := c.check(rec, dups); reason != "" {
				verdict.Outcome = OutcomeFail
				verdict.Reason = reason
				verdict.Category = c.category
				failed = true
			}
			out = append(out, verdict)
		}
		if failed {
			break
		}
	}
	return out
}

// Disposition is the overall validation result for one record.
type Disposition struct {
	Passed  bool
	Failure Verdict // first failing verdict; zero when Passed
	Detail  string  // all failing reasons joined
}

// Dispose folds a record's verdicts into a single disposition.
func Dispose(verdicts []Verdict) Disposition {
	var d Disposition
	var reasons []string
	for _, vd := range verdicts {
		if !vd.Failed() {
			continue
		}
		if len(reasons) == 0 {
			d.Failure = vd
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", vd.Control, vd.Reason))
	}
	d.Passed = len(reasons) == 0
	d.Detail = strings.Join(reasons, "; ")
	return d
}

// ----------------------------------------------------------------------------
// Schema layer
// ----------------------------------------------------------------------------

func (v *Validator) checkRequired(rec RawRecord, _ *DuplicateIndex) string {
	var missing []string
	for _, spec := range v.schema.Fields {
		if !spec.Required {
			continue
		}
		if _, ok := present(rec, spec.Name); !ok {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) == 0 {
		return ""
	}
	return "missing required field(s): " + strings.Join(missing, ", ")
}

func (v *Validator) checkTypes(rec RawRecord, _ *DuplicateIndex) string {
	var bad []string
	for _, spec := range v.schema.Fields {
		val, ok := present(rec, spec.Name)
		if !ok {
			continue
		}
		if !typeable(spec, val) {
			bad = append(bad, fmt.Sprintf("%s %q is not a valid %s", spec.Name, fmt.Sprint(val), spec.Type))
		}
	}
	return strings.Join(bad, ", ")
}

// typeable reports whether a non-null value can be read as spec.Type.
// Dates are checked by the data quality layer.
func typeable(spec FieldSpec, val any) bool {
	if !isScalar(val) {
		return false
	}
	switch spec.Type {
	case FieldNumeric:
		_, ok := moneyValue(val)
		return ok
	case FieldInteger:
		_, ok := integerValue(val)
		return ok
	default:
		return true
	}
}

// ----------------------------------------------------------------------------
// Business rule layer
// ----------------------------------------------------------------------------

func (v *Validator) checkRevenue(rec RawRecord, _ *DuplicateIndex) string {
	val, _ := rec.Value(v.schema.Roles.Revenue)
	m, ok := moneyValue(val)
	if ok && m < 0 {
		return fmt.Sprintf("Revenue is negative: %s", m)
	}
	return ""
}

// checkRevenueLimit rejects amounts the revenue column cannot store.
func (v *Validator) checkRevenueLimit(rec RawRecord, _ *DuplicateIndex) string {
	spec, _ := v.schema.Spec(v.schema.Roles.Revenue)
	limit, bounded := spec.MaxMoney()
	if !bounded {
		return ""
	}
	val, _ := rec.Value(v.schema.Roles.Revenue)
	m, ok := moneyValue(val)
	if ok && m > limit {
		return fmt.Sprintf("Revenue exceeds the maximum of %s: %s", limit, m)
	}
	return ""
}

func (v *Validator) checkQuantity(rec RawRecord, _ *DuplicateIndex) string {
	val, _ := rec.Value(v.schema.Roles.Quantity)
	q, ok := integerValue(val)
	if ok && q <= 0 {
		return fmt.Sprintf("Quantity is zero or negative: %d", q)
	}
	return ""
}

func (v *Validator) checkRegion(rec RawRecord, _ *DuplicateIndex) string {
	val, _ := rec.Value(v.schema.Roles.Region)
	s, _ := cellText(val)
	if _, ok := canonicalRegion(v.schema, s); !ok {
		return fmt.Sprintf("Invalid region: %s", s)
	}
	return ""
}

// canonicalRegion matches s case-insensitively against the region enum.
func canonicalRegion(schema *Schema, s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, r := range schema.Regions() {
		if strings.EqualFold(r, s) {
			return r, true
		}
	}
	return "", false
}

// ----------------------------------------------------------------------------
// Data quality layer
// ----------------------------------------------------------------------------

func (v *Validator) checkExpected(rec RawRecord, _ *DuplicateIndex) string {
	var missing []string
	for _, spec := range v.schema.Fields {
		if !spec.Expected {
			continue
		}
		if _, ok := present(rec, spec.Name); !ok {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) == 0 {
		return ""
	}
	return "missing expected field(s): " + strings.Join(missing, ", ")
}

func (v *Validator) checkDate(rec RawRecord, _ *DuplicateIndex) string {
	val, ok := present(rec, v.schema.Roles.OrderDate)
	if !ok {
		return ""
	}
	if _, ok := dateValue(val, v.schema.layout()); !ok {
		return fmt.Sprintf("Invalid date format: %q does not match %s", fmt.Sprint(val), v.schema.layout())
	}
	return ""
}

// ----------------------------------------------------------------------------
// Duplicate layer
// ----------------------------------------------------------------------------

func (v *Validator) checkDuplicate(rec RawRecord, dups *DuplicateIndex) string {
	key, ok := businessKey(v.schema, rec)
	if !ok {
		return ""
	}
	firstID, pos, found := dups.FirstOccurrence(key)
	if !found || firstID == rec.ID() {
		return ""
	}
	return fmt.Sprintf("duplicate %s %q (first seen at record %d)", v.schema.Roles.OrderID, key, pos)
}

// present returns a field's value when it exists and is non-null.
func present(rec RawRecord, name string) (any, bool) {
	val, ok := rec.Value(name)
	if !ok || val == nil {
		return nil, false
	}
	if !isScalar(val) {
		return val, true
	}
	if _, ok := cellText(val); !ok {
		return nil, false
	}
	return val, true
}
