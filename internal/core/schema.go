package core

import (
	"fmt"
	"math"
	"strings"
)

// DefaultDateLayout is the single accepted order date layout.
const DefaultDateLayout = "2006-01-02"

// Schema is the field registry for one record shape. It is plain
// configuration data; validation and transformation read it, nothing
// mutates it after registration.
type Schema struct {
	Name       string
	Fields     []FieldSpec
	Roles      FieldRoles
	DateLayout string
}

// Spec returns the field spec with the given name (case-insensitive).
func (s *Schema) Spec(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Columns returns the field names in declaration order.
func (s *Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

// RequiredFields returns the names of fields checked by the schema layer.
func (s *Schema) RequiredFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Regions returns the canonical region spellings.
func (s *Schema) Regions() []string {
	spec, ok := s.Spec(s.Roles.Region)
	if !ok {
		return nil
	}
	return append([]string(nil), spec.EnumValues...)
}

// MaxMoney returns the largest amount the field's column can hold, in cents.
// ok is false when the field has no precision bound.
func (f FieldSpec) MaxMoney() (max Money, ok bool) {
	if f.Type != FieldNumeric || f.Precision <= 0 {
		return 0, false
	}
	digits := f.Precision - f.Scale + 2
	if digits > 18 {
		return math.MaxInt64, true
	}
	m := Money(1)
	for i := 0; i < digits; i++ {
		m *= 10
	}
	return m - 1, true
}

// layout returns the configured date layout or the default.
func (s *Schema) layout() string {
	if s.DateLayout == "" {
		return DefaultDateLayout
	}
	return s.DateLayout
}

// Validate checks that every role points at a field of a compatible type.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}

	var errs []string
	roles := []struct {
		role  string
		field string
		types []FieldType
	}{
		{"order_id", s.Roles.OrderID, []FieldType{FieldText}},
		{"order_date", s.Roles.OrderDate, []FieldType{FieldDate}},
		{"region", s.Roles.Region, []FieldType{FieldEnum}},
		{"product", s.Roles.Product, []FieldType{FieldText, FieldEnum}},
		{"quantity", s.Roles.Quantity, []FieldType{FieldInteger}},
		{"revenue", s.Roles.Revenue, []FieldType{FieldNumeric}},
	}

	for _, r := range roles {
		spec, ok := s.Spec(r.field)
		if !ok {
			errs = append(errs, fmt.Sprintf("role %s references unknown field %q", r.role, r.field))
			continue
		}
		if !containsType(r.types, spec.Type) {
			errs = append(errs, fmt.Sprintf("role %s field %q has type %s", r.role, r.field, spec.Type))
		}
	}

	for _, f := range s.Fields {
		if f.Precision < 0 || f.Scale < 0 || f.Scale > 2 || (f.Precision > 0 && f.Scale > f.Precision) {
			errs = append(errs, fmt.Sprintf("field %q has invalid precision %d scale %d", f.Name, f.Precision, f.Scale))
		}
	}

	if spec, ok := s.Spec(s.Roles.Region); ok && len(spec.EnumValues) == 0 {
		errs = append(errs, fmt.Sprintf("region field %q has no enum values", spec.Name))
	}

	if len(errs) > 0 {
		return fmt.Errorf("schema %s: %s", s.Name, strings.Join(errs, "; "))
	}
	return nil
}

func containsType(types []FieldType, t FieldType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
