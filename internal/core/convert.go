package core

// convert.go turns untyped raw field values into typed values.
//
// Input producers hand over strings (CSV), native Go numbers (JSON
// decoders, generators) or nil. Every conversion here is total: it
// reports failure instead of panicking, so malformed input can only ever
// become a verdict.

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// maxNumericLen bounds a numeric cell after cleanup. Longer cells are
// malformed; rejecting them keeps parsing linear in the row size.
const maxNumericLen = 64

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgDate parses s with exactly one layout.
func ToPgDate(s, layout string) pgtype.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{Valid: false}
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return pgtype.Date{Valid: false}
	}
	return pgtype.Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), Valid: true}
}

// ToPgNumeric converts a string to pgtype.Numeric.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ToPgNumeric(s string) pgtype.Numeric {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Numeric{Valid: false}
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if len(s) > maxNumericLen || !numericRegex.MatchString(s) {
		return pgtype.Numeric{Valid: false}
	}

	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return n
}

// ParseInteger parses an integral count. Values such as "3.0" are accepted,
// "2.5" is not.
func ParseInteger(s string) (int, bool) {
	if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32); err == nil {
		return int(i), true
	}

	n := ToPgNumeric(s)
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return 0, false
	}

	if n.Int.Sign() == 0 {
		return 0, true
	}
	// Ten digits already exceed int32.
	if n.Exp > 10 {
		return 0, false
	}

	v := new(big.Int).Set(n.Int)
	exp := n.Exp
	ten := big.NewInt(10)
	for ; exp > 0; exp-- {
		v.Mul(v, ten)
	}
	for ; exp < 0; exp++ {
		q, r := new(big.Int).QuoRem(v, ten, new(big.Int))
		if r.Sign() != 0 {
			return 0, false
		}
		v = q
	}
	if !v.IsInt64() || v.Int64() > math.MaxInt32 || v.Int64() < math.MinInt32 {
		return 0, false
	}
	return int(v.Int64()), true
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}

// cellText renders a raw value as cleaned text. The boolean is false when
// the value is null: nil, blank, or a NaN float.
func cellText(v any) (string, bool) {
	var s string
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s = x
	case json.Number:
		s = x.String()
	case float64:
		if math.IsNaN(x) {
			return "", false
		}
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		if math.IsNaN(float64(x)) {
			return "", false
		}
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		s = strconv.Itoa(x)
	case int32:
		s = strconv.FormatInt(int64(x), 10)
	case int64:
		s = strconv.FormatInt(x, 10)
	case bool:
		s = strconv.FormatBool(x)
	case time.Time:
		s = x.Format(time.RFC3339)
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}

	s = CleanCell(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// isScalar reports whether v can be read as a single cell.
func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, json.Number, float64, float32, int, int32, int64, bool, time.Time:
		return true
	default:
		return false
	}
}

// dateValue parses an order date. time.Time values are truncated to their
// calendar date, everything else is parsed with layout.
func dateValue(v any, layout string) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	}
	s, ok := cellText(v)
	if !ok {
		return time.Time{}, false
	}
	d := ToPgDate(s, layout)
	return d.Time, d.Valid
}

// moneyValue parses an exact monetary amount.
func moneyValue(v any) (Money, bool) {
	s, ok := cellText(v)
	if !ok {
		return 0, false
	}
	return ParseMoney(s)
}

// integerValue parses an integral count.
func integerValue(v any) (int, bool) {
	s, ok := cellText(v)
	if !ok {
		return 0, false
	}
	return ParseInteger(s)
}
