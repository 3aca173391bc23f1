package core

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ----------------------------------------------------------------------------
// ToPgNumeric Tests
// ----------------------------------------------------------------------------

func TestToPgNumeric(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantCents Money
	}{
		// Valid
		{"positive integer", "123", true, 12300},
		{"zero", "0", true, 0},
		{"negative integer", "-456", true, -45600},
		{"decimal number", "123.45", true, 12345},
		{"leading decimal point", ".99", true, 99},
		{"trailing decimal point", "99.", true, 9900},
		{"dollar sign", "$1,234.56", true, 123456},
		{"euro sign", "€1234.56", true, 123456},
		{"pound sign", "£1234.56", true, 123456},
		{"thousands separator", "1,234,567.89", true, 123456789},
		{"accounting negative", "(123.45)", true, -12345},
		{"accounting negative with currency", "($1,234.56)", true, -123456},
		{"accounting negative with spaces", "( 999.99 )", true, -99999},
		{"surrounded by whitespace", "  123.45  ", true, 12345},
		{"explicit positive sign", "+123", true, 12300},

		// pgtype.Numeric.Scan does not take exponents.
		{"scientific notation", "1.5e10", false, 0},

		// Invalid
		{"empty string", "", false, 0},
		{"only whitespace", "   ", false, 0},
		{"alphabetic string", "abc", false, 0},
		{"mixed alphanumeric", "12abc34", false, 0},
		{"only currency symbol", "$", false, 0},
		{"multiple decimal points", "12.34.56", false, 0},
		{"double negative", "--123", false, 0},
		{"negative after number", "123-", false, 0},
		{"NaN", "NaN", false, 0},
		{"Infinity", "Infinity", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ToPgNumeric(tt.input)
			if result.Valid != tt.wantValid {
				t.Fatalf("ToPgNumeric(%q).Valid = %v, want %v", tt.input, result.Valid, tt.wantValid)
			}
			if !tt.wantValid {
				return
			}
			got, ok := MoneyFromNumeric(result)
			if !ok {
				t.Fatalf("MoneyFromNumeric(ToPgNumeric(%q)) not representable", tt.input)
			}
			if got != tt.wantCents {
				t.Errorf("ToPgNumeric(%q) = %d cents, want %d", tt.input, got, tt.wantCents)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Money Tests
// ----------------------------------------------------------------------------

func TestParseMoney_RoundsHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		input string
		want  Money
	}{
		{"10.005", 1001},
		{"10.004", 1000},
		{"-10.005", -1001},
		{"0.0049", 0},
		{"12.5", 1250},
		{"(0.015)", -2},
	}
	for _, tt := range tests {
		got, ok := ParseMoney(tt.input)
		assert.True(t, ok, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}

	_, ok := ParseMoney("ten")
	assert.False(t, ok)
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "0.00", Money(0).String())
	assert.Equal(t, "0.07", Money(7).String())
	assert.Equal(t, "12.05", Money(1205).String())
	assert.Equal(t, "-12.05", Money(-1205).String())
	assert.Equal(t, "-0.50", Money(-50).String())
	assert.Equal(t, "50500.00", Money(5050000).String())
}

func TestMoney_DivRound(t *testing.T) {
	assert.Equal(t, Money(333), Money(1000).DivRound(3))
	assert.Equal(t, Money(667), Money(2000).DivRound(3))
	assert.Equal(t, Money(3), Money(5).DivRound(2))
	assert.Equal(t, Money(-3), Money(-5).DivRound(2))
}

func TestMoney_Numeric(t *testing.T) {
	n := Money(-1205).Numeric()
	back, ok := MoneyFromNumeric(n)
	assert.True(t, ok)
	assert.Equal(t, Money(-1205), back)
	assert.Equal(t, int32(-2), n.Exp)
}

// ----------------------------------------------------------------------------
// ParseInteger Tests
// ----------------------------------------------------------------------------

func TestParseInteger(t *testing.T) {
	tests := []struct {
		input  string
		want   int
		wantOK bool
	}{
		{"3", 3, true},
		{" 42 ", 42, true},
		{"-1", -1, true},
		{"3.0", 3, true},
		{"1,000", 1000, true},
		{"2.5", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{"99999999999", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseInteger(tt.input)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseInteger(%q) = (%d, %v), want (%d, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseInteger_Scaled(t *testing.T) {
	tests := []struct {
		input  string
		want   int
		wantOK bool
	}{
		{"1000000000", 1000000000, true},
		{"1" + strings.Repeat("0", 10), 0, false},
		{"0.000", 0, true},
		{"3" + strings.Repeat("0", 40), 0, false},
		{"3." + strings.Repeat("0", 40), 3, true},
	}
	for _, tt := range tests {
		got, ok := ParseInteger(tt.input)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseInteger(%q) = (%d, %v), want (%d, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNumericCellsHaveBoundedCost(t *testing.T) {
	for _, n := range []int{20_000, 80_000, 1 << 20} {
		cell := "1" + strings.Repeat("0", n)

		start := time.Now()
		_, intOK := ParseInteger(cell)
		_, moneyOK := ParseMoney(cell)
		elapsed := time.Since(start)

		assert.False(t, intOK, "%d zeros", n)
		assert.False(t, moneyOK, "%d zeros", n)
		assert.Less(t, elapsed, time.Second, "%d zeros", n)
	}
}

func TestParseMoney_OutOfRange(t *testing.T) {
	_, ok := ParseMoney("1" + strings.Repeat("0", 18))
	assert.False(t, ok)

	_, ok = ParseMoney("92233720368547758.08")
	assert.False(t, ok)

	m, ok := ParseMoney("92233720368547758.07")
	assert.True(t, ok)
	assert.Equal(t, Money(math.MaxInt64), m)

	m, ok = ParseMoney("0.000")
	assert.True(t, ok)
	assert.Zero(t, m)
}

// ----------------------------------------------------------------------------
// ToPgDate Tests
// ----------------------------------------------------------------------------

func TestToPgDate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		layout    string
		wantValid bool
		want      time.Time
	}{
		{"iso date", "2024-03-01", DefaultDateLayout, true, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"leap day", "2024-02-29", DefaultDateLayout, true, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"whitespace trimmed", "  2024-03-01 ", DefaultDateLayout, true, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"custom layout", "03/01/2024", "01/02/2006", true, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"other layout rejected", "03/01/2024", DefaultDateLayout, false, time.Time{}},
		{"not a leap year", "2023-02-29", DefaultDateLayout, false, time.Time{}},
		{"timestamp rejected", "2024-03-01T10:00:00Z", DefaultDateLayout, false, time.Time{}},
		{"empty", "", DefaultDateLayout, false, time.Time{}},
		{"garbage", "invalid_date", DefaultDateLayout, false, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToPgDate(tt.input, tt.layout)
			if got.Valid != tt.wantValid {
				t.Fatalf("ToPgDate(%q, %q).Valid = %v, want %v", tt.input, tt.layout, got.Valid, tt.wantValid)
			}
			if tt.wantValid && !got.Time.Equal(tt.want) {
				t.Errorf("ToPgDate(%q) = %v, want %v", tt.input, got.Time, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ToPgText Tests
// ----------------------------------------------------------------------------

func TestToPgText(t *testing.T) {
	assert.False(t, ToPgText("").Valid)
	assert.False(t, ToPgText(" \t ").Valid)

	got := ToPgText("  North ")
	assert.True(t, got.Valid)
	assert.Equal(t, "North", got.String)
}

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple string unchanged", "hello", "hello"},
		{"empty string", "", ""},
		{"surrounded by whitespace", "  hello  ", "hello"},
		{"Excel formula with quotes", `="hello"`, "hello"},
		{"Excel formula number as text", `="12345"`, "12345"},
		{"bare equals sign", "=SUM(A1)", "SUM(A1)"},
		{"double quotes removed", `"hello"`, "hello"},
		{"single quotes removed", "'hello'", "hello"},
		{"leading single quote", "'12345", "12345"},
		{"excel formula with whitespace", `  ="test"  `, "test"},
		{"only quotes", `""`, ""},
		{"equals with quoted number", `="0"`, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanCell(tt.input)
			if got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// cellText Tests
// ----------------------------------------------------------------------------

func TestCellText(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   string
		wantOK bool
	}{
		{"nil", nil, "", false},
		{"blank", "   ", "", false},
		{"NaN", math.NaN(), "", false},
		{"string", " ORD1 ", "ORD1", true},
		{"float", 12.5, "12.5", true},
		{"whole float", float64(3), "3", true},
		{"int", 7, "7", true},
		{"json number", json.Number("10.25"), "10.25", true},
		{"bool", true, "true", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cellText(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateValue_TruncatesTimes(t *testing.T) {
	in := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	got, ok := dateValue(in, DefaultDateLayout)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)
}
