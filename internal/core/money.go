package core

import (
	"math/big"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
)

// Money is an exact amount in cents.
type Money int64

var bigTen = big.NewInt(10)

// ParseMoney parses a decimal amount, rounding half away from zero to cents.
func ParseMoney(s string) (Money, bool) {
	return MoneyFromNumeric(ToPgNumeric(s))
}

// MoneyFromNumeric converts a numeric to cents, rounding half away from zero.
// Returns false for null, NaN, infinite or out-of-range values.
func MoneyFromNumeric(n pgtype.Numeric) (Money, bool) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return 0, false
	}

	if n.Int.Sign() == 0 {
		return 0, true
	}
	// 10^19 cents is past int64.
	if n.Exp > 17 {
		return 0, false
	}

	v := new(big.Int).Set(n.Int)
	shift := int(n.Exp) + 2
	if shift >= 0 {
		v.Mul(v, new(big.Int).Exp(bigTen, big.NewInt(int64(shift)), nil))
	} else {
		v = roundQuo(v, new(big.Int).Exp(bigTen, big.NewInt(int64(-shift)), nil))
	}

	if !v.IsInt64() {
		return 0, false
	}
	return Money(v.Int64()), true
}

// roundQuo divides n by d (d > 0), rounding half away from zero.
func roundQuo(n, d *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	r.Abs(r).Lsh(r, 1)
	if r.Cmp(d) >= 0 {
		if n.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q
}

// DivRound divides m by q, rounding half away from zero. q must be positive.
func (m Money) DivRound(q int) Money {
	return Money(roundQuo(big.NewInt(int64(m)), big.NewInt(int64(q))).Int64())
}

// Numeric returns m as a two-decimal pgtype.Numeric.
func (m Money) Numeric() pgtype.Numeric {
	return pgtype.Numeric{Int: big.NewInt(int64(m)), Exp: -2, Valid: true}
}

// String formats m with exactly two decimals.
func (m Money) String() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	cents := v % 100
	s := strconv.FormatInt(v/100, 10) + "."
	if cents < 10 {
		s += "0"
	}
	return sign + s + strconv.FormatInt(cents, 10)
}
