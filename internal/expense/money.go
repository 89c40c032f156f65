package expense

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a non-negative amount kept at two decimal places
type Money struct {
	decimal.Decimal
}

// NewMoney rounds d to cents and clamps negatives to zero
func NewMoney(d decimal.Decimal) Money {
	if d.IsNegative() {
		return Money{Decimal: decimal.Zero}
	}
	return Money{Decimal: d.Round(2)}
}

// MustMoney parses s and panics on malformed input. Intended for tests and constants.
func MustMoney(s string) Money {
	return NewMoney(decimal.RequireFromString(s))
}

// String formats the amount with exactly two decimals
func (m Money) String() string {
	return m.StringFixed(2)
}

// Equal compares two amounts by value
func (m Money) Equal(other Money) bool {
	return m.Decimal.Equal(other.Decimal)
}

// GreaterThan reports whether m is larger than other
func (m Money) GreaterThan(other Money) bool {
	return m.Decimal.GreaterThan(other.Decimal)
}

// Cents returns the amount in minor units
func (m Money) Cents() int64 {
	return m.Shift(2).IntPart()
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts numbers and strings, including currency-decorated ones
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*m = Money{}
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	*m = NormalizeAmount(s)
	return nil
}

// NormalizeAmount converts loosely formatted amounts into Money. Currency symbols
// and thousands separators are stripped; unparseable, NaN and negative input
// becomes 0.00.
func NormalizeAmount(raw any) Money {
	switch v := raw.(type) {
	case nil:
		return Money{}
	case Money:
		return NewMoney(v.Decimal)
	case decimal.Decimal:
		return NewMoney(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Money{}
		}
		return NewMoney(decimal.NewFromFloat(v))
	case float32:
		return NormalizeAmount(float64(v))
	case int:
		return NewMoney(decimal.NewFromInt(int64(v)))
	case int64:
		return NewMoney(decimal.NewFromInt(v))
	case json.Number:
		return parseAmount(v.String())
	case string:
		return parseAmount(v)
	default:
		return parseAmount(fmt.Sprint(v))
	}
}

func parseAmount(s string) Money {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return Money{}
	}

	cleaned = normalizeSeparators(cleaned)

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Money{}
	}
	return NewMoney(d)
}

// normalizeSeparators turns "1,234.56", "1.234,56" and "3,49" into plain decimal notation
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastComma == -1:
		return s
	case lastDot == -1:
		// Only commas: a single comma with two trailing digits is a decimal comma
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 == 2 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		return strings.Replace(s, ",", ".", 1)
	default:
		return strings.ReplaceAll(s, ",", "")
	}
}
