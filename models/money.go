package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MoneyScale = 2
	RateScale  = 4
)

// Money is a fixed-point amount held at two decimal places and stored as integer cents.
// The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

var ZeroMoney = Money{}

// MoneyFromDecimal rounds half away from zero at MoneyScale.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{d: d.Round(MoneyScale)}
}

func MoneyFromStorage(cents int64) Money {
	return Money{d: decimal.New(cents, -MoneyScale)}
}

func MoneyFromInt(units int64) Money {
	return Money{d: decimal.NewFromInt(units)}
}

func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return ZeroMoney, fmt.Errorf("invalid money %q: %w", s, err)
	}
	return MoneyFromDecimal(d), nil
}

// MustParseMoney is for constants and tests.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) ToStorage() int64 {
	return m.d.Round(MoneyScale).Shift(MoneyScale).IntPart()
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return MoneyFromDecimal(m.d.Add(o.d)) }

func (m Money) Sub(o Money) Money { return MoneyFromDecimal(m.d.Sub(o.d)) }

func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

func (m Money) Abs() Money { return Money{d: m.d.Abs()} }

// MulCount multiplies by a whole count (shares, items).
func (m Money) MulCount(n int64) Money {
	return MoneyFromDecimal(m.d.Mul(decimal.NewFromInt(n)))
}

// MulRate multiplies by a rate and rounds at the money scale, not the rate scale.
func (m Money) MulRate(r Rate) Money {
	return MoneyFromDecimal(m.d.Mul(r.d))
}

func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }

func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }

func (m Money) Sign() int { return m.d.Sign() }

func (m Money) IsZero() bool { return m.d.IsZero() }

func (m Money) IsNegative() bool { return m.d.IsNegative() }

func (m Money) IsPositive() bool { return m.d.IsPositive() }

func (m Money) String() string { return m.d.StringFixed(MoneyScale) }

// Value stores cents.
func (m Money) Value() (driver.Value, error) {
	return m.ToStorage(), nil
}

func (m *Money) Scan(src interface{}) error {
	v, err := scanStorageInt(src)
	if err != nil {
		return fmt.Errorf("scan money: %w", err)
	}
	*m = MoneyFromStorage(v)
	return nil
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// allow bare numbers
		s = string(b)
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Rate is a fixed-point ratio held at four decimal places, used for dividend rates.
type Rate struct {
	d decimal.Decimal
}

var ZeroRate = Rate{}

func RateFromDecimal(d decimal.Decimal) Rate {
	return Rate{d: d.Round(RateScale)}
}

func RateFromStorage(v int64) Rate {
	return Rate{d: decimal.New(v, -RateScale)}
}

func ParseRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return ZeroRate, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	return RateFromDecimal(d), nil
}

func MustParseRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rate) ToStorage() int64 {
	return r.d.Round(RateScale).Shift(RateScale).IntPart()
}

func (r Rate) Decimal() decimal.Decimal { return r.d }

func (r Rate) Equal(o Rate) bool { return r.d.Equal(o.d) }

func (r Rate) Cmp(o Rate) int { return r.d.Cmp(o.d) }

func (r Rate) IsZero() bool { return r.d.IsZero() }

func (r Rate) String() string { return r.d.StringFixed(RateScale) }

func (r Rate) Value() (driver.Value, error) {
	return r.ToStorage(), nil
}

func (r *Rate) Scan(src interface{}) error {
	v, err := scanStorageInt(src)
	if err != nil {
		return fmt.Errorf("scan rate: %w", err)
	}
	*r = RateFromStorage(v)
	return nil
}

func (r Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Rate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	v, err := ParseRate(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func scanStorageInt(src interface{}) (int64, error) {
	switch v := src.(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		return decimal.NewFromFloat(v).Round(0).IntPart(), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", src)
	}
}
