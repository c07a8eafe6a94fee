package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in cents.
type Money int64

var ErrInvalidMoney = errors.New("invalid money amount")

// MaxTicketPrice keeps price times any booking quantity far from overflow.
const MaxTicketPrice Money = 1_000_000_000_00

// ParseMoney parses a non-negative decimal with at most two fraction digits.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, s)
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" || (hasDot && frac == "") || len(frac) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, s)
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, s)
	}

	var cents int64
	if frac != "" {
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, s)
		}
	}

	if units > (math.MaxInt64-cents)/100 {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidMoney, s)
	}

	return Money(units*100 + cents), nil
}

// Times returns m multiplied by n.
func (m Money) Times(n int) Money {
	return m * Money(n)
}

func (m Money) String() string {
	sign, u := "", uint64(m)
	if m < 0 {
		sign, u = "-", -u
	}
	return fmt.Sprintf("%s%d.%02d", sign, u/100, u%100)
}

// Major returns the amount in major currency units, for APIs that take floats.
func (m Money) Major() float64 {
	return float64(m) / 100
}

// MoneyFromMajor rounds a provider float amount to the nearest cent.
func MoneyFromMajor(v float64) Money {
	return Money(math.Round(v * 100))
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
