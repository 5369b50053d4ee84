package money

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Cents is a USD monetary amount in integer cents.
// All arithmetic is performed on int64 to avoid floating-point precision issues.
//
// Examples:
//   - $7.00  = Cents(700)
//   - $0.97  = Cents(97)
//
// Tier 3 pricing rounds half-up to two decimals exactly once per line, so
// amounts stay exact in cents and rounding only happens where a division can
// produce fractional cents (per-unit splits, parsing a third decimal digit).
type Cents int64

var (
	// ErrOverflow occurs when an operation would exceed int64 capacity.
	ErrOverflow = errors.New("money: arithmetic overflow")

	// ErrInvalidFormat occurs when parsing fails.
	ErrInvalidFormat = errors.New("money: invalid format")

	// ErrDivisionByZero occurs when dividing by zero.
	ErrDivisionByZero = errors.New("money: division by zero")
)

// Parse converts a decimal string (e.g. "7.00", "0.97", "10.555") to Cents.
// Fractional digits beyond the second are rounded half-up.
func Parse(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidFormat)
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" || s == "." {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, fmt.Errorf("%w: too many decimal points", ErrInvalidFormat)
	}

	integerPart := parts[0]
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = parts[1]
	}

	var integerVal int64
	if integerPart != "" {
		v, err := strconv.ParseInt(integerPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		integerVal = v
	}

	// Two decimal places, half-up on the third.
	var fracVal int64
	if fractionalPart != "" {
		roundUp := false
		if len(fractionalPart) > 2 {
			d := fractionalPart[2]
			if d < '0' || d > '9' {
				return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
			}
			roundUp = d >= '5'
			fractionalPart = fractionalPart[:2]
		}
		for len(fractionalPart) < 2 {
			fractionalPart += "0"
		}
		v, err := strconv.ParseInt(fractionalPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		fracVal = v
		if roundUp {
			fracVal++
		}
	}

	total := integerVal*100 + fracVal
	if negative {
		total = -total
	}
	return Cents(total), nil
}

// MustParse is Parse that panics on error. Intended for constants and tests.
func MustParse(s string) Cents {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the amount as a plain decimal with two places, e.g. "7.00".
func (c Cents) String() string {
	atomic := int64(c)
	sign := ""
	if atomic < 0 {
		sign = "-"
		atomic = -atomic
	}
	return fmt.Sprintf("%s%d.%02d", sign, atomic/100, atomic%100)
}

// MarshalJSON renders the amount as its decimal string, matching the wire
// form used everywhere else ("7.00", not 700).
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(c.String())), nil
}

// UnmarshalJSON accepts a decimal string or a bare JSON number of dollars.
func (c *Cents) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Add returns c + other, reporting overflow.
func (c Cents) Add(other Cents) (Cents, error) {
	result := c + other
	if (result > c) != (other > 0) && other != 0 {
		return 0, ErrOverflow
	}
	return result, nil
}

// Sub returns c − other, reporting overflow.
func (c Cents) Sub(other Cents) (Cents, error) {
	result := c - other
	if (result < c) != (other > 0) && other != 0 {
		return 0, ErrOverflow
	}
	return result, nil
}

// Mul multiplies by an integer scalar (typically a line quantity).
func (c Cents) Mul(multiplier int64) (Cents, error) {
	if multiplier == 0 || c == 0 {
		return 0, nil
	}
	bigResult := new(big.Int).Mul(big.NewInt(int64(c)), big.NewInt(multiplier))
	if !bigResult.IsInt64() {
		return 0, ErrOverflow
	}
	return Cents(bigResult.Int64()), nil
}

// DivHalfUp divides by an integer divisor with half-up rounding on the
// remainder. Used to split an extended price back into a unit price.
func (c Cents) DivHalfUp(divisor int64) (Cents, error) {
	if divisor == 0 {
		return 0, ErrDivisionByZero
	}

	quotient := int64(c) / divisor
	remainder := int64(c) % divisor

	if remainder*2 >= divisor {
		quotient++
	} else if remainder*2 <= -divisor {
		quotient--
	}

	return Cents(quotient), nil
}

// Min returns the smaller of two amounts.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

// IsPositive returns true if the amount is greater than zero.
func (c Cents) IsPositive() bool {
	return c > 0
}

// IsNegative returns true if the amount is less than zero.
func (c Cents) IsNegative() bool {
	return c < 0
}

// IsZero returns true if the amount is exactly zero.
func (c Cents) IsZero() bool {
	return c == 0
}
