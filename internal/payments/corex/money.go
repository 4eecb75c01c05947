package corex

import (
	"database/sql/driver"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Microdollars is a USD amount in fixed 6-decimal integer units
// (1 = $0.000001, $1.00 = 1_000_000). All ledger arithmetic is expressed in
// this type so that limit checks never touch floating point.
type Microdollars int64

// MicroScale is the number of Microdollars per whole USD (10^6).
const MicroScale = 1_000_000

var (
	maxInt64Big = big.NewInt(math.MaxInt64)
	minInt64Big = big.NewInt(math.MinInt64)
)

// FromFloat converts a human-readable dollar float (e.g. 1.25) to
// Microdollars, rounding to the nearest microdollar.
func FromFloat(f float64) Microdollars {
	return Microdollars(math.Round(f * MicroScale))
}

// Float returns the human-readable float64 value. Only for display; never
// feed this back into a limit check.
func (m Microdollars) Float() float64 {
	return float64(m) / MicroScale
}

func formatMicrodollars(abs uint64) string {
	whole := abs / MicroScale
	frac := abs % MicroScale

	s := fmt.Sprintf("%d.%06d", whole, frac)

	dotIdx := strings.IndexByte(s, '.')
	minKeep := dotIdx + 3 // keep at least ".XX"
	last := len(s) - 1
	for last > minKeep-1 && s[last] == '0' {
		last--
	}
	return s[:last+1]
}

// String renders the amount with a minimum of two decimal places, trailing
// zeros beyond that trimmed. Examples: 1_000_000 -> "1.00", 1_000 -> "0.001".
func (m Microdollars) String() string {
	negative := m < 0
	var abs uint64
	if negative {
		if m == Microdollars(math.MinInt64) {
			abs = uint64(math.MaxInt64) + 1
		} else {
			abs = uint64(-int64(m))
		}
	} else {
		abs = uint64(m)
	}
	s := formatMicrodollars(abs)
	if negative {
		return "-" + s
	}
	return s
}

// MarshalJSON encodes the amount as a decimal string, e.g. "1250000", so
// that wire consumers never lose precision to a JSON number's float64
// representation.
func (m Microdollars) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatInt(int64(m), 10) + `"`), nil
}

// UnmarshalJSON parses either a quoted ("1250000") or bare (1250000) integer.
func (m *Microdollars) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("corex: cannot parse %q as Microdollars: %w", string(data), err)
	}
	*m = Microdollars(v)
	return nil
}

// Value implements database/sql/driver.Valuer.
func (m Microdollars) Value() (driver.Value, error) {
	return int64(m), nil
}

// Scan implements database/sql.Scanner.
func (m *Microdollars) Scan(src any) error {
	if m == nil {
		return fmt.Errorf("corex: scan into nil *Microdollars")
	}
	switch v := src.(type) {
	case nil:
		*m = 0
		return nil
	case int64:
		*m = Microdollars(v)
		return nil
	case int32:
		*m = Microdollars(v)
		return nil
	case int:
		*m = Microdollars(v)
		return nil
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("corex: cannot parse %q as Microdollars: %w", v, err)
		}
		*m = Microdollars(parsed)
		return nil
	case []byte:
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("corex: cannot parse %q as Microdollars: %w", string(v), err)
		}
		*m = Microdollars(parsed)
		return nil
	default:
		return fmt.Errorf("corex: cannot scan %T into Microdollars", src)
	}
}

// TruncateFromBigInt truncates (never rounds) on-chain atomic token units to
// Microdollars given the token's decimal count, so rounding never favors
// the spender over the ledger.
func TruncateFromBigInt(amount *big.Int, tokenDecimals int) Microdollars {
	if amount.Sign() == 0 {
		return 0
	}
	result := new(big.Int).Set(amount)
	if tokenDecimals > 6 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tokenDecimals-6)), nil)
		result.Quo(result, scale) // Quo truncates toward zero
	} else if tokenDecimals < 6 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(6-tokenDecimals)), nil)
		result.Mul(result, scale)
	}
	if result.Cmp(maxInt64Big) > 0 {
		return Microdollars(math.MaxInt64)
	}
	if result.Cmp(minInt64Big) < 0 {
		return Microdollars(math.MinInt64)
	}
	return Microdollars(result.Int64())
}

// StablecoinMicrodollars is the one-for-one fast path for a 6-decimal
// stablecoin amount expressed in its smallest unit.
func StablecoinMicrodollars(smallestUnit *big.Int) Microdollars {
	return TruncateFromBigInt(smallestUnit, 6)
}
