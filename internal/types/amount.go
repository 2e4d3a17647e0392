package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Amount is an unbounded non-negative integer in base units (wei).
// It serializes as a decimal string so no precision is lost in JSON.
type Amount struct {
	v *big.Int
}

// NewAmount wraps a big.Int. A nil value is treated as zero.
func NewAmount(v *big.Int) Amount {
	if v == nil {
		return Amount{v: new(big.Int)}
	}
	return Amount{v: new(big.Int).Set(v)}
}

// AmountFromUint64 builds an Amount from a uint64
func AmountFromUint64(v uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(v)}
}

// ParseAmount parses a base-10 integer string
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return Amount{}, fmt.Errorf("negative amount %q", s)
	}
	return Amount{v: v}, nil
}

// Big returns a copy of the underlying value
func (a Amount) Big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

// IsZero reports whether the amount is zero
func (a Amount) IsZero() bool {
	return a.v == nil || a.v.Sign() == 0
}

// Add returns a+b
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.Big(), b.Big())}
}

// Cmp compares two amounts
func (a Amount) Cmp(b Amount) int {
	return a.Big().Cmp(b.Big())
}

func (a Amount) String() string {
	if a.v == nil {
		return "0"
	}
	return a.v.String()
}

// MarshalJSON encodes the amount as a decimal string
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON integer
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		a.v = new(big.Int)
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
