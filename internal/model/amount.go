package model

import (
	"fmt"
	"math/big"
)

// Zero returns a fresh zero amount.
func Zero() *big.Int {
	return new(big.Int)
}

// CloneInt copies an amount; nil becomes zero.
func CloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// AddInt returns a+b without mutating either operand.
func AddInt(a, b *big.Int) *big.Int {
	return new(big.Int).Add(CloneInt(a), CloneInt(b))
}

// SubInt returns a-b without mutating either operand.
func SubInt(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(CloneInt(a), CloneInt(b))
}

// ParseAmount parses a base-10 integer; an empty string is zero.
func ParseAmount(value string) (*big.Int, error) {
	if value == "" {
		return new(big.Int), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}

func cloneU64(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// U64 returns a pointer to v.
func U64(v uint64) *uint64 {
	return &v
}
