package contracts

import (
	"fmt"
	"math/big"
)

// PackTotalSupply encodes a totalSupply() call.
func PackTotalSupply() ([]byte, error) {
	tokenABI, err := TokenABI()
	if err != nil {
		return nil, err
	}
	return tokenABI.Pack("totalSupply")
}

// UnpackTotalSupply decodes the totalSupply() return value.
func UnpackTotalSupply(data []byte) (*big.Int, error) {
	tokenABI, err := TokenABI()
	if err != nil {
		return nil, err
	}
	values, err := tokenABI.Unpack("totalSupply", data)
	if err != nil {
		return nil, fmt.Errorf("unpack totalSupply: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("totalSupply returned %d values", len(values))
	}
	supply, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("totalSupply type %T", values[0])
	}
	return supply, nil
}
