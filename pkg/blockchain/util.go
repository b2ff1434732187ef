package blockchain

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// CogDecimals is the number of decimals between a token and a cog.
const CogDecimals = 8

// ParseUint256BE zero-extends a big-endian byte string of any length up to 32
// bytes and parses it as an unsigned 256-bit integer. An empty input is zero.
func ParseUint256BE(b []byte) (*big.Int, error) {
	trimmed := bytes.TrimLeft(b, "\x00")
	if len(trimmed) > 32 {
		return nil, fmt.Errorf("value of %d bytes overflows uint256", len(trimmed))
	}
	return new(uint256.Int).SetBytes(trimmed).ToBig(), nil
}

// Uint256ToBytes encodes v as a 32-byte big-endian word.
func Uint256ToBytes(v *big.Int) ([]byte, error) {
	u, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("%s is not a uint256", v)
	}
	word := u.Bytes32()
	return word[:], nil
}

// TokensToCogs converts a token amount to cogs with the given number of
// decimals. Fractions below one cog are rejected.
func TokensToCogs(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, errors.New("negative amount")
	}
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%s has more than %d decimals", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// ParseTokens parses a decimal token string into cogs.
func ParseTokens(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return TokensToCogs(d, decimals)
}

// CogsToTokens converts cogs to a token amount with the given decimals.
func CogsToTokens(cogs *big.Int, decimals int32) decimal.Decimal {
	if cogs == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(cogs, -decimals)
}

// StringToBytes32 returns a right-padded [32]byte containing at most the first
// 32 bytes of str.
func StringToBytes32(str string) [32]byte {
	var byte32 [32]byte
	copy(byte32[:], str)
	return byte32
}

// Bytes32ArrayToStrings converts [32]byte ids into strings, trimming trailing
// NUL bytes.
func Bytes32ArrayToStrings(arr [][32]byte) []string {
	result := make([]string, len(arr))
	for i, b := range arr {
		result[i] = string(bytes.TrimRight(b[:], "\x00"))
	}
	return result
}
