package blockchain

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseUint256BE(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"empty", nil, "0"},
		{"single byte", []byte{0x05}, "5"},
		{"short big endian", []byte{0x01, 0x00}, "256"},
		{"leading zeros", []byte{0x00, 0x00, 0x03, 0xe8}, "1000"},
		{"full word", append(make([]byte, 31), 0x07), "7"},
		{"zero padded beyond 32 bytes", append(make([]byte, 40), 0x09), "9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUint256BE(tt.input)
			if err != nil {
				t.Fatalf("ParseUint256BE: %v", err)
			}
			if got.String() != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}

	tooBig := make([]byte, 33)
	tooBig[0] = 1
	if _, err := ParseUint256BE(tooBig); err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestUint256ToBytes(t *testing.T) {
	b, err := Uint256ToBytes(big.NewInt(258))
	if err != nil {
		t.Fatalf("Uint256ToBytes: %v", err)
	}
	if len(b) != 32 || b[30] != 1 || b[31] != 2 {
		t.Fatalf("unexpected encoding %x", b)
	}
	back, err := ParseUint256BE(b)
	if err != nil || back.Int64() != 258 {
		t.Fatalf("round trip: %v %v", back, err)
	}
	if _, err := Uint256ToBytes(big.NewInt(-1)); err == nil {
		t.Fatal("expected error for negative value")
	}
}

func TestTokenConversions(t *testing.T) {
	cogs, err := ParseTokens("1.5", CogDecimals)
	if err != nil {
		t.Fatalf("ParseTokens: %v", err)
	}
	if cogs.String() != "150000000" {
		t.Fatalf("1.5 tokens = %s cogs", cogs)
	}

	if _, err := ParseTokens("0.000000001", CogDecimals); err == nil {
		t.Fatal("expected error for sub-cog precision")
	}
	if _, err := TokensToCogs(decimal.NewFromInt(-1), CogDecimals); err == nil {
		t.Fatal("expected error for negative amount")
	}
	if _, err := ParseTokens("abc", CogDecimals); err == nil {
		t.Fatal("expected parse error")
	}

	tokens := CogsToTokens(big.NewInt(250000000), CogDecimals)
	if !tokens.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("250000000 cogs = %s tokens", tokens)
	}
	if !CogsToTokens(nil, CogDecimals).IsZero() {
		t.Fatal("nil cogs should be zero")
	}

	wei, err := ParseTokens("2", 18)
	if err != nil || wei.String() != "2000000000000000000" {
		t.Fatalf("18 decimals: %v %v", wei, err)
	}
}

func TestBytes32Conversions(t *testing.T) {
	ids := []string{"", "snet", "example-service", "12345678901234567890123456789012"}
	var arr [][32]byte
	for _, id := range ids {
		arr = append(arr, StringToBytes32(id))
	}
	got := Bytes32ArrayToStrings(arr)
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("index %d: got %q want %q", i, got[i], ids[i])
		}
	}

	long := StringToBytes32("this_is_a_very_long_string_that_exceeds_32_bytes")
	if string(long[:]) != "this_is_a_very_long_string_that_" {
		t.Fatalf("truncation mismatch: %q", long)
	}
}

func TestParseGasPricer(t *testing.T) {
	p, err := ParseGasPricer("")
	if err != nil || p != nil {
		t.Fatalf("empty gas price: %v %v", p, err)
	}
	p, err = ParseGasPricer("1000000000")
	if err != nil {
		t.Fatalf("ParseGasPricer: %v", err)
	}
	price, _ := p.GasPrice(context.Background())
	if price.String() != "1000000000" {
		t.Fatalf("price = %s", price)
	}
	if _, err := ParseGasPricer("-5"); err == nil {
		t.Fatal("expected error for negative price")
	}
}
