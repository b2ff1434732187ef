package blockchain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
)

func TestClaimHashMatchesPackedEncoding(t *testing.T) {
	mpe := common.HexToAddress("0x5e592F9b1d303183d963635f895f0f0C48284f4e")
	cid, nonce, amount := big.NewInt(7), big.NewInt(2), big.NewInt(3000)

	var packed []byte
	packed = append(packed, []byte("__MPE_claim_message")...)
	packed = append(packed, mpe.Bytes()...)
	packed = append(packed, math.U256Bytes(big.NewInt(7))...)
	packed = append(packed, math.U256Bytes(big.NewInt(2))...)
	packed = append(packed, math.U256Bytes(big.NewInt(3000))...)
	want := crypto.Keccak256Hash(packed)

	got, err := ClaimHash(mpe, cid, nonce, amount)
	if err != nil {
		t.Fatalf("ClaimHash: %v", err)
	}
	if got != want {
		t.Fatalf("claim hash %s, want %s", got.Hex(), want.Hex())
	}

	again, _ := ClaimHash(mpe, cid, nonce, amount)
	if again != got {
		t.Fatal("claim hash is not deterministic")
	}
	if cid.Int64() != 7 || nonce.Int64() != 2 || amount.Int64() != 3000 {
		t.Fatal("ClaimHash modified its arguments")
	}
}

func TestStructuredHashTypes(t *testing.T) {
	var group [32]byte
	group[0] = 0xaa
	sig := []byte{1, 2, 3}

	got, err := StructuredHash(
		[]string{"bytes", "bytes32", "uint256", "string"},
		[]any{sig, group, uint64(9), "x"},
	)
	if err != nil {
		t.Fatalf("StructuredHash: %v", err)
	}
	want := crypto.Keccak256Hash(sig, group[:], math.U256Bytes(big.NewInt(9)), []byte("x"))
	if got != want {
		t.Fatalf("hash mismatch")
	}

	cases := []struct {
		name   string
		types  []string
		values []any
	}{
		{"length mismatch", []string{"string"}, nil},
		{"wrong go type", []string{"address"}, []any{"0x01"}},
		{"negative uint", []string{"uint256"}, []any{big.NewInt(-1)}},
		{"unknown type", []string{"int8"}, []any{1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := StructuredHash(tc.types, tc.values)
			if !errors.Is(err, sdkerr.ErrSignature) {
				t.Fatalf("expected signature error, got %v", err)
			}
		})
	}
}

func TestSignerSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s := NewSigner(key)
	if s.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("address mismatch")
	}

	digest, err := StructuredHash([]string{"uint256"}, []any{big.NewInt(42)})
	if err != nil {
		t.Fatalf("StructuredHash: %v", err)
	}
	sig, err := s.SignDigest(digest)
	if err != nil {
		t.Fatalf("SignDigest: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("v = %d, want 27 or 28", sig[64])
	}
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		t.Fatalf("RecoverSigner: %v", err)
	}
	if signer != s.Address() {
		t.Fatalf("recovered %s, want %s", signer.Hex(), s.Address().Hex())
	}

	structured, err := s.SignStructured([]string{"uint256"}, []any{big.NewInt(42)})
	if err != nil {
		t.Fatalf("SignStructured: %v", err)
	}
	if signer, _ := RecoverSigner(digest, structured); signer != s.Address() {
		t.Fatal("SignStructured does not sign the structured hash")
	}
}

func TestSignerClose(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s := NewSigner(key)
	s.Close()
	if key.D.Sign() != 0 {
		t.Fatal("key not zeroed")
	}
	if _, err := s.SignDigest(common.Hash{}); !errors.Is(err, sdkerr.ErrSignature) {
		t.Fatalf("expected signature error after Close, got %v", err)
	}
	s.Close()
}

func TestRecoverSignerRejectsShortSignature(t *testing.T) {
	if _, err := RecoverSigner(common.Hash{}, []byte{1, 2}); err == nil {
		t.Fatal("expected error")
	}
}
