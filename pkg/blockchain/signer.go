package blockchain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
)

// HashPrefix32Bytes is the Ethereum personal-sign prefix for 32-byte
// messages: "\x19Ethereum Signed Message:\n32".
var HashPrefix32Bytes = []byte("\x19Ethereum Signed Message:\n32")

// ClaimMessagePrefix starts every escrow claim.
const ClaimMessagePrefix = "__MPE_claim_message"

var errSignerClosed = errors.New("signer closed")

// Signer owns the key that signs payment claims. The key never leaves it;
// callers pass digests or (types, values) pairs.
type Signer struct {
	mu      sync.RWMutex
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner takes ownership of key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the signer address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignDigest signs keccak256(prefix || digest) and returns R||S||V with V in
// {27, 28}, the form the escrow contract's ecrecover expects.
func (s *Signer) SignDigest(digest common.Hash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, sdkerr.Signature("sign", errSignerClosed)
	}
	sig, err := crypto.Sign(personalHash(digest), s.key)
	if err != nil {
		return nil, sdkerr.Signature("sign", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignStructured hashes (types, values) with StructuredHash and signs the digest.
func (s *Signer) SignStructured(types []string, values []any) ([]byte, error) {
	digest, err := StructuredHash(types, values)
	if err != nil {
		return nil, err
	}
	return s.SignDigest(digest)
}

// Close zeroes the private key. Later signing attempts fail.
func (s *Signer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return
	}
	s.key.D.SetInt64(0)
	s.key = nil
}

func personalHash(digest common.Hash) []byte {
	return crypto.Keccak256(HashPrefix32Bytes, digest.Bytes())
}

// StructuredHash returns keccak256 of the Solidity packed encoding of values.
// Supported types are string, bytes, address, bytes32 and uint256.
func StructuredHash(types []string, values []any) (common.Hash, error) {
	if len(types) != len(values) {
		return common.Hash{}, sdkerr.Signature("structured_hash",
			fmt.Errorf("%d types for %d values", len(types), len(values)))
	}
	var packed []byte
	for i, typ := range types {
		b, err := packValue(typ, values[i])
		if err != nil {
			return common.Hash{}, sdkerr.Signature("structured_hash", fmt.Errorf("value %d: %w", i, err))
		}
		packed = append(packed, b...)
	}
	return crypto.Keccak256Hash(packed), nil
}

func packValue(typ string, v any) ([]byte, error) {
	switch typ {
	case "string":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("string: unexpected %T", v)
		}
		return []byte(s), nil
	case "bytes":
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("bytes: unexpected %T", v)
		}
		return b, nil
	case "address":
		a, ok := v.(common.Address)
		if !ok {
			return nil, fmt.Errorf("address: unexpected %T", v)
		}
		return a.Bytes(), nil
	case "bytes32":
		switch b := v.(type) {
		case [32]byte:
			return b[:], nil
		case common.Hash:
			return b.Bytes(), nil
		}
		return nil, fmt.Errorf("bytes32: unexpected %T", v)
	case "uint256":
		var n *big.Int
		switch x := v.(type) {
		case *big.Int:
			n = x
		case uint64:
			n = new(big.Int).SetUint64(x)
		case int:
			n = big.NewInt(int64(x))
		default:
			return nil, fmt.Errorf("uint256: unexpected %T", v)
		}
		if n == nil || n.Sign() < 0 || n.BitLen() > 256 {
			return nil, fmt.Errorf("uint256: %v out of range", n)
		}
		// U256Bytes modifies its argument.
		return math.U256Bytes(new(big.Int).Set(n)), nil
	}
	return nil, fmt.Errorf("unsupported type %q", typ)
}

// ClaimHash is the digest of ("__MPE_claim_message", mpe, channelID, nonce, amount).
func ClaimHash(mpe common.Address, channelID, nonce, amount *big.Int) (common.Hash, error) {
	return StructuredHash(
		[]string{"string", "address", "uint256", "uint256", "uint256"},
		[]any{ClaimMessagePrefix, mpe, channelID, nonce, amount},
	)
}

// RecoverSigner returns the address that produced sig over digest with
// SignDigest.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(personalHash(digest), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
