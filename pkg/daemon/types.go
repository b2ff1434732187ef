package daemon

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChannelStateRequest asks for the provider's view of a channel.
type ChannelStateRequest struct {
	ChannelID *big.Int
	// Signature is a 65-byte signature by the channel signer.
	Signature []byte
	// CurrentBlock is sent when the signature is bound to a block.
	CurrentBlock uint64
}

// ChannelStateReply is the latest state signed off-chain for a channel.
// Amounts are decoded from big-endian byte strings of any length.
type ChannelStateReply struct {
	CurrentNonce         *big.Int
	CurrentSignedAmount  *big.Int
	CurrentSignature     []byte
	OldNonceSignedAmount *big.Int
	OldNonceSignature    []byte
	PlannedAmount        uint64
	UsedAmount           uint64
}

// TokenRequest requests a prepaid token for SignedAmount at CurrentNonce.
// Signature covers (ClaimSignature, CurrentBlock).
type TokenRequest struct {
	ChannelID      *big.Int
	CurrentNonce   *big.Int
	SignedAmount   *big.Int
	Signature      []byte
	CurrentBlock   uint64
	ClaimSignature []byte
}

// TokenReply carries the issued token with its cogs-denominated counters.
type TokenReply struct {
	ChannelID     uint64
	Token         []byte
	PlannedAmount uint64
	UsedAmount    uint64
}

// FreeCallStateRequest asks how many free calls remain for a user.
type FreeCallStateRequest struct {
	UserID           string
	Token            []byte
	TokenExpiryBlock uint64
	Signature        []byte
	CurrentBlock     uint64
	UserAddress      common.Address
}

// FreeCallStateReply is the number of free calls left.
type FreeCallStateReply struct {
	UserID             string
	FreeCallsAvailable uint64
}
