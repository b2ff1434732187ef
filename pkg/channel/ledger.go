package channel

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
)

// Ledger is the part of the escrow contract the channel layer uses.
// *blockchain.MPE implements it; writes are sent from the bound account.
type Ledger interface {
	Address() common.Address
	CurrentBlock(ctx context.Context) (uint64, error)
	DeploymentBlock(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	ChannelState(ctx context.Context, id *big.Int) (*blockchain.ChannelState, error)
	FilterChannelOpen(ctx context.Context, from, to uint64, recipients []common.Address, groupIDs [][32]byte) ([]blockchain.ChannelOpenEvent, error)

	Deposit(ctx context.Context, amount *big.Int) (*types.Receipt, error)
	OpenChannel(ctx context.Context, signer, recipient common.Address, groupID [32]byte, amount, expiration *big.Int) (*types.Receipt, error)
	DepositAndOpenChannel(ctx context.Context, signer, recipient common.Address, groupID [32]byte, amount, expiration *big.Int) (*types.Receipt, error)
	ChannelAddFunds(ctx context.Context, id, amount *big.Int) (*types.Receipt, error)
	ChannelExtend(ctx context.Context, id, expiration *big.Int) (*types.Receipt, error)
	ChannelExtendAndAddFunds(ctx context.Context, id, expiration, amount *big.Int) (*types.Receipt, error)
}

var _ Ledger = (*blockchain.MPE)(nil)

// Signer signs channel state requests. *blockchain.Signer implements it.
type Signer interface {
	Address() common.Address
	SignStructured(types []string, values []any) ([]byte, error)
}

var _ Signer = (*blockchain.Signer)(nil)
