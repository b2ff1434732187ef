package blockchain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Token is the ERC-20 token the escrow holds.
type Token struct {
	contract
}

func newToken(address common.Address, backend Backend, account *Account, s settings) (*Token, error) {
	parsed, err := TokenABI()
	if err != nil {
		return nil, err
	}
	return &Token{contract: newContract(address, parsed, backend, account, s)}, nil
}

// Address returns the token contract address.
func (t *Token) Address() common.Address {
	return t.address
}

// BalanceOf returns the token balance of owner.
func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := t.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Allowance returns how much spender may transfer on behalf of owner.
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := t.call(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Decimals returns the token's number of decimals.
func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	out, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// Approve lets spender transfer amount and waits for the receipt.
func (t *Token) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	return t.transact(ctx, "approve", spender, amount)
}
