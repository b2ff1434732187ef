package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
)

// GasPricer decides the gas price of outgoing transactions. A nil price
// leaves fee selection to the transactor, which uses EIP-1559 fields when the
// chain supports them.
type GasPricer interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// FixedGasPrice always returns the same legacy gas price in wei.
type FixedGasPrice struct {
	Wei *big.Int
}

func (f FixedGasPrice) GasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.Wei), nil
}

// SuggestedGasPrice asks the node for a legacy gas price on every send.
type SuggestedGasPrice struct {
	Node ethereum.GasPricer
}

func (s SuggestedGasPrice) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := s.Node.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return price, nil
}

// ParseGasPricer builds a FixedGasPrice from a decimal wei string; an empty
// string yields a nil pricer.
func ParseGasPricer(wei string) (GasPricer, error) {
	if wei == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("invalid gas price %q", wei)
	}
	return FixedGasPrice{Wei: v}, nil
}
