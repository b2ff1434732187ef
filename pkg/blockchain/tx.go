package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"go.uber.org/zap"
)

// TxBackend is what an Account needs from the ledger.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// BuildFunc produces a signed transaction from opts without sending it.
type BuildFunc func(opts *bind.TransactOpts) (*types.Transaction, error)

// Account sends transactions from one key. Sends are serialized so that every
// transaction gets a distinct nonce: n = max(local+1, pending count).
type Account struct {
	mu       sync.Mutex
	key      *ecdsa.PrivateKey
	address  common.Address
	chainID  *big.Int
	backend  TxBackend
	gas      GasPricer
	local    uint64
	hasLocal bool
	log      *zap.Logger
}

// NewAccount binds key to chainID. gas may be nil.
func NewAccount(key *ecdsa.PrivateKey, chainID *big.Int, backend TxBackend, gas GasPricer, log *zap.Logger) *Account {
	if log == nil {
		log = zap.NewNop()
	}
	return &Account{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		backend: backend,
		gas:     gas,
		log:     log,
	}
}

// Address returns the sending address.
func (a *Account) Address() common.Address {
	return a.address
}

// Send builds, signs and submits one transaction for op. The nonce lock
// covers all three steps; the local nonce only advances when the node
// accepts the transaction.
func (a *Account) Send(ctx context.Context, op string, build BuildFunc) (*types.Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending, err := a.backend.PendingNonceAt(ctx, a.address)
	if err != nil {
		return nil, sdkerr.Ledger(sdkerr.ReasonSigning, op, fmt.Errorf("pending nonce: %w", err))
	}
	nonce := pending
	if a.hasLocal && a.local+1 > nonce {
		nonce = a.local + 1
	}

	opts, err := bind.NewKeyedTransactorWithChainID(a.key, a.chainID)
	if err != nil {
		return nil, sdkerr.Ledger(sdkerr.ReasonSigning, op, err)
	}
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.NoSend = true
	if a.gas != nil {
		price, err := a.gas.GasPrice(ctx)
		if err != nil {
			return nil, sdkerr.Ledger(sdkerr.ReasonSigning, op, err)
		}
		opts.GasPrice = price
	}

	tx, err := build(opts)
	if err != nil {
		if isRevert(err) {
			return nil, sdkerr.Ledger(sdkerr.ReasonReverted, op, err)
		}
		return nil, sdkerr.Ledger(sdkerr.ReasonSigning, op, err)
	}
	if err := a.backend.SendTransaction(ctx, tx); err != nil {
		return nil, sdkerr.Ledger(sdkerr.ReasonReverted, op, err).WithTx(tx.Hash())
	}
	a.local, a.hasLocal = nonce, true

	a.log.Info("transaction submitted",
		zap.String("method", op),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("nonce", nonce))
	return tx, nil
}

// isRevert reports whether a build error came from a reverting gas estimate.
func isRevert(err error) bool {
	var dataErr interface{ ErrorData() interface{} }
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// ReceiptWaiter polls for transaction receipts.
type ReceiptWaiter struct {
	Backend bind.DeployBackend
	// Timeout bounds the whole wait; 300s when zero.
	Timeout time.Duration
	// Interval is the first poll delay, doubled up to MaxInterval.
	Interval    time.Duration
	MaxInterval time.Duration
}

// Wait polls for the receipt of tx with exponential backoff. A wait past
// Timeout is a timeout LedgerError; a failed receipt is a reverted
// LedgerError carrying the receipt.
func (w ReceiptWaiter) Wait(ctx context.Context, op string, tx *types.Transaction) (*types.Receipt, error) {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	backoff := w.Interval
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := w.MaxInterval
	if maxBackoff <= 0 {
		maxBackoff = 16 * time.Second
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		receipt, err := w.Backend.TransactionReceipt(waitCtx, tx.Hash())
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, sdkerr.Ledger(sdkerr.ReasonReverted, op, errors.New("transaction failed")).WithReceipt(receipt)
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
		case waitCtx.Err() != nil:
			return nil, w.expired(ctx, op, tx, waitCtx.Err())
		default:
			return nil, sdkerr.Ledger(sdkerr.ReasonTimeout, op, fmt.Errorf("receipt: %w", err)).WithTx(tx.Hash())
		}

		select {
		case <-time.After(backoff):
		case <-waitCtx.Done():
			return nil, w.expired(ctx, op, tx, waitCtx.Err())
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (w ReceiptWaiter) expired(parent context.Context, op string, tx *types.Transaction, err error) error {
	if parent.Err() != nil {
		// The caller gave up; report its error rather than ours.
		err = parent.Err()
	}
	return sdkerr.Ledger(sdkerr.ReasonTimeout, op, err).WithTx(tx.Hash())
}
