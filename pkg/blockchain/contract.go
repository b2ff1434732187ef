package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/singnet/snet-payments-go/pkg/metrics"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"go.uber.org/zap"
)

var errReadOnly = errors.New("contract is bound without an account")

// Option configures a contract wrapper.
type Option func(*settings)

type settings struct {
	readTimeout time.Duration
	waiter      ReceiptWaiter
	metrics     *metrics.Collectors
	log         *zap.Logger
	deployTx    common.Hash
	token       common.Address
}

// WithReadTimeout bounds every eth_call.
func WithReadTimeout(d time.Duration) Option {
	return func(s *settings) { s.readTimeout = d }
}

// WithReceiptTimeout bounds the wait for a mined transaction.
func WithReceiptTimeout(d time.Duration) Option {
	return func(s *settings) { s.waiter.Timeout = d }
}

// WithPollInterval sets the first receipt poll delay.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) { s.waiter.Interval = d }
}

// WithMetrics records ledger writes.
func WithMetrics(m *metrics.Collectors) Option {
	return func(s *settings) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithDeployTx sets the transaction that deployed the MPE contract.
func WithDeployTx(h common.Hash) Option {
	return func(s *settings) { s.deployTx = h }
}

// WithToken fixes the token address instead of reading it from the MPE.
func WithToken(addr common.Address) Option {
	return func(s *settings) { s.token = addr }
}

func newSettings(backend bind.DeployBackend, opts []Option) settings {
	s := settings{readTimeout: 12 * time.Second}
	for _, o := range opts {
		o(&s)
	}
	s.waiter.Backend = backend
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// contract is the shared plumbing of the typed wrappers: packed calls,
// account-signed transactions and receipt waits.
type contract struct {
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
	account *Account
	settings
}

func newContract(address common.Address, parsed abi.ABI, backend Backend, account *Account, s settings) contract {
	return contract{
		address:  address,
		abi:      parsed,
		bound:    bind.NewBoundContract(address, parsed, backend, backend, backend),
		account:  account,
		settings: s,
	}
}

func (c *contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// transact submits method(args) from the bound account and waits for the
// receipt.
func (c *contract) transact(ctx context.Context, method string, args ...any) (receipt *types.Receipt, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = sdkerr.TagOf(err)
		}
		c.metrics.LedgerTx(method, outcome)
	}()

	if c.account == nil {
		return nil, sdkerr.Ledger(sdkerr.ReasonSigning, method, errReadOnly)
	}
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, sdkerr.Ledger(sdkerr.ReasonEncoding, method, err)
	}
	tx, err := c.account.Send(ctx, method, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.bound.RawTransact(opts, input)
	})
	if err != nil {
		return nil, err
	}
	receipt, err = c.waiter.Wait(ctx, method, tx)
	if err != nil {
		return receipt, err
	}
	c.log.Info("transaction mined",
		zap.String("method", method),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()))
	return receipt, nil
}
