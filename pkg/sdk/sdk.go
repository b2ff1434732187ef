package sdk

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/config"
	"github.com/singnet/snet-payments-go/pkg/metrics"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"github.com/singnet/snet-payments-go/pkg/storage"
	"go.uber.org/zap"
)

// Option customizes NewSDK.
type Option func(*options)

type options struct {
	log     *zap.Logger
	reg     prometheus.Registerer
	backend blockchain.Backend
	storage storage.Storage
}

// WithLogger replaces the logger built from Config.Debug.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegisterer registers the SDK's prometheus collectors on reg. Without
// it no metrics are recorded.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithBackend uses backend instead of dialing Config.RPCAddr. The caller
// keeps ownership of it.
func WithBackend(b blockchain.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithStorage reads metadata through s instead of the configured IPFS and
// Lighthouse endpoints.
func WithStorage(s storage.Storage) Option {
	return func(o *options) { o.storage = s }
}

// NewLogger builds the SDK's console logger: info level, debug level when
// debug is set.
func NewLogger(debug bool) (*zap.Logger, error) {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	c := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      debug,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return c.Build()
}

// Core holds the ledger connection, the keys and the contract adapters
// shared by every service client it creates.
type Core struct {
	cfg       *config.Config
	log       *zap.Logger
	metrics   *metrics.Collectors
	backend   blockchain.Backend
	closeConn func()
	addresses blockchain.Addresses
	account   *blockchain.Account
	signer    *blockchain.Signer
	mpe       *blockchain.MPE
	registry  *blockchain.Registry
	storage   storage.Storage
}

// NewSDK validates cfg, connects to the ledger and binds the escrow and
// registry contracts. Nothing is sent to the ledger.
func NewSDK(ctx context.Context, cfg *config.Config, opts ...Option) (*Core, error) {
	if cfg == nil {
		return nil, sdkerr.Config("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log
	if log == nil {
		var err error
		if log, err = NewLogger(cfg.Debug); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}

	c := &Core{cfg: cfg, log: log, backend: o.backend, storage: o.storage}
	if o.reg != nil {
		m, err := metrics.New(o.reg)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		c.metrics = m
	}
	if c.backend == nil {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Dial)
		client, err := blockchain.Dial(dialCtx, cfg.RPCAddr)
		cancel()
		if err != nil {
			return nil, err
		}
		c.backend = client
		c.closeConn = client.Close
	}
	if err := c.init(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Core) init(ctx context.Context) error {
	cfg := c.cfg
	readCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.ChainRead)
	chainID, err := c.backend.ChainID(readCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	if chainID.String() != cfg.Network.ChainID {
		return sdkerr.Config("endpoint serves chain %s, network %s expects %s", chainID, cfg.Network.Name, cfg.Network.ChainID)
	}

	c.addresses, err = blockchain.LoadContracts(cfg.Network.ChainID, blockchain.Overrides{
		MPE:      cfg.MPEAddress,
		Registry: cfg.RegistryAddress,
		Token:    cfg.TokenAddress,
	})
	if err != nil {
		return sdkerr.Config("%w", err)
	}

	key, err := config.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return sdkerr.Config("private_key: %w", err)
	}
	signerKey, err := config.ParsePrivateKey(cfg.SignerPrivateKey)
	if err != nil {
		return sdkerr.Config("signer_private_key: %w", err)
	}
	gas, err := blockchain.ParseGasPricer(cfg.GasPrice)
	if err != nil {
		return sdkerr.Config("gas_price: %w", err)
	}
	c.account = blockchain.NewAccount(key, chainID, c.backend, gas, c.log.Named("account"))
	c.signer = blockchain.NewSigner(signerKey)

	contractOpts := []blockchain.Option{
		blockchain.WithReadTimeout(cfg.Timeouts.ChainRead),
		blockchain.WithReceiptTimeout(cfg.Timeouts.ReceiptWait),
		blockchain.WithMetrics(c.metrics),
		blockchain.WithLogger(c.log.Named("ledger")),
	}
	mpeOpts := append([]blockchain.Option{blockchain.WithDeployTx(c.addresses.MPEDeployTx)}, contractOpts...)
	if c.addresses.Token != (common.Address{}) {
		mpeOpts = append(mpeOpts, blockchain.WithToken(c.addresses.Token))
	}
	if c.mpe, err = blockchain.NewMPE(c.addresses.MPE, c.backend, c.account, mpeOpts...); err != nil {
		return err
	}
	if c.addresses.Registry != (common.Address{}) {
		if c.registry, err = blockchain.NewRegistry(c.addresses.Registry, c.backend, contractOpts...); err != nil {
			return err
		}
	}

	if c.storage == nil {
		st, err := storage.NewStorage(cfg.IpfsURL, cfg.LighthouseURL, c.log.Named("storage"))
		if err != nil {
			// Service clients built from parts do not need metadata storage.
			c.log.Warn("metadata storage unavailable", zap.String("ipfs", cfg.IpfsURL), zap.Error(err))
		} else {
			c.storage = st
		}
	}

	c.log.Debug("sdk initialized",
		zap.String("network", cfg.Network.Name),
		zap.String("mpe", c.addresses.MPE.Hex()),
		zap.String("registry", c.addresses.Registry.Hex()),
		zap.String("sender", c.account.Address().Hex()),
		zap.String("signer", c.signer.Address().Hex()))
	return nil
}

// Config returns the validated configuration.
func (c *Core) Config() *config.Config { return c.cfg }

// Logger returns the SDK logger.
func (c *Core) Logger() *zap.Logger { return c.log }

// Metrics returns the collectors, nil when no registerer was given.
func (c *Core) Metrics() *metrics.Collectors { return c.metrics }

// MPE returns the escrow contract adapter.
func (c *Core) MPE() *blockchain.MPE { return c.mpe }

// Registry returns the registry reader, nil when the network has none.
func (c *Core) Registry() *blockchain.Registry { return c.registry }

// Addresses returns the resolved contract addresses.
func (c *Core) Addresses() blockchain.Addresses { return c.addresses }

// Address returns the account that funds channels.
func (c *Core) Address() common.Address { return c.account.Address() }

// SignerAddress returns the address that signs claims.
func (c *Core) SignerAddress() common.Address { return c.signer.Address() }

// EscrowBalance returns the account's balance held by the escrow contract.
func (c *Core) EscrowBalance(ctx context.Context) (*big.Int, error) {
	return c.mpe.Balance(ctx, c.account.Address())
}

// Deposit moves amount cogs from the account's tokens into the escrow.
func (c *Core) Deposit(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}
	_, err := c.mpe.Deposit(ctx, amount)
	return err
}

// ListServices returns the service ids the registry holds for orgID.
func (c *Core) ListServices(ctx context.Context, orgID string) ([]string, error) {
	if c.registry == nil {
		return nil, sdkerr.Config("no registry contract for network %s", c.cfg.Network.Name)
	}
	return c.registry.ListServices(ctx, orgID)
}

// Close zeroes the keys and closes the ledger connection when the SDK
// dialed it. It is safe to call more than once.
func (c *Core) Close() {
	if c.signer != nil {
		c.signer.Close()
	}
	if c.closeConn != nil {
		c.closeConn()
		c.closeConn = nil
	}
	_ = c.log.Sync()
}
