package sdk

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/channel"
	"github.com/singnet/snet-payments-go/pkg/config"
	"github.com/singnet/snet-payments-go/pkg/daemon"
	sgrpc "github.com/singnet/snet-payments-go/pkg/grpc"
	"github.com/singnet/snet-payments-go/pkg/metrics"
	"github.com/singnet/snet-payments-go/pkg/model"
	"github.com/singnet/snet-payments-go/pkg/payment"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

// ServiceSettings is what a ServiceClient is assembled from once the
// service's metadata is known.
type ServiceSettings struct {
	OrgID     string
	ServiceID string
	// Metadata is informational and may be nil.
	Metadata *model.ServiceMetadata
	Group    model.PaymentGroup
	// Price is the price of one call in cogs.
	Price      *big.Int
	ProtoFiles map[string]string
	// Selector picks the paying channel; nil picks the lowest id.
	Selector payment.Selector

	Ledger channel.Ledger
	// Sender is the account that funds channels.
	Sender common.Address
	Signer *blockchain.Signer
	// Config supplies the payment and scan settings; it must be validated.
	Config  *config.Config
	Metrics *metrics.Collectors
	Log     *zap.Logger
}

// ServiceClient calls one service of one provider group and pays for each
// call with the active payment strategy. It is safe for concurrent use.
type ServiceClient struct {
	OrgID     string
	ServiceID string
	Metadata  *model.ServiceMetadata

	grpc   *sgrpc.Client
	store  *channel.Store
	env    *payment.Env
	ledger channel.Ledger
	log    *zap.Logger
	closer func() error

	mu       sync.RWMutex
	strategy payment.Strategy
}

// NewServiceClient resolves org/service/group through the registry and the
// metadata storage and connects to the group's first endpoint.
func (c *Core) NewServiceClient(ctx context.Context, orgID, serviceID, groupName string) (*ServiceClient, error) {
	r, err := c.resolver()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.Metadata)
	defer cancel()

	group, err := r.organizationGroup(ctx, orgID, groupName)
	if err != nil {
		return nil, err
	}
	meta, err := r.serviceMetadata(ctx, orgID, serviceID)
	if err != nil {
		return nil, err
	}
	if meta.MPEAddress != "" && meta.GetMpeAddr() != c.mpe.Address() {
		c.log.Warn("service metadata names another escrow contract",
			zap.String("service", serviceID),
			zap.String("metadata", meta.GetMpeAddr().Hex()),
			zap.String("using", c.mpe.Address().Hex()))
	}
	svcGroup, err := meta.Group(groupName)
	if err != nil {
		return nil, err
	}
	price, err := svcGroup.PriceInCogs()
	if err != nil {
		return nil, fmt.Errorf("service %s/%s: %w", orgID, serviceID, err)
	}
	if len(svcGroup.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints available for service group %s", groupName)
	}

	// TODO: endpoint selection strategy (currently takes the first endpoint)
	endpoint := svcGroup.Endpoints[0]
	conn, err := sgrpc.DialEndpoint(ctx, endpoint, c.cfg.Timeouts.Dial)
	if err != nil {
		return nil, err
	}
	sc, err := NewServiceClientFromConn(conn, ServiceSettings{
		OrgID:      orgID,
		ServiceID:  serviceID,
		Metadata:   meta,
		Group:      group,
		Price:      price,
		ProtoFiles: meta.ProtoFiles,
		Ledger:     c.mpe,
		Sender:     c.account.Address(),
		Signer:     c.signer,
		Config:     c.cfg,
		Metrics:    c.metrics,
		Log:        c.log.With(zap.String("service", orgID+"/"+serviceID)),
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	sc.closer = conn.Close
	c.log.Info("service client ready",
		zap.String("org", orgID),
		zap.String("service", serviceID),
		zap.String("group", groupName),
		zap.String("endpoint", endpoint),
		zap.String("price", price.String()))
	return sc, nil
}

// NewServiceClientFromConn assembles a ServiceClient over conn, which
// carries both the service and the provider's payment services. Close does
// not close conn.
func NewServiceClientFromConn(conn grpc.ClientConnInterface, s ServiceSettings) (*ServiceClient, error) {
	if s.Ledger == nil || s.Signer == nil || s.Config == nil {
		return nil, errors.New("ledger, signer and config are required")
	}
	if s.Price == nil || s.Price.Sign() < 0 {
		return nil, errors.New("a non-negative price is required")
	}
	if s.Group.ExpirationThreshold == nil {
		s.Group.ExpirationThreshold = new(big.Int)
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg := s.Config
	if s.Selector == nil {
		s.Selector = payment.LowestID
	}

	service, err := sgrpc.NewClientFromConn(conn, s.ProtoFiles)
	if err != nil {
		return nil, err
	}
	daemonClient, err := daemon.NewClient(conn, log.Named("daemon"))
	if err != nil {
		return nil, err
	}
	freeToken, err := cfg.FreeCallToken()
	if err != nil {
		return nil, err
	}

	stateOpts := []channel.StateSyncOption{
		channel.WithStateTimeout(cfg.Timeouts.GRPCUnary),
		channel.WithStateLogger(log.Named("state")),
	}
	if cfg.BlockBoundStateRequest {
		stateOpts = append(stateOpts, channel.WithBlockBoundRequests(s.Ledger.CurrentBlock))
	}
	provider := channel.NewProvider(s.Ledger, channel.Filter{
		Sender:    s.Sender,
		Signer:    s.Signer.Address(),
		Recipient: s.Group.PaymentAddress,
		GroupID:   s.Group.ID,
	},
		channel.WithBatchSize(cfg.ScanBatchSize),
		channel.WithRateLimit(cfg.ScanRateLimit),
		channel.WithProviderMetrics(s.Metrics),
		channel.WithProviderLogger(log.Named("provider")),
	)
	store := channel.NewStore(provider,
		channel.NewStateSync(daemonClient, s.Signer, s.Ledger.Address(), stateOpts...),
		channel.WithStoreMetrics(s.Metrics),
		channel.WithStoreLogger(log.Named("store")),
	)

	env := &payment.Env{
		Store:         store,
		Signer:        s.Signer,
		Daemon:        daemonClient,
		Group:         s.Group,
		Price:         new(big.Int).Set(s.Price),
		BlockOffset:   cfg.BlockOffset,
		CallAllowance: cfg.CallAllowance,
		Selector:      s.Selector,
		Concurrency:   payment.NewConcurrencyManager(cfg.ConcurrentCalls),
		FreeCall: payment.FreeCallConfig{
			Token:       freeToken,
			ExpiryBlock: cfg.FreeCallTokenExpiryBlock,
			Email:       cfg.Email,
		},
		Metrics: s.Metrics,
		Log:     log.Named("payment"),
	}
	return &ServiceClient{
		OrgID:     s.OrgID,
		ServiceID: s.ServiceID,
		Metadata:  s.Metadata,
		grpc:      service,
		store:     store,
		env:       env,
		ledger:    s.Ledger,
		log:       log,
		strategy:  payment.NewDefaultStrategy(false),
	}, nil
}

// SetPaymentStrategy replaces the strategy used by subsequent calls.
func (s *ServiceClient) SetPaymentStrategy(st payment.Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategy = st
}

// PaymentStrategy returns the active strategy.
func (s *ServiceClient) PaymentStrategy() payment.Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strategy
}

// PaymentMetadata returns the headers of one call for use on a transport of
// the caller's own. The result must be committed or released.
func (s *ServiceClient) PaymentMetadata(ctx context.Context) (*payment.Metadata, error) {
	s.mu.RLock()
	st := s.strategy
	s.mu.RUnlock()
	return st.PaymentMetadata(ctx, s.env)
}

// Call invokes method with a concrete request message and returns the
// dynamic reply.
func (s *ServiceClient) Call(ctx context.Context, method string, req proto.Message) (proto.Message, error) {
	var out proto.Message
	err := s.invoke(ctx, method, func(ctx context.Context) error {
		var err error
		out, err = s.grpc.CallWithProto(ctx, method, req)
		return err
	})
	return out, err
}

// CallWithJSON invokes method with a JSON request body and returns the reply
// as JSON.
func (s *ServiceClient) CallWithJSON(ctx context.Context, method string, body []byte) ([]byte, error) {
	var out []byte
	err := s.invoke(ctx, method, func(ctx context.Context) error {
		var err error
		out, err = s.grpc.CallWithJSON(ctx, method, body)
		return err
	})
	return out, err
}

// CallWithMap invokes method with a map request body.
func (s *ServiceClient) CallWithMap(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	var out map[string]any
	err := s.invoke(ctx, method, func(ctx context.Context) error {
		var err error
		out, err = s.grpc.CallWithMap(ctx, method, params)
		return err
	})
	return out, err
}

// invoke pays for and runs one call. A prepaid call the provider rejects for
// an exhausted planned amount is retried once with a fresh token.
func (s *ServiceClient) invoke(ctx context.Context, method string, call func(context.Context) error) error {
	typ, err := s.invokeOnce(ctx, call)
	if err != nil && typ == payment.TypePrepaid && payment.IsPlannedExhausted(err) {
		s.log.Info("planned amount exhausted, refreshing token", zap.String("method", method))
		s.env.Concurrency.Invalidate()
		_, err = s.invokeOnce(ctx, call)
	}
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	return nil
}

func (s *ServiceClient) invokeOnce(ctx context.Context, call func(context.Context) error) (payment.Type, error) {
	md, err := s.PaymentMetadata(ctx)
	if err != nil {
		return "", err
	}
	if err := call(md.OutgoingContext(ctx)); err != nil {
		md.Release()
		return md.Type, err
	}
	md.Commit()
	return md.Type, nil
}

// FreeCallsAvailable asks the provider how many free calls are left.
func (s *ServiceClient) FreeCallsAvailable(ctx context.Context) (uint64, error) {
	return payment.NewFreeStrategy().Available(ctx, s.env)
}

// OpenChannel opens a channel funded from the escrow balance and adds it to
// the known channels.
func (s *ServiceClient) OpenChannel(ctx context.Context, amount, expiration *big.Int) (*channel.PaymentChannel, error) {
	ch, err := s.store.Provider().OpenChannel(ctx, amount, expiration)
	if err != nil {
		return nil, err
	}
	return s.store.Insert(ch), nil
}

// DepositAndOpenChannel deposits amount and opens a channel with it.
func (s *ServiceClient) DepositAndOpenChannel(ctx context.Context, amount, expiration *big.Int) (*channel.PaymentChannel, error) {
	ch, err := s.store.Provider().DepositAndOpenChannel(ctx, amount, expiration)
	if err != nil {
		return nil, err
	}
	return s.store.Insert(ch), nil
}

// LoadOpenChannels scans the ledger for channels opened since the last scan
// and returns all known channels.
func (s *ServiceClient) LoadOpenChannels(ctx context.Context) ([]*channel.PaymentChannel, error) {
	return s.store.LoadOpenChannels(ctx)
}

// UpdateChannelStates refreshes every known channel from the ledger and the
// provider.
func (s *ServiceClient) UpdateChannelStates(ctx context.Context) error {
	return s.store.UpdateChannelStates(ctx)
}

// Channels returns the known channels ordered by id.
func (s *ServiceClient) Channels() []*channel.PaymentChannel {
	return s.store.GetAll()
}

// Price returns the price of one call in cogs.
func (s *ServiceClient) Price() *big.Int {
	return new(big.Int).Set(s.env.Price)
}

// Group returns the provider's payment group.
func (s *ServiceClient) Group() model.PaymentGroup {
	return s.env.Group
}

// DefaultChannelExpiration is the current block plus the group's payment
// expiration threshold.
func (s *ServiceClient) DefaultChannelExpiration(ctx context.Context) (*big.Int, error) {
	block, err := s.ledger.CurrentBlock(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(new(big.Int).SetUint64(block), s.env.Group.ExpirationThreshold), nil
}

// SetConcurrencyTokenAndChannel pins a prepaid token, typically obtained by
// another worker, with the channel it was issued for. Later calls are
// prepaid calls on that token.
func (s *ServiceClient) SetConcurrencyTokenAndChannel(token []byte, ch *channel.PaymentChannel) {
	s.env.Concurrency.SetToken(token, s.store.Insert(ch))
}

// Concurrency returns the prepaid token manager.
func (s *ServiceClient) Concurrency() *payment.ConcurrencyManager {
	return s.env.Concurrency
}

// Close releases the connection when the client owns it.
func (s *ServiceClient) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer()
	s.closer = nil
	return err
}
