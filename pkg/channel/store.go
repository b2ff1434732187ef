package channel

import (
	"context"
	"math/big"
	"slices"
	"sync"

	"github.com/singnet/snet-payments-go/pkg/metrics"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// syncParallelism bounds concurrent state refreshes.
const syncParallelism = 4

// Store holds the channels of one (account, payment address, group) triple,
// keyed by channel id.
type Store struct {
	provider *Provider
	state    *StateSync
	metrics  *metrics.Collectors
	log      *zap.Logger

	mu        sync.RWMutex
	channels  map[string]*PaymentChannel
	scannedTo uint64
	scanned   bool

	loads singleflight.Group

	// selectMu serializes channel selection and the ledger writes it makes.
	selectMu sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreMetrics reports the number of known channels.
func WithStoreMetrics(m *metrics.Collectors) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore returns an empty store fed by provider and refreshed by state.
// state may be nil, in which case only on-chain state is refreshed.
func NewStore(provider *Provider, state *StateSync, opts ...StoreOption) *Store {
	s := &Store{
		provider: provider,
		state:    state,
		log:      zap.NewNop(),
		channels: make(map[string]*PaymentChannel),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LockSelection takes the store's selection lock and returns its unlock.
// Callers deciding whether to open, fund or extend a channel hold it from
// reading the store until the write is applied, so parallel callers see
// each other's channels and act once.
func (s *Store) LockSelection() (unlock func()) {
	s.selectMu.Lock()
	return s.selectMu.Unlock
}

// Provider returns the store's channel provider.
func (s *Store) Provider() *Provider {
	return s.provider
}

// LoadOpenChannels scans for channels opened since the last scan (the first
// scan starts at the escrow's deployment block) and adds them. Concurrent
// callers share one scan. It returns all known channels.
func (s *Store) LoadOpenChannels(ctx context.Context) ([]*PaymentChannel, error) {
	_, err, _ := s.loads.Do("load", func() (any, error) {
		return nil, s.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return s.GetAll(), nil
}

func (s *Store) load(ctx context.Context) error {
	ledger := s.provider.Ledger()
	s.mu.RLock()
	from, scanned := s.scannedTo+1, s.scanned
	s.mu.RUnlock()
	if !scanned {
		deployed, err := ledger.DeploymentBlock(ctx)
		if err != nil {
			return sdkerr.Ledger("", "deployment block", err)
		}
		from = deployed
	}
	to, err := ledger.CurrentBlock(ctx)
	if err != nil {
		return sdkerr.Ledger("", "current block", err)
	}
	if scanned && from > to {
		return nil
	}

	found, err := s.provider.Scan(ctx, from, to)
	if err != nil {
		return err
	}
	for _, ch := range found {
		s.Insert(ch)
	}

	s.mu.Lock()
	if !s.scanned || to > s.scannedTo {
		s.scannedTo, s.scanned = to, true
	}
	s.mu.Unlock()
	s.log.Debug("loaded open channels",
		zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("found", len(found)))
	return nil
}

// UpdateChannelStates refreshes every known channel from the ledger and then
// from the provider's state service.
func (s *Store) UpdateChannelStates(ctx context.Context) error {
	channels := s.GetAll()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(syncParallelism)
	for _, ch := range channels {
		g.Go(func() error {
			return s.Refresh(ctx, ch)
		})
	}
	return g.Wait()
}

// Refresh updates one channel from the ledger and the state service.
func (s *Store) Refresh(ctx context.Context, ch *PaymentChannel) error {
	st, err := s.provider.Ledger().ChannelState(ctx, ch.ID)
	if err != nil {
		return err
	}
	ch.ApplyOnChain(st)
	if s.state == nil {
		return nil
	}
	return s.state.Sync(ctx, ch)
}

// Insert adds ch unless a channel with the same id is known, and returns
// the stored channel.
func (s *Store) Insert(ch *PaymentChannel) *PaymentChannel {
	key := ch.ID.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.channels[key]; ok {
		return existing
	}
	s.channels[key] = ch
	s.metrics.SetKnownChannels(len(s.channels))
	return ch
}

// Get returns the channel with the given id.
func (s *Store) Get(id *big.Int) (*PaymentChannel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id == nil {
		return nil, sdkerr.ChannelNotFound(nil)
	}
	ch, ok := s.channels[id.String()]
	if !ok {
		return nil, sdkerr.ChannelNotFound(id)
	}
	return ch, nil
}

// GetAll returns the known channels by ascending id.
func (s *Store) GetAll() []*PaymentChannel {
	s.mu.RLock()
	out := make([]*PaymentChannel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *PaymentChannel) int { return a.ID.Cmp(b.ID) })
	return out
}
