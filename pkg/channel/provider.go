package channel

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/metrics"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of blocks per ChannelOpen query.
const DefaultBatchSize = 5000

// Filter selects the channels of one account towards one payment group.
type Filter struct {
	// Sender is the address that funds channels (the sending account).
	Sender common.Address
	// Signer is the address that signs claims; channels where only the
	// signer matches are included too.
	Signer    common.Address
	Recipient common.Address
	GroupID   [32]byte
}

// Matches reports whether ev belongs to the filter's triple.
func (f Filter) Matches(ev blockchain.ChannelOpenEvent) bool {
	if ev.Sender != f.Sender && ev.Signer != f.Signer {
		return false
	}
	return ev.Recipient == f.Recipient && ev.GroupId == f.GroupID
}

// BlockRange is an inclusive range of block numbers.
type BlockRange struct {
	From, To uint64
}

// BatchRanges splits [from, to] into consecutive ranges of at most size
// blocks. The ranges cover every block exactly once.
func BatchRanges(from, to, size uint64) []BlockRange {
	if from > to {
		return nil
	}
	if size == 0 {
		size = DefaultBatchSize
	}
	var out []BlockRange
	for start := from; ; start += size {
		end := to
		if to-start >= size {
			end = start + size - 1
		}
		out = append(out, BlockRange{From: start, To: end})
		if end == to {
			return out
		}
	}
}

// Provider discovers existing channels through ChannelOpen events and opens
// new ones.
type Provider struct {
	ledger  Ledger
	filter  Filter
	batch   uint64
	limiter *rate.Limiter
	metrics *metrics.Collectors
	log     *zap.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithBatchSize sets the number of blocks per query.
func WithBatchSize(n uint64) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.batch = n
		}
	}
}

// WithRateLimit caps log queries per second. Zero leaves queries unpaced.
func WithRateLimit(perSecond float64) ProviderOption {
	return func(p *Provider) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithProviderMetrics records scan queries.
func WithProviderMetrics(m *metrics.Collectors) ProviderOption {
	return func(p *Provider) { p.metrics = m }
}

// WithProviderLogger sets the logger.
func WithProviderLogger(l *zap.Logger) ProviderOption {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// NewProvider returns a Provider scanning ledger for filter's channels.
func NewProvider(ledger Ledger, filter Filter, opts ...ProviderOption) *Provider {
	p := &Provider{
		ledger: ledger,
		filter: filter,
		batch:  DefaultBatchSize,
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Filter returns the provider's filter.
func (p *Provider) Filter() Filter {
	return p.filter
}

// Ledger returns the ledger the provider reads and writes.
func (p *Provider) Ledger() Ledger {
	return p.ledger
}

// Scan returns the matching channels opened in [from, to]. Batches run in
// order; a failed batch is retried once.
func (p *Provider) Scan(ctx context.Context, from, to uint64) ([]*PaymentChannel, error) {
	var found []*PaymentChannel
	for _, r := range BatchRanges(from, to, p.batch) {
		events, err := p.query(ctx, r)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if p.filter.Matches(ev) {
				found = append(found, NewPaymentChannel(ev))
			}
		}
	}
	return found, nil
}

func (p *Provider) query(ctx context.Context, r BlockRange) ([]blockchain.ChannelOpenEvent, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, sdkerr.Ledger(sdkerr.ReasonTimeout, "scan ChannelOpen", err).WithBlocks(r.From, r.To)
			}
		}
		events, err := p.ledger.FilterChannelOpen(ctx, r.From, r.To,
			[]common.Address{p.filter.Recipient}, [][32]byte{p.filter.GroupID})
		if err == nil {
			p.metrics.ScanQuery("ok")
			p.log.Debug("scanned ChannelOpen",
				zap.Uint64("from", r.From), zap.Uint64("to", r.To), zap.Int("events", len(events)))
			return events, nil
		}
		lastErr = err
		p.metrics.ScanQuery("error")
		if ctx.Err() != nil {
			break
		}
		p.log.Warn("ChannelOpen query failed",
			zap.Uint64("from", r.From), zap.Uint64("to", r.To), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, sdkerr.Ledger("", "scan ChannelOpen", lastErr).WithBlocks(r.From, r.To)
}

// OpenChannel opens a channel funded from the escrow balance and returns it.
func (p *Provider) OpenChannel(ctx context.Context, amount, expiration *big.Int) (*PaymentChannel, error) {
	receipt, err := p.ledger.OpenChannel(ctx, p.filter.Signer, p.filter.Recipient, p.filter.GroupID, amount, expiration)
	if err != nil {
		return nil, err
	}
	return p.fromReceipt(ctx, "openChannel", receipt)
}

// DepositAndOpenChannel deposits amount and opens a channel with it.
func (p *Provider) DepositAndOpenChannel(ctx context.Context, amount, expiration *big.Int) (*PaymentChannel, error) {
	receipt, err := p.ledger.DepositAndOpenChannel(ctx, p.filter.Signer, p.filter.Recipient, p.filter.GroupID, amount, expiration)
	if err != nil {
		return nil, err
	}
	return p.fromReceipt(ctx, "depositAndOpenChannel", receipt)
}

// fromReceipt rescans the receipt's block for the ChannelOpen event the
// transaction emitted.
func (p *Provider) fromReceipt(ctx context.Context, op string, receipt *types.Receipt) (*PaymentChannel, error) {
	if receipt.BlockNumber == nil {
		return nil, sdkerr.ChannelOpenFailed(op, receipt.TxHash)
	}
	block := receipt.BlockNumber.Uint64()
	events, err := p.query(ctx, BlockRange{From: block, To: block})
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if ev.Raw.TxHash == receipt.TxHash && p.filter.Matches(ev) {
			ch := NewPaymentChannel(ev)
			p.log.Info("channel opened",
				zap.Stringer("channel", ch.ID),
				zap.Stringer("amount", ev.Amount),
				zap.Stringer("expiration", ev.Expiration),
				zap.String("tx", receipt.TxHash.Hex()))
			return ch, nil
		}
	}
	return nil, sdkerr.ChannelOpenFailed(op, receipt.TxHash).WithBlocks(block, block)
}
