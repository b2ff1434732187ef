package payment

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/channel"
	"github.com/singnet/snet-payments-go/pkg/daemon"
	"github.com/singnet/snet-payments-go/pkg/metrics"
	"github.com/singnet/snet-payments-go/pkg/model"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Type is the value of the snet-payment-type header.
type Type string

const (
	TypeFreeCall Type = "free-call"
	TypeEscrow   Type = "escrow"
	TypePrepaid  Type = "prepaid-call"
	// TypeDefault names the composite strategy; it never appears on the wire.
	TypeDefault Type = "default"
)

// Strategy produces the payment headers of one call and decides which
// channel pays for it.
type Strategy interface {
	Type() Type
	// PaymentMetadata selects (and if needed funds or extends) a channel and
	// returns the headers for one call. The caller must Commit or Release
	// the result once the call finished.
	PaymentMetadata(ctx context.Context, env *Env) (*Metadata, error)
	// SelectChannel returns the channel the next call would pay from, or nil
	// when the strategy does not use channels.
	SelectChannel(ctx context.Context, env *Env) (*channel.PaymentChannel, error)
}

// Signer signs payment claims. *blockchain.Signer implements it.
type Signer interface {
	Address() common.Address
	SignDigest(digest common.Hash) ([]byte, error)
	SignStructured(types []string, values []any) ([]byte, error)
}

var _ Signer = (*blockchain.Signer)(nil)

// DaemonClient is the provider's token and free-call services.
// *daemon.Client implements it.
type DaemonClient interface {
	GetToken(ctx context.Context, req *daemon.TokenRequest, opts ...grpc.CallOption) (*daemon.TokenReply, error)
	GetFreeCallsAvailable(ctx context.Context, req *daemon.FreeCallStateRequest, opts ...grpc.CallOption) (*daemon.FreeCallStateReply, error)
}

var _ DaemonClient = (*daemon.Client)(nil)

// Selector picks the channel to pay from among the known ones, which are
// ordered by ascending id and never empty.
type Selector func(channels []*channel.PaymentChannel) *channel.PaymentChannel

// LowestID picks the first channel.
func LowestID(channels []*channel.PaymentChannel) *channel.PaymentChannel {
	return channels[0]
}

// FreeCallConfig holds the provider-issued free-call credentials.
type FreeCallConfig struct {
	Token       []byte
	ExpiryBlock uint64
	Email       string
}

// Configured reports whether free calls can be attempted.
func (c FreeCallConfig) Configured() bool {
	return len(c.Token) > 0
}

// Env is everything a strategy needs from the service client it serves.
type Env struct {
	Store  *channel.Store
	Signer Signer
	Daemon DaemonClient
	Group  model.PaymentGroup
	// Price is the price of one call in cogs.
	Price         *big.Int
	BlockOffset   uint64
	CallAllowance uint64
	// Selector defaults to LowestID.
	Selector    Selector
	Concurrency *ConcurrencyManager
	FreeCall    FreeCallConfig
	Metrics     *metrics.Collectors
	Log         *zap.Logger
}

func (e *Env) ledger() channel.Ledger {
	return e.Store.Provider().Ledger()
}

func (e *Env) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// Header is one metadata entry. Values of "-bin" headers are raw bytes.
type Header struct {
	Name  string
	Value []byte
}

// Metadata is the outcome of a strategy for one call.
type Metadata struct {
	Type    Type
	Headers []Header
	// Channel is the paying channel, nil for free calls.
	Channel *channel.PaymentChannel

	once    sync.Once
	commit  func()
	release func()
}

// Get returns the value of the named header.
func (m *Metadata) Get(name string) ([]byte, bool) {
	for _, h := range m.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return nil, false
}

// Pairs returns the headers as alternating names and values, the form
// metadata.Pairs accepts.
func (m *Metadata) Pairs() []string {
	out := make([]string, 0, 2*len(m.Headers))
	for _, h := range m.Headers {
		out = append(out, h.Name, string(h.Value))
	}
	return out
}

// OutgoingContext attaches the headers to ctx for an outgoing RPC.
func (m *Metadata) OutgoingContext(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, m.Pairs()...)
}

// Commit records that the call succeeded. Only the first of Commit and
// Release has an effect.
func (m *Metadata) Commit() {
	m.once.Do(func() {
		if m.commit != nil {
			m.commit()
		}
	})
}

// Release records that the call failed or was cancelled.
func (m *Metadata) Release() {
	m.once.Do(func() {
		if m.release != nil {
			m.release()
		}
	})
}

func (m *Metadata) add(name string, value []byte) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

func (m *Metadata) addString(name, value string) {
	m.add(name, []byte(value))
}
