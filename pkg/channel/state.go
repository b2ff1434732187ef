package channel

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/singnet/snet-payments-go/pkg/daemon"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// PrefixGetChannelState prefixes block-bound channel state requests.
const PrefixGetChannelState = "__get_channel_state"

// StateService is the provider's channel state service. *daemon.Client
// implements it.
type StateService interface {
	GetChannelState(ctx context.Context, req *daemon.ChannelStateRequest, opts ...grpc.CallOption) (*daemon.ChannelStateReply, error)
}

var _ StateService = (*daemon.Client)(nil)

var errNoStateService = errors.New("no state service configured")

// StateSync reads the latest signed (nonce, amount) of channels from the
// provider.
type StateSync struct {
	service StateService
	signer  Signer
	mpe     common.Address
	blocks  func(context.Context) (uint64, error)
	// blockBound signs ("__get_channel_state", mpe, channel, block) instead
	// of the channel id alone.
	blockBound bool
	timeout    time.Duration
	log        *zap.Logger
}

// StateSyncOption configures a StateSync.
type StateSyncOption func(*StateSync)

// WithBlockBoundRequests signs requests over the MPE address, the channel
// and the current block, as newer daemons expect. blocks supplies the block.
func WithBlockBoundRequests(blocks func(context.Context) (uint64, error)) StateSyncOption {
	return func(s *StateSync) {
		s.blockBound = true
		s.blocks = blocks
	}
}

// WithStateTimeout bounds each state request.
func WithStateTimeout(d time.Duration) StateSyncOption {
	return func(s *StateSync) { s.timeout = d }
}

// WithStateLogger sets the logger.
func WithStateLogger(l *zap.Logger) StateSyncOption {
	return func(s *StateSync) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStateSync returns a StateSync for channels of the escrow at mpe.
func NewStateSync(service StateService, signer Signer, mpe common.Address, opts ...StateSyncOption) *StateSync {
	s := &StateSync{
		service: service,
		signer:  signer,
		mpe:     mpe,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Fetch returns the provider's nonce and signed amount for channel id.
// Failures are StateServiceUnavailable errors.
func (s *StateSync) Fetch(ctx context.Context, id *big.Int) (nonce, signed *big.Int, err error) {
	if s.service == nil {
		return nil, nil, sdkerr.StateServiceUnavailable(id, errNoStateService)
	}
	req := &daemon.ChannelStateRequest{ChannelID: id}
	if s.blockBound {
		block, err := s.blocks(ctx)
		if err != nil {
			return nil, nil, sdkerr.StateServiceUnavailable(id, err)
		}
		req.CurrentBlock = block
		req.Signature, err = s.signer.SignStructured(
			[]string{"string", "address", "uint256", "uint256"},
			[]any{PrefixGetChannelState, s.mpe, id, new(big.Int).SetUint64(block)})
		if err != nil {
			return nil, nil, err
		}
	} else {
		req.Signature, err = s.signer.SignStructured([]string{"uint256"}, []any{id})
		if err != nil {
			return nil, nil, err
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	reply, err := s.service.GetChannelState(ctx, req)
	if err != nil {
		return nil, nil, sdkerr.StateServiceUnavailable(id, err)
	}
	return reply.CurrentNonce, reply.CurrentSignedAmount, nil
}

// Sync merges the provider's state into ch. When the provider cannot answer
// the channel keeps its on-chain nonce with nothing signed beyond what is
// already known locally. Only signing failures are returned.
func (s *StateSync) Sync(ctx context.Context, ch *PaymentChannel) error {
	nonce, signed, err := s.Fetch(ctx, ch.ID)
	if err != nil {
		if errors.Is(err, sdkerr.ErrSignature) {
			return err
		}
		st := ch.State()
		s.log.Warn("channel state unavailable, using on-chain nonce",
			zap.Stringer("channel", ch.ID), zap.Stringer("nonce", st.Nonce), zap.Error(err))
		ch.ApplyOffChain(st.Nonce, new(big.Int))
		return nil
	}
	ch.ApplyOffChain(nonce, signed)
	return nil
}
