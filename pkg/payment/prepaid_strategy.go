package payment

import (
	"context"
	"errors"
	"math/big"

	"github.com/singnet/snet-payments-go/pkg/channel"
)

// PrepaidStrategy pays calls with a provider-issued token that covers
// several calls. Tokens come from the Env's ConcurrencyManager.
type PrepaidStrategy struct{}

// NewPrepaidStrategy returns the "prepaid-call" strategy.
func NewPrepaidStrategy() *PrepaidStrategy {
	return &PrepaidStrategy{}
}

func (*PrepaidStrategy) Type() Type { return TypePrepaid }

// SelectChannel returns the pinned channel, or selects one able to pay for
// a whole token: price times the concurrent calls.
func (*PrepaidStrategy) SelectChannel(ctx context.Context, env *Env) (*channel.PaymentChannel, error) {
	if env.Concurrency == nil {
		return nil, errors.New("prepaid calls need a concurrency manager")
	}
	if ch := env.Concurrency.Pinned(); ch != nil {
		return ch, nil
	}
	if env.Price == nil {
		return nil, errNoPrice
	}
	effective := new(big.Int).Mul(env.Price, new(big.Int).SetUint64(env.Concurrency.ConcurrentCalls()))
	return selectChannel(ctx, env, effective, nil)
}

// PaymentMetadata admits the call against the current token. Selection and
// a token request run only when the held token cannot take the call.
func (s *PrepaidStrategy) PaymentMetadata(ctx context.Context, env *Env) (*Metadata, error) {
	if env.Concurrency != nil && env.Concurrency.Pinned() == nil {
		if id := env.Concurrency.HeldChannel(); id != nil {
			if ch, err := env.Store.Get(id); err == nil {
				if lease, ok := env.Concurrency.TryAdmit(ch); ok {
					return prepaidMetadata(env, ch, lease), nil
				}
			}
		}
	}

	ch, err := s.SelectChannel(ctx, env)
	if err != nil {
		return nil, err
	}
	lease, err := env.Concurrency.GetToken(ctx, env, ch, env.Price)
	if err != nil {
		return nil, err
	}
	return prepaidMetadata(env, ch, lease), nil
}

func prepaidMetadata(env *Env, ch *channel.PaymentChannel, lease *Lease) *Metadata {
	md := &Metadata{Type: TypePrepaid, Channel: ch, commit: lease.Commit, release: lease.Release}
	md.addString(PaymentTypeHeader, string(TypePrepaid))
	md.addString(PaymentChannelIDHeader, lease.ChannelID.String())
	md.addString(PaymentChannelNonceHeader, lease.Nonce.String())
	md.add(PrePaidAuthTokenHeader, lease.Token)
	env.Metrics.PaymentMetadata(string(TypePrepaid))
	return md
}
