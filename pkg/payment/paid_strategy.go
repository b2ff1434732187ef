package payment

import (
	"context"
	"errors"

	"github.com/singnet/snet-payments-go/pkg/channel"
	"go.uber.org/zap"
)

var errNoPrice = errors.New("service price is not set")

// PaidStrategy pays each call with a fresh escrow claim: the channel's last
// signed amount plus the call price, at the channel's current nonce.
type PaidStrategy struct{}

// NewPaidStrategy returns the "escrow" strategy.
func NewPaidStrategy() *PaidStrategy {
	return &PaidStrategy{}
}

func (*PaidStrategy) Type() Type { return TypeEscrow }

// SelectChannel runs channel selection for one call price.
func (*PaidStrategy) SelectChannel(ctx context.Context, env *Env) (*channel.PaymentChannel, error) {
	if env.Price == nil {
		return nil, errNoPrice
	}
	return selectChannel(ctx, env, env.Price, nil)
}

// PaymentMetadata reserves the next claim on the selected channel and signs
// it. Release undoes the reservation when nothing was signed after it.
func (s *PaidStrategy) PaymentMetadata(ctx context.Context, env *Env) (*Metadata, error) {
	if env.Price == nil {
		return nil, errNoPrice
	}
	var res channel.Reservation
	// The claim is reserved under the selection lock so a parallel call
	// cannot take the funds the selection just checked or added.
	_, err := selectChannel(ctx, env, env.Price, func(ch *channel.PaymentChannel) bool {
		var ok bool
		res, ok = ch.Reserve(env.Price)
		return ok
	})
	if err != nil {
		return nil, err
	}

	sig, err := signClaim(env, res.Channel.ID, res.Nonce, res.Amount)
	if err != nil {
		res.Channel.Release(res)
		return nil, err
	}

	md := &Metadata{Type: TypeEscrow, Channel: res.Channel}
	md.addString(PaymentTypeHeader, string(TypeEscrow))
	md.addString(PaymentChannelIDHeader, res.Channel.ID.String())
	md.addString(PaymentChannelNonceHeader, res.Nonce.String())
	md.addString(PaymentChannelAmountHeader, res.Amount.String())
	md.add(PaymentChannelSignatureHeader, sig)
	md.release = func() {
		if res.Channel.Release(res) {
			env.logger().Debug("released claim",
				zap.Stringer("channel", res.Channel.ID), zap.Stringer("amount", res.Amount))
		}
	}
	env.Metrics.PaymentMetadata(string(TypeEscrow))
	return md, nil
}
