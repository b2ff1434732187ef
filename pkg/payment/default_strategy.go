package payment

import (
	"context"

	"github.com/singnet/snet-payments-go/pkg/channel"
	"go.uber.org/zap"
)

// DefaultStrategy picks per call: free calls while the provider grants them,
// then prepaid when concurrency is enabled, requested or a token is pinned,
// else paid.
type DefaultStrategy struct {
	Free    *FreeStrategy
	Paid    *PaidStrategy
	Prepaid *PrepaidStrategy
	// UsePrepaid selects prepaid calls even with one concurrent call.
	UsePrepaid bool
}

// NewDefaultStrategy returns the composite strategy.
func NewDefaultStrategy(usePrepaid bool) *DefaultStrategy {
	return &DefaultStrategy{
		Free:       NewFreeStrategy(),
		Paid:       NewPaidStrategy(),
		Prepaid:    NewPrepaidStrategy(),
		UsePrepaid: usePrepaid,
	}
}

func (*DefaultStrategy) Type() Type { return TypeDefault }

// Choose returns the strategy the next call uses.
func (d *DefaultStrategy) Choose(ctx context.Context, env *Env) Strategy {
	if env.FreeCall.Configured() {
		_, err := d.Free.Available(ctx, env)
		if err == nil {
			return d.Free
		}
		env.logger().Warn("free call unavailable, paying for the call", zap.Error(err))
	}
	if m := env.Concurrency; m != nil && m.Pinned() != nil {
		return d.Prepaid
	}
	// Tokens are sized from the call price, so a free-priced service always
	// pays through escrow.
	if priced(env) && (d.UsePrepaid || usesPrepaid(env.Concurrency)) {
		return d.Prepaid
	}
	return d.Paid
}

func (d *DefaultStrategy) SelectChannel(ctx context.Context, env *Env) (*channel.PaymentChannel, error) {
	return d.Choose(ctx, env).SelectChannel(ctx, env)
}

func (d *DefaultStrategy) PaymentMetadata(ctx context.Context, env *Env) (*Metadata, error) {
	return d.Choose(ctx, env).PaymentMetadata(ctx, env)
}

func usesPrepaid(m *ConcurrencyManager) bool {
	return m != nil && m.ConcurrentCalls() > 1
}

func priced(env *Env) bool {
	return env.Price != nil && env.Price.Sign() > 0
}
