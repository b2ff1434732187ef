package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/channel"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Action is the ledger operation channel selection took.
type Action string

const (
	ActionNone              Action = "none"
	ActionOpen              Action = "open"
	ActionDepositAndOpen    Action = "deposit_and_open"
	ActionExtend            Action = "extend"
	ActionAddFunds          Action = "add_funds"
	ActionExtendAndAddFunds Action = "extend_and_add_funds"
)

// Triage decides the action for a channel from its two health checks.
func Triage(hasFunds, expiring bool) Action {
	switch {
	case hasFunds && expiring:
		return ActionExtend
	case !hasFunds && !expiring:
		return ActionAddFunds
	case !hasFunds && expiring:
		return ActionExtendAndAddFunds
	default:
		return ActionNone
	}
}

var errNoFunds = errors.New("no channel with funds for the call")

// selectChannel returns a channel able to pay price, opening, extending or
// funding one as needed. Exactly one ledger write is made at most. The
// decision runs under the store's selection lock; hold, when set, is called
// with the chosen channel before the lock is released and reports whether
// it could take its share of the funds.
func selectChannel(ctx context.Context, env *Env, price *big.Int, hold func(*channel.PaymentChannel) bool) (*channel.PaymentChannel, error) {
	log := env.logger()
	store := env.Store
	ledger := env.ledger()

	if _, err := store.LoadOpenChannels(ctx); err != nil {
		return nil, err
	}
	if err := store.UpdateChannelStates(ctx); err != nil {
		return nil, err
	}

	unlock := store.LockSelection()
	defer unlock()
	// Channels opened by callers that held the lock before us are in the
	// store by now.
	channels := store.GetAll()

	current, err := ledger.CurrentBlock(ctx)
	if err != nil {
		return nil, sdkerr.Ledger("", "current block", err)
	}
	threshold := env.Group.ExpirationThreshold
	if threshold == nil {
		threshold = new(big.Int)
	}
	expiration := new(big.Int).SetUint64(current)
	expiration.Add(expiration, threshold)
	expiration.Add(expiration, new(big.Int).SetUint64(env.BlockOffset))

	var ch *channel.PaymentChannel
	if len(channels) == 0 {
		sender := store.Provider().Filter().Sender
		balance, err := ledger.Balance(ctx, sender)
		if err != nil {
			return nil, sdkerr.Ledger("", "balances", err)
		}
		if price.Cmp(balance) > 0 {
			log.Info("opening channel with deposit", zap.Stringer("amount", price), zap.Stringer("expiration", expiration))
			ch, err = store.Provider().DepositAndOpenChannel(ctx, price, expiration)
		} else {
			log.Info("opening channel", zap.Stringer("amount", price), zap.Stringer("expiration", expiration))
			ch, err = store.Provider().OpenChannel(ctx, price, expiration)
		}
		if err != nil {
			return nil, err
		}
		ch = store.Insert(ch)
	} else {
		selector := env.Selector
		if selector == nil {
			selector = LowestID
		}
		if ch = selector(channels); ch == nil {
			return nil, fmt.Errorf("channel selector returned no channel")
		}
		action := Triage(ch.HasFunds(price), ch.Expiring(current, threshold))
		if action != ActionNone {
			if err := apply(ctx, env, ch, action, price, expiration); err != nil {
				return nil, err
			}
			if err := store.Refresh(ctx, ch); err != nil {
				return nil, err
			}
		}
	}

	if hold != nil && !hold(ch) {
		return nil, errNoFunds
	}
	return ch, nil
}

func apply(ctx context.Context, env *Env, ch *channel.PaymentChannel, action Action, price, expiration *big.Int) error {
	ledger := env.ledger()
	allowance := env.CallAllowance
	if allowance == 0 {
		allowance = 1
	}
	amount := new(big.Int).Mul(price, new(big.Int).SetUint64(allowance))

	env.logger().Info("updating channel",
		zap.Stringer("channel", ch.ID),
		zap.String("action", string(action)),
		zap.Stringer("amount", amount),
		zap.Stringer("expiration", expiration))

	var err error
	switch action {
	case ActionExtend:
		_, err = ledger.ChannelExtend(ctx, ch.ID, expiration)
	case ActionAddFunds:
		if err = ensureEscrow(ctx, env, amount); err == nil {
			_, err = ledger.ChannelAddFunds(ctx, ch.ID, amount)
		}
	case ActionExtendAndAddFunds:
		if err = ensureEscrow(ctx, env, amount); err == nil {
			_, err = ledger.ChannelExtendAndAddFunds(ctx, ch.ID, expiration, amount)
		}
	}
	return err
}

// ensureEscrow deposits the shortfall when the escrow balance cannot cover
// amount.
func ensureEscrow(ctx context.Context, env *Env, amount *big.Int) error {
	ledger := env.ledger()
	balance, err := ledger.Balance(ctx, env.Store.Provider().Filter().Sender)
	if err != nil {
		return sdkerr.Ledger("", "balances", err)
	}
	if balance.Cmp(amount) >= 0 {
		return nil
	}
	shortfall := new(big.Int).Sub(amount, balance)
	_, err = ledger.Deposit(ctx, shortfall)
	return err
}

// signClaim signs ("__MPE_claim_message", mpe, channel, nonce, amount).
func signClaim(env *Env, channelID, nonce, amount *big.Int) ([]byte, error) {
	digest, err := blockchain.ClaimHash(env.ledger().Address(), channelID, nonce, amount)
	if err != nil {
		return nil, err
	}
	return env.Signer.SignDigest(digest)
}

// IsPlannedExhausted reports whether err means the prepaid token has no
// planned amount left, either as a token service error or as the daemon's
// reply to a service call.
func IsPlannedExhausted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sdkerr.ErrPlannedExhausted) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		return strings.Contains(st.Message(), PlannedAmountExhausted)
	}
	return strings.Contains(err.Error(), PlannedAmountExhausted)
}

// tokenError classifies a GetToken failure.
func tokenError(err error) *sdkerr.Error {
	reason := sdkerr.ReasonTransport
	switch code := status.Code(err); {
	case IsPlannedExhausted(err):
		reason = sdkerr.ReasonPlannedExhausted
	case code == codes.Unauthenticated || code == codes.PermissionDenied:
		reason = sdkerr.ReasonUnauthorized
	}
	return sdkerr.TokenService(reason, err)
}
