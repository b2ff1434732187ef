package payment

import (
	"context"
	"errors"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/channel"
	"github.com/singnet/snet-payments-go/pkg/daemon"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
)

var (
	errNoFreeCallToken = errors.New("no free-call auth token configured")
	errNoFreeCalls     = errors.New("no free calls left")
)

// FreeStrategy attaches the provider-issued free-call token to a call,
// together with a signature bound to the current block. The user address is
// the signer's address.
type FreeStrategy struct{}

// NewFreeStrategy returns the "free-call" strategy.
func NewFreeStrategy() *FreeStrategy {
	return &FreeStrategy{}
}

func (*FreeStrategy) Type() Type { return TypeFreeCall }

// SelectChannel returns nil: free calls do not use channels.
func (*FreeStrategy) SelectChannel(context.Context, *Env) (*channel.PaymentChannel, error) {
	return nil, nil
}

// FreeCallHash is the digest of ("__prefix_free_trial", user, "__email",
// email, block).
func FreeCallHash(user common.Address, email string, block uint64) (common.Hash, error) {
	return blockchain.StructuredHash(
		[]string{"string", "address", "string", "string", "uint256"},
		[]any{FreeCallPrefixSignature, user, FreeCallEmailSignature, email, block},
	)
}

func (f *FreeStrategy) sign(ctx context.Context, env *Env) (block uint64, sig []byte, err error) {
	block, err = env.ledger().CurrentBlock(ctx)
	if err != nil {
		return 0, nil, sdkerr.Ledger("", "current block", err)
	}
	digest, err := FreeCallHash(env.Signer.Address(), env.FreeCall.Email, block)
	if err != nil {
		return 0, nil, err
	}
	sig, err = env.Signer.SignDigest(digest)
	return block, sig, err
}

// Available asks the provider how many free calls the user has left. Any
// failure, including zero calls left, is a FreeCallUnavailable error.
func (f *FreeStrategy) Available(ctx context.Context, env *Env) (uint64, error) {
	if !env.FreeCall.Configured() {
		return 0, sdkerr.FreeCallUnavailable(errNoFreeCallToken)
	}
	if env.Daemon == nil {
		return 0, sdkerr.FreeCallUnavailable(errors.New("no daemon client"))
	}
	block, sig, err := f.sign(ctx, env)
	if err != nil {
		return 0, sdkerr.FreeCallUnavailable(err)
	}
	reply, err := env.Daemon.GetFreeCallsAvailable(ctx, &daemon.FreeCallStateRequest{
		UserID:           env.FreeCall.Email,
		UserAddress:      env.Signer.Address(),
		Token:            env.FreeCall.Token,
		TokenExpiryBlock: env.FreeCall.ExpiryBlock,
		Signature:        sig,
		CurrentBlock:     block,
	})
	if err != nil {
		return 0, sdkerr.FreeCallUnavailable(err)
	}
	if reply.FreeCallsAvailable == 0 {
		return 0, sdkerr.FreeCallUnavailable(errNoFreeCalls)
	}
	return reply.FreeCallsAvailable, nil
}

// PaymentMetadata signs the free-call payload for the current block.
func (f *FreeStrategy) PaymentMetadata(ctx context.Context, env *Env) (*Metadata, error) {
	if !env.FreeCall.Configured() {
		return nil, sdkerr.FreeCallUnavailable(errNoFreeCallToken)
	}
	block, sig, err := f.sign(ctx, env)
	if err != nil {
		return nil, err
	}
	md := &Metadata{Type: TypeFreeCall}
	md.addString(PaymentTypeHeader, string(TypeFreeCall))
	md.addString(FreeCallUserAddressHeader, env.Signer.Address().Hex())
	md.addString(CurrentBlockNumberHeader, strconv.FormatUint(block, 10))
	md.add(PaymentChannelSignatureHeader, sig)
	md.add(FreeCallAuthTokenHeader, env.FreeCall.Token)
	md.addString(FreeCallAuthTokenExpiryBlockNumberHeader, strconv.FormatUint(env.FreeCall.ExpiryBlock, 10))
	if env.FreeCall.Email != "" {
		md.addString(FreeCallUserIdHeader, env.FreeCall.Email)
	}
	env.Metrics.PaymentMetadata(string(TypeFreeCall))
	return md, nil
}
