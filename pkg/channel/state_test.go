package channel

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/daemon"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"github.com/stretchr/testify/require"
)

func TestFetchSignsChannelID(t *testing.T) {
	key := mustKey(t)
	svc := &fakeStateService{replies: map[int64]*daemon.ChannelStateReply{
		5: {CurrentNonce: big.NewInt(3), CurrentSignedAmount: big.NewInt(4200)},
	}}
	s := NewStateSync(svc, blockchain.NewSigner(key), testRecipient)

	nonce, signed, err := s.Fetch(context.Background(), big.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, int64(3), nonce.Int64())
	require.Equal(t, int64(4200), signed.Int64())

	req := svc.requests[0]
	require.Zero(t, req.CurrentBlock)
	digest, err := blockchain.StructuredHash([]string{"uint256"}, []any{big.NewInt(5)})
	require.NoError(t, err)
	who, err := blockchain.RecoverSigner(digest, req.Signature)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), who)
}

func TestFetchBlockBound(t *testing.T) {
	key := mustKey(t)
	svc := &fakeStateService{}
	mpe := testRecipient
	s := NewStateSync(svc, blockchain.NewSigner(key), mpe,
		WithBlockBoundRequests(func(context.Context) (uint64, error) { return 777, nil }))

	_, _, err := s.Fetch(context.Background(), big.NewInt(9))
	require.NoError(t, err)

	req := svc.requests[0]
	require.Equal(t, uint64(777), req.CurrentBlock)
	digest, err := blockchain.StructuredHash(
		[]string{"string", "address", "uint256", "uint256"},
		[]any{PrefixGetChannelState, mpe, big.NewInt(9), big.NewInt(777)})
	require.NoError(t, err)
	who, err := blockchain.RecoverSigner(digest, req.Signature)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), who)
}

func TestFetchUnavailable(t *testing.T) {
	s := NewStateSync(&fakeStateService{err: errors.New("connection refused")}, blockchain.NewSigner(mustKey(t)), testRecipient)
	_, _, err := s.Fetch(context.Background(), big.NewInt(1))
	require.ErrorIs(t, err, sdkerr.ErrStateServiceUnavailable)

	s = NewStateSync(nil, blockchain.NewSigner(mustKey(t)), testRecipient)
	_, _, err = s.Fetch(context.Background(), big.NewInt(1))
	require.ErrorIs(t, err, sdkerr.ErrStateServiceUnavailable)
}

func TestSyncSurfacesSigningFailure(t *testing.T) {
	signer := blockchain.NewSigner(mustKey(t))
	signer.Close()
	s := NewStateSync(&fakeStateService{}, signer, testRecipient)

	err := s.Sync(context.Background(), newTestChannel(100, 100))
	require.ErrorIs(t, err, sdkerr.ErrSignature)
}
