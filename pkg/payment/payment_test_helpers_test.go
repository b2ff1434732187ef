package payment

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/singnet/snet-payments-go/internal/testutil/daemontest"
	"github.com/singnet/snet-payments-go/internal/testutil/ledgertest"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/channel"
	"github.com/singnet/snet-payments-go/pkg/daemon"
	sgrpc "github.com/singnet/snet-payments-go/pkg/grpc"
	"github.com/singnet/snet-payments-go/pkg/model"
)

var (
	testRecipient = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testGroup     = [32]byte{7, 7, 7}
)

// mustKey generates a secp256k1 private key via go-ethereum helpers.
func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

// fixture wires a strategy Env to an in-memory ledger and provider.
type fixture struct {
	ledger  *ledgertest.Ledger
	daemon  *daemontest.Daemon
	client  *daemon.Client
	service *sgrpc.Client
	signer  *blockchain.Signer
	env     *Env
}

// newFixture builds the S1 setup: block 500, threshold 100, block offset
// 240, call allowance 1 and the given price.
func newFixture(t *testing.T, price int64) *fixture {
	t.Helper()
	signer := blockchain.NewSigner(mustKey(t))
	ledger := ledgertest.New(signer.Address(), 500)

	fake := daemontest.New(ledger.Address(), uint64(price))
	srv, err := fake.Start()
	if err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(srv.Stop)
	conn, err := srv.Dial()
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	client, err := daemon.NewClient(conn, nil)
	if err != nil {
		t.Fatalf("daemon client: %v", err)
	}
	service, err := sgrpc.NewClientFromConn(conn, daemontest.ProtoFiles())
	if err != nil {
		t.Fatalf("service client: %v", err)
	}

	filter := channel.Filter{
		Sender:    signer.Address(),
		Signer:    signer.Address(),
		Recipient: testRecipient,
		GroupID:   testGroup,
	}
	store := channel.NewStore(
		channel.NewProvider(ledger, filter),
		channel.NewStateSync(client, signer, ledger.Address()),
	)
	return &fixture{
		ledger:  ledger,
		daemon:  fake,
		client:  client,
		service: service,
		signer:  signer,
		env: &Env{
			Store:  store,
			Signer: signer,
			Daemon: client,
			Group: model.PaymentGroup{
				ID:                  testGroup,
				PaymentAddress:      testRecipient,
				ExpirationThreshold: big.NewInt(100),
			},
			Price:         big.NewInt(price),
			BlockOffset:   240,
			CallAllowance: 1,
		},
	}
}

// addChannel registers a channel of the fixture's account.
func (f *fixture) addChannel(amount int64, expiration uint64) *big.Int {
	return f.ledger.AddChannel(f.signer.Address(), testRecipient, testGroup, amount, expiration, 10)
}

// call invokes Calculator.add with md attached and settles md.
func (f *fixture) call(t *testing.T, md *Metadata) error {
	t.Helper()
	ctx := md.OutgoingContext(context.Background())
	_, err := f.service.CallWithMap(ctx, "add", map[string]any{"a": 1, "b": 2})
	if err != nil {
		md.Release()
		return err
	}
	md.Commit()
	return nil
}

func header(t *testing.T, md *Metadata, name string) string {
	t.Helper()
	v, ok := md.Get(name)
	if !ok {
		t.Fatalf("header %s missing", name)
	}
	return string(v)
}

func bigInt(v int64) *big.Int {
	return big.NewInt(v)
}
