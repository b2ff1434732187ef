package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"slices"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/singnet/snet-payments-go/internal/testutil/daemontest"
	"github.com/singnet/snet-payments-go/internal/testutil/ledgertest"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/config"
	sgrpc "github.com/singnet/snet-payments-go/pkg/grpc"
	"github.com/singnet/snet-payments-go/pkg/model"
	"github.com/singnet/snet-payments-go/pkg/payment"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

var (
	testRecipient = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testGroup     = [32]byte{7, 7, 7}
)

// fixture is a ServiceClient wired to an in-memory ledger and provider at
// block 500, with a 100 block expiration threshold.
type fixture struct {
	ledger *ledgertest.Ledger
	daemon *daemontest.Daemon
	conn   *grpc.ClientConn
	signer *blockchain.Signer
	cfg    *config.Config
	client *ServiceClient
}

func newFixture(t *testing.T, price int64, mutate func(*config.Config)) *fixture {
	t.Helper()
	key := mustKey(t)
	cfg := &config.Config{RPCAddr: "http://127.0.0.1:8545", PrivateKey: hexKey(key)}
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	signer := blockchain.NewSigner(key)
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

	f := &fixture{ledger: ledger, daemon: fake, conn: conn, signer: signer, cfg: cfg}
	f.client = f.newClient(t)
	return f
}

// newClient builds another client over the fixture's connection and ledger.
func (f *fixture) newClient(t *testing.T) *ServiceClient {
	t.Helper()
	sc, err := NewServiceClientFromConn(f.conn, ServiceSettings{
		OrgID:     "snet",
		ServiceID: "calculator",
		Group: model.PaymentGroup{
			ID:                  testGroup,
			Name:                "default_group",
			PaymentAddress:      testRecipient,
			ExpirationThreshold: big.NewInt(100),
		},
		Price:      big.NewInt(int64(f.daemon.Price)),
		ProtoFiles: daemontest.ProtoFiles(),
		Ledger:     f.ledger,
		Sender:     f.signer.Address(),
		Signer:     f.signer,
		Config:     f.cfg,
	})
	if err != nil {
		t.Fatalf("NewServiceClientFromConn: %v", err)
	}
	t.Cleanup(func() { _ = sc.Close() })
	return sc
}

func (f *fixture) add(t *testing.T, a, b float64) float64 {
	t.Helper()
	out, err := f.client.CallWithMap(context.Background(), "add", map[string]any{"a": a, "b": b})
	if err != nil {
		t.Fatalf("CallWithMap: %v", err)
	}
	v, ok := out["value"].(float64)
	if !ok {
		t.Fatalf("reply %v has no value", out)
	}
	return v
}

func TestNewServiceClientFromConnValidates(t *testing.T) {
	f := newFixture(t, 1000, nil)
	if _, err := NewServiceClientFromConn(f.conn, ServiceSettings{Price: big.NewInt(1)}); err == nil {
		t.Fatal("expected error without ledger, signer and config")
	}
	_, err := NewServiceClientFromConn(f.conn, ServiceSettings{
		Ledger: f.ledger, Signer: f.signer, Config: f.cfg, ProtoFiles: daemontest.ProtoFiles(),
	})
	if err == nil {
		t.Fatal("expected error without a price")
	}
}

// The first paid call opens a channel; later calls reuse it with growing
// signed amounts.
func TestCallPaysWithEscrow(t *testing.T) {
	f := newFixture(t, 1000, nil)
	f.ledger.SetBalance(f.signer.Address(), 10000)

	for i := 0; i < 3; i++ {
		if got := f.add(t, 1, 2); got != 3 {
			t.Fatalf("add = %v", got)
		}
	}
	// Each call beyond the first funds one more call.
	want := []string{"openChannel", "channelAddFunds", "channelAddFunds"}
	if names := f.ledger.OpNames(); !slices.Equal(names, want) {
		t.Fatalf("ledger ops = %v, want %v", names, want)
	}
	claims := f.daemon.Claims()
	if len(claims) != 3 {
		t.Fatalf("claims = %d", len(claims))
	}
	for i, c := range claims {
		if c.Amount.Int64() != int64(1000*(i+1)) {
			t.Fatalf("claim %d amount %s", i, c.Amount)
		}
		if c.Signer != f.signer.Address() {
			t.Fatalf("claim %d signed by %s", i, c.Signer.Hex())
		}
	}
	if n := len(f.client.Channels()); n != 1 {
		t.Fatalf("channels = %d", n)
	}
}

func TestFailedCallReleasesAmount(t *testing.T) {
	f := newFixture(t, 1000, nil)
	f.ledger.SetBalance(f.signer.Address(), 10000)
	f.daemon.FailService = status.Error(codes.Internal, "boom")

	_, err := f.client.CallWithMap(context.Background(), "add", map[string]any{"a": 1, "b": 1})
	if status.Code(err) != codes.Internal {
		t.Fatalf("err = %v, want the service error", err)
	}
	f.add(t, 1, 1)
	claims := f.daemon.Claims()
	if len(claims) != 1 || claims[0].Amount.Int64() != 1000 {
		t.Fatalf("claims = %+v, want one at 1000", claims)
	}
}

func TestCallWithJSON(t *testing.T) {
	f := newFixture(t, 1000, nil)
	f.ledger.SetBalance(f.signer.Address(), 10000)

	out, err := f.client.CallWithJSON(context.Background(), "mul", []byte(`{"a": 2, "b": 3}`))
	if err != nil {
		t.Fatalf("CallWithJSON: %v", err)
	}
	var reply struct {
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(out, &reply); err != nil {
		t.Fatalf("decode %s: %v", out, err)
	}
	if reply.Value != 6 {
		t.Fatalf("mul = %v", reply.Value)
	}
}

func TestCallWithProto(t *testing.T) {
	f := newFixture(t, 1000, nil)
	f.ledger.SetBalance(f.signer.Address(), 10000)

	files, err := sgrpc.Compile(context.Background(), daemontest.ProtoFiles())
	if err != nil {
		t.Fatal(err)
	}
	_, method, err := sgrpc.FindMethod(files, "add")
	if err != nil {
		t.Fatal(err)
	}
	req := dynamicpb.NewMessage(method.Input())
	req.Set(method.Input().Fields().ByName("a"), protoreflect.ValueOfFloat32(4))
	req.Set(method.Input().Fields().ByName("b"), protoreflect.ValueOfFloat32(5))

	out, err := f.client.Call(context.Background(), "add", req)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	msg := out.ProtoReflect()
	if got := msg.Get(msg.Descriptor().Fields().ByName("value")).Float(); got != 9 {
		t.Fatalf("add = %v", got)
	}
}

// With a free-call token the provider's free calls are used first, then
// calls are paid.
func TestFreeCallsThenPaid(t *testing.T) {
	f := newFixture(t, 1000, func(c *config.Config) {
		c.FreeCallAuthToken = "free-token"
		c.FreeCallTokenExpiryBlock = 9000
		c.Email = "user@example.com"
	})
	f.daemon.FreeCalls = 1
	f.ledger.SetBalance(f.signer.Address(), 10000)

	n, err := f.client.FreeCallsAvailable(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("FreeCallsAvailable = %d, %v", n, err)
	}
	f.add(t, 1, 1)
	if len(f.ledger.Ops()) != 0 {
		t.Fatalf("free call touched the ledger: %v", f.ledger.OpNames())
	}
	f.add(t, 1, 1)

	if f.daemon.Served("free-call") != 1 || f.daemon.Served("escrow") != 1 {
		t.Fatalf("served free=%d escrow=%d", f.daemon.Served("free-call"), f.daemon.Served("escrow"))
	}
	if _, err := f.client.FreeCallsAvailable(context.Background()); !errors.Is(err, sdkerr.ErrFreeCallUnavailable) {
		t.Fatalf("err = %v, want free call unavailable", err)
	}
}

func TestPrepaidCallsShareToken(t *testing.T) {
	f := newFixture(t, 1000, func(c *config.Config) { c.ConcurrentCalls = 2 })
	f.ledger.AddChannel(f.signer.Address(), testRecipient, testGroup, 10000, 100000, 10)

	for i := 0; i < 3; i++ {
		f.add(t, 1, 1)
	}
	reqs := f.daemon.TokenRequests()
	if len(reqs) != 2 {
		t.Fatalf("token requests = %d, want 2", len(reqs))
	}
	if reqs[0].SignedAmount.Int64() != 2000 || reqs[1].SignedAmount.Int64() != 4000 {
		t.Fatalf("token amounts %s, %s", reqs[0].SignedAmount, reqs[1].SignedAmount)
	}
	if f.daemon.Served("prepaid-call") != 3 {
		t.Fatalf("prepaid calls served = %d", f.daemon.Served("prepaid-call"))
	}
}

// A provider reporting the planned amount exhausted gets one retry with a
// fresh token.
func TestPlannedExhaustedRetriesOnce(t *testing.T) {
	f := newFixture(t, 1000, func(c *config.Config) { c.ConcurrentCalls = 2 })
	f.ledger.AddChannel(f.signer.Address(), testRecipient, testGroup, 10000, 100000, 10)

	f.add(t, 1, 1)
	f.daemon.FailService = status.Error(codes.FailedPrecondition, payment.PlannedAmountExhausted+": used 2000 of 2000")
	f.add(t, 1, 1)

	reqs := f.daemon.TokenRequests()
	if len(reqs) != 2 {
		t.Fatalf("token requests = %d, want 2", len(reqs))
	}
	if f.daemon.Served("prepaid-call") != 2 {
		t.Fatalf("prepaid calls served = %d", f.daemon.Served("prepaid-call"))
	}
}

// A worker pinning another worker's token pays with it without asking the
// provider for a new one.
func TestSetConcurrencyTokenAndChannel(t *testing.T) {
	f := newFixture(t, 1000, func(c *config.Config) { c.ConcurrentCalls = 2 })
	f.ledger.AddChannel(f.signer.Address(), testRecipient, testGroup, 10000, 100000, 10)
	f.add(t, 1, 1)

	snap, ok := f.client.Concurrency().Snapshot()
	if !ok {
		t.Fatal("no token after a prepaid call")
	}
	ch, err := f.client.store.Get(snap.ChannelID)
	if err != nil {
		t.Fatal(err)
	}

	worker := f.newClient(t)
	worker.SetConcurrencyTokenAndChannel(snap.Token, ch)
	if _, err := worker.CallWithMap(context.Background(), "add", map[string]any{"a": 1, "b": 1}); err != nil {
		t.Fatalf("worker call: %v", err)
	}
	if n := len(f.daemon.TokenRequests()); n != 1 {
		t.Fatalf("token requests = %d, want 1", n)
	}
	if f.daemon.Served("prepaid-call") != 2 {
		t.Fatalf("prepaid calls served = %d", f.daemon.Served("prepaid-call"))
	}
}

func TestExplicitStrategy(t *testing.T) {
	f := newFixture(t, 1000, func(c *config.Config) { c.FreeCallAuthToken = "free-token" })
	f.daemon.FreeCalls = 5
	f.ledger.SetBalance(f.signer.Address(), 10000)

	f.client.SetPaymentStrategy(payment.NewPaidStrategy())
	if f.client.PaymentStrategy().Type() != payment.TypeEscrow {
		t.Fatalf("strategy = %s", f.client.PaymentStrategy().Type())
	}
	f.add(t, 2, 2)
	if f.daemon.Served("escrow") != 1 || f.daemon.Served("free-call") != 0 {
		t.Fatal("explicit paid strategy not used")
	}
}

func TestChannelOperations(t *testing.T) {
	f := newFixture(t, 1000, nil)
	ctx := context.Background()
	f.ledger.SetBalance(f.signer.Address(), 5000)

	exp, err := f.client.DefaultChannelExpiration(ctx)
	if err != nil {
		t.Fatalf("DefaultChannelExpiration: %v", err)
	}
	if exp.Int64() != 600 {
		t.Fatalf("expiration = %s, want 600", exp)
	}

	opened, err := f.client.OpenChannel(ctx, big.NewInt(3000), exp)
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	deposited, err := f.client.DepositAndOpenChannel(ctx, big.NewInt(4000), exp)
	if err != nil {
		t.Fatalf("DepositAndOpenChannel: %v", err)
	}
	if opened.ID.Cmp(deposited.ID) == 0 {
		t.Fatal("both opens returned the same channel")
	}

	f.ledger.AddChannel(f.signer.Address(), testRecipient, testGroup, 100, 700, 450)
	chans, err := f.client.LoadOpenChannels(ctx)
	if err != nil {
		t.Fatalf("LoadOpenChannels: %v", err)
	}
	if len(chans) != 3 {
		t.Fatalf("channels = %d, want 3", len(chans))
	}
	if err := f.client.UpdateChannelStates(ctx); err != nil {
		t.Fatalf("UpdateChannelStates: %v", err)
	}
	if got := f.client.Price().Int64(); got != 1000 {
		t.Fatalf("price = %d", got)
	}
}

func TestPaymentMetadataForCustomTransport(t *testing.T) {
	f := newFixture(t, 1000, nil)
	f.ledger.AddChannel(f.signer.Address(), testRecipient, testGroup, 10000, 100000, 10)
	f.client.SetPaymentStrategy(payment.NewPaidStrategy())

	md, err := f.client.PaymentMetadata(context.Background())
	if err != nil {
		t.Fatalf("PaymentMetadata: %v", err)
	}
	defer md.Release()
	if v, _ := md.Get(payment.PaymentChannelAmountHeader); string(v) != "1000" {
		t.Fatalf("amount = %q", v)
	}
	if md.Channel == nil || md.Channel.ID.Sign() != 0 {
		t.Fatalf("channel = %v", md.Channel)
	}
}
