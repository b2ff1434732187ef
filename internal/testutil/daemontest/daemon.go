// Package daemontest is an in-memory service provider for tests: it answers
// the daemon payment services and serves an example Calculator service that
// checks payment headers the way a daemon does.
package daemontest

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/singnet/snet-payments-go/internal/testutil/grpcbuf"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/daemon"
	sgrpc "github.com/singnet/snet-payments-go/pkg/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// CalculatorProto is the example service served next to the payment services.
const CalculatorProto = `syntax = "proto3";
package example_service;

message Numbers {
  float a = 1;
  float b = 2;
}

message Result {
  float value = 1;
}

service Calculator {
  rpc add(Numbers) returns (Result);
  rpc mul(Numbers) returns (Result);
}
`

// ProtoFiles returns the example service's proto sources.
func ProtoFiles() map[string]string {
	return map[string]string{"example_service.proto": CalculatorProto}
}

// Claim is an escrow claim received with a call.
type Claim struct {
	ChannelID *big.Int
	Nonce     *big.Int
	Amount    *big.Int
	Signer    common.Address
}

type signedState struct {
	nonce  *big.Int
	amount *big.Int
}

type issuedToken struct {
	channel string
	nonce   string
	planned uint64
	used    uint64
}

// Daemon is a fake provider. Exported fields may be set before Start.
type Daemon struct {
	// Price is the cogs charged per call.
	Price uint64
	// MPE is the escrow address claims are hashed with.
	MPE common.Address
	// FreeCalls is the number of free calls left.
	FreeCalls uint64
	// FailService makes the service RPC fail with this error once.
	FailService error
	// FailToken makes the next token request fail with this error once.
	FailToken error

	mu      sync.Mutex
	state   map[string]*signedState
	spent   map[string]uint64
	tokens  map[string]*issuedToken
	claims  []Claim
	tokenRq []*daemon.TokenRequest
	stateRq []*daemon.ChannelStateRequest
	freeRq  []*daemon.FreeCallStateRequest
	served  map[string]int
	seq     int
}

// New returns a provider charging price per call for escrow mpe.
func New(mpe common.Address, price uint64) *Daemon {
	return &Daemon{
		Price:  price,
		MPE:    mpe,
		state:  make(map[string]*signedState),
		spent:  make(map[string]uint64),
		tokens: make(map[string]*issuedToken),
		served: make(map[string]int),
	}
}

// Start serves the payment services and the Calculator on a new in-memory
// server.
func (d *Daemon) Start() (*grpcbuf.Server, error) {
	srv := grpcbuf.StartServer()
	if err := daemon.Register(srv, d); err != nil {
		srv.Stop()
		return nil, err
	}
	files, err := sgrpc.Compile(context.Background(), ProtoFiles())
	if err != nil {
		srv.Stop()
		return nil, err
	}
	for _, name := range []string{"add", "mul"} {
		fd, md, err := sgrpc.FindMethod(files, name)
		if err != nil {
			srv.Stop()
			return nil, err
		}
		srv.Handle(sgrpc.FullMethodName(fd, md), md.Input(), d.calculator(name, md.Output()))
	}
	return srv, nil
}

// SetSigned sets the provider's view of a channel.
func (d *Daemon) SetSigned(id, nonce, amount *big.Int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state[id.String()] = &signedState{nonce: new(big.Int).Set(nonce), amount: new(big.Int).Set(amount)}
}

// Claims returns the escrow claims received, in order.
func (d *Daemon) Claims() []Claim {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Claim(nil), d.claims...)
}

// TokenRequests returns the GetToken requests received, in order.
func (d *Daemon) TokenRequests() []*daemon.TokenRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*daemon.TokenRequest(nil), d.tokenRq...)
}

// StateRequests returns the GetChannelState requests received, in order.
func (d *Daemon) StateRequests() []*daemon.ChannelStateRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*daemon.ChannelStateRequest(nil), d.stateRq...)
}

// FreeCallRequests returns the GetFreeCallsAvailable requests received.
func (d *Daemon) FreeCallRequests() []*daemon.FreeCallStateRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*daemon.FreeCallStateRequest(nil), d.freeRq...)
}

// Served returns how many calls of a payment type were served.
func (d *Daemon) Served(paymentType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.served[paymentType]
}

func (d *Daemon) GetChannelState(_ context.Context, req *daemon.ChannelStateRequest) (*daemon.ChannelStateReply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateRq = append(d.stateRq, req)
	st, ok := d.state[req.ChannelID.String()]
	if !ok {
		return &daemon.ChannelStateReply{}, nil
	}
	return &daemon.ChannelStateReply{
		CurrentNonce:        new(big.Int).Set(st.nonce),
		CurrentSignedAmount: new(big.Int).Set(st.amount),
	}, nil
}

// GetToken issues a token whose planned amount is the signed amount and
// whose used amount is what the channel already spent at that nonce.
func (d *Daemon) GetToken(_ context.Context, req *daemon.TokenRequest) (*daemon.TokenReply, error) {
	digest, err := blockchain.ClaimHash(d.MPE, req.ChannelID, req.CurrentNonce, req.SignedAmount)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	claimer, err := blockchain.RecoverSigner(digest, req.ClaimSignature)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "bad claim signature")
	}
	outer, err := blockchain.StructuredHash([]string{"bytes", "uint256"}, []any{req.ClaimSignature, req.CurrentBlock})
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if signer, err := blockchain.RecoverSigner(outer, req.Signature); err != nil || signer != claimer {
		return nil, status.Error(codes.Unauthenticated, "request signature does not match claim")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokenRq = append(d.tokenRq, req)
	if d.FailToken != nil {
		err := d.FailToken
		d.FailToken = nil
		return nil, err
	}
	key := spendKey(req.ChannelID, req.CurrentNonce)
	if !req.SignedAmount.IsUint64() {
		return nil, status.Error(codes.InvalidArgument, "signed amount too large")
	}
	d.seq++
	tok := &issuedToken{
		channel: req.ChannelID.String(),
		nonce:   req.CurrentNonce.String(),
		planned: req.SignedAmount.Uint64(),
		used:    d.spent[key],
	}
	value := "token-" + strconv.Itoa(d.seq)
	d.tokens[value] = tok
	d.state[req.ChannelID.String()] = &signedState{nonce: new(big.Int).Set(req.CurrentNonce), amount: new(big.Int).Set(req.SignedAmount)}
	return &daemon.TokenReply{
		ChannelID:     req.ChannelID.Uint64(),
		Token:         []byte(value),
		PlannedAmount: tok.planned,
		UsedAmount:    tok.used,
	}, nil
}

func (d *Daemon) GetFreeCallsAvailable(_ context.Context, req *daemon.FreeCallStateRequest) (*daemon.FreeCallStateReply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freeRq = append(d.freeRq, req)
	if len(req.Token) == 0 {
		return nil, status.Error(codes.Unauthenticated, "free call token required")
	}
	return &daemon.FreeCallStateReply{UserID: req.UserID, FreeCallsAvailable: d.FreeCalls}, nil
}

func (d *Daemon) calculator(name string, output protoreflect.MessageDescriptor) grpcbuf.HandlerFunc {
	return func(_ context.Context, md metadata.MD, req *dynamicpb.Message) (proto.Message, error) {
		if err := d.charge(md); err != nil {
			return nil, err
		}
		fields := req.Descriptor().Fields()
		a := req.Get(fields.ByName("a")).Float()
		b := req.Get(fields.ByName("b")).Float()
		value := a + b
		if name == "mul" {
			value = a * b
		}
		out := dynamicpb.NewMessage(output)
		out.Set(output.Fields().ByName("value"), protoreflect.ValueOfFloat32(float32(value)))
		return out, nil
	}
}

func (d *Daemon) charge(md metadata.MD) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailService != nil {
		err := d.FailService
		d.FailService = nil
		return err
	}
	paymentType := first(md, "snet-payment-type")
	var err error
	switch paymentType {
	case "escrow":
		err = d.chargeEscrowLocked(md)
	case "prepaid-call":
		err = d.chargePrepaidLocked(md)
	case "free-call":
		err = d.chargeFreeLocked(md)
	default:
		err = status.Errorf(codes.InvalidArgument, "unknown payment type %q", paymentType)
	}
	if err == nil {
		d.served[paymentType]++
	}
	return err
}

func (d *Daemon) chargeEscrowLocked(md metadata.MD) error {
	id, ok1 := new(big.Int).SetString(first(md, "snet-payment-channel-id"), 10)
	nonce, ok2 := new(big.Int).SetString(first(md, "snet-payment-channel-nonce"), 10)
	amount, ok3 := new(big.Int).SetString(first(md, "snet-payment-channel-amount"), 10)
	if !ok1 || !ok2 || !ok3 {
		return status.Error(codes.InvalidArgument, "malformed escrow headers")
	}
	digest, err := blockchain.ClaimHash(d.MPE, id, nonce, amount)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	signer, err := blockchain.RecoverSigner(digest, []byte(first(md, "snet-payment-channel-signature-bin")))
	if err != nil {
		return status.Error(codes.Unauthenticated, "bad payment signature")
	}
	prev := new(big.Int)
	if st, ok := d.state[id.String()]; ok && st.nonce.Cmp(nonce) == 0 {
		prev = st.amount
	}
	want := new(big.Int).Add(prev, new(big.Int).SetUint64(d.Price))
	if amount.Cmp(want) < 0 {
		return status.Errorf(codes.Unauthenticated, "signed amount %s below expected %s", amount, want)
	}
	d.state[id.String()] = &signedState{nonce: nonce, amount: amount}
	d.claims = append(d.claims, Claim{ChannelID: id, Nonce: nonce, Amount: amount, Signer: signer})
	return nil
}

func (d *Daemon) chargePrepaidLocked(md metadata.MD) error {
	tok, ok := d.tokens[first(md, "snet-prepaid-auth-token-bin")]
	if !ok {
		return status.Error(codes.Unauthenticated, "unknown prepaid token")
	}
	if tok.channel != first(md, "snet-payment-channel-id") || tok.nonce != first(md, "snet-payment-channel-nonce") {
		return status.Error(codes.Unauthenticated, "token issued for another channel")
	}
	key := tok.channel + "/" + tok.nonce
	if d.spent[key]+d.Price > tok.planned {
		return status.Error(codes.FailedPrecondition, fmt.Sprintf("%s: used %d of %d", "Unable to retrieve planned Amount", d.spent[key], tok.planned))
	}
	d.spent[key] += d.Price
	tok.used = d.spent[key]
	return nil
}

func (d *Daemon) chargeFreeLocked(md metadata.MD) error {
	if first(md, "snet-free-call-auth-token-bin") == "" {
		return status.Error(codes.Unauthenticated, "free call token required")
	}
	if d.FreeCalls == 0 {
		return status.Error(codes.PermissionDenied, "no free calls left")
	}
	d.FreeCalls--
	return nil
}

func spendKey(id, nonce *big.Int) string {
	return id.String() + "/" + nonce.String()
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
