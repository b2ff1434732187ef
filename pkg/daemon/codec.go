package daemon

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"math/big"
	"path"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	sdkgrpc "github.com/singnet/snet-payments-go/pkg/grpc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Full method names of the daemon payment services.
const (
	MethodGetChannelState       = "/escrow.PaymentChannelStateService/GetChannelState"
	MethodGetToken              = "/escrow.TokenService/GetToken"
	MethodGetFreeCallsAvailable = "/escrow.FreeCallStateService/GetFreeCallsAvailable"
)

//go:embed proto/*.proto
var protoFS embed.FS

var methods = sync.OnceValues(loadMethods)

func loadMethods() (map[string]protoreflect.MethodDescriptor, error) {
	sources := make(map[string]string)
	entries, err := fs.ReadDir(protoFS, "proto")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		raw, err := protoFS.ReadFile(path.Join("proto", e.Name()))
		if err != nil {
			return nil, err
		}
		sources[e.Name()] = string(raw)
	}
	files, err := sdkgrpc.Compile(context.Background(), sources)
	if err != nil {
		return nil, err
	}

	out := make(map[string]protoreflect.MethodDescriptor)
	for _, name := range []string{"GetChannelState", "GetToken", "GetFreeCallsAvailable"} {
		fd, md, err := sdkgrpc.FindMethod(files, name)
		if err != nil {
			return nil, err
		}
		out[sdkgrpc.FullMethodName(fd, md)] = md
	}
	return out, nil
}

// Method returns the descriptor of one of the daemon methods.
func Method(fullMethod string) (protoreflect.MethodDescriptor, error) {
	all, err := methods()
	if err != nil {
		return nil, fmt.Errorf("compile daemon protos: %w", err)
	}
	md, ok := all[fullMethod]
	if !ok {
		return nil, fmt.Errorf("unknown daemon method %s", fullMethod)
	}
	return md, nil
}

// message wraps a dynamic message with by-name accessors. Field names are
// those of the embedded protos.
type message struct {
	*dynamicpb.Message
}

func newMessage(desc protoreflect.MessageDescriptor) message {
	return message{dynamicpb.NewMessage(desc)}
}

func (m message) field(name string) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic(fmt.Sprintf("daemon: %s has no field %s", m.Descriptor().FullName(), name))
	}
	return fd
}

func (m message) setBytes(name string, b []byte) {
	m.Set(m.field(name), protoreflect.ValueOfBytes(b))
}

func (m message) setUint(name string, v uint64) {
	m.Set(m.field(name), protoreflect.ValueOfUint64(v))
}

func (m message) setString(name, v string) {
	m.Set(m.field(name), protoreflect.ValueOfString(v))
}

func (m message) getBytes(name string) []byte {
	return m.Get(m.field(name)).Bytes()
}

func (m message) getUint(name string) uint64 {
	return m.Get(m.field(name)).Uint()
}

func (m message) getString(name string) string {
	return m.Get(m.field(name)).String()
}

// bigUint parses a big-endian field; an absent field is zero.
func (m message) bigUint(name string) (*big.Int, error) {
	v, err := blockchain.ParseUint256BE(m.getBytes(name))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func uint64Of(name string, v *big.Int) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("%s %s does not fit the token service's uint64 field", name, v)
	}
	return v.Uint64(), nil
}

func word(v *big.Int) []byte {
	if v == nil {
		return common.Hash{}.Bytes()
	}
	return common.BigToHash(v).Bytes()
}

func encodeChannelStateRequest(desc protoreflect.MessageDescriptor, r *ChannelStateRequest) message {
	m := newMessage(desc)
	m.setBytes("channel_id", word(r.ChannelID))
	m.setBytes("signature", r.Signature)
	m.setUint("current_block", r.CurrentBlock)
	return m
}

func decodeChannelStateRequest(m message) *ChannelStateRequest {
	return &ChannelStateRequest{
		ChannelID:    new(big.Int).SetBytes(m.getBytes("channel_id")),
		Signature:    m.getBytes("signature"),
		CurrentBlock: m.getUint("current_block"),
	}
}

func encodeChannelStateReply(desc protoreflect.MessageDescriptor, r *ChannelStateReply) message {
	m := newMessage(desc)
	if r.CurrentNonce != nil {
		m.setBytes("current_nonce", r.CurrentNonce.Bytes())
	}
	if r.CurrentSignedAmount != nil {
		m.setBytes("current_signed_amount", r.CurrentSignedAmount.Bytes())
	}
	m.setBytes("current_signature", r.CurrentSignature)
	if r.OldNonceSignedAmount != nil {
		m.setBytes("old_nonce_signed_amount", r.OldNonceSignedAmount.Bytes())
	}
	m.setBytes("old_nonce_signature", r.OldNonceSignature)
	m.setUint("planned_amount", r.PlannedAmount)
	m.setUint("used_amount", r.UsedAmount)
	return m
}

func decodeChannelStateReply(m message) (*ChannelStateReply, error) {
	nonce, err := m.bigUint("current_nonce")
	if err != nil {
		return nil, err
	}
	signed, err := m.bigUint("current_signed_amount")
	if err != nil {
		return nil, err
	}
	oldSigned, err := m.bigUint("old_nonce_signed_amount")
	if err != nil {
		return nil, err
	}
	return &ChannelStateReply{
		CurrentNonce:         nonce,
		CurrentSignedAmount:  signed,
		CurrentSignature:     m.getBytes("current_signature"),
		OldNonceSignedAmount: oldSigned,
		OldNonceSignature:    m.getBytes("old_nonce_signature"),
		PlannedAmount:        m.getUint("planned_amount"),
		UsedAmount:           m.getUint("used_amount"),
	}, nil
}

func encodeTokenRequest(desc protoreflect.MessageDescriptor, r *TokenRequest) (message, error) {
	m := newMessage(desc)
	for _, f := range []struct {
		name string
		v    *big.Int
	}{
		{"channel_id", r.ChannelID},
		{"current_nonce", r.CurrentNonce},
		{"signed_amount", r.SignedAmount},
	} {
		n, err := uint64Of(f.name, f.v)
		if err != nil {
			return message{}, err
		}
		m.setUint(f.name, n)
	}
	m.setBytes("signature", r.Signature)
	m.setUint("current_block", r.CurrentBlock)
	m.setBytes("claim_signature", r.ClaimSignature)
	return m, nil
}

func decodeTokenRequest(m message) *TokenRequest {
	return &TokenRequest{
		ChannelID:      new(big.Int).SetUint64(m.getUint("channel_id")),
		CurrentNonce:   new(big.Int).SetUint64(m.getUint("current_nonce")),
		SignedAmount:   new(big.Int).SetUint64(m.getUint("signed_amount")),
		Signature:      m.getBytes("signature"),
		CurrentBlock:   m.getUint("current_block"),
		ClaimSignature: m.getBytes("claim_signature"),
	}
}

func encodeTokenReply(desc protoreflect.MessageDescriptor, r *TokenReply) message {
	m := newMessage(desc)
	m.setUint("channel_id", r.ChannelID)
	m.setString("token", string(r.Token))
	m.setUint("planned_amount", r.PlannedAmount)
	m.setUint("used_amount", r.UsedAmount)
	return m
}

func decodeTokenReply(m message) *TokenReply {
	return &TokenReply{
		ChannelID:     m.getUint("channel_id"),
		Token:         []byte(m.getString("token")),
		PlannedAmount: m.getUint("planned_amount"),
		UsedAmount:    m.getUint("used_amount"),
	}
}

func encodeFreeCallStateRequest(desc protoreflect.MessageDescriptor, r *FreeCallStateRequest) message {
	m := newMessage(desc)
	m.setString("user_id", r.UserID)
	m.setBytes("token_for_free_call", r.Token)
	m.setUint("token_expiry_date_block", r.TokenExpiryBlock)
	m.setBytes("signature", r.Signature)
	m.setUint("current_block", r.CurrentBlock)
	m.setString("user_address", r.UserAddress.Hex())
	return m
}

func decodeFreeCallStateRequest(m message) *FreeCallStateRequest {
	return &FreeCallStateRequest{
		UserID:           m.getString("user_id"),
		Token:            m.getBytes("token_for_free_call"),
		TokenExpiryBlock: m.getUint("token_expiry_date_block"),
		Signature:        m.getBytes("signature"),
		CurrentBlock:     m.getUint("current_block"),
		UserAddress:      common.HexToAddress(m.getString("user_address")),
	}
}

func encodeFreeCallStateReply(desc protoreflect.MessageDescriptor, r *FreeCallStateReply) message {
	m := newMessage(desc)
	m.setString("user_id", r.UserID)
	m.setUint("free_calls_available", r.FreeCallsAvailable)
	return m
}

func decodeFreeCallStateReply(m message) *FreeCallStateReply {
	return &FreeCallStateReply{
		UserID:             m.getString("user_id"),
		FreeCallsAvailable: m.getUint("free_calls_available"),
	}
}
