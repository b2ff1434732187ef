package daemon

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Client calls the daemon payment services over an existing connection,
// usually the one the service itself is called on.
type Client struct {
	conn grpc.ClientConnInterface
	log  *zap.Logger
}

// NewClient returns a Client over conn. A nil log discards output.
func NewClient(conn grpc.ClientConnInterface, log *zap.Logger) (*Client, error) {
	if _, err := methods(); err != nil {
		return nil, fmt.Errorf("compile daemon protos: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{conn: conn, log: log}, nil
}

// GetChannelState returns the provider's latest signed state of a channel.
// gRPC errors are returned unchanged so callers can inspect their status.
func (c *Client) GetChannelState(ctx context.Context, req *ChannelStateRequest, opts ...grpc.CallOption) (*ChannelStateReply, error) {
	desc, err := Method(MethodGetChannelState)
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, desc, encodeChannelStateRequest(desc.Input(), req), opts)
	if err != nil {
		return nil, err
	}
	reply, err := decodeChannelStateReply(out)
	if err != nil {
		return nil, fmt.Errorf("decode channel state: %w", err)
	}
	c.log.Debug("channel state reply",
		zap.Stringer("channel", req.ChannelID),
		zap.Stringer("nonce", reply.CurrentNonce),
		zap.Stringer("signed_amount", reply.CurrentSignedAmount))
	return reply, nil
}

// GetToken requests a prepaid authorization token.
func (c *Client) GetToken(ctx context.Context, req *TokenRequest, opts ...grpc.CallOption) (*TokenReply, error) {
	desc, err := Method(MethodGetToken)
	if err != nil {
		return nil, err
	}
	in, err := encodeTokenRequest(desc.Input(), req)
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, desc, in, opts)
	if err != nil {
		return nil, err
	}
	reply := decodeTokenReply(out)
	c.log.Debug("token reply",
		zap.Stringer("channel", req.ChannelID),
		zap.Uint64("planned_amount", reply.PlannedAmount),
		zap.Uint64("used_amount", reply.UsedAmount))
	return reply, nil
}

// GetFreeCallsAvailable returns the free calls left for the user.
func (c *Client) GetFreeCallsAvailable(ctx context.Context, req *FreeCallStateRequest, opts ...grpc.CallOption) (*FreeCallStateReply, error) {
	desc, err := Method(MethodGetFreeCallsAvailable)
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, desc, encodeFreeCallStateRequest(desc.Input(), req), opts)
	if err != nil {
		return nil, err
	}
	return decodeFreeCallStateReply(out), nil
}

func (c *Client) invoke(ctx context.Context, desc protoreflect.MethodDescriptor, in message, opts []grpc.CallOption) (message, error) {
	out := newMessage(desc.Output())
	method := "/" + string(desc.Parent().FullName()) + "/" + string(desc.Name())
	if err := c.conn.Invoke(ctx, method, in.Message, out.Message, opts...); err != nil {
		return message{}, err
	}
	return out, nil
}
