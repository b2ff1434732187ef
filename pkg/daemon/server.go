package daemon

import (
	"context"

	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Server is the provider side of the daemon payment services.
type Server interface {
	GetChannelState(ctx context.Context, req *ChannelStateRequest) (*ChannelStateReply, error)
	GetToken(ctx context.Context, req *TokenRequest) (*TokenReply, error)
	GetFreeCallsAvailable(ctx context.Context, req *FreeCallStateRequest) (*FreeCallStateReply, error)
}

// Registrar accepts dynamic unary handlers keyed by full method name.
type Registrar interface {
	Handle(fullMethod string, input protoreflect.MessageDescriptor, fn func(ctx context.Context, md metadata.MD, req *dynamicpb.Message) (proto.Message, error))
}

// Register serves srv's methods on r.
func Register(r Registrar, srv Server) error {
	state, err := Method(MethodGetChannelState)
	if err != nil {
		return err
	}
	token, err := Method(MethodGetToken)
	if err != nil {
		return err
	}
	free, err := Method(MethodGetFreeCallsAvailable)
	if err != nil {
		return err
	}

	r.Handle(MethodGetChannelState, state.Input(), func(ctx context.Context, _ metadata.MD, req *dynamicpb.Message) (proto.Message, error) {
		reply, err := srv.GetChannelState(ctx, decodeChannelStateRequest(message{req}))
		if err != nil {
			return nil, err
		}
		return encodeChannelStateReply(state.Output(), reply).Message, nil
	})
	r.Handle(MethodGetToken, token.Input(), func(ctx context.Context, _ metadata.MD, req *dynamicpb.Message) (proto.Message, error) {
		reply, err := srv.GetToken(ctx, decodeTokenRequest(message{req}))
		if err != nil {
			return nil, err
		}
		return encodeTokenReply(token.Output(), reply).Message, nil
	})
	r.Handle(MethodGetFreeCallsAvailable, free.Input(), func(ctx context.Context, _ metadata.MD, req *dynamicpb.Message) (proto.Message, error) {
		reply, err := srv.GetFreeCallsAvailable(ctx, decodeFreeCallStateRequest(message{req}))
		if err != nil {
			return nil, err
		}
		return encodeFreeCallStateReply(free.Output(), reply).Message, nil
	})
	return nil
}
