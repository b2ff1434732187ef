package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bufbuild/protocompile/linker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Client is a dynamic gRPC client that holds a client connection and a set of
// compiled file descriptors used to locate services and methods at runtime.
type Client struct {
	// Conn is the underlying client connection.
	Conn grpc.ClientConnInterface `json:"-"`
	// ProtoFiles are the compiled descriptors of the provided .proto sources.
	ProtoFiles linker.Files `json:"-"`
}

// NewClientFromConn compiles protoFiles and binds them to an existing
// connection the caller owns.
func NewClientFromConn(conn grpc.ClientConnInterface, protoFiles map[string]string) (*Client, error) {
	descriptors, err := Compile(context.Background(), protoFiles)
	if err != nil {
		return nil, err
	}
	return &Client{Conn: conn, ProtoFiles: descriptors}, nil
}

// Dial creates a client connection for endpoint:
//   - "https://": TLS (system defaults)
//   - "http://":  insecure
//   - no scheme:  insecure
func Dial(endpoint string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	addr, creds := grpcCredsFromEndpoint(endpoint)
	conn, err := grpc.NewClient(addr, append([]grpc.DialOption{creds}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return conn, nil
}

// DialEndpoint dials endpoint and waits up to timeout for the connection to
// become ready.
func DialEndpoint(ctx context.Context, endpoint string, timeout time.Duration) (*grpc.ClientConn, error) {
	conn, err := Dial(endpoint)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return conn, nil
		}
		if !conn.WaitForStateChange(ctx, state) {
			_ = conn.Close()
			return nil, fmt.Errorf("dial %s: %w (last state %s)", endpoint, ctx.Err(), state)
		}
	}
}

// CallWithMap invokes a unary RPC by method name using a map as the request
// body. The map is JSON-encoded and then routed through CallWithJSON.
func (c *Client) CallWithMap(ctx context.Context, method string, params map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	jsonData, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	jsonStr, err := c.CallWithJSON(ctx, method, jsonData, opts...)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(jsonStr, &result); err != nil {
		return nil, err
	}

	return result, nil
}

// CallWithProto invokes a unary RPC by method name with a concrete proto.Message
// request and returns a dynamic proto.Message response.
func (c *Client) CallWithProto(ctx context.Context, method string, req proto.Message, opts ...grpc.CallOption) (proto.Message, error) {
	fd, methodDesc, err := FindMethod(c.ProtoFiles, method)
	if err != nil {
		return nil, err
	}
	out := dynamicpb.NewMessage(methodDesc.Output())
	if err := c.Conn.Invoke(ctx, FullMethodName(fd, methodDesc), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CallWithJSON invokes a unary RPC by method name using a JSON request body.
// Unknown fields are discarded and partial messages allowed; the response is
// marshaled back to JSON with proto field names and unpopulated fields emitted.
func (c *Client) CallWithJSON(ctx context.Context, method string, body []byte, opts ...grpc.CallOption) ([]byte, error) {
	fd, methodDesc, err := FindMethod(c.ProtoFiles, method)
	if err != nil {
		return nil, err
	}

	in := dynamicpb.NewMessage(methodDesc.Input())
	out := dynamicpb.NewMessage(methodDesc.Output())

	err = protojson.UnmarshalOptions{
		AllowPartial:   true,
		DiscardUnknown: true,
	}.Unmarshal(body, in)
	if err != nil {
		return nil, fmt.Errorf("decode %s request: %w", method, err)
	}

	if err := c.Conn.Invoke(ctx, FullMethodName(fd, methodDesc), in, out, opts...); err != nil {
		return nil, err
	}

	return protojson.MarshalOptions{
		EmitUnpopulated: true,
		UseProtoNames:   true,
	}.Marshal(out)
}

// grpcCredsFromEndpoint derives a dial address and dial option from an endpoint URL.
func grpcCredsFromEndpoint(endpoint string) (string, grpc.DialOption) {
	if strings.HasPrefix(endpoint, "https://") {
		return strings.TrimPrefix(endpoint, "https://"), grpc.WithTransportCredentials(credentials.NewTLS(nil))
	}
	if strings.HasPrefix(endpoint, "http://") {
		return strings.TrimPrefix(endpoint, "http://"), grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	return endpoint, grpc.WithTransportCredentials(insecure.NewCredentials())
}
