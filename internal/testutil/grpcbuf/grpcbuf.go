// Package grpcbuf runs in-memory gRPC servers for tests. Handlers are
// registered per full method name and receive dynamic messages, so any
// compiled proto service can be served without generated code.
package grpcbuf

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

const bufSize = 1024 * 1024

// HandlerFunc answers one unary call. md is the incoming metadata.
type HandlerFunc = func(ctx context.Context, md metadata.MD, req *dynamicpb.Message) (proto.Message, error)

type handler struct {
	input protoreflect.MessageDescriptor
	fn    HandlerFunc
}

// Call is one recorded invocation.
type Call struct {
	Method   string
	Metadata metadata.MD
}

// Server is a bufconn-backed gRPC server answering registered methods.
type Server struct {
	srv *grpc.Server
	lis *bufconn.Listener

	mu       sync.Mutex
	handlers map[string]handler
	calls    []Call
}

// StartServer starts an empty server. Register handlers with Handle.
func StartServer() *Server {
	s := &Server{
		lis:      bufconn.Listen(bufSize),
		handlers: make(map[string]handler),
	}
	s.srv = grpc.NewServer(grpc.UnknownServiceHandler(s.serve))
	go func() { _ = s.srv.Serve(s.lis) }()
	return s
}

// Handle registers fn for fullMethod ("/pkg.Service/Method"). input is the
// request descriptor used to decode incoming messages.
func (s *Server) Handle(fullMethod string, input protoreflect.MessageDescriptor, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[fullMethod] = handler{input: input, fn: fn}
}

// Calls returns the recorded invocations in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times fullMethod was invoked.
func (s *Server) CallCount(fullMethod string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == fullMethod {
			n++
		}
	}
	return n
}

// LastMetadata returns the metadata of the last call to fullMethod, or nil.
func (s *Server) LastMetadata(fullMethod string) metadata.MD {
	calls := s.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == fullMethod {
			return calls[i].Metadata
		}
	}
	return nil
}

func (s *Server) serve(_ any, stream grpc.ServerStream) error {
	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method in stream")
	}
	md, _ := metadata.FromIncomingContext(stream.Context())

	s.mu.Lock()
	h, found := s.handlers[method]
	s.calls = append(s.calls, Call{Method: method, Metadata: md.Copy()})
	s.mu.Unlock()
	if !found {
		return status.Errorf(codes.Unimplemented, "method %s not registered", method)
	}

	req := dynamicpb.NewMessage(h.input)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	resp, err := h.fn(stream.Context(), md, req)
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("handler for %s returned no reply", method)
	}
	return stream.SendMsg(resp)
}

// Dial connects to the server through the in-memory listener.
func (s *Server) Dial(opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialer := func(context.Context, string) (net.Conn, error) { return s.lis.Dial() }
	// Use NewClient with a passthrough target so the custom dialer is honored.
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
	}
	return grpc.NewClient("passthrough://bufnet", append(base, opts...)...)
}

// Stop stops the server and closes the listener.
func (s *Server) Stop() {
	s.srv.Stop()
	_ = s.lis.Close()
}
