// Package grpc provides a dynamic gRPC client for marketplace services.
//
// Methods are invoked without generated stubs: the service's .proto sources
// are compiled at runtime with protocompile and requests and replies are
// dynamicpb messages. The same machinery serves the daemon's payment
// services in package daemon.
//
// # Client Creation
//
//	conn, err := grpc.DialEndpoint(ctx, "https://service.endpoint:443", 5*time.Second)
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//	client, err := grpc.NewClientFromConn(conn, protoFiles)
//
// The connection stays with the caller, which lets several clients share
// one connection.
//
// # Invocation
//
//	out, err := client.CallWithJSON(ctx, "Process", []byte(`{"key": "value"}`))
//	res, err := client.CallWithMap(ctx, "Process", map[string]any{"key": "value"})
//	msg, err := client.CallWithProto(ctx, "Process", request)
//
// Every variant accepts grpc.CallOption values, so callers can capture
// response headers or attach per-call credentials. Payment metadata travels
// in the outgoing context.
//
// # Transport Security
//
//	"https://host:443"  → TLS with system certificates
//	"http://host:8080"  → plaintext
//	"host:8080"         → plaintext
//
// # Method Resolution
//
// The first service declaring a method with the given simple name wins; the
// wire path is "/<package>.<Service>/<Method>".
package grpc
