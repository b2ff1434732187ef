// Package sdk is the entry point for calling paid SingularityNET services.
//
// NewSDK connects to the ledger and binds the Multi-Party Escrow and
// registry contracts. NewServiceClient resolves a service through the
// registry, dials its daemon and attaches a payment strategy that signs
// every call.
//
// # Quick Start
//
//	cfg := &config.Config{
//		RPCAddr:    "wss://sepolia.infura.io/ws/v3/PROJECT_ID",
//		PrivateKey: os.Getenv("SNET_PRIVATE_KEY"),
//		Network:    config.Sepolia,
//	}
//	core, err := sdk.NewSDK(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer core.Close()
//
//	svc, err := core.NewServiceClient(ctx, "snet", "example-service", "default_group")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer svc.Close()
//
//	out, err := svc.CallWithJSON(ctx, "add", []byte(`{"a": 1, "b": 2}`))
//
// # Payments
//
// A service client starts with payment.DefaultStrategy. It uses free calls
// while the configured free-call token has calls left, then pays through an
// escrow channel. With Config.ConcurrentCalls above 1 paid calls use prepaid
// tokens shared by up to that many calls. SetPaymentStrategy pins a single
// strategy instead.
//
// Channels are found on the ledger, opened or funded when the selected
// channel cannot cover the call, and kept in memory for the life of the
// client. OpenChannel and DepositAndOpenChannel manage them explicitly.
//
// A failed call releases the amount it reserved, so the next call signs the
// same amount again. A prepaid call rejected because the token's planned
// amount was spent is retried once with a fresh token.
//
// Worker processes can share one prepaid token: the owner passes
// Concurrency().Snapshot() to the workers, which call
// SetConcurrencyTokenAndChannel on their own clients.
//
// # Custom transports
//
// PaymentMetadata returns the headers of the next call together with a
// commit hook, for callers that send requests through their own gRPC stubs.
// NewServiceClientFromConn builds a client from an existing connection and
// already resolved group and price.
//
// # Errors
//
// Errors wrap sdkerr kinds; use errors.Is with sdkerr.ErrConfig,
// sdkerr.ErrChannelOpenFailed or sdkerr.ErrFreeCallUnavailable to tell them
// apart. Provider errors keep their gRPC status.
package sdk
