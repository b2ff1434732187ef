// Package daemon talks to the payment services every service provider daemon
// exposes next to the service itself:
//
//   - escrow.PaymentChannelStateService/GetChannelState returns the latest
//     signed (nonce, amount) of a channel;
//   - escrow.TokenService/GetToken issues prepaid authorization tokens;
//   - escrow.FreeCallStateService/GetFreeCallsAvailable reports free calls.
//
// The service definitions are embedded as .proto sources and compiled at
// runtime, so messages travel as dynamicpb messages and callers work with
// the plain Go structs of this package. Register exposes the same services
// on a dynamic server, which is how tests stand up a fake provider.
package daemon
