package payment

// gRPC metadata headers of the daemon payment protocol. Names ending in
// "-bin" carry raw bytes.
const (
	// PaymentTypeHeader is the type of payment used for an RPC call:
	// "escrow", "prepaid-call" or "free-call".
	PaymentTypeHeader = "snet-payment-type"
	// ClientTypeHeader identifies the client making the call.
	ClientTypeHeader = "snet-client-type"
	// PaymentChannelIDHeader is a MultiPartyEscrow payment channel id.
	// Value is a string containing a decimal number.
	PaymentChannelIDHeader = "snet-payment-channel-id"
	// PaymentChannelNonceHeader is a payment channel nonce value. Value is a
	// string containing a decimal number.
	PaymentChannelNonceHeader = "snet-payment-channel-nonce"
	// PaymentChannelAmountHeader is the cumulative amount the server is
	// authorized to withdraw after handling the call. Value is a string
	// containing a decimal number.
	PaymentChannelAmountHeader = "snet-payment-channel-amount"
	// PaymentChannelSignatureHeader is the client's 65-byte signature.
	PaymentChannelSignatureHeader = "snet-payment-channel-signature-bin"
	// PaymentMultiPartyEscrowAddressHeader contains the MPE contract address.
	PaymentMultiPartyEscrowAddressHeader = "snet-payment-mpe-address"

	// Free call support headers

	// FreeCallUserIdHeader contains the user id (email) of the free-call user.
	FreeCallUserIdHeader = "snet-free-call-user-id"
	// FreeCallUserAddressHeader contains the user's Ethereum address.
	FreeCallUserAddressHeader = "snet-free-call-user-address"
	// CurrentBlockNumberHeader is the block the signature is bound to.
	CurrentBlockNumberHeader = "snet-current-block-number"
	// FreeCallAuthTokenHeader contains the provider-issued free-call token.
	FreeCallAuthTokenHeader = "snet-free-call-auth-token-bin"
	// FreeCallAuthTokenExpiryBlockNumberHeader is the block at which the
	// free-call token expires.
	FreeCallAuthTokenExpiryBlockNumberHeader = "snet-free-call-token-expiry-block"

	// PrePaidAuthTokenHeader contains the prepaid authorization token.
	PrePaidAuthTokenHeader = "snet-prepaid-auth-token-bin"
)

// Message prefixes of signed payloads.
const (
	// FreeCallPrefixSignature prefixes free-call signatures.
	FreeCallPrefixSignature = "__prefix_free_trial"
	// FreeCallEmailSignature separates the user address from the email.
	FreeCallEmailSignature = "__email"
)

// PlannedAmountExhausted is the daemon's error text when a prepaid token
// has no planned amount left.
const PlannedAmountExhausted = "Unable to retrieve planned Amount"
