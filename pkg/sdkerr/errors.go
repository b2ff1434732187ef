// Package sdkerr defines the error kinds surfaced by the payment SDK.
//
// Every failure that callers are expected to branch on is a *Error carrying a
// stable Kind (and optionally a Reason) together with enough context to
// reconstruct the failing operation: the contract method or service RPC, the
// transaction hash, the channel id and the scanned block range.
//
// Use errors.Is with the exported sentinels to test for a kind:
//
//	if errors.Is(err, sdkerr.ErrPlannedExhausted) {
//		// refresh the prepaid token
//	}
package sdkerr

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Kind is the stable, user-visible tag of an error.
type Kind string

const (
	KindConfig                  Kind = "config_error"
	KindLedger                  Kind = "ledger_error"
	KindChannelOpenFailed       Kind = "channel_open_failed"
	KindChannelNotFound         Kind = "channel_not_found"
	KindStateServiceUnavailable Kind = "state_service_unavailable"
	KindTokenService            Kind = "token_service_error"
	KindFreeCallUnavailable     Kind = "free_call_unavailable"
	KindSignature               Kind = "signature_error"
)

// Reason refines a Kind. Ledger errors use the first group, token service
// errors the second.
type Reason string

const (
	ReasonReverted Reason = "reverted"
	ReasonTimeout  Reason = "timeout"
	ReasonSigning  Reason = "signing"
	ReasonEncoding Reason = "encoding"

	ReasonPlannedExhausted Reason = "planned_exhausted"
	ReasonUnauthorized     Reason = "unauthorized"
	ReasonTransport        Reason = "transport"
)

// Sentinels for errors.Is. A sentinel without a Reason matches every error of
// its Kind.
var (
	ErrConfig                  = &Error{Kind: KindConfig}
	ErrLedger                  = &Error{Kind: KindLedger}
	ErrLedgerReverted          = &Error{Kind: KindLedger, Reason: ReasonReverted}
	ErrLedgerTimeout           = &Error{Kind: KindLedger, Reason: ReasonTimeout}
	ErrChannelOpenFailed       = &Error{Kind: KindChannelOpenFailed}
	ErrChannelNotFound         = &Error{Kind: KindChannelNotFound}
	ErrStateServiceUnavailable = &Error{Kind: KindStateServiceUnavailable}
	ErrTokenService            = &Error{Kind: KindTokenService}
	ErrPlannedExhausted        = &Error{Kind: KindTokenService, Reason: ReasonPlannedExhausted}
	ErrUnauthorized            = &Error{Kind: KindTokenService, Reason: ReasonUnauthorized}
	ErrFreeCallUnavailable     = &Error{Kind: KindFreeCallUnavailable}
	ErrSignature               = &Error{Kind: KindSignature}
)

// Error is the structured error type of the SDK.
type Error struct {
	Kind   Kind
	Reason Reason
	// Op names the failing operation: a contract method ("channelAddFunds"),
	// a service RPC ("GetToken") or an SDK step ("scan ChannelOpen").
	Op        string
	TxHash    common.Hash
	ChannelID *big.Int
	// FromBlock and ToBlock are set when HasBlocks is true.
	FromBlock uint64
	ToBlock   uint64
	HasBlocks bool
	Receipt   *types.Receipt
	Err       error
}

// Tag returns the stable string tag: the kind, or "kind/reason".
func (e *Error) Tag() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + "/" + string(e.Reason)
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Tag())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.TxHash != (common.Hash{}) {
		fmt.Fprintf(&b, " tx=%s", e.TxHash.Hex())
	}
	if e.ChannelID != nil {
		fmt.Fprintf(&b, " channel=%s", e.ChannelID)
	}
	if e.HasBlocks {
		fmt.Fprintf(&b, " blocks=[%d,%d]", e.FromBlock, e.ToBlock)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, and by reason when the target has one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// WithTx returns e with the transaction hash set.
func (e *Error) WithTx(hash common.Hash) *Error {
	e.TxHash = hash
	return e
}

// WithChannel returns e with the channel id set.
func (e *Error) WithChannel(id *big.Int) *Error {
	if id != nil {
		e.ChannelID = new(big.Int).Set(id)
	}
	return e
}

// WithBlocks returns e with the block range set.
func (e *Error) WithBlocks(from, to uint64) *Error {
	e.FromBlock, e.ToBlock, e.HasBlocks = from, to, true
	return e
}

// WithReceipt returns e with the receipt set. The receipt's tx hash is copied
// when none was recorded yet.
func (e *Error) WithReceipt(r *types.Receipt) *Error {
	e.Receipt = r
	if r != nil && e.TxHash == (common.Hash{}) {
		e.TxHash = r.TxHash
	}
	return e
}

// Config builds a ConfigError.
func Config(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

// Ledger builds a LedgerError for the contract method op.
func Ledger(reason Reason, op string, err error) *Error {
	return &Error{Kind: KindLedger, Reason: reason, Op: op, Err: err}
}

// ChannelOpenFailed reports that no ChannelOpen event matched the open tx.
func ChannelOpenFailed(op string, tx common.Hash) *Error {
	return &Error{Kind: KindChannelOpenFailed, Op: op, TxHash: tx}
}

// ChannelNotFound reports a channel id unknown to the store.
func ChannelNotFound(id *big.Int) *Error {
	return (&Error{Kind: KindChannelNotFound}).WithChannel(id)
}

// StateServiceUnavailable wraps a failure of the daemon state service.
func StateServiceUnavailable(id *big.Int, err error) *Error {
	return (&Error{Kind: KindStateServiceUnavailable, Op: "GetChannelState", Err: err}).WithChannel(id)
}

// TokenService wraps a failure of the daemon token service.
func TokenService(reason Reason, err error) *Error {
	return &Error{Kind: KindTokenService, Reason: reason, Op: "GetToken", Err: err}
}

// FreeCallUnavailable reports that a free call cannot be made.
func FreeCallUnavailable(err error) *Error {
	return &Error{Kind: KindFreeCallUnavailable, Op: "GetFreeCallsAvailable", Err: err}
}

// Signature wraps a hashing or signing failure.
func Signature(op string, err error) *Error {
	return &Error{Kind: KindSignature, Op: op, Err: err}
}

// TagOf returns the tag of the first *Error in err's chain, or "" if none.
func TagOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Tag()
	}
	return ""
}
