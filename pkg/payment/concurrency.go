package payment

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/singnet/snet-payments-go/pkg/channel"
	"github.com/singnet/snet-payments-go/pkg/daemon"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"go.uber.org/zap"
)

var errNoDaemon = errors.New("no token service client")

// ConcurrencyManager holds the prepaid token of one service client and
// serializes its issuance. The planned amount of a token is in cogs; used
// calls are counted per call and priced at the price the token was issued
// for.
type ConcurrencyManager struct {
	concurrentCalls uint64

	// refreshMu is held while a token is requested.
	refreshMu sync.Mutex

	mu         sync.Mutex
	tok        *prepaidToken
	generation uint64
	pinned     *channel.PaymentChannel
}

type prepaidToken struct {
	value     []byte
	channelID *big.Int
	nonce     *big.Int
	price     *big.Int
	// planned and usedAtIssue are the provider's counters in cogs.
	planned     *big.Int
	usedAtIssue *big.Int
	// capacityKnown is false for tokens set with SetToken; those are used
	// until the provider reports exhaustion.
	capacityKnown bool
	used          uint64
	inflight      uint64
	exhausted     bool
}

// TokenSnapshot is a copy of the manager's token state.
type TokenSnapshot struct {
	Token         []byte
	ChannelID     *big.Int
	Nonce         *big.Int
	PlannedAmount *big.Int
	// UsedAmount is the provider's used amount at issuance plus the calls
	// completed since, in cogs.
	UsedAmount *big.Int
	UsedCalls  uint64
	InFlight   uint64
}

// NewConcurrencyManager sizes tokens for concurrentCalls calls; zero means 1.
func NewConcurrencyManager(concurrentCalls uint64) *ConcurrencyManager {
	if concurrentCalls == 0 {
		concurrentCalls = 1
	}
	return &ConcurrencyManager{concurrentCalls: concurrentCalls}
}

// ConcurrentCalls returns the number of calls one token is sized for.
func (m *ConcurrencyManager) ConcurrentCalls() uint64 {
	return m.concurrentCalls
}

// Lease is one admitted call against a token. Exactly one of Commit and
// Release takes effect.
type Lease struct {
	Token     []byte
	ChannelID *big.Int
	Nonce     *big.Int

	m    *ConcurrencyManager
	tok  *prepaidToken
	once sync.Once
}

// Commit counts the call as used.
func (l *Lease) Commit() {
	l.once.Do(func() { l.m.finish(l.tok, true) })
}

// Release frees the call's slot without counting it.
func (l *Lease) Release() {
	l.once.Do(func() { l.m.finish(l.tok, false) })
}

func (m *ConcurrencyManager) finish(tok *prepaidToken, used bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok.inflight > 0 {
		tok.inflight--
	}
	if used {
		tok.used++
	}
}

// RecordSuccessfulCall counts one call against the current token. Calls made
// through a Lease are counted by Lease.Commit instead.
func (m *ConcurrencyManager) RecordSuccessfulCall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tok != nil {
		m.tok.used++
	}
}

// Invalidate marks the current token exhausted, as the provider reports with
// PlannedAmountExhausted. The next GetToken requests a new one.
func (m *ConcurrencyManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tok != nil {
		m.tok.exhausted = true
	}
}

// SetToken pins a token obtained elsewhere, for instance by another worker
// sharing the channel, together with its channel. Its capacity is unknown
// so it is used until the provider reports exhaustion.
func (m *ConcurrencyManager) SetToken(token []byte, ch *channel.PaymentChannel) {
	st := ch.State()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.pinned = ch
	m.tok = &prepaidToken{
		value:       append([]byte(nil), token...),
		channelID:   new(big.Int).Set(ch.ID),
		nonce:       st.Nonce,
		planned:     new(big.Int),
		usedAtIssue: new(big.Int),
	}
}

// Pinned returns the channel set with SetToken, or nil.
func (m *ConcurrencyManager) Pinned() *channel.PaymentChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinned
}

// Snapshot returns the current token state; ok is false when no token is held.
func (m *ConcurrencyManager) Snapshot() (snap TokenSnapshot, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tok
	if t == nil {
		return TokenSnapshot{}, false
	}
	used := new(big.Int).Set(t.usedAtIssue)
	if t.price != nil {
		used.Add(used, new(big.Int).Mul(t.price, new(big.Int).SetUint64(t.used)))
	}
	return TokenSnapshot{
		Token:         append([]byte(nil), t.value...),
		ChannelID:     new(big.Int).Set(t.channelID),
		Nonce:         new(big.Int).Set(t.nonce),
		PlannedAmount: new(big.Int).Set(t.planned),
		UsedAmount:    used,
		UsedCalls:     t.used,
		InFlight:      t.inflight,
	}, true
}

// HeldChannel returns the channel of the held token, or nil when no token
// is held or it is exhausted.
func (m *ConcurrencyManager) HeldChannel() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tok == nil || m.tok.exhausted {
		return nil
	}
	return new(big.Int).Set(m.tok.channelID)
}

// TryAdmit takes a slot of the held token for ch without contacting the
// ledger or the provider. It reports false when the token has no room, is
// for another channel or nonce, or none is held.
func (m *ConcurrencyManager) TryAdmit(ch *channel.PaymentChannel) (*Lease, bool) {
	nonce := ch.State().Nonce
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admitLocked(ch.ID, nonce)
}

// admitLocked takes a slot of the current token for the channel when it has
// room.
func (m *ConcurrencyManager) admitLocked(channelID, nonce *big.Int) (*Lease, bool) {
	t := m.tok
	if t == nil || t.exhausted || t.channelID.Cmp(channelID) != 0 || t.nonce.Cmp(nonce) != 0 {
		return nil, false
	}
	if t.capacityKnown {
		// (used + inflight + 1) * price <= planned - usedAtIssue
		need := new(big.Int).SetUint64(t.used + t.inflight + 1)
		need.Mul(need, t.price)
		room := new(big.Int).Sub(t.planned, t.usedAtIssue)
		if need.Cmp(room) > 0 {
			return nil, false
		}
	}
	t.inflight++
	return &Lease{
		Token:     t.value,
		ChannelID: t.channelID,
		Nonce:     t.nonce,
		m:         m,
		tok:       t,
	}, true
}

// GetToken admits one call of callPrice on ch, requesting a new token when
// none is held, the held one is exhausted or it belongs to another channel
// or nonce. Only one request is in flight per manager.
func (m *ConcurrencyManager) GetToken(ctx context.Context, env *Env, ch *channel.PaymentChannel, callPrice *big.Int) (*Lease, error) {
	if callPrice == nil || callPrice.Sign() <= 0 {
		return nil, errNoPrice
	}
	nonce := ch.State().Nonce
	m.mu.Lock()
	lease, ok := m.admitLocked(ch.ID, nonce)
	gen := m.generation
	m.mu.Unlock()
	if ok {
		return lease, nil
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	if m.generation != gen {
		// Another caller refreshed while we waited.
		if lease, ok := m.admitLocked(ch.ID, nonce); ok {
			m.mu.Unlock()
			return lease, nil
		}
	}
	// Without a usable token for this channel the previous amount may still
	// have room on the provider side.
	reuse := m.tok == nil || m.tok.channelID.Cmp(ch.ID) != 0 || m.tok.nonce.Cmp(nonce) != 0
	m.mu.Unlock()

	tok, err := m.issue(ctx, env, ch, callPrice, reuse)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.tok = tok
	if lease, ok := m.admitLocked(ch.ID, tok.nonce); ok {
		return lease, nil
	}
	return nil, sdkerr.TokenService(sdkerr.ReasonPlannedExhausted,
		errors.New("new token has no room for the call")).WithChannel(ch.ID)
}

// issue requests a token sized for lastSigned + callPrice*concurrentCalls.
// With reuse set and something already signed, it first asks for a token at
// the current signed amount and keeps it when the provider has room left.
func (m *ConcurrencyManager) issue(ctx context.Context, env *Env, ch *channel.PaymentChannel, callPrice *big.Int, reuse bool) (*prepaidToken, error) {
	log := env.logger()
	st := ch.State()

	if reuse && st.LastSignedAmount.Sign() > 0 {
		tok, err := m.request(ctx, env, ch, st.Nonce, st.LastSignedAmount, callPrice)
		switch {
		case err != nil && !IsPlannedExhausted(err):
			env.Metrics.TokenRequest(failureLabel(err))
			return nil, err
		case err != nil:
			log.Debug("signed amount is used up", zap.Stringer("channel", ch.ID), zap.Error(err))
		case new(big.Int).Sub(tok.planned, tok.usedAtIssue).Cmp(callPrice) >= 0:
			log.Debug("reused prepaid token",
				zap.Stringer("channel", ch.ID), zap.Stringer("amount", st.LastSignedAmount))
			env.Metrics.TokenRequest("reused")
			return tok, nil
		}
	}

	effective := new(big.Int).Mul(callPrice, new(big.Int).SetUint64(m.concurrentCalls))
	amount := new(big.Int).Add(st.LastSignedAmount, effective)
	tok, err := m.request(ctx, env, ch, st.Nonce, amount, callPrice)
	if err != nil {
		env.Metrics.TokenRequest(failureLabel(err))
		return nil, err
	}
	ch.AdvanceSignedAmount(st.Nonce, amount)
	env.Metrics.TokenRequest("ok")
	log.Info("issued prepaid token",
		zap.Stringer("channel", ch.ID),
		zap.Stringer("nonce", st.Nonce),
		zap.Stringer("amount", amount),
		zap.Stringer("planned", tok.planned),
		zap.Stringer("used", tok.usedAtIssue))
	return tok, nil
}

// request signs the claim for amount at nonce, binds it to the current
// block and asks the provider for a token.
func (m *ConcurrencyManager) request(ctx context.Context, env *Env, ch *channel.PaymentChannel, nonce, amount, callPrice *big.Int) (*prepaidToken, error) {
	if env.Daemon == nil {
		return nil, sdkerr.TokenService(sdkerr.ReasonTransport, errNoDaemon)
	}
	block, err := env.ledger().CurrentBlock(ctx)
	if err != nil {
		return nil, sdkerr.Ledger("", "current block", err)
	}
	claim, err := signClaim(env, ch.ID, nonce, amount)
	if err != nil {
		return nil, err
	}
	sig, err := env.Signer.SignStructured([]string{"bytes", "uint256"}, []any{claim, block})
	if err != nil {
		return nil, err
	}
	reply, err := env.Daemon.GetToken(ctx, &daemon.TokenRequest{
		ChannelID:      ch.ID,
		CurrentNonce:   nonce,
		SignedAmount:   amount,
		Signature:      sig,
		CurrentBlock:   block,
		ClaimSignature: claim,
	})
	if err != nil {
		return nil, tokenError(err).WithChannel(ch.ID)
	}
	planned := new(big.Int).SetUint64(reply.PlannedAmount)
	used := new(big.Int).SetUint64(reply.UsedAmount)
	if used.Cmp(planned) > 0 {
		used.Set(planned)
	}
	return &prepaidToken{
		value:         reply.Token,
		channelID:     new(big.Int).Set(ch.ID),
		nonce:         new(big.Int).Set(nonce),
		price:         new(big.Int).Set(callPrice),
		planned:       planned,
		usedAtIssue:   used,
		capacityKnown: true,
	}, nil
}

func failureLabel(err error) string {
	var e *sdkerr.Error
	if errors.As(err, &e) && e.Reason != "" {
		return string(e.Reason)
	}
	return "error"
}
