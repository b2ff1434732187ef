package channel

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
)

// PaymentChannel is one escrow channel. Identity fields are immutable; the
// on-chain and off-chain state is guarded by mu.
type PaymentChannel struct {
	ID        *big.Int
	Sender    common.Address
	Signer    common.Address
	Recipient common.Address
	GroupID   [32]byte

	mu          sync.Mutex
	nonce       *big.Int
	totalAmount *big.Int
	expiration  *big.Int
	lastSigned  *big.Int
}

// State is a snapshot of a channel's mutable state.
type State struct {
	Nonce            *big.Int
	TotalAmount      *big.Int
	Expiration       *big.Int
	LastSignedAmount *big.Int
	// AvailableAmount is TotalAmount - LastSignedAmount.
	AvailableAmount *big.Int
}

// NewPaymentChannel builds a channel from its ChannelOpen event. Nothing has
// been signed against a freshly opened channel.
func NewPaymentChannel(ev blockchain.ChannelOpenEvent) *PaymentChannel {
	return &PaymentChannel{
		ID:          cloneOrZero(ev.ChannelId),
		Sender:      ev.Sender,
		Signer:      ev.Signer,
		Recipient:   ev.Recipient,
		GroupID:     ev.GroupId,
		nonce:       cloneOrZero(ev.Nonce),
		totalAmount: cloneOrZero(ev.Amount),
		expiration:  cloneOrZero(ev.Expiration),
		lastSigned:  new(big.Int),
	}
}

// State returns a copy of the current state.
func (c *PaymentChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *PaymentChannel) stateLocked() State {
	return State{
		Nonce:            new(big.Int).Set(c.nonce),
		TotalAmount:      new(big.Int).Set(c.totalAmount),
		Expiration:       new(big.Int).Set(c.expiration),
		LastSignedAmount: new(big.Int).Set(c.lastSigned),
		AvailableAmount:  new(big.Int).Sub(c.totalAmount, c.lastSigned),
	}
}

// ApplyOnChain updates nonce, deposit and expiration from the ledger. A
// higher nonce means the recipient claimed, so the signed amount starts over.
func (c *PaymentChannel) ApplyOnChain(st *blockchain.ChannelState) {
	if st == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// The provider may report a nonce the ledger has not reached yet.
	if st.Nonce != nil && st.Nonce.Cmp(c.nonce) > 0 {
		c.nonce = new(big.Int).Set(st.Nonce)
		c.lastSigned = new(big.Int)
	}
	if st.Value != nil {
		c.totalAmount = new(big.Int).Set(st.Value)
	}
	if st.Expiration != nil {
		c.expiration = new(big.Int).Set(st.Expiration)
	}
	c.clampLocked()
}

// ApplyOffChain merges the provider's signed state. A higher nonce replaces
// the local state and a lower one is stale. With the same nonce the larger
// amount wins, so reservations made after the provider answered survive.
func (c *PaymentChannel) ApplyOffChain(nonce, signed *big.Int) {
	if nonce == nil {
		return
	}
	if signed == nil {
		signed = new(big.Int)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch nonce.Cmp(c.nonce) {
	case 1:
		c.nonce = new(big.Int).Set(nonce)
		c.lastSigned = new(big.Int).Set(signed)
	case 0:
		if signed.Cmp(c.lastSigned) > 0 {
			c.lastSigned = new(big.Int).Set(signed)
		}
	}
	c.clampLocked()
}

// clampLocked keeps lastSigned within [0, totalAmount]. A provider reply
// above the known deposit raises the deposit; the next on-chain read
// corrects it.
func (c *PaymentChannel) clampLocked() {
	if c.lastSigned.Cmp(c.totalAmount) > 0 {
		c.totalAmount = new(big.Int).Set(c.lastSigned)
	}
}

// Reservation is an amount signed against a channel for one call.
type Reservation struct {
	Channel *PaymentChannel
	Nonce   *big.Int
	Amount  *big.Int
	Price   *big.Int
}

// Reserve raises the signed amount by price and returns the new claim. It
// reports false when the channel lacks the funds.
func (c *PaymentChannel) Reserve(price *big.Int) (Reservation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := new(big.Int).Add(c.lastSigned, price)
	if next.Cmp(c.totalAmount) > 0 {
		return Reservation{}, false
	}
	c.lastSigned = next
	return Reservation{
		Channel: c,
		Nonce:   new(big.Int).Set(c.nonce),
		Amount:  new(big.Int).Set(next),
		Price:   new(big.Int).Set(price),
	}, true
}

// Release undoes r when it is still the latest reservation of its nonce.
func (c *PaymentChannel) Release(r Reservation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Nonce.Cmp(c.nonce) != 0 || r.Amount.Cmp(c.lastSigned) != 0 {
		return false
	}
	c.lastSigned = new(big.Int).Sub(c.lastSigned, r.Price)
	if c.lastSigned.Sign() < 0 {
		c.lastSigned.SetInt64(0)
	}
	return true
}

// AdvanceSignedAmount records a claim of amount at nonce signed outside
// Reserve, such as the claim behind a prepaid token.
func (c *PaymentChannel) AdvanceSignedAmount(nonce, amount *big.Int) {
	c.ApplyOffChain(nonce, amount)
}

// Expiring reports whether the channel expires before
// currentBlock + threshold.
func (c *PaymentChannel) Expiring(currentBlock uint64, threshold *big.Int) bool {
	limit := new(big.Int).SetUint64(currentBlock)
	if threshold != nil {
		limit.Add(limit, threshold)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiration.Cmp(limit) < 0
}

// HasFunds reports whether price more can be signed.
func (c *PaymentChannel) HasFunds(price *big.Int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	avail := new(big.Int).Sub(c.totalAmount, c.lastSigned)
	return avail.Cmp(price) >= 0
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
