// Package ledgertest is an in-memory escrow ledger for tests. It records
// every write and every log query so tests can assert on the exact ledger
// traffic a flow produced.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
)

// Op is one recorded write.
type Op struct {
	Method     string
	ChannelID  *big.Int
	Amount     *big.Int
	Expiration *big.Int
}

// Ledger implements channel.Ledger in memory. Writes are mined at the
// current block, which only moves when a test sets it.
type Ledger struct {
	mu sync.Mutex

	address     common.Address
	sender      common.Address
	block       uint64
	deployBlock uint64
	balances    map[common.Address]*big.Int
	channels    []*blockchain.ChannelState
	events      []blockchain.ChannelOpenEvent
	txCount     uint64

	ops     []Op
	queries [][2]uint64

	// FilterErrors makes the next n log queries fail.
	FilterErrors int
	// HideOpenEvents drops the ChannelOpen event of new channels.
	HideOpenEvents bool
}

// New returns a ledger whose writes are sent by sender.
func New(sender common.Address, block uint64) *Ledger {
	return &Ledger{
		address:  common.HexToAddress("0x5e592F9b1d303183d963635f895f0f0C48284f4e"),
		sender:   sender,
		block:    block,
		balances: make(map[common.Address]*big.Int),
	}
}

// SetBlock moves the chain head.
func (l *Ledger) SetBlock(b uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.block = b
}

// SetDeployBlock sets the escrow's deployment block.
func (l *Ledger) SetDeployBlock(b uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deployBlock = b
}

// SetBalance sets addr's escrow balance.
func (l *Ledger) SetBalance(addr common.Address, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] = big.NewInt(amount)
}

// AddChannel registers an existing channel opened at block and returns its
// id. Channel ids are assigned sequentially from zero.
func (l *Ledger) AddChannel(signer, recipient common.Address, group [32]byte, amount int64, expiration uint64, block uint64) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, _ := l.openLocked(l.sender, signer, recipient, group, big.NewInt(amount), new(big.Int).SetUint64(expiration), block, false)
	return id
}

// AddForeignChannel registers a channel opened by another sender.
func (l *Ledger) AddForeignChannel(sender, signer, recipient common.Address, group [32]byte, amount int64, expiration uint64, block uint64) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, _ := l.openLocked(sender, signer, recipient, group, big.NewInt(amount), new(big.Int).SetUint64(expiration), block, false)
	return id
}

// Claim simulates the recipient claiming amount: the nonce increases and
// the claimed amount leaves the channel.
func (l *Ledger) Claim(id *big.Int, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.channels[id.Int64()]
	st.Nonce = new(big.Int).Add(st.Nonce, big.NewInt(1))
	st.Value = new(big.Int).Sub(st.Value, big.NewInt(amount))
}

// Ops returns the recorded writes.
func (l *Ledger) Ops() []Op {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Op(nil), l.ops...)
}

// OpNames returns the methods of the recorded writes.
func (l *Ledger) OpNames() []string {
	var names []string
	for _, op := range l.Ops() {
		names = append(names, op.Method)
	}
	return names
}

// Queries returns the block ranges of the recorded log queries.
func (l *Ledger) Queries() [][2]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][2]uint64(nil), l.queries...)
}

// Address returns the escrow address.
func (l *Ledger) Address() common.Address {
	return l.address
}

// CurrentBlock returns the chain head.
func (l *Ledger) CurrentBlock(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block, nil
}

// DeploymentBlock returns the deployment block.
func (l *Ledger) DeploymentBlock(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deployBlock, nil
}

// Balance returns addr's escrow balance.
func (l *Ledger) Balance(_ context.Context, addr common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(addr)), nil
}

// ChannelState returns a copy of the channel record.
func (l *Ledger) ChannelState(_ context.Context, id *big.Int) (*blockchain.ChannelState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.channelLocked(id)
	if err != nil {
		return nil, err
	}
	cp := *st
	cp.Nonce = new(big.Int).Set(st.Nonce)
	cp.Value = new(big.Int).Set(st.Value)
	cp.Expiration = new(big.Int).Set(st.Expiration)
	return &cp, nil
}

// FilterChannelOpen returns the ChannelOpen events in [from, to].
func (l *Ledger) FilterChannelOpen(_ context.Context, from, to uint64, recipients []common.Address, groupIDs [][32]byte) ([]blockchain.ChannelOpenEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, [2]uint64{from, to})
	if l.FilterErrors > 0 {
		l.FilterErrors--
		return nil, errors.New("query returned more than 10000 results")
	}
	var out []blockchain.ChannelOpenEvent
	for _, ev := range l.events {
		n := ev.Raw.BlockNumber
		if n < from || n > to {
			continue
		}
		if len(recipients) > 0 && !slices.Contains(recipients, ev.Recipient) {
			continue
		}
		if len(groupIDs) > 0 && !slices.Contains(groupIDs, ev.GroupId) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Deposit adds amount to the sender's escrow balance.
func (l *Ledger) Deposit(_ context.Context, amount *big.Int) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, Op{Method: "deposit", Amount: clone(amount)})
	l.credit(amount)
	return l.receiptLocked(), nil
}

// OpenChannel opens a channel from the sender's escrow balance.
func (l *Ledger) OpenChannel(_ context.Context, signer, recipient common.Address, groupID [32]byte, amount, expiration *big.Int) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, Op{Method: "openChannel", Amount: clone(amount), Expiration: clone(expiration)})
	if l.balanceLocked(l.sender).Cmp(amount) < 0 {
		return nil, sdkerr.Ledger(sdkerr.ReasonReverted, "openChannel", errors.New("insufficient escrow balance"))
	}
	l.debit(amount)
	return l.openAndReceiptLocked(signer, recipient, groupID, amount, expiration)
}

// DepositAndOpenChannel deposits amount and opens a channel with it.
func (l *Ledger) DepositAndOpenChannel(_ context.Context, signer, recipient common.Address, groupID [32]byte, amount, expiration *big.Int) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, Op{Method: "depositAndOpenChannel", Amount: clone(amount), Expiration: clone(expiration)})
	return l.openAndReceiptLocked(signer, recipient, groupID, amount, expiration)
}

// ChannelAddFunds moves amount from the escrow balance into the channel.
func (l *Ledger) ChannelAddFunds(_ context.Context, id, amount *big.Int) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, Op{Method: "channelAddFunds", ChannelID: clone(id), Amount: clone(amount)})
	st, err := l.channelLocked(id)
	if err != nil {
		return nil, err
	}
	if l.balanceLocked(l.sender).Cmp(amount) < 0 {
		return nil, sdkerr.Ledger(sdkerr.ReasonReverted, "channelAddFunds", errors.New("insufficient escrow balance")).WithChannel(id)
	}
	l.debit(amount)
	st.Value = new(big.Int).Add(st.Value, amount)
	return l.receiptLocked(), nil
}

// ChannelExtend sets a later expiration.
func (l *Ledger) ChannelExtend(_ context.Context, id, expiration *big.Int) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, Op{Method: "channelExtend", ChannelID: clone(id), Expiration: clone(expiration)})
	st, err := l.channelLocked(id)
	if err != nil {
		return nil, err
	}
	if expiration.Cmp(st.Expiration) < 0 {
		return nil, sdkerr.Ledger(sdkerr.ReasonReverted, "channelExtend", errors.New("expiration must not decrease")).WithChannel(id)
	}
	st.Expiration = clone(expiration)
	return l.receiptLocked(), nil
}

// ChannelExtendAndAddFunds extends and funds a channel in one write.
func (l *Ledger) ChannelExtendAndAddFunds(_ context.Context, id, expiration, amount *big.Int) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, Op{Method: "channelExtendAndAddFunds", ChannelID: clone(id), Amount: clone(amount), Expiration: clone(expiration)})
	st, err := l.channelLocked(id)
	if err != nil {
		return nil, err
	}
	if l.balanceLocked(l.sender).Cmp(amount) < 0 {
		return nil, sdkerr.Ledger(sdkerr.ReasonReverted, "channelExtendAndAddFunds", errors.New("insufficient escrow balance")).WithChannel(id)
	}
	l.debit(amount)
	st.Value = new(big.Int).Add(st.Value, amount)
	if expiration.Cmp(st.Expiration) > 0 {
		st.Expiration = clone(expiration)
	}
	return l.receiptLocked(), nil
}

func (l *Ledger) openAndReceiptLocked(signer, recipient common.Address, groupID [32]byte, amount, expiration *big.Int) (*types.Receipt, error) {
	receipt := l.receiptLocked()
	l.openLocked(l.sender, signer, recipient, groupID, amount, expiration, l.block, l.HideOpenEvents)
	l.events[len(l.events)-1].Raw.TxHash = receipt.TxHash
	return receipt, nil
}

func (l *Ledger) openLocked(sender, signer, recipient common.Address, group [32]byte, amount, expiration *big.Int, block uint64, hidden bool) (*big.Int, int) {
	id := big.NewInt(int64(len(l.channels)))
	l.channels = append(l.channels, &blockchain.ChannelState{
		Nonce:      new(big.Int),
		Sender:     sender,
		Signer:     signer,
		GroupID:    group,
		Recipient:  recipient,
		Value:      clone(amount),
		Expiration: clone(expiration),
	})
	ev := blockchain.ChannelOpenEvent{
		ChannelId:  clone(id),
		Nonce:      new(big.Int),
		Sender:     sender,
		Signer:     signer,
		Recipient:  recipient,
		GroupId:    group,
		Amount:     clone(amount),
		Expiration: clone(expiration),
		Raw:        types.Log{BlockNumber: block, TxHash: crypto.Keccak256Hash([]byte(fmt.Sprintf("open-%d", id.Int64())))},
	}
	if hidden {
		// Keep the slot so the caller can patch the tx hash; move it out of any range.
		ev.Raw.BlockNumber = ^uint64(0)
	}
	l.events = append(l.events, ev)
	return id, len(l.events) - 1
}

func (l *Ledger) receiptLocked() *types.Receipt {
	l.txCount++
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      crypto.Keccak256Hash([]byte(fmt.Sprintf("tx-%d", l.txCount))),
		BlockNumber: new(big.Int).SetUint64(l.block),
	}
}

func (l *Ledger) channelLocked(id *big.Int) (*blockchain.ChannelState, error) {
	if id == nil || id.Sign() < 0 || !id.IsInt64() || id.Int64() >= int64(len(l.channels)) {
		return nil, sdkerr.ChannelNotFound(id)
	}
	return l.channels[id.Int64()], nil
}

func (l *Ledger) balanceLocked(addr common.Address) *big.Int {
	if b, ok := l.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) credit(amount *big.Int) {
	l.balances[l.sender] = new(big.Int).Add(l.balanceLocked(l.sender), amount)
}

func (l *Ledger) debit(amount *big.Int) {
	l.balances[l.sender] = new(big.Int).Sub(l.balanceLocked(l.sender), amount)
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
