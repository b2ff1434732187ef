package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"go.uber.org/zap"
)

// ChannelState is the on-chain record of a channel as returned by
// MultiPartyEscrow.channels.
type ChannelState struct {
	Nonce      *big.Int
	Sender     common.Address
	Signer     common.Address
	GroupID    [32]byte
	Recipient  common.Address
	Value      *big.Int
	Expiration *big.Int
}

// ChannelOpenEvent is a decoded ChannelOpen log. Field names follow the event
// arguments so that logs unpack into it directly.
type ChannelOpenEvent struct {
	ChannelId  *big.Int
	Nonce      *big.Int
	Sender     common.Address
	Signer     common.Address
	Recipient  common.Address
	GroupId    [32]byte
	Amount     *big.Int
	Expiration *big.Int
	Raw        types.Log
}

// MPE is the typed adapter of the MultiPartyEscrow contract. Writes are sent
// from the account it was created with and block until mined.
type MPE struct {
	contract
	backend Backend

	tokenMu sync.Mutex
	token   *Token

	deployMu    sync.Mutex
	deployBlock *uint64
}

// NewMPE binds the MultiPartyEscrow at address. account may be nil for a
// read-only adapter.
func NewMPE(address common.Address, backend Backend, account *Account, opts ...Option) (*MPE, error) {
	parsed, err := MPEABI()
	if err != nil {
		return nil, err
	}
	return &MPE{
		contract: newContract(address, parsed, backend, account, newSettings(backend, opts)),
		backend:  backend,
	}, nil
}

// Address returns the MPE contract address.
func (m *MPE) Address() common.Address {
	return m.address
}

// Account returns the sending account, nil for a read-only adapter.
func (m *MPE) Account() *Account {
	return m.account
}

// Token returns the adapter of the escrow token, resolving its address from
// the MPE contract on first use.
func (m *MPE) Token(ctx context.Context) (*Token, error) {
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	if m.token != nil {
		return m.token, nil
	}
	addr := m.settings.token
	if addr == (common.Address{}) {
		out, err := m.call(ctx, "token")
		if err != nil {
			return nil, err
		}
		addr = *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	}
	token, err := newToken(addr, m.backend, m.account, m.settings)
	if err != nil {
		return nil, err
	}
	m.token = token
	return token, nil
}

// Balance returns the escrow balance of addr in cogs.
func (m *MPE) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	out, err := m.call(ctx, "balances", addr)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// NextChannelID returns the id the next opened channel will get.
func (m *MPE) NextChannelID(ctx context.Context) (*big.Int, error) {
	out, err := m.call(ctx, "nextChannelId")
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// ChannelState reads channels(id). A zero sender means the channel does not
// exist.
func (m *MPE) ChannelState(ctx context.Context, id *big.Int) (*ChannelState, error) {
	out, err := m.call(ctx, "channels", id)
	if err != nil {
		return nil, err
	}
	st := &ChannelState{}
	for i, arg := range m.abi.Methods["channels"].Outputs {
		if i >= len(out) {
			break
		}
		switch arg.Name {
		case "nonce":
			st.Nonce = abi.ConvertType(out[i], new(big.Int)).(*big.Int)
		case "sender":
			st.Sender = *abi.ConvertType(out[i], new(common.Address)).(*common.Address)
		case "signer":
			st.Signer = *abi.ConvertType(out[i], new(common.Address)).(*common.Address)
		case "groupId":
			st.GroupID = *abi.ConvertType(out[i], new([32]byte)).(*[32]byte)
		case "recipient":
			st.Recipient = *abi.ConvertType(out[i], new(common.Address)).(*common.Address)
		case "value":
			st.Value = abi.ConvertType(out[i], new(big.Int)).(*big.Int)
		case "expiration":
			st.Expiration = abi.ConvertType(out[i], new(big.Int)).(*big.Int)
		}
	}
	if st.Sender == (common.Address{}) {
		return nil, sdkerr.ChannelNotFound(id)
	}
	return st, nil
}

// CurrentBlock returns the latest block number.
func (m *MPE) CurrentBlock(ctx context.Context) (uint64, error) {
	header, err := m.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	return header.Number.Uint64(), nil
}

// DeploymentBlock returns the block the MPE contract was deployed in, or 0
// when the deployment transaction is unknown.
func (m *MPE) DeploymentBlock(ctx context.Context) (uint64, error) {
	m.deployMu.Lock()
	defer m.deployMu.Unlock()
	if m.deployBlock != nil {
		return *m.deployBlock, nil
	}
	var block uint64
	if m.deployTx != (common.Hash{}) {
		receipt, err := m.backend.TransactionReceipt(ctx, m.deployTx)
		if err != nil {
			return 0, fmt.Errorf("deployment receipt %s: %w", m.deployTx.Hex(), err)
		}
		block = receipt.BlockNumber.Uint64()
	}
	m.deployBlock = &block
	return block, nil
}

// Deposit moves amount tokens from the account into its escrow balance,
// approving the transfer first when the allowance is short.
func (m *MPE) Deposit(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
	if err := m.ensureAllowance(ctx, amount); err != nil {
		return nil, err
	}
	return m.transact(ctx, "deposit", amount)
}

// OpenChannel opens a channel funded from the escrow balance.
func (m *MPE) OpenChannel(ctx context.Context, signer, recipient common.Address, groupID [32]byte, amount, expiration *big.Int) (*types.Receipt, error) {
	return m.transact(ctx, "openChannel", signer, recipient, groupID, amount, expiration)
}

// DepositAndOpenChannel deposits amount and opens a channel with it in one
// transaction.
func (m *MPE) DepositAndOpenChannel(ctx context.Context, signer, recipient common.Address, groupID [32]byte, amount, expiration *big.Int) (*types.Receipt, error) {
	if err := m.ensureAllowance(ctx, amount); err != nil {
		return nil, err
	}
	return m.transact(ctx, "depositAndOpenChannel", signer, recipient, groupID, amount, expiration)
}

// ChannelAddFunds moves amount from the escrow balance into channel id.
func (m *MPE) ChannelAddFunds(ctx context.Context, id, amount *big.Int) (*types.Receipt, error) {
	receipt, err := m.transact(ctx, "channelAddFunds", id, amount)
	return receipt, withChannel(err, id)
}

// ChannelExtend moves the expiration of channel id to expiration.
func (m *MPE) ChannelExtend(ctx context.Context, id, expiration *big.Int) (*types.Receipt, error) {
	receipt, err := m.transact(ctx, "channelExtend", id, expiration)
	return receipt, withChannel(err, id)
}

// ChannelExtendAndAddFunds extends channel id and adds amount to it.
func (m *MPE) ChannelExtendAndAddFunds(ctx context.Context, id, expiration, amount *big.Int) (*types.Receipt, error) {
	receipt, err := m.transact(ctx, "channelExtendAndAddFunds", id, expiration, amount)
	return receipt, withChannel(err, id)
}

func withChannel(err error, id *big.Int) error {
	if e, ok := err.(*sdkerr.Error); ok {
		return e.WithChannel(id)
	}
	return err
}

func (m *MPE) ensureAllowance(ctx context.Context, amount *big.Int) error {
	if m.account == nil {
		return sdkerr.Ledger(sdkerr.ReasonSigning, "approve", errReadOnly)
	}
	token, err := m.Token(ctx)
	if err != nil {
		return err
	}
	allowance, err := token.Allowance(ctx, m.account.Address(), m.address)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	m.log.Info("approving escrow transfer",
		zap.String("allowance", allowance.String()),
		zap.String("amount", amount.String()))
	_, err = token.Approve(ctx, m.address, amount)
	return err
}

// FilterChannelOpen returns the ChannelOpen events in [from, to] whose
// recipient and group match any of the given values. Empty slices match
// everything.
func (m *MPE) FilterChannelOpen(ctx context.Context, from, to uint64, recipients []common.Address, groupIDs [][32]byte) ([]ChannelOpenEvent, error) {
	var recipientRule []any
	for _, r := range recipients {
		recipientRule = append(recipientRule, r)
	}
	var groupRule []any
	for _, g := range groupIDs {
		groupRule = append(groupRule, common.Hash(g))
	}
	topics, err := abi.MakeTopics(nil, recipientRule, groupRule)
	if err != nil {
		return nil, fmt.Errorf("ChannelOpen topics: %w", err)
	}
	event := m.abi.Events["ChannelOpen"]
	topics = append([][]common.Hash{{event.ID}}, topics...)

	if m.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.readTimeout)
		defer cancel()
	}
	logs, err := m.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{m.address},
		Topics:    topics,
	})
	if err != nil {
		return nil, err
	}

	events := make([]ChannelOpenEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		var ev ChannelOpenEvent
		if err := m.bound.UnpackLog(&ev, "ChannelOpen", l); err != nil {
			return nil, fmt.Errorf("decode ChannelOpen in tx %s: %w", l.TxHash.Hex(), err)
		}
		ev.Raw = l
		events = append(events, ev)
	}
	return events, nil
}
