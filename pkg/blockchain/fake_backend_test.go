package blockchain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeBackend answers the ledger RPCs used by the wrappers. Methods it does
// not override panic through the nil embedded Backend.
type fakeBackend struct {
	Backend

	mu       sync.Mutex
	head     uint64
	pending  uint64
	calls    map[string]func(args []any) []any
	abis     []abi.ABI
	logs     []types.Log
	queries  []ethereum.FilterQuery
	sent     []*types.Transaction
	sendErr  error
	status   uint64
	noMining bool
	receipts map[common.Hash]*types.Receipt
}

func newFakeBackend(abis ...abi.ABI) *fakeBackend {
	return &fakeBackend{
		head:     1000,
		calls:    make(map[string]func([]any) []any),
		abis:     abis,
		status:   types.ReceiptStatusSuccessful,
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeBackend) method(data []byte) (*abi.Method, error) {
	for _, a := range f.abis {
		if m, err := a.MethodById(data); err == nil {
			return m, nil
		}
	}
	return nil, errors.New("unknown selector")
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m, err := f.method(msg.Data)
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	fn, ok := f.calls[m.Name]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("unexpected call " + m.Name)
	}
	return m.Outputs.Pack(fn(args)...)
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{1}, nil
}

func (f *fakeBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{1}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100000, nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(f.head)}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		err := f.sendErr
		f.sendErr = nil
		return err
	}
	f.sent = append(f.sent, tx)
	if !f.noMining {
		f.receipts[tx.Hash()] = &types.Receipt{
			TxHash:      tx.Hash(),
			Status:      f.status,
			BlockNumber: new(big.Int).SetUint64(f.head),
		}
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeBackend) sentMethods(t interface{ Fatalf(string, ...any) }) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, tx := range f.sent {
		m, err := f.method(tx.Data())
		if err != nil {
			t.Fatalf("sent tx with unknown selector %x", tx.Data()[:4])
		}
		names = append(names, m.Name)
	}
	return names
}

func (f *fakeBackend) setCall(name string, fn func(args []any) []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name] = fn
}
