package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	contracts "github.com/singnet/snet-ecosystem-contracts"
)

// Backend is the ledger RPC surface used by the contract wrappers.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to an Ethereum RPC/WS endpoint.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return client, nil
}

// Addresses are the contract addresses used by the SDK on one chain.
type Addresses struct {
	MPE      common.Address
	Registry common.Address
	// Token is zero unless overridden; the MPE contract knows its token.
	Token common.Address
	// MPEDeployTx is the transaction that deployed the MPE contract; its block
	// is where ChannelOpen scans start. Zero when unknown.
	MPEDeployTx common.Hash
}

// Overrides replace published contract addresses. Empty strings keep the
// published value.
type Overrides struct {
	MPE      string
	Registry string
	Token    string
}

// networks mirrors the JSON published by snet-ecosystem-contracts
// (chain id to deployment record).
type networks map[string]struct {
	Address         string `json:"address"`
	TransactionHash string `json:"transactionHash"`
}

func published(name string, raw []byte, chainID string) (address common.Address, tx common.Hash, ok bool, err error) {
	var n networks
	if err = json.Unmarshal(raw, &n); err != nil {
		return common.Address{}, common.Hash{}, false, fmt.Errorf("parse %s networks: %w", name, err)
	}
	entry, found := n[chainID]
	if !found || !common.IsHexAddress(entry.Address) {
		return common.Address{}, common.Hash{}, false, nil
	}
	if entry.TransactionHash != "" {
		tx = common.HexToHash(entry.TransactionHash)
	}
	return common.HexToAddress(entry.Address), tx, true, nil
}

// LoadContracts resolves contract addresses for chainID from the published
// deployments and applies overrides.
func LoadContracts(chainID string, o Overrides) (Addresses, error) {
	var out Addresses

	mpe, deployTx, ok, err := published("MultiPartyEscrow", contracts.GetNetworks(contracts.MultiPartyEscrow), chainID)
	if err != nil {
		return out, err
	}
	if ok {
		out.MPE, out.MPEDeployTx = mpe, deployTx
	}
	if o.MPE != "" {
		out.MPE = common.HexToAddress(o.MPE)
		if out.MPE != mpe {
			// A custom MPE has no published deployment transaction.
			out.MPEDeployTx = common.Hash{}
		}
	}

	registry, _, ok, err := published("Registry", contracts.GetNetworks(contracts.Registry), chainID)
	if err != nil {
		return out, err
	}
	if ok {
		out.Registry = registry
	}
	if o.Registry != "" {
		out.Registry = common.HexToAddress(o.Registry)
	}

	if o.Token != "" {
		out.Token = common.HexToAddress(o.Token)
	}

	if out.MPE == (common.Address{}) {
		return out, fmt.Errorf("no MultiPartyEscrow address for chain %s", chainID)
	}
	return out, nil
}

func parseABI(name string, raw []byte) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse %s abi: %w", name, err)
	}
	return parsed, nil
}

// MPEABI returns the parsed MultiPartyEscrow ABI.
func MPEABI() (abi.ABI, error) {
	return parseABI("MultiPartyEscrow", contracts.GetABIClean(contracts.MultiPartyEscrow))
}

// RegistryABI returns the parsed Registry ABI.
func RegistryABI() (abi.ABI, error) {
	return parseABI("Registry", contracts.GetABIClean(contracts.Registry))
}

// TokenABI returns the parsed ERC-20 token ABI.
func TokenABI() (abi.ABI, error) {
	return parseABI("FetchToken", contracts.GetABIClean(contracts.FetchToken))
}
