package config

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"math"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"gopkg.in/yaml.v3"
)

// Default values applied by Validate.
const (
	DefaultIpfsURL         = "https://ipfs.singularitynet.io:443"
	DefaultLighthouseURL   = "https://gateway.lighthouse.storage/ipfs/"
	DefaultConcurrentCalls = 1
	DefaultBlockOffset     = 240
	DefaultCallAllowance   = 1
	DefaultScanBatchSize   = 5000
)

// Config holds all SDK settings required to initialize ledger access and
// service clients. The yaml keys are the recognized keys of the map-valued
// configuration accepted by FromMap.
type Config struct {
	// Network selects the target chain (chain ID and human-readable name).
	Network Network `json:"network" yaml:"network"`
	// RPCAddr is the Ethereum RPC/WS endpoint URL (required).
	RPCAddr string `json:"eth_rpc_endpoint" yaml:"eth_rpc_endpoint"`
	// PrivateKey is the hex-encoded ECDSA key that sends ledger transactions.
	PrivateKey string `json:"private_key" yaml:"private_key"`
	// SignerPrivateKey signs payment claims. Defaults to PrivateKey.
	SignerPrivateKey string `json:"signer_private_key" yaml:"signer_private_key"`
	// IpfsURL is the HTTP API endpoint of the IPFS node used to read metadata.
	IpfsURL string `json:"ipfs_rpc_endpoint" yaml:"ipfs_rpc_endpoint"`
	// LighthouseURL is the HTTP gateway used to fetch Filecoin-backed content.
	LighthouseURL string `json:"lighthouse_url" yaml:"lighthouse_url"`

	// Contract address overrides. Empty means "resolve from the network".
	MPEAddress      string `json:"mpe_contract_address" yaml:"mpe_contract_address"`
	RegistryAddress string `json:"registry_contract_address" yaml:"registry_contract_address"`
	TokenAddress    string `json:"token_contract_address" yaml:"token_contract_address"`

	// FreeCallAuthToken is the provider-issued free-call token, either
	// 0x-prefixed hex or raw text.
	FreeCallAuthToken string `json:"free_call_auth_token-bin" yaml:"free_call_auth_token-bin"`
	// FreeCallTokenExpiryBlock is the block height at which the token expires.
	FreeCallTokenExpiryBlock uint64 `json:"free-call-token-expiry-block" yaml:"free-call-token-expiry-block"`
	// Email identifies the free-call user.
	Email string `json:"email" yaml:"email"`

	// ConcurrentCalls sizes prepaid tokens; values above 1 enable prepaid mode.
	ConcurrentCalls uint64 `json:"concurrent_calls" yaml:"concurrent_calls"`
	// BlockOffset is added to the minimal expiration when opening or extending channels.
	BlockOffset uint64 `json:"block_offset" yaml:"block_offset"`
	// CallAllowance is the number of calls funded by one add-funds operation.
	CallAllowance uint64 `json:"call_allowance" yaml:"call_allowance"`

	// BlockBoundStateRequest signs channel state requests over
	// ("__get_channel_state", mpe, channel, block) instead of the channel id alone.
	BlockBoundStateRequest bool `json:"block_bound_state_request" yaml:"block_bound_state_request"`
	// GasPrice fixes the gas price in wei (decimal). Empty uses the node's suggestion.
	GasPrice string `json:"gas_price" yaml:"gas_price"`
	// ScanBatchSize is the number of blocks per ChannelOpen log query.
	ScanBatchSize uint64 `json:"scan_batch_size" yaml:"scan_batch_size"`
	// ScanRateLimit caps log queries per second; zero disables pacing.
	ScanRateLimit float64 `json:"scan_rate_limit" yaml:"scan_rate_limit"`

	// Debug enables verbose logging.
	Debug bool `json:"debug" yaml:"debug"`
	// Timeouts configures per-operation timeouts. See Timeouts.WithDefaults for defaults.
	Timeouts Timeouts `json:"timeouts" yaml:"timeouts"`
}

// Network describes a blockchain network (chain ID and name). ChainID selects
// contract addresses; Name is informational.
type Network struct {
	ChainID string `json:"chain_id" yaml:"chain_id"`
	Name    string `json:"network_name" yaml:"network_name"`
}

// Sepolia is a predefined Network for Ethereum Sepolia testnet.
var Sepolia = Network{
	ChainID: "11155111",
	Name:    "sepolia",
}

// Main is a predefined Network for Ethereum mainnet.
var Main = Network{
	ChainID: "1",
	Name:    "main",
}

// Timeouts controls SDK operation deadlines.
// Zero values will be replaced by defaults in WithDefaults.
type Timeouts struct {
	Dial        time.Duration `json:"dial" yaml:"dial"`                 // gRPC/ledger dial
	GRPCUnary   time.Duration `json:"grpc_unary" yaml:"grpc_unary"`     // daemon state/token RPCs
	ChainRead   time.Duration `json:"chain_read" yaml:"chain_read"`     // eth_call, balances, logs
	ReceiptWait time.Duration `json:"receipt_wait" yaml:"receipt_wait"` // wait for a mined tx
	Metadata    time.Duration `json:"metadata" yaml:"metadata"`         // registry + storage reads
}

// FromMap decodes a map-valued configuration. Keys are the yaml keys of
// Config; unknown keys are rejected. The result is validated.
func FromMap(values map[string]any) (*Config, error) {
	raw, err := yaml.Marshal(values)
	if err != nil {
		return nil, sdkerr.Config("encode config map: %w", err)
	}
	return decode(raw)
}

// Load reads a YAML configuration file with the same keys as FromMap.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, sdkerr.Config("read config %s: %w", path, err)
	}
	return decode(raw)
}

func decode(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, sdkerr.Config("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes the configuration by applying implicit defaults and
// verifies required fields. All failures are sdkerr ConfigErrors.
func (c *Config) Validate() error {
	if c.LighthouseURL == "" {
		c.LighthouseURL = DefaultLighthouseURL
	}
	if c.IpfsURL == "" {
		c.IpfsURL = DefaultIpfsURL
	}
	if c.Network.ChainID == "" {
		c.Network = Sepolia
	}
	if c.ConcurrentCalls == 0 {
		c.ConcurrentCalls = DefaultConcurrentCalls
	}
	if c.BlockOffset == 0 {
		c.BlockOffset = DefaultBlockOffset
	}
	if c.CallAllowance == 0 {
		c.CallAllowance = DefaultCallAllowance
	}
	if c.ScanBatchSize == 0 {
		c.ScanBatchSize = DefaultScanBatchSize
	}
	c.Timeouts = c.Timeouts.WithDefaults()

	if c.RPCAddr == "" {
		return sdkerr.Config("eth_rpc_endpoint is required")
	}
	if c.PrivateKey == "" {
		return sdkerr.Config("private_key is required")
	}
	if c.SignerPrivateKey == "" {
		c.SignerPrivateKey = c.PrivateKey
	}
	if _, err := ParsePrivateKey(c.PrivateKey); err != nil {
		return sdkerr.Config("private_key: %w", err)
	}
	if _, err := ParsePrivateKey(c.SignerPrivateKey); err != nil {
		return sdkerr.Config("signer_private_key: %w", err)
	}
	for key, addr := range map[string]string{
		"mpe_contract_address":      c.MPEAddress,
		"registry_contract_address": c.RegistryAddress,
		"token_contract_address":    c.TokenAddress,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return sdkerr.Config("%s: %q is not an address", key, addr)
		}
	}
	if c.ScanRateLimit < 0 || math.IsNaN(c.ScanRateLimit) {
		return sdkerr.Config("scan_rate_limit must not be negative")
	}
	if _, err := c.FreeCallToken(); err != nil {
		return sdkerr.Config("free_call_auth_token-bin: %w", err)
	}
	return nil
}

// WithDefaults returns a copy of t with zero values replaced by defaults:
//
//	Dial:        5s
//	GRPCUnary:   10s
//	ChainRead:   12s
//	ReceiptWait: 300s
//	Metadata:    120s
func (t Timeouts) WithDefaults() Timeouts {
	tt := t
	if tt.Dial == 0 {
		tt.Dial = 5 * time.Second
	}
	if tt.GRPCUnary == 0 {
		tt.GRPCUnary = 10 * time.Second
	}
	if tt.ChainRead == 0 {
		tt.ChainRead = 12 * time.Second
	}
	if tt.ReceiptWait == 0 {
		tt.ReceiptWait = 300 * time.Second
	}
	if tt.Metadata == 0 {
		tt.Metadata = 120 * time.Second
	}
	return tt
}

// FreeCallToken returns the configured free-call token bytes. A 0x prefix
// selects hex decoding; anything else is taken verbatim.
func (c *Config) FreeCallToken() ([]byte, error) {
	if c.FreeCallAuthToken == "" {
		return nil, nil
	}
	if strings.HasPrefix(c.FreeCallAuthToken, "0x") || strings.HasPrefix(c.FreeCallAuthToken, "0X") {
		return hexutil.Decode(c.FreeCallAuthToken)
	}
	return []byte(c.FreeCallAuthToken), nil
}

// ParsePrivateKey parses a hex-encoded secp256k1 key, with or without 0x.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"), "0X")
	if hexKey == "" {
		return nil, errors.New("empty private key")
	}
	return crypto.HexToECDSA(hexKey)
}
