// Package config provides configuration management for the payment SDK.
//
// # Basic Configuration
//
// The minimum configuration is a ledger endpoint and a private key:
//
//	cfg := &config.Config{
//		RPCAddr:    "https://sepolia.infura.io/v3/YOUR_PROJECT_ID",
//		PrivateKey: "YOUR_PRIVATE_KEY",
//	}
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
//
// # Map-valued configuration
//
// FromMap accepts the recognized keys directly:
//
//	cfg, err := config.FromMap(map[string]any{
//		"private_key":          key,
//		"eth_rpc_endpoint":     "wss://sepolia.infura.io/ws/v3/ID",
//		"concurrent_calls":     3,
//		"mpe_contract_address": "0x...",
//	})
//
// Recognized keys: private_key, signer_private_key, eth_rpc_endpoint,
// ipfs_rpc_endpoint, mpe_contract_address, registry_contract_address,
// token_contract_address, free_call_auth_token-bin,
// free-call-token-expiry-block, email, concurrent_calls, block_offset,
// call_allowance, plus the SDK extensions documented on Config. Unknown keys
// are rejected. Load reads the same keys from a YAML file; durations inside
// "timeouts" are written as strings ("90s").
//
// # Networks
//
//	config.Sepolia - Ethereum Sepolia testnet (ChainID: 11155111)
//	config.Main    - Ethereum mainnet (ChainID: 1)
//
// The chain ID selects the MPE, Registry and token addresses published with
// the contracts; the *_contract_address keys override them.
package config
