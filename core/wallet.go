package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ConnectionState is the derived view of the wallet connection. It is never
// mutated directly; it is recomputed whenever the provider reports a change.
type ConnectionState struct {
	Connected   bool
	Address     common.Address
	ChainID     string
	WalletLabel string
	Balance     *big.Int
}

// ChainConfig is one entry of the supported-chain registry.
type ChainConfig struct {
	ID               string `yaml:"id" json:"id"` // hex chain id, e.g. "0x1"
	Label            string `yaml:"label" json:"label"`
	Token            string `yaml:"token" json:"token"`
	RPCURL           string `yaml:"rpc_url" json:"rpcUrl"`
	BlockExplorerURL string `yaml:"block_explorer_url" json:"blockExplorerUrl"`
	Testnet          bool   `yaml:"testnet,omitempty" json:"testnet,omitempty"`
}
