package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pivot-protocol/walletcore/core"
)

// WalletProvider is the capability interface a concrete wallet adapter
// implements. The core depends only on this interface and never assumes a
// specific provider implementation.
type WalletProvider interface {
	// Connect establishes the provider session and returns the derived
	// connection state of the first reported account.
	Connect(ctx context.Context) (core.ConnectionState, error)

	// Disconnect tears down the provider session.
	Disconnect(ctx context.Context) error

	// SwitchChain asks the provider to move to the given hex chain id.
	SwitchChain(ctx context.Context, chainID string) error

	// AddChain registers a chain with the provider so it can be switched to.
	AddChain(ctx context.Context, chain core.ChainConfig) error

	// SignMessage signs a personal message with the connected account.
	SignMessage(ctx context.Context, message []byte) ([]byte, error)

	// SignTypedData signs EIP-712 typed data with the connected account.
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)

	// SendTransaction signs and submits a transaction from the connected
	// account, returning its hash.
	SendTransaction(ctx context.Context, req core.TransactionRequest) (common.Hash, error)

	// Subscribe registers a channel that receives the derived connection
	// state whenever the provider reports an account or chain change.
	// The returned function cancels the subscription.
	Subscribe(ch chan<- core.ConnectionState) (unsubscribe func())
}
