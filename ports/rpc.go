package ports

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pivot-protocol/walletcore/core"
)

// FeeData is the network fee snapshot used for gas estimation. BaseFee and
// the tip are nil on chains that do not expose EIP-1559 fee data.
type FeeData struct {
	GasPrice *big.Int
	GasTip   *big.Int
	BaseFee  *big.Int
}

// ChainReader is the read side of the RPC boundary: liveness probing, fee
// queries, gas estimation and transaction lookups.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FeeData(ctx context.Context) (FeeData, error)
	EstimateGas(ctx context.Context, from common.Address, req core.TransactionRequest) (uint64, error)

	// TransactionReceipt returns (nil, nil) while no receipt is available.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// TransactionByHash reports found=false when the transaction is unknown
	// to the node, which for a watched hash means it was replaced.
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, found bool, err error)

	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)
}
