package core

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
)

// TxStatus is the lifecycle state of a tracked transaction. A hash moves from
// pending to exactly one terminal state and never transitions out of it.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxReplaced  TxStatus = "replaced"
	TxCancelled TxStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s TxStatus) Terminal() bool {
	switch s {
	case TxConfirmed, TxFailed, TxReplaced, TxCancelled:
		return true
	}
	return false
}

// TransactionRecord tracks one submitted transaction until it reaches a
// terminal state.
type TransactionRecord struct {
	Hash              common.Hash `json:"hash"`
	Status            TxStatus    `json:"status"`
	Confirmations     uint64      `json:"confirmations"`
	GasUsed           uint64      `json:"gasUsed,omitempty"`
	EffectiveGasPrice *big.Int    `json:"effectiveGasPrice,omitempty"`
	SubmittedAt       time.Time   `json:"submittedAt"`
	Error             string      `json:"error,omitempty"`
}

// TransactionRequest is a transaction intent before gas settings are applied.
// Nil fee fields mean "let the estimator decide".
type TransactionRequest struct {
	To                   *common.Address
	Value                *big.Int
	Data                 []byte
	GasLimit             uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Nonce                *uint64
}

// GasPriority selects a fee tier for estimation.
type GasPriority string

const (
	PrioritySlow     GasPriority = "slow"
	PriorityStandard GasPriority = "standard"
	PriorityFast     GasPriority = "fast"
)

// GasEstimation is the ephemeral result of estimating one submission. Either
// GasPrice (legacy) or the MaxFeePerGas pair (EIP-1559) is set, never both.
type GasEstimation struct {
	GasLimit             uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	EstimatedCost        *big.Int
	Speed                GasPriority
}

// CostEther renders the estimated cost in ether for display.
func (g *GasEstimation) CostEther() decimal.Decimal {
	if g.EstimatedCost == nil {
		return decimal.Zero
	}
	cost := decimal.NewFromBigInt(g.EstimatedCost, 0)
	return cost.DivRound(decimal.NewFromInt(params.Ether), 18)
}

// GasQuote is a per-tier snapshot of current network fee levels. BaseFee is
// set only when the network exposes EIP-1559 fee data.
type GasQuote struct {
	Slow     *big.Int
	Standard *big.Int
	Fast     *big.Int
	BaseFee  *big.Int
}

// Tier returns the quoted price for a priority tier.
func (q *GasQuote) Tier(p GasPriority) *big.Int {
	switch p {
	case PrioritySlow:
		return q.Slow
	case PriorityFast:
		return q.Fast
	default:
		return q.Standard
	}
}
