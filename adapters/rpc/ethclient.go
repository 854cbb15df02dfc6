package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pivot-protocol/walletcore/core"
	"github.com/pivot-protocol/walletcore/ports"
)

// Client adapts an ethclient.Client to the ChainReader port.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to an RPC endpoint and wraps it as a ChainReader.
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}
	return &Client{eth: eth}, nil
}

// NewClient wraps an existing ethclient.Client.
func NewClient(eth *ethclient.Client) *Client {
	return &Client{eth: eth}
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockNumber returns the latest block height. Used as the liveness probe.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// FeeData queries current fee levels. BaseFee and GasTip are nil on chains
// without EIP-1559 headers.
func (c *Client) FeeData(ctx context.Context) (ports.FeeData, error) {
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return ports.FeeData{}, fmt.Errorf("failed to query gas price: %w", err)
	}

	fee := ports.FeeData{GasPrice: gasPrice}

	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return ports.FeeData{}, fmt.Errorf("failed to query latest header: %w", err)
	}
	if header.BaseFee == nil {
		return fee, nil
	}

	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return ports.FeeData{}, fmt.Errorf("failed to query gas tip: %w", err)
	}

	fee.BaseFee = header.BaseFee
	fee.GasTip = tip
	return fee, nil
}

// EstimateGas asks the node for a raw gas-limit estimate.
func (c *Client) EstimateGas(ctx context.Context, from common.Address, req core.TransactionRequest) (uint64, error) {
	msg := ethereum.CallMsg{
		From:  from,
		To:    req.To,
		Value: req.Value,
		Data:  req.Data,
	}
	return c.eth.EstimateGas(ctx, msg)
}

// TransactionReceipt returns the receipt for a hash, or (nil, nil) while the
// transaction has not been mined.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// TransactionByHash looks a transaction up in the node's view, reporting
// found=false when the node no longer knows the hash.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return tx, true, nil
}

// BalanceAt returns the current balance of an address.
func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, addr, nil)
}

// PendingNonceAt returns the next nonce for an address including pending
// transactions.
func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, addr)
}
