package provider

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pivot-protocol/walletcore/core"
)

// KeyWallet is an in-process wallet provider backed by a raw private key.
// It implements the WalletProvider port for local operation and testing;
// browser-extension or remote-signer adapters implement the same interface.
type KeyWallet struct {
	mu        sync.Mutex
	key       *ecdsa.PrivateKey
	label     string
	chains    map[string]core.ChainConfig
	chainID   string
	client    *ethclient.Client
	connected bool

	subs    map[int]chan<- core.ConnectionState
	nextSub int
}

// NewKeyWallet creates a provider for the given key. The wallet starts
// disconnected on defaultChain, which must be present in chains.
func NewKeyWallet(key *ecdsa.PrivateKey, label string, chains []core.ChainConfig, defaultChain string) (*KeyWallet, error) {
	registry := make(map[string]core.ChainConfig, len(chains))
	for _, c := range chains {
		registry[strings.ToLower(c.ID)] = c
	}
	if _, ok := registry[strings.ToLower(defaultChain)]; !ok {
		return nil, fmt.Errorf("default chain %s not in registry", defaultChain)
	}

	return &KeyWallet{
		key:     key,
		label:   label,
		chains:  registry,
		chainID: strings.ToLower(defaultChain),
		subs:    make(map[int]chan<- core.ConnectionState),
	}, nil
}

// Address returns the account controlled by the wallet key.
func (w *KeyWallet) Address() common.Address {
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

// Connect dials the active chain's RPC endpoint and reports the derived
// connection state.
func (w *KeyWallet) Connect(ctx context.Context) (core.ConnectionState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected {
		chain := w.chains[w.chainID]
		client, err := ethclient.DialContext(ctx, chain.RPCURL)
		if err != nil {
			return core.ConnectionState{}, fmt.Errorf("failed to dial %s: %w", chain.Label, err)
		}
		w.client = client
		w.connected = true
	}

	state := w.stateLocked()
	w.notifyLocked(state)
	return state, nil
}

// Disconnect tears down the RPC connection and invalidates the signer.
func (w *KeyWallet) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.client != nil {
		w.client.Close()
		w.client = nil
	}
	w.connected = false
	w.notifyLocked(w.stateLocked())
	return nil
}

// SwitchChain moves the wallet to another registered chain, re-dialing its
// RPC endpoint when connected.
func (w *KeyWallet) SwitchChain(ctx context.Context, chainID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := strings.ToLower(chainID)
	chain, ok := w.chains[id]
	if !ok {
		return core.NewWalletError(core.CodeUnsupportedChain, fmt.Sprintf("chain %s is not registered", chainID))
	}

	if w.connected {
		client, err := ethclient.DialContext(ctx, chain.RPCURL)
		if err != nil {
			return fmt.Errorf("failed to dial %s: %w", chain.Label, err)
		}
		w.client.Close()
		w.client = client
	}

	w.chainID = id
	w.notifyLocked(w.stateLocked())
	return nil
}

// AddChain registers a chain so it can be switched to.
func (w *KeyWallet) AddChain(ctx context.Context, chain core.ChainConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.chains[strings.ToLower(chain.ID)] = chain
	return nil
}

// SignMessage signs a personal message (EIP-191 prefixed).
func (w *KeyWallet) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignTypedData signs EIP-712 typed data.
func (w *KeyWallet) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}

	sig, err := crypto.Sign(hash, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SendTransaction signs and submits a transaction from the wallet account.
func (w *KeyWallet) SendTransaction(ctx context.Context, req core.TransactionRequest) (common.Hash, error) {
	w.mu.Lock()
	client := w.client
	connected := w.connected
	chainHex := w.chainID
	w.mu.Unlock()

	if !connected || client == nil {
		return common.Hash{}, core.ErrNotConnected
	}

	chainID, err := parseChainID(chainHex)
	if err != nil {
		return common.Hash{}, err
	}

	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else {
		nonce, err = client.PendingNonceAt(ctx, w.Address())
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to fetch nonce: %w", err)
		}
	}

	var txdata types.TxData
	if req.MaxFeePerGas != nil {
		txdata = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			To:        req.To,
			Value:     req.Value,
			Data:      req.Data,
			Gas:       req.GasLimit,
			GasFeeCap: req.MaxFeePerGas,
			GasTipCap: req.MaxPriorityFeePerGas,
		}
	} else {
		txdata = &types.LegacyTx{
			Nonce:    nonce,
			To:       req.To,
			Value:    req.Value,
			Data:     req.Data,
			Gas:      req.GasLimit,
			GasPrice: req.GasPrice,
		}
	}

	tx, err := types.SignNewTx(w.key, types.LatestSignerForChainID(chainID), txdata)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// Subscribe registers a channel receiving connection-state changes.
func (w *KeyWallet) Subscribe(ch chan<- core.ConnectionState) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}

func (w *KeyWallet) stateLocked() core.ConnectionState {
	if !w.connected {
		return core.ConnectionState{}
	}
	return core.ConnectionState{
		Connected:   true,
		Address:     w.Address(),
		ChainID:     w.chainID,
		WalletLabel: w.label,
	}
}

func (w *KeyWallet) notifyLocked(state core.ConnectionState) {
	for _, ch := range w.subs {
		select {
		case ch <- state:
		default:
		}
	}
}

func parseChainID(hexID string) (*big.Int, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(hexID), "0x"), 16, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chain id %q: %w", hexID, err)
	}
	return new(big.Int).SetUint64(id), nil
}
