package service

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"

	"github.com/pivot-protocol/walletcore/core"
	"github.com/pivot-protocol/walletcore/ports"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// signPersonal produces a wallet-style personal signature (v as 27/28).
func signPersonal(key *ecdsa.PrivateKey, message string) string {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		panic(err)
	}
	sig[64] += 27
	return hexutil.Encode(sig)
}

// fakeProvider is a scripted WalletProvider.
type fakeProvider struct {
	mu sync.Mutex

	key   *ecdsa.PrivateKey
	state core.ConnectionState

	connectErr error
	switchErr  map[string]error
	sendErr    error

	sent         []core.TransactionRequest
	nextHashSeed uint64
	addedChains  []core.ChainConfig

	subs []chan<- core.ConnectionState
}

func newFakeProvider(key *ecdsa.PrivateKey, chainID string) *fakeProvider {
	return &fakeProvider{
		key: key,
		state: core.ConnectionState{
			Connected:   true,
			Address:     crypto.PubkeyToAddress(key.PublicKey),
			ChainID:     chainID,
			WalletLabel: "Test Wallet",
		},
		switchErr: make(map[string]error),
	}
}

func (p *fakeProvider) Connect(ctx context.Context) (core.ConnectionState, error) {
	if p.connectErr != nil {
		return core.ConnectionState{}, p.connectErr
	}
	return p.state, nil
}

func (p *fakeProvider) Disconnect(ctx context.Context) error { return nil }

func (p *fakeProvider) SwitchChain(ctx context.Context, chainID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.switchErr[chainID]; ok {
		return err
	}
	p.state.ChainID = chainID
	return nil
}

func (p *fakeProvider) AddChain(ctx context.Context, chain core.ChainConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addedChains = append(p.addedChains, chain)
	delete(p.switchErr, chain.ID)
	return nil
}

func (p *fakeProvider) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), p.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func (p *fakeProvider) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	return []byte{0x01}, nil
}

func (p *fakeProvider) SendTransaction(ctx context.Context, req core.TransactionRequest) (common.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return common.Hash{}, p.sendErr
	}
	p.sent = append(p.sent, req)
	p.nextHashSeed++

	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], p.nextHashSeed)
	return crypto.Keccak256Hash(seed[:]), nil
}

func (p *fakeProvider) Subscribe(ch chan<- core.ConnectionState) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, ch)
	return func() {}
}

// push delivers a provider-side state change to subscribers.
func (p *fakeProvider) push(state core.ConnectionState) {
	p.mu.Lock()
	subs := append([]chan<- core.ConnectionState(nil), p.subs...)
	p.mu.Unlock()
	for _, ch := range subs {
		ch <- state
	}
}

func (p *fakeProvider) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakeProvider) lastSent() core.TransactionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent[len(p.sent)-1]
}

// fakeReader is a scripted ChainReader.
type fakeReader struct {
	mu sync.Mutex

	blockNumber uint64
	blockErr    error

	fee    ports.FeeData
	feeErr error

	estimate    uint64
	estimateErr error

	receipts map[common.Hash]*types.Receipt
	known    map[common.Hash]bool

	balance *big.Int
	nonce   uint64
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		blockNumber: 100,
		estimate:    50_000,
		receipts:    make(map[common.Hash]*types.Receipt),
		known:       make(map[common.Hash]bool),
		balance:     big.NewInt(1e18),
	}
}

func (r *fakeReader) BlockNumber(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blockErr != nil {
		return 0, r.blockErr
	}
	return r.blockNumber, nil
}

func (r *fakeReader) FeeData(ctx context.Context) (ports.FeeData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.feeErr != nil {
		return ports.FeeData{}, r.feeErr
	}
	return r.fee, nil
}

func (r *fakeReader) EstimateGas(ctx context.Context, from common.Address, req core.TransactionRequest) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.estimateErr != nil {
		return 0, r.estimateErr
	}
	return r.estimate, nil
}

func (r *fakeReader) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receipts[hash], nil
}

func (r *fakeReader) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Hashes the test never scripted stay known to the pool; a watched hash
	// only disappears when a test explicitly drops it.
	known, scripted := r.known[hash]
	if !scripted {
		return nil, true, nil
	}
	return nil, known, nil
}

func (r *fakeReader) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return new(big.Int).Set(r.balance), nil
}

func (r *fakeReader) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nonce, nil
}

func (r *fakeReader) setBlockErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockErr = err
}

func (r *fakeReader) setReceipt(hash common.Hash, receipt *types.Receipt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts[hash] = receipt
	r.known[hash] = true
}

func (r *fakeReader) setKnown(hash common.Hash, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known[hash] = known
}

// fakePublisher records every published event.
type fakePublisher struct {
	mu      sync.Mutex
	logouts []string
	states  []core.ConnectionState
	records []core.TransactionRecord
}

func (p *fakePublisher) PublishLogout(ctx context.Context, address, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts = append(p.logouts, address)
	return nil
}

func (p *fakePublisher) PublishConnection(ctx context.Context, state core.ConnectionState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
	return nil
}

func (p *fakePublisher) PublishTransaction(ctx context.Context, record core.TransactionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, record)
	return nil
}

func (p *fakePublisher) logoutCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.logouts)
}
