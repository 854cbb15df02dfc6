package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/pivot-protocol/walletcore/config"
	"github.com/pivot-protocol/walletcore/core"
	"github.com/pivot-protocol/walletcore/metrics"
	"github.com/pivot-protocol/walletcore/ports"
)

// Fallback legacy gas prices used when the fee query fails.
var (
	fallbackSlow     = new(big.Int).Mul(big.NewInt(15), big.NewInt(params.GWei))
	fallbackStandard = new(big.Int).Mul(big.NewInt(20), big.NewInt(params.GWei))
	fallbackFast     = new(big.Int).Mul(big.NewInt(30), big.NewInt(params.GWei))
)

// Legacy tier multipliers applied to the suggested gas price.
var (
	slowFactor = decimal.NewFromFloat(0.8)
	fastFactor = decimal.NewFromFloat(1.5)

	speedUpFactor = decimal.NewFromFloat(1.2)
	cancelFactor  = decimal.NewFromFloat(1.5)
)

// Priority fee in gwei per tier on EIP-1559 chains.
var priorityTips = map[core.GasPriority]int64{
	core.PrioritySlow:     1,
	core.PriorityStandard: 2,
	core.PriorityFast:     3,
}

const gasBufferPercent = 10

// trackedTx pairs a record with the request that produced it, kept so the
// transaction can be sped up or cancelled with the same nonce.
type trackedTx struct {
	record core.TransactionRecord
	req    core.TransactionRequest
	from   common.Address
}

// TxService submits transactions and tracks each one to a terminal state.
// Status transitions are monotonic: once a hash is confirmed, failed,
// replaced or cancelled it never changes again.
type TxService struct {
	provider ports.WalletProvider
	reader   ports.ChainReader
	security *SecurityService
	events   ports.EventPublisher
	metrics  *metrics.Metrics
	log      *logrus.Entry

	watcher config.WatcherConfig

	mu      sync.Mutex
	tracked map[common.Hash]*trackedTx
	subs    map[int]chan core.TransactionRecord
	nextSub int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewTxService creates a transaction manager.
func NewTxService(
	provider ports.WalletProvider,
	reader ports.ChainReader,
	security *SecurityService,
	events ports.EventPublisher,
	m *metrics.Metrics,
	log *logrus.Logger,
	watcher config.WatcherConfig,
) *TxService {
	ctx, cancel := context.WithCancel(context.Background())
	return &TxService{
		provider: provider,
		reader:   reader,
		security: security,
		events:   events,
		metrics:  m,
		log:      log.WithField("component", "tx"),
		watcher:  watcher,
		tracked:  make(map[common.Hash]*trackedTx),
		subs:     make(map[int]chan core.TransactionRecord),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// GasPrices quotes the current per-tier fee levels. On EIP-1559 chains the
// tiers are base fee plus a scaled tip; on legacy chains they are multiples
// of the suggested gas price. A failed query falls back to fixed prices.
func (s *TxService) GasPrices(ctx context.Context) core.GasQuote {
	fee, err := s.reader.FeeData(ctx)
	if err != nil {
		s.log.WithError(err).Warn("fee query failed, using fallback prices")
		return core.GasQuote{
			Slow:     new(big.Int).Set(fallbackSlow),
			Standard: new(big.Int).Set(fallbackStandard),
			Fast:     new(big.Int).Set(fallbackFast),
		}
	}

	if fee.BaseFee != nil && fee.GasTip != nil {
		halfTip := new(big.Int).Div(fee.GasTip, big.NewInt(2))
		doubleTip := new(big.Int).Mul(fee.GasTip, big.NewInt(2))
		return core.GasQuote{
			Slow:     new(big.Int).Add(fee.BaseFee, halfTip),
			Standard: new(big.Int).Add(fee.BaseFee, fee.GasTip),
			Fast:     new(big.Int).Add(fee.BaseFee, doubleTip),
			BaseFee:  new(big.Int).Set(fee.BaseFee),
		}
	}

	price := decimal.NewFromBigInt(fee.GasPrice, 0)
	return core.GasQuote{
		Slow:     price.Mul(slowFactor).BigInt(),
		Standard: new(big.Int).Set(fee.GasPrice),
		Fast:     price.Mul(fastFactor).BigInt(),
	}
}

// EstimateGas validates the request, asks the node for a gas limit and
// applies the safety buffer and the selected fee tier.
func (s *TxService) EstimateGas(ctx context.Context, from common.Address, req core.TransactionRequest, speed core.GasPriority) (*core.GasEstimation, error) {
	if result := s.security.ValidateTransaction(req); !result.Valid {
		return nil, core.NewWalletError(core.CodeGasEstimationFailed, strings.Join(result.Errors, "; "))
	}

	limit, err := s.reader.EstimateGas(ctx, from, req)
	if err != nil {
		return nil, core.WrapWalletError(core.CodeGasEstimationFailed, "failed to estimate gas", err)
	}
	limit += limit * gasBufferPercent / 100

	est := &core.GasEstimation{GasLimit: limit, Speed: speed}

	fee, err := s.reader.FeeData(ctx)
	if err != nil {
		return nil, core.WrapWalletError(core.CodeGasEstimationFailed, "failed to query fee data", err)
	}

	if fee.BaseFee != nil {
		tip := new(big.Int).Mul(big.NewInt(priorityTips[speed]), big.NewInt(params.GWei))
		est.MaxPriorityFeePerGas = tip
		est.MaxFeePerGas = new(big.Int).Add(fee.BaseFee, tip)
		est.EstimatedCost = new(big.Int).Mul(new(big.Int).SetUint64(limit), est.MaxFeePerGas)
	} else {
		quote := s.GasPrices(ctx)
		est.GasPrice = quote.Tier(speed)
		est.EstimatedCost = new(big.Int).Mul(new(big.Int).SetUint64(limit), est.GasPrice)
	}
	return est, nil
}

// SendTransaction validates, submits and starts tracking a transaction.
// A missing gas limit or missing fee fields are filled from a standard-tier
// estimation, so every submitted transaction carries explicit fees that a
// later speed-up or cancel can bump. The nonce is pinned at submission so
// the transaction can later be sped up or cancelled.
func (s *TxService) SendTransaction(ctx context.Context, from common.Address, req core.TransactionRequest) (common.Hash, error) {
	if result := s.security.ValidateTransaction(req); !result.Valid {
		return common.Hash{}, core.NewWalletError(core.CodeTransactionRejected, strings.Join(result.Errors, "; "))
	}

	if req.GasLimit == 0 || (req.GasPrice == nil && req.MaxFeePerGas == nil) {
		est, err := s.EstimateGas(ctx, from, req, core.PriorityStandard)
		if err != nil {
			return common.Hash{}, err
		}
		if req.GasLimit == 0 {
			req.GasLimit = est.GasLimit
		}
		if req.GasPrice == nil && req.MaxFeePerGas == nil {
			req.GasPrice = est.GasPrice
			req.MaxFeePerGas = est.MaxFeePerGas
			req.MaxPriorityFeePerGas = est.MaxPriorityFeePerGas
		}
	}

	if req.Nonce == nil {
		nonce, err := s.reader.PendingNonceAt(ctx, from)
		if err != nil {
			return common.Hash{}, core.Classify(err)
		}
		req.Nonce = &nonce
	}

	hash, err := s.provider.SendTransaction(ctx, req)
	if err != nil {
		return common.Hash{}, core.Classify(err)
	}

	s.track(hash, from, req)
	return hash, nil
}

// track registers a pending record and spawns its watcher.
func (s *TxService) track(hash common.Hash, from common.Address, req core.TransactionRequest) {
	record := core.TransactionRecord{
		Hash:        hash,
		Status:      core.TxPending,
		SubmittedAt: s.now(),
	}

	s.mu.Lock()
	s.tracked[hash] = &trackedTx{record: record, req: req, from: from}
	s.mu.Unlock()

	s.metrics.TxSubmitted.Inc()
	s.notify(record)

	s.wg.Add(1)
	go s.watch(hash)
}

// watch polls for the transaction outcome until it reaches a terminal state
// or the attempt budget runs out.
func (s *TxService) watch(hash common.Hash) {
	defer s.wg.Done()

	select {
	case <-s.ctx.Done():
		return
	case <-time.After(s.watcher.InitialDelay):
	}

	ticker := time.NewTicker(s.watcher.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < s.watcher.MaxAttempts; attempt++ {
		if done := s.checkOnce(hash); done {
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}

	s.setStatus(hash, func(r *core.TransactionRecord) {
		r.Status = core.TxFailed
		r.Error = "confirmation timed out"
	})
}

// checkOnce performs one poll. It returns true when the record reached a
// terminal state.
func (s *TxService) checkOnce(hash common.Hash) bool {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	s.mu.Lock()
	tx, ok := s.tracked[hash]
	terminal := ok && tx.record.Status.Terminal()
	s.mu.Unlock()
	if !ok || terminal {
		return true
	}

	receipt, err := s.reader.TransactionReceipt(ctx, hash)
	if err != nil {
		s.log.WithError(err).WithField("hash", hash.Hex()).Debug("receipt poll failed")
		return false
	}

	if receipt != nil {
		current, err := s.reader.BlockNumber(ctx)
		if err != nil {
			return false
		}

		confirmations := uint64(1)
		if block := receipt.BlockNumber.Uint64(); current >= block {
			confirmations = current - block + 1
		}

		s.setStatus(hash, func(r *core.TransactionRecord) {
			r.Confirmations = confirmations
			r.GasUsed = receipt.GasUsed
			r.EffectiveGasPrice = receipt.EffectiveGasPrice
			if receipt.Status == 1 {
				r.Status = core.TxConfirmed
			} else {
				r.Status = core.TxFailed
				r.Error = "execution reverted"
			}
		})
		return true
	}

	// No receipt and the node no longer knows the hash: a replacement with
	// the same nonce was mined instead.
	_, found, err := s.reader.TransactionByHash(ctx, hash)
	if err == nil && !found {
		s.setStatus(hash, func(r *core.TransactionRecord) {
			r.Status = core.TxReplaced
		})
		return true
	}
	return false
}

// SpeedUp resubmits a pending transaction with the same nonce and fees
// raised by 20 percent. The original is marked replaced.
func (s *TxService) SpeedUp(ctx context.Context, hash common.Hash) (common.Hash, error) {
	tx, err := s.pendingTx(hash)
	if err != nil {
		return common.Hash{}, err
	}

	req := tx.req
	bumpFees(&req, speedUpFactor)

	newHash, err := s.provider.SendTransaction(ctx, req)
	if err != nil {
		return common.Hash{}, core.Classify(err)
	}

	s.setStatus(hash, func(r *core.TransactionRecord) {
		r.Status = core.TxReplaced
	})
	s.track(newHash, tx.from, req)
	return newHash, nil
}

// Cancel replaces a pending transaction with a zero-value self-transfer at
// the same nonce and fees raised by 50 percent. The original is marked
// cancelled.
func (s *TxService) Cancel(ctx context.Context, hash common.Hash) (common.Hash, error) {
	tx, err := s.pendingTx(hash)
	if err != nil {
		return common.Hash{}, err
	}

	from := tx.from
	req := core.TransactionRequest{
		To:                   &from,
		Value:                big.NewInt(0),
		GasLimit:             21_000,
		GasPrice:             tx.req.GasPrice,
		MaxFeePerGas:         tx.req.MaxFeePerGas,
		MaxPriorityFeePerGas: tx.req.MaxPriorityFeePerGas,
		Nonce:                tx.req.Nonce,
	}
	bumpFees(&req, cancelFactor)

	newHash, err := s.provider.SendTransaction(ctx, req)
	if err != nil {
		return common.Hash{}, core.Classify(err)
	}

	s.setStatus(hash, func(r *core.TransactionRecord) {
		r.Status = core.TxCancelled
	})
	s.track(newHash, from, req)
	return newHash, nil
}

// pendingTx returns a copy of the tracked entry, refusing unknown hashes and
// terminal records.
func (s *TxService) pendingTx(hash common.Hash) (trackedTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.tracked[hash]
	if !ok {
		return trackedTx{}, core.ErrTxNotFound
	}
	if tx.record.Status.Terminal() {
		return trackedTx{}, core.ErrTxFinalized
	}
	return *tx, nil
}

// bumpFees scales whichever fee fields are set by the factor.
func bumpFees(req *core.TransactionRequest, factor decimal.Decimal) {
	bump := func(v *big.Int) *big.Int {
		return decimal.NewFromBigInt(v, 0).Mul(factor).BigInt()
	}
	if req.GasPrice != nil {
		req.GasPrice = bump(req.GasPrice)
	}
	if req.MaxFeePerGas != nil {
		req.MaxFeePerGas = bump(req.MaxFeePerGas)
	}
	if req.MaxPriorityFeePerGas != nil {
		req.MaxPriorityFeePerGas = bump(req.MaxPriorityFeePerGas)
	}
}

// setStatus applies a mutation unless the record is already terminal, then
// fans the updated record out.
func (s *TxService) setStatus(hash common.Hash, mutate func(*core.TransactionRecord)) {
	s.mu.Lock()
	tx, ok := s.tracked[hash]
	if !ok || tx.record.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	mutate(&tx.record)
	record := tx.record
	s.mu.Unlock()

	s.metrics.TxByStatus.WithLabelValues(string(record.Status)).Inc()
	s.notify(record)
}

func (s *TxService) notify(record core.TransactionRecord) {
	if err := s.events.PublishTransaction(context.Background(), record); err != nil {
		s.log.WithError(err).Warn("failed to publish transaction event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- record:
		default:
		}
	}
}

// Status returns the tracked record for a hash.
func (s *TxService) Status(hash common.Hash) (core.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.tracked[hash]
	if !ok {
		return core.TransactionRecord{}, core.ErrTxNotFound
	}
	return tx.record, nil
}

// All returns every tracked record, most recent first.
func (s *TxService) All() []core.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]core.TransactionRecord, 0, len(s.tracked))
	for _, tx := range s.tracked {
		records = append(records, tx.record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SubmittedAt.After(records[j].SubmittedAt)
	})
	return records
}

// Clear drops terminal records. Pending transactions stay tracked.
func (s *TxService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, tx := range s.tracked {
		if tx.record.Status.Terminal() {
			delete(s.tracked, hash)
		}
	}
}

// Subscribe returns a channel receiving every record update and a cancel
// function.
func (s *TxService) Subscribe() (<-chan core.TransactionRecord, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan core.TransactionRecord, 16)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

// Close stops all watchers and waits for them to exit.
func (s *TxService) Close() {
	s.cancel()
	s.wg.Wait()
}

// CostSummary renders an estimation total for logs and API responses.
func CostSummary(est *core.GasEstimation) string {
	return fmt.Sprintf("%s ETH", est.CostEther().StringFixed(6))
}
