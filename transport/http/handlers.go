package http

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/pivot-protocol/walletcore/core"
	"github.com/pivot-protocol/walletcore/ports"
	"github.com/pivot-protocol/walletcore/service"
)

// Handlers contains the HTTP handlers for the wallet core API.
type Handlers struct {
	auth      *service.AuthService
	wallet    *service.WalletService
	tx        *service.TxService
	netmon    *service.NetworkMonitor
	tokenizer ports.Tokenizer
}

// NewHandlers creates the API handlers.
func NewHandlers(
	auth *service.AuthService,
	wallet *service.WalletService,
	tx *service.TxService,
	netmon *service.NetworkMonitor,
	tokenizer ports.Tokenizer,
) *Handlers {
	return &Handlers{
		auth:      auth,
		wallet:    wallet,
		tx:        tx,
		netmon:    netmon,
		tokenizer: tokenizer,
	}
}

// writeError maps a service failure to a status code and JSON body. Every
// response carries the classified code so clients can branch on it.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, core.ErrChallengeMissing):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrChallengeExpired):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrTxNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrTxFinalized):
		status = http.StatusConflict
	case errors.Is(err, core.ErrNotConnected):
		status = http.StatusConflict
	}

	we := core.Classify(err)
	if status == http.StatusInternalServerError {
		switch we.Code {
		case core.CodeInvalidSignature, core.CodeSessionExpired:
			status = http.StatusUnauthorized
		case core.CodeTransactionRejected, core.CodeAuthRejected, core.CodeConnectionRejected,
			core.CodeChainSwitchRejected, core.CodeUnsupportedChain, core.CodeGasEstimationFailed:
			status = http.StatusBadRequest
		case core.CodeNoWallet:
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, gin.H{"error": we.Message, "code": we.Code})
}

// Challenge issues an authentication challenge for an address.
func (h *Handlers) Challenge(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	challenge, err := h.auth.IssueChallenge(c.Request.Context(), req.Address)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nonce":   challenge.Nonce,
		"message": challenge.Message,
		"expires": challenge.Expires,
	})
}

// Login verifies a challenge signature and establishes a session. The bearer
// token wraps the session for subsequent API calls.
func (h *Handlers) Login(c *gin.Context) {
	var req struct {
		Address     string `json:"address" binding:"required"`
		Signature   string `json:"signature" binding:"required"`
		WalletLabel string `json:"walletLabel"`
		ChainID     string `json:"chainId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	session, err := h.auth.Verify(c.Request.Context(), req.Address, req.WalletLabel, req.ChainID, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}

	bearer, err := h.tokenizer.SessionToToken(session)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": bearer,
		"token_type":   "Bearer",
		"session":      session,
	})
}

// Logout destroys the session.
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), "user logout"); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Session returns the current session, if one exists.
func (h *Handlers) Session(c *gin.Context) {
	session, err := h.auth.GetSession(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"session": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// Me returns the authenticated address.
func (h *Handlers) Me(c *gin.Context) {
	address, exists := c.Get("userAddress")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "User not found in context"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address})
}

// WalletState returns the derived wallet connection state.
func (h *Handlers) WalletState(c *gin.Context) {
	state := h.wallet.State()

	resp := gin.H{
		"connected":   state.Connected,
		"chainId":     state.ChainID,
		"walletLabel": state.WalletLabel,
	}
	if state.Connected {
		resp["address"] = state.Address.Hex()
	}
	if state.Balance != nil {
		resp["balance"] = state.Balance.String()
	}
	if last := h.wallet.LastError(); last != nil {
		resp["lastError"] = gin.H{"code": last.Code, "message": last.Message}
	}
	c.JSON(http.StatusOK, resp)
}

// SwitchChain moves the wallet to another supported chain.
func (h *Handlers) SwitchChain(c *gin.Context) {
	var req struct {
		ChainID string `json:"chainId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	added, err := h.wallet.SwitchChain(c.Request.Context(), req.ChainID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chainId": req.ChainID, "added": added})
}

// txRequest is the wire form of a transaction intent.
type txRequest struct {
	To       string `json:"to"`
	Value    string `json:"value"`    // wei, decimal string
	Data     string `json:"data"`     // hex
	GasLimit uint64 `json:"gasLimit"` // zero means estimate
	Speed    string `json:"speed"`
}

func (r *txRequest) parse() (core.TransactionRequest, core.GasPriority, error) {
	var req core.TransactionRequest

	if r.To != "" {
		if !core.IsValidAddress(r.To) {
			return req, "", core.NewWalletError(core.CodeTransactionRejected, "invalid recipient address")
		}
		to := common.HexToAddress(r.To)
		req.To = &to
	}

	if r.Value != "" {
		value, ok := new(big.Int).SetString(r.Value, 10)
		if !ok {
			return req, "", core.NewWalletError(core.CodeTransactionRejected, "invalid value")
		}
		req.Value = value
	}

	if r.Data != "" {
		data, err := hexutil.Decode(r.Data)
		if err != nil {
			return req, "", core.NewWalletError(core.CodeTransactionRejected, "invalid data hex")
		}
		req.Data = data
	}
	req.GasLimit = r.GasLimit

	speed := core.GasPriority(r.Speed)
	if speed == "" {
		speed = core.PriorityStandard
	}
	return req, speed, nil
}

// EstimateGas returns a buffered gas estimate for a transaction intent.
func (h *Handlers) EstimateGas(c *gin.Context) {
	var wire txRequest
	if err := c.ShouldBindJSON(&wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	req, speed, err := wire.parse()
	if err != nil {
		writeError(c, err)
		return
	}

	state := h.wallet.State()
	if !state.Connected {
		writeError(c, core.ErrNotConnected)
		return
	}

	est, err := h.tx.EstimateGas(c.Request.Context(), state.Address, req, speed)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{
		"gasLimit":       est.GasLimit,
		"estimatedCost":  est.EstimatedCost.String(),
		"estimatedEther": est.CostEther().StringFixed(6),
		"speed":          est.Speed,
	}
	if est.GasPrice != nil {
		resp["gasPrice"] = est.GasPrice.String()
	}
	if est.MaxFeePerGas != nil {
		resp["maxFeePerGas"] = est.MaxFeePerGas.String()
		resp["maxPriorityFeePerGas"] = est.MaxPriorityFeePerGas.String()
	}
	c.JSON(http.StatusOK, resp)
}

// GasPrices quotes the current per-tier fee levels.
func (h *Handlers) GasPrices(c *gin.Context) {
	quote := h.tx.GasPrices(c.Request.Context())

	resp := gin.H{
		"slow":     quote.Slow.String(),
		"standard": quote.Standard.String(),
		"fast":     quote.Fast.String(),
	}
	if quote.BaseFee != nil {
		resp["baseFee"] = quote.BaseFee.String()
	}
	c.JSON(http.StatusOK, resp)
}

// SendTransaction submits a transaction and starts tracking it.
func (h *Handlers) SendTransaction(c *gin.Context) {
	var wire txRequest
	if err := c.ShouldBindJSON(&wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	req, speed, err := wire.parse()
	if err != nil {
		writeError(c, err)
		return
	}

	state := h.wallet.State()
	if !state.Connected {
		writeError(c, core.ErrNotConnected)
		return
	}

	// The wire form never carries fee fields; estimate here so the selected
	// speed tier is honored before the service fills standard-tier defaults.
	est, err := h.tx.EstimateGas(c.Request.Context(), state.Address, req, speed)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.GasLimit == 0 {
		req.GasLimit = est.GasLimit
	}
	req.GasPrice = est.GasPrice
	req.MaxFeePerGas = est.MaxFeePerGas
	req.MaxPriorityFeePerGas = est.MaxPriorityFeePerGas

	hash, err := h.tx.SendTransaction(c.Request.Context(), state.Address, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": hash.Hex(), "status": core.TxPending})
}

// Transactions lists every tracked transaction, most recent first.
func (h *Handlers) Transactions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"transactions": h.tx.All()})
}

// Transaction returns one tracked record.
func (h *Handlers) Transaction(c *gin.Context) {
	hash, ok := parseHash(c)
	if !ok {
		return
	}

	record, err := h.tx.Status(hash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// SpeedUp resubmits a pending transaction with higher fees.
func (h *Handlers) SpeedUp(c *gin.Context) {
	hash, ok := parseHash(c)
	if !ok {
		return
	}

	newHash, err := h.tx.SpeedUp(c.Request.Context(), hash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": newHash.Hex(), "replaces": hash.Hex()})
}

// Cancel replaces a pending transaction with a self-transfer.
func (h *Handlers) Cancel(c *gin.Context) {
	hash, ok := parseHash(c)
	if !ok {
		return
	}

	newHash, err := h.tx.Cancel(c.Request.Context(), hash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": newHash.Hex(), "cancels": hash.Hex()})
}

// ClearHistory drops terminal transaction records.
func (h *Handlers) ClearHistory(c *gin.Context) {
	h.tx.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "Cleared"})
}

// Health reports network health and the reconnection machine state.
func (h *Handlers) Health(c *gin.Context) {
	status := h.netmon.Status()
	reconnect := h.netmon.Reconnecting()

	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"online":              status.Online,
		"connectedToRpc":      status.ConnectedToRPC,
		"latencyMs":           status.Latency.Milliseconds(),
		"latencyGrade":        status.LatencyGrade(),
		"lastChecked":         status.LastChecked,
		"consecutiveFailures": status.ConsecutiveFailures,
		"reconnect":           reconnect,
	})
}

// Reconnect triggers a manual reconnection round.
func (h *Handlers) Reconnect(c *gin.Context) {
	h.netmon.ForceReconnect()
	c.JSON(http.StatusAccepted, gin.H{"message": "Reconnecting"})
}

func parseHash(c *gin.Context) (common.Hash, bool) {
	raw := c.Param("hash")
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction hash"})
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}
