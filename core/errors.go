package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies one kind of wallet failure. The set is closed: every
// raw provider or transport error is mapped to exactly one code by Classify.
type ErrorCode string

const (
	CodeNoWallet            ErrorCode = "NO_WALLET"
	CodeConnectionRejected  ErrorCode = "CONNECTION_REJECTED"
	CodeAlreadyConnected    ErrorCode = "ALREADY_CONNECTED"
	CodeUnsupportedChain    ErrorCode = "UNSUPPORTED_CHAIN"
	CodeChainSwitchRejected ErrorCode = "CHAIN_SWITCH_REJECTED"
	CodeAuthRejected        ErrorCode = "AUTH_REJECTED"
	CodeInvalidSignature    ErrorCode = "INVALID_SIGNATURE"
	CodeSessionExpired      ErrorCode = "SESSION_EXPIRED"
	CodeInsufficientFunds   ErrorCode = "INSUFFICIENT_FUNDS"
	CodeTransactionRejected ErrorCode = "TRANSACTION_REJECTED"
	CodeNonceTooLow         ErrorCode = "NONCE_TOO_LOW"
	CodeGasEstimationFailed ErrorCode = "GAS_ESTIMATION_FAILED"
	CodeNetworkError        ErrorCode = "NETWORK_ERROR"
	CodeRPCError            ErrorCode = "RPC_ERROR"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeUnknown             ErrorCode = "UNKNOWN_ERROR"
)

var (
	// ErrChallengeMissing is returned when verification runs with no stored challenge
	ErrChallengeMissing = errors.New("no authentication challenge found")

	// ErrChallengeExpired is returned when the stored challenge has passed its expiry
	ErrChallengeExpired = errors.New("authentication challenge expired")

	// ErrNotConnected is returned by operations that need a live wallet connection
	ErrNotConnected = errors.New("wallet not connected")

	// ErrTxNotFound is returned when a hash is not tracked by the transaction manager
	ErrTxNotFound = errors.New("transaction not tracked")

	// ErrTxFinalized is returned when a replacement is attempted on a terminal transaction
	ErrTxFinalized = errors.New("transaction already in a terminal state")
)

// WalletError is a classified failure carrying one code of the closed taxonomy.
type WalletError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *WalletError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *WalletError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is match two WalletErrors on code alone.
func (e *WalletError) Is(target error) bool {
	var we *WalletError
	if errors.As(target, &we) {
		return e.Code == we.Code
	}
	return false
}

// NewWalletError builds a classified error with an explicit code.
func NewWalletError(code ErrorCode, message string) *WalletError {
	return &WalletError{Code: code, Message: message}
}

// WrapWalletError attaches a code and message to an underlying cause.
func WrapWalletError(code ErrorCode, message string, err error) *WalletError {
	return &WalletError{Code: code, Message: message, Err: err}
}

// rpcError is the shape of JSON-RPC errors surfaced by go-ethereum clients.
type rpcError interface {
	Error() string
	ErrorCode() int
}

// Classify funnels an arbitrary provider or transport failure into the closed
// taxonomy. An error that is already a WalletError passes through unchanged.
func Classify(err error) *WalletError {
	if err == nil {
		return nil
	}

	var we *WalletError
	if errors.As(err, &we) {
		return we
	}

	msg := strings.ToLower(err.Error())

	var code int
	var rpcErr rpcError
	if errors.As(err, &rpcErr) {
		code = rpcErr.ErrorCode()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"):
		return WrapWalletError(CodeTimeout, "request timed out", err)

	case strings.Contains(msg, "no wallet"),
		strings.Contains(msg, "not installed"),
		strings.Contains(msg, "no provider"):
		return WrapWalletError(CodeNoWallet, "no wallet detected", err)

	// EIP-1193 code 4001 is the provider-side user rejection.
	case code == 4001,
		strings.Contains(msg, "user rejected"),
		strings.Contains(msg, "user denied"):
		if strings.Contains(msg, "transaction") {
			return WrapWalletError(CodeTransactionRejected, "transaction was rejected by the user", err)
		}
		if strings.Contains(msg, "sign") || strings.Contains(msg, "message") {
			return WrapWalletError(CodeAuthRejected, "message signing was rejected", err)
		}
		return WrapWalletError(CodeConnectionRejected, "connection request was rejected", err)

	case strings.Contains(msg, "already connected"):
		return WrapWalletError(CodeAlreadyConnected, "wallet is already connected", err)

	case strings.Contains(msg, "wallet_switchethereumchain"),
		strings.Contains(msg, "chain switch"):
		return WrapWalletError(CodeChainSwitchRejected, "network switch was rejected", err)

	case strings.Contains(msg, "unsupported chain"),
		strings.Contains(msg, "unrecognized chain"):
		return WrapWalletError(CodeUnsupportedChain, "the selected network is not supported", err)

	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "balance too low"):
		return WrapWalletError(CodeInsufficientFunds, "insufficient funds for this transaction", err)

	case strings.Contains(msg, "nonce too low"):
		return WrapWalletError(CodeNonceTooLow, "transaction nonce is too low", err)

	case strings.Contains(msg, "gas required exceeds"),
		strings.Contains(msg, "gas estimation"):
		return WrapWalletError(CodeGasEstimationFailed, "failed to estimate gas for this transaction", err)

	case strings.Contains(msg, "signature"),
		strings.Contains(msg, "sign"):
		return WrapWalletError(CodeAuthRejected, "message signing was rejected", err)

	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "connection reset"):
		return WrapWalletError(CodeNetworkError, "network connection error", err)

	case code == -32603, strings.Contains(msg, "rpc"):
		return WrapWalletError(CodeRPCError, "network communication error", err)
	}

	return WrapWalletError(CodeUnknown, err.Error(), err)
}

// IsUserRejection reports whether the error is a user-initiated rejection.
// These are expected outcomes and must never be surfaced as alarming errors.
func IsUserRejection(err error) bool {
	switch Classify(err).Code {
	case CodeConnectionRejected, CodeAuthRejected, CodeTransactionRejected, CodeChainSwitchRejected:
		return true
	}
	return false
}

// IsRecoverable reports whether the error kind is eligible for automatic retry.
func IsRecoverable(err error) bool {
	switch Classify(err).Code {
	case CodeNetworkError, CodeRPCError, CodeTimeout, CodeNonceTooLow, CodeGasEstimationFailed:
		return true
	}
	return false
}
