package service

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/sirupsen/logrus"

	"github.com/pivot-protocol/walletcore/config"
	"github.com/pivot-protocol/walletcore/core"
)

// ValidationResult is the outcome of a transaction safety check. Validation
// never fails with an error; every finding is reported as an entry.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// MessageCheck is the outcome of screening a message before signing.
type MessageCheck struct {
	Safe      bool     `json:"safe"`
	Sanitized string   `json:"sanitized"`
	Warnings  []string `json:"warnings,omitempty"`
}

var (
	scriptTagRe  = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	jsSchemeRe   = regexp.MustCompile(`(?i)javascript:`)
	dataHTMLRe   = regexp.MustCompile(`(?i)data:text/html`)
	eventAttrRe  = regexp.MustCompile(`(?i)on\w+\s*=`)
	phishingReqs = []string{"seed phrase", "private key", "secret recovery", "mnemonic"}
)

// Calldata selectors and prefixes that signal a dangerous or deceptive
// contract interaction.
var dangerousDataPatterns = []string{
	"selfdestruct",
	"delegatecall",
	"608060405234801561001057600080fd5b50", // common malicious deployer prefix
}

// SecurityService screens transactions and messages, rate-limits sensitive
// operations and escalates blocks on repeated suspicious activity. All
// counters are instance-owned; two instances never share state.
type SecurityService struct {
	cfg config.SecurityConfig
	log *logrus.Entry

	mu         sync.Mutex
	rateWindow map[string]rateBucket
	suspicious map[string]suspicionRecord

	now func() time.Time
}

type rateBucket struct {
	windowStart time.Time
	count       int
}

type suspicionRecord struct {
	count        int
	lastActivity time.Time
	blockedUntil time.Time
}

// NewSecurityService creates a validator with the given limits.
func NewSecurityService(cfg config.SecurityConfig, log *logrus.Logger) *SecurityService {
	return &SecurityService{
		cfg:        cfg,
		log:        log.WithField("component", "security"),
		rateWindow: make(map[string]rateBucket),
		suspicious: make(map[string]suspicionRecord),
		now:        time.Now,
	}
}

// ValidateTransaction screens a transaction intent against the configured
// limits. It reports findings instead of returning an error.
func (s *SecurityService) ValidateTransaction(req core.TransactionRequest) ValidationResult {
	var result ValidationResult

	if req.To == nil {
		result.Warnings = append(result.Warnings, "transaction deploys a contract (no recipient)")
	} else if *req.To == (common.Address{}) {
		result.Errors = append(result.Errors, "recipient is the zero address")
	}

	if req.Value != nil {
		if req.Value.Sign() < 0 {
			result.Errors = append(result.Errors, "transaction value is negative")
		} else if max, ok := new(big.Int).SetString(s.cfg.MaxValueWei, 10); ok && req.Value.Cmp(max) > 0 {
			result.Errors = append(result.Errors,
				fmt.Sprintf("transaction value exceeds the %s wei safety limit", s.cfg.MaxValueWei))
		}
	}

	if req.GasLimit != 0 {
		if req.GasLimit < s.cfg.MinGasLimit {
			result.Errors = append(result.Errors,
				fmt.Sprintf("gas limit below the minimum of %d", s.cfg.MinGasLimit))
		}
		if req.GasLimit > s.cfg.MaxGasLimit {
			result.Errors = append(result.Errors,
				fmt.Sprintf("gas limit above the maximum of %d", s.cfg.MaxGasLimit))
		}
	}

	maxPrice := new(big.Int).Mul(big.NewInt(s.cfg.MaxGasPriceGwei), big.NewInt(params.GWei))
	for _, price := range []*big.Int{req.GasPrice, req.MaxFeePerGas} {
		if price != nil && price.Cmp(maxPrice) > 0 {
			result.Errors = append(result.Errors,
				fmt.Sprintf("gas price exceeds the %d gwei safety cap", s.cfg.MaxGasPriceGwei))
			break
		}
	}

	if len(req.Data) > 0 {
		hexData := common.Bytes2Hex(req.Data)
		if len(hexData) > s.cfg.MaxDataLength {
			result.Errors = append(result.Errors, "transaction data exceeds the maximum length")
		}
		for _, pattern := range dangerousDataPatterns {
			if strings.Contains(strings.ToLower(hexData), pattern) {
				result.Errors = append(result.Errors,
					fmt.Sprintf("transaction data contains a dangerous pattern (%s)", pattern))
			}
		}
	}

	result.Valid = len(result.Errors) == 0
	if !result.Valid {
		s.log.WithField("findings", result.Errors).Warn("transaction failed validation")
	}
	return result
}

// ValidateSigningMessage screens and sanitizes a message before it is handed
// to the wallet for signing. Over-length messages are refused outright;
// otherwise findings accumulate and more than two refuse the message.
func (s *SecurityService) ValidateSigningMessage(message string) MessageCheck {
	check := MessageCheck{Sanitized: message}

	if len(message) > s.cfg.MaxMessageLen {
		check.Sanitized = ""
		check.Warnings = append(check.Warnings, "message exceeds the maximum length")
		return check
	}

	if scriptTagRe.MatchString(check.Sanitized) {
		check.Warnings = append(check.Warnings, "message contains a script tag")
		check.Sanitized = scriptTagRe.ReplaceAllString(check.Sanitized, "")
	}
	if jsSchemeRe.MatchString(check.Sanitized) {
		check.Warnings = append(check.Warnings, "message contains a javascript: URL")
		check.Sanitized = jsSchemeRe.ReplaceAllString(check.Sanitized, "")
	}
	if dataHTMLRe.MatchString(check.Sanitized) {
		check.Warnings = append(check.Warnings, "message contains a data:text/html URL")
		check.Sanitized = dataHTMLRe.ReplaceAllString(check.Sanitized, "")
	}
	if eventAttrRe.MatchString(check.Sanitized) {
		check.Warnings = append(check.Warnings, "message contains an inline event handler")
	}

	lower := strings.ToLower(check.Sanitized)
	for _, phrase := range phishingReqs {
		if strings.Contains(lower, phrase) {
			check.Warnings = append(check.Warnings,
				fmt.Sprintf("message asks for sensitive material (%q)", phrase))
		}
	}

	check.Safe = len(check.Warnings) <= 2
	return check
}

// CheckRateLimit consumes one slot of the fixed per-key window and reports
// whether the operation may proceed. When it may not, resetIn is how long
// until the window rolls over.
func (s *SecurityService) CheckRateLimit(key string) (allowed bool, resetIn time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	bucket := s.rateWindow[key]

	if now.Sub(bucket.windowStart) >= s.cfg.RateWindow {
		bucket = rateBucket{windowStart: now}
	}

	if bucket.count >= s.cfg.RateLimit {
		s.rateWindow[key] = bucket
		return false, bucket.windowStart.Add(s.cfg.RateWindow).Sub(now)
	}

	bucket.count++
	s.rateWindow[key] = bucket
	return true, 0
}

// TrackSuspiciousActivity records one suspicious event for the key. Once the
// threshold is crossed, the key is blocked for an escalating duration that
// doubles with each further event, capped at the configured maximum. Counts
// reset after an idle period.
func (s *SecurityService) TrackSuspiciousActivity(key, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := s.suspicious[key]

	if !rec.lastActivity.IsZero() && now.Sub(rec.lastActivity) >= s.cfg.IdleReset {
		rec = suspicionRecord{}
	}

	rec.count++
	rec.lastActivity = now

	if rec.count >= s.cfg.BlockThreshold {
		escalation := rec.count - s.cfg.BlockThreshold
		duration := s.cfg.BlockBase << escalation
		if duration > s.cfg.BlockCap || duration <= 0 {
			duration = s.cfg.BlockCap
		}
		rec.blockedUntil = now.Add(duration)

		s.log.WithFields(logrus.Fields{
			"key":    key,
			"reason": reason,
			"count":  rec.count,
			"until":  rec.blockedUntil,
		}).Warn("suspicious activity threshold crossed")
	}

	s.suspicious[key] = rec
}

// IsBlocked reports whether the key is currently blocked.
func (s *SecurityService) IsBlocked(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.suspicious[key]
	if !ok {
		return false
	}
	return s.now().Before(rec.blockedUntil)
}

// ChecksumAddress normalizes an address to its checksummed form, refusing
// malformed input.
func (s *SecurityService) ChecksumAddress(address string) (string, error) {
	if !core.IsValidAddress(address) {
		return "", core.NewWalletError(core.CodeUnknown, fmt.Sprintf("invalid address %q", address))
	}
	return common.HexToAddress(address).Hex(), nil
}
