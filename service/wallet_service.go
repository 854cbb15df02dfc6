package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"

	"github.com/pivot-protocol/walletcore/config"
	"github.com/pivot-protocol/walletcore/core"
	"github.com/pivot-protocol/walletcore/ports"
)

// WalletService owns the wallet connection lifecycle: connecting,
// disconnecting, chain switching, signing and the session binding between
// the connected account and the authenticated session. The connection state
// is derived; it is recomputed from provider reports, never patched in place.
type WalletService struct {
	provider ports.WalletProvider
	reader   ports.ChainReader
	auth     *AuthService
	security *SecurityService
	events   ports.EventPublisher
	cfg      *config.Config
	log      *logrus.Entry

	mu      sync.Mutex
	state   core.ConnectionState
	lastErr *core.WalletError
	subs    map[int]chan core.ConnectionState
	nextSub int

	listenOnce  sync.Once
	unsubscribe func()
	stop        chan struct{}
}

// NewWalletService creates the connection manager. provider may be nil when
// no wallet is available; operations then fail with a NO_WALLET error.
func NewWalletService(
	provider ports.WalletProvider,
	reader ports.ChainReader,
	auth *AuthService,
	security *SecurityService,
	events ports.EventPublisher,
	cfg *config.Config,
	log *logrus.Logger,
) *WalletService {
	return &WalletService{
		provider: provider,
		reader:   reader,
		auth:     auth,
		security: security,
		events:   events,
		cfg:      cfg,
		log:      log.WithField("component", "wallet"),
		subs:     make(map[int]chan core.ConnectionState),
		stop:     make(chan struct{}),
	}
}

// Connect establishes the wallet connection and starts listening for
// provider-side account and chain changes.
func (s *WalletService) Connect(ctx context.Context) (core.ConnectionState, error) {
	if s.provider == nil {
		return core.ConnectionState{}, s.fail(core.NewWalletError(core.CodeNoWallet, "no wallet provider available"))
	}

	state, err := s.provider.Connect(ctx)
	if err != nil {
		return core.ConnectionState{}, s.fail(core.Classify(err))
	}

	if balance, err := s.reader.BalanceAt(ctx, state.Address); err == nil {
		state.Balance = balance
	}

	s.applyState(ctx, state)
	s.startListening()

	s.log.WithFields(logrus.Fields{
		"address": core.FormatAddress(state.Address.Hex(), 4),
		"chain":   state.ChainID,
	}).Info("wallet connected")
	return state, nil
}

// Restore reconnects automatically when a valid session survives a restart,
// landing on the chain the session last used.
func (s *WalletService) Restore(ctx context.Context) (bool, error) {
	session, err := s.auth.GetSession(ctx)
	if err != nil || session == nil {
		return false, err
	}
	if !core.ValidSessionToken(session.Token) {
		if err := s.auth.Logout(ctx, "corrupt session token"); err != nil {
			return false, err
		}
		return false, nil
	}

	state, err := s.Connect(ctx)
	if err != nil {
		return false, err
	}

	if session.ChainID != "" && session.ChainID != state.ChainID {
		if _, err := s.SwitchChain(ctx, session.ChainID); err != nil {
			s.log.WithError(err).Warn("failed to restore session chain")
		}
	}
	return true, nil
}

// Disconnect tears down the connection and destroys the session. Pending
// transaction watchers are unaffected.
func (s *WalletService) Disconnect(ctx context.Context) error {
	if s.provider != nil {
		if err := s.provider.Disconnect(ctx); err != nil {
			return s.fail(core.Classify(err))
		}
	}

	if err := s.auth.Logout(ctx, "wallet disconnected"); err != nil {
		return err
	}

	s.applyState(ctx, core.ConnectionState{})
	s.log.Info("wallet disconnected")
	return nil
}

// SwitchChain moves the wallet to a configured chain, registering it with
// the provider first when the provider does not know it yet. It reports
// whether the chain had to be registered.
func (s *WalletService) SwitchChain(ctx context.Context, chainID string) (added bool, err error) {
	chain, ok := s.cfg.ChainByID(chainID)
	if !ok {
		return false, s.fail(core.NewWalletError(core.CodeUnsupportedChain,
			fmt.Sprintf("chain %s is not supported", chainID)))
	}
	if s.provider == nil {
		return false, s.fail(core.NewWalletError(core.CodeNoWallet, "no wallet provider available"))
	}

	switchErr := s.provider.SwitchChain(ctx, chainID)
	if switchErr != nil {
		if core.Classify(switchErr).Code != core.CodeUnsupportedChain {
			return false, s.fail(core.Classify(switchErr))
		}

		if err := s.provider.AddChain(ctx, chain); err != nil {
			return false, s.fail(core.Classify(err))
		}
		added = true
		if err := s.provider.SwitchChain(ctx, chainID); err != nil {
			return added, s.fail(core.Classify(err))
		}
	}

	s.mu.Lock()
	state := s.state
	state.ChainID = chain.ID
	s.mu.Unlock()
	s.applyState(ctx, state)

	if err := s.auth.UpdateSessionChain(ctx, chain.ID); err != nil {
		s.log.WithError(err).Warn("failed to record chain on session")
	}
	return added, nil
}

// SignMessage screens a message and signs it with the connected account,
// returning the hex signature.
func (s *WalletService) SignMessage(ctx context.Context, message string) (string, error) {
	state := s.State()
	if !state.Connected {
		return "", s.fail(core.Classify(core.ErrNotConnected))
	}

	key := "sign:" + state.Address.Hex()
	if s.security.IsBlocked(key) {
		return "", s.fail(core.NewWalletError(core.CodeAuthRejected, "signing is temporarily blocked"))
	}
	if allowed, resetIn := s.security.CheckRateLimit(key); !allowed {
		s.security.TrackSuspiciousActivity(key, "signing rate limit exceeded")
		return "", s.fail(core.NewWalletError(core.CodeAuthRejected,
			fmt.Sprintf("too many signing requests, retry in %s", resetIn.Round(time.Second))))
	}

	check := s.security.ValidateSigningMessage(message)
	if !check.Safe {
		s.security.TrackSuspiciousActivity(key, "unsafe signing message")
		return "", s.fail(core.NewWalletError(core.CodeAuthRejected, "message failed security screening"))
	}

	sig, err := s.provider.SignMessage(ctx, []byte(check.Sanitized))
	if err != nil {
		return "", s.fail(core.Classify(err))
	}
	return hexutil.Encode(sig), nil
}

// SignTypedData signs EIP-712 typed data with the connected account.
func (s *WalletService) SignTypedData(ctx context.Context, data apitypes.TypedData) (string, error) {
	state := s.State()
	if !state.Connected {
		return "", s.fail(core.Classify(core.ErrNotConnected))
	}

	sig, err := s.provider.SignTypedData(ctx, data)
	if err != nil {
		return "", s.fail(core.Classify(err))
	}
	return hexutil.Encode(sig), nil
}

// Authenticate runs the full challenge-response flow for the connected
// account and returns the established session.
func (s *WalletService) Authenticate(ctx context.Context) (*core.Session, error) {
	state := s.State()
	if !state.Connected {
		return nil, s.fail(core.Classify(core.ErrNotConnected))
	}
	address := state.Address.Hex()

	challenge, err := s.auth.IssueChallenge(ctx, address)
	if err != nil {
		return nil, s.fail(core.Classify(err))
	}

	sig, err := s.provider.SignMessage(ctx, []byte(challenge.Message))
	if err != nil {
		return nil, s.fail(core.Classify(err))
	}

	session, err := s.auth.Verify(ctx, address, state.WalletLabel, state.ChainID, hexutil.Encode(sig))
	if err != nil {
		return nil, s.fail(core.Classify(err))
	}
	return session, nil
}

// State returns the current derived connection state.
func (s *WalletService) State() core.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent classified failure, or nil.
func (s *WalletService) LastError() *core.WalletError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ClearError drops the stored failure.
func (s *WalletService) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = nil
}

// Subscribe returns a channel receiving every derived state change and a
// cancel function.
func (s *WalletService) Subscribe() (<-chan core.ConnectionState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan core.ConnectionState, 16)
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

// Close stops the provider listener. The connection itself is left as is.
func (s *WalletService) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
		close(s.stop)
	}
}

// fail records a classified error as the last failure and returns it.
func (s *WalletService) fail(we *core.WalletError) error {
	s.mu.Lock()
	s.lastErr = we
	s.mu.Unlock()

	if !core.IsUserRejection(we) {
		s.log.WithField("code", we.Code).Warn(we.Message)
	}
	return we
}

// applyState replaces the derived state and fans it out.
func (s *WalletService) applyState(ctx context.Context, state core.ConnectionState) {
	s.mu.Lock()
	s.state = state
	for _, ch := range s.subs {
		select {
		case ch <- state:
		default:
		}
	}
	s.mu.Unlock()

	if err := s.events.PublishConnection(ctx, state); err != nil {
		s.log.WithError(err).Warn("failed to publish connection event")
	}
}

// startListening subscribes to provider reports once. Account switches are
// checked against the session synchronously so a mismatched session is gone
// before the new state is observable.
func (s *WalletService) startListening() {
	s.listenOnce.Do(func() {
		ch := make(chan core.ConnectionState, 16)
		unsubscribe := s.provider.Subscribe(ch)

		s.mu.Lock()
		s.unsubscribe = unsubscribe
		s.mu.Unlock()

		go func() {
			for {
				select {
				case <-s.stop:
					return
				case state, ok := <-ch:
					if !ok {
						return
					}
					s.handleProviderState(state)
				}
			}
		}()
	})
}

func (s *WalletService) handleProviderState(state core.ConnectionState) {
	ctx := context.Background()

	if state.Connected {
		cleared, err := s.auth.EnforceAddressBinding(ctx, state.Address.Hex())
		if err != nil {
			s.log.WithError(err).Warn("failed to check session binding")
		} else if cleared {
			// A session must never be attached to a different account. Drop
			// the connection along with it.
			s.log.Info("session invalidated after account switch, disconnecting")
			if err := s.provider.Disconnect(ctx); err != nil {
				s.log.WithError(err).Warn("failed to disconnect after account switch")
			}
			s.applyState(ctx, core.ConnectionState{})
			return
		}

		if balance, err := s.reader.BalanceAt(ctx, state.Address); err == nil {
			state.Balance = balance
		}
	}

	s.applyState(ctx, state)
}
