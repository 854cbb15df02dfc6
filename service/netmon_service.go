package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pivot-protocol/walletcore/config"
	"github.com/pivot-protocol/walletcore/core"
	"github.com/pivot-protocol/walletcore/metrics"
	"github.com/pivot-protocol/walletcore/ports"
)

// ReconnectPhase names the reconnection state machine position.
type ReconnectPhase string

const (
	ReconnectIdle      ReconnectPhase = "idle"
	ReconnectRetrying  ReconnectPhase = "retrying"
	ReconnectExhausted ReconnectPhase = "exhausted"
)

// ReconnectState is the observable view of the reconnection machine.
type ReconnectState struct {
	Phase   ReconnectPhase `json:"phase"`
	Attempt int            `json:"attempt"`
}

// RetryDelay computes the exponential backoff delay for a retry attempt,
// counted from zero, capped at max.
func RetryDelay(base time.Duration, attempt int, max time.Duration) time.Duration {
	delay := base << attempt
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

// NetworkMonitor probes the RPC endpoint on a fixed interval and drives
// bounded reconnection with exponential backoff when probes fail. After the
// retry budget is exhausted, recovery requires an explicit ForceReconnect.
type NetworkMonitor struct {
	reader  ports.ChainReader
	cfg     config.MonitorConfig
	metrics *metrics.Metrics
	log     *logrus.Entry

	// reconnect is invoked on each retry attempt to re-establish upstream
	// state. Optional; probing alone is used when unset.
	reconnect func(ctx context.Context) error

	mu       sync.Mutex
	status   core.NetworkStatus
	phase    ReconnectPhase
	attempt  int
	inFlight bool

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	now func() time.Time
}

// NewNetworkMonitor creates a monitor. Start must be called to begin probing.
func NewNetworkMonitor(reader ports.ChainReader, cfg config.MonitorConfig, m *metrics.Metrics, log *logrus.Logger) *NetworkMonitor {
	return &NetworkMonitor{
		reader:  reader,
		cfg:     cfg,
		metrics: m,
		log:     log.WithField("component", "netmon"),
		phase:   ReconnectIdle,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// SetReconnector installs the callback run on reconnection attempts.
func (m *NetworkMonitor) SetReconnector(fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnect = fn
}

// Start launches the probe loop: one immediate probe, then one per interval.
func (m *NetworkMonitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		defer close(m.done)

		m.Probe(context.Background())

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Probe(context.Background())
			}
		}
	}()
}

// Probe performs one liveness check and updates the health view. A failed
// probe triggers the reconnection machine unless the host itself is offline,
// a round is already running, or the budget is exhausted. Recovery while
// offline waits for a later probe to see the host back.
func (m *NetworkMonitor) Probe(ctx context.Context) core.NetworkStatus {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := m.now()
	_, err := m.reader.BlockNumber(probeCtx)
	latency := m.now().Sub(start)

	m.mu.Lock()
	m.status.LastChecked = m.now()

	if err == nil {
		m.status.Online = true
		m.status.ConnectedToRPC = true
		m.status.Latency = latency
		m.status.ConsecutiveFailures = 0
		m.phase = ReconnectIdle
		m.attempt = 0
		status := m.status
		m.mu.Unlock()

		m.metrics.ProbeLatency.Set(latency.Seconds())
		return status
	}

	m.status.ConnectedToRPC = false
	m.status.Latency = 0
	m.status.ConsecutiveFailures++
	// A transport-level failure means the host network itself is suspect.
	m.status.Online = core.Classify(err).Code != core.CodeNetworkError
	status := m.status
	shouldRetry := m.status.Online && m.phase != ReconnectExhausted && !m.inFlight
	if shouldRetry {
		m.inFlight = true
		m.phase = ReconnectRetrying
		m.attempt = 0
	}
	m.mu.Unlock()

	m.metrics.ProbeFailures.Inc()
	m.log.WithError(err).WithField("failures", status.ConsecutiveFailures).Warn("rpc probe failed")

	if shouldRetry {
		go m.runReconnect()
	}
	return status
}

// runReconnect drives the bounded retry loop. Single flight is guaranteed by
// the inFlight flag taken in Probe or ForceReconnect.
func (m *NetworkMonitor) runReconnect() {
	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		m.mu.Lock()
		m.attempt = attempt + 1
		m.mu.Unlock()

		delay := RetryDelay(m.cfg.RetryDelay, attempt, m.cfg.RetryCap)
		select {
		case <-m.stop:
			return
		case <-time.After(delay):
		}

		if m.tryRecover() {
			m.mu.Lock()
			m.phase = ReconnectIdle
			m.attempt = 0
			m.mu.Unlock()
			m.log.Info("rpc connection recovered")
			return
		}
	}

	m.mu.Lock()
	m.phase = ReconnectExhausted
	m.mu.Unlock()
	m.log.Warn("reconnection attempts exhausted, waiting for manual retry")
}

func (m *NetworkMonitor) tryRecover() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.mu.Lock()
	reconnect := m.reconnect
	m.mu.Unlock()

	if reconnect != nil {
		if err := reconnect(ctx); err != nil {
			m.log.WithError(err).Debug("reconnect callback failed")
			return false
		}
	}

	start := m.now()
	if _, err := m.reader.BlockNumber(ctx); err != nil {
		return false
	}

	m.mu.Lock()
	m.status.Online = true
	m.status.ConnectedToRPC = true
	m.status.Latency = m.now().Sub(start)
	m.status.LastChecked = m.now()
	m.status.ConsecutiveFailures = 0
	m.mu.Unlock()
	return true
}

// ForceReconnect resets an exhausted machine and starts a fresh retry round.
// It is a no-op while a round is already running.
func (m *NetworkMonitor) ForceReconnect() {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	m.phase = ReconnectRetrying
	m.attempt = 0
	m.mu.Unlock()

	go m.runReconnect()
}

// Status returns the current health view.
func (m *NetworkMonitor) Status() core.NetworkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Reconnecting returns the reconnection machine state.
func (m *NetworkMonitor) Reconnecting() ReconnectState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ReconnectState{Phase: m.phase, Attempt: m.attempt}
}

// Close stops the probe loop. Safe to call more than once.
func (m *NetworkMonitor) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if started {
			<-m.done
		}
	})
}
