package core

import "time"

// LatencyGrade buckets a probe round trip for display.
type LatencyGrade string

const (
	LatencyGood    LatencyGrade = "good"
	LatencyFair    LatencyGrade = "fair"
	LatencyPoor    LatencyGrade = "poor"
	LatencyUnknown LatencyGrade = "unknown"
)

// NetworkStatus is the process-wide view of RPC transport health, recomputed
// on every probe. ConsecutiveFailures drives reconnection backoff.
type NetworkStatus struct {
	Online              bool
	ConnectedToRPC      bool
	Latency             time.Duration // zero when unknown
	LastChecked         time.Time
	ConsecutiveFailures int
}

// Healthy reports whether both the host network and the RPC endpoint are up.
func (s NetworkStatus) Healthy() bool {
	return s.Online && s.ConnectedToRPC
}

// LatencyGrade grades the last measured round trip.
func (s NetworkStatus) LatencyGrade() LatencyGrade {
	switch {
	case s.Latency == 0:
		return LatencyUnknown
	case s.Latency < 500*time.Millisecond:
		return LatencyGood
	case s.Latency < time.Second:
		return LatencyFair
	default:
		return LatencyPoor
	}
}
