package telemetry

import "time"

// Staleness thresholds. These are fixed, not configuration.
const (
	StaleAfter        = 2 * time.Second
	DisconnectedAfter = 5 * time.Second
)

// Classify maps time since the last sample to a connectivity class.
// 2s exactly is Stale and 5s exactly is Disconnected.
func Classify(elapsed time.Duration) Connectivity {
	switch {
	case elapsed < StaleAfter:
		return Connected
	case elapsed < DisconnectedAfter:
		return Stale
	default:
		return Disconnected
	}
}

// classifyAt applies Classify to a record's last-seen time. A robot that was
// never heard from is Disconnected without looking at the clock.
func classifyAt(lastSeen, now time.Time) Connectivity {
	if lastSeen.IsZero() {
		return Disconnected
	}
	return Classify(now.Sub(lastSeen))
}
