package domain

import "time"

// Leader is a Wallet plus the rolling stats that qualified it for
// monitoring.
type Leader struct {
	Address      Address
	TotalVolume  float64
	TotalTrades  int
	WinRate      *float64 // nil when the upstream source does not expose closed-position ratio
	LastSeen     time.Time
	UpdatedAt    time.Time
}

// Thresholds are the configured qualification bar a wallet must clear on
// every detection cycle to remain (or become) a Leader.
type Thresholds struct {
	MinVolume  float64
	MinTrades  int
	MinWinRate float64
}

// Qualifies reports whether the leader meets all three thresholds. When
// WinRate is unknown (nil), the win-rate threshold is not applied —
// the leader is admitted on volume and trade count alone.
func (l Leader) Qualifies(t Thresholds) bool {
	if l.TotalVolume < t.MinVolume {
		return false
	}
	if l.TotalTrades < t.MinTrades {
		return false
	}
	if l.WinRate != nil && *l.WinRate < t.MinWinRate {
		return false
	}
	return true
}
