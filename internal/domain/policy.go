package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is one side of a binary prediction market.
type Outcome int

const (
	OutcomeYes Outcome = 0
	OutcomeNo  Outcome = 1
)

func (o Outcome) String() string {
	if o == OutcomeYes {
		return "YES"
	}
	return "NO"
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// CopyPolicy is attached 1:1 to a Follow and governs whether and how much
// of a leader's trade gets mirrored.
type CopyPolicy struct {
	Enabled        bool
	CopyPercentage decimal.Decimal // in [0,100]
	OnlyMarkets    map[string]struct{}
	ExcludeMarkets map[string]struct{}
	OnlyOutcomes   map[Outcome]struct{}
}

// AllowsMarket applies the whitelist-then-blacklist market filter.
func (p CopyPolicy) AllowsMarket(marketID string) (ok bool, reason string) {
	if len(p.OnlyMarkets) > 0 {
		if _, present := p.OnlyMarkets[marketID]; !present {
			return false, "market_not_allowed"
		}
	}
	if _, excluded := p.ExcludeMarkets[marketID]; excluded {
		return false, "market_excluded"
	}
	return true, ""
}

// AllowsOutcome applies the outcome filter.
func (p CopyPolicy) AllowsOutcome(o Outcome) bool {
	if len(p.OnlyOutcomes) == 0 {
		return true
	}
	_, ok := p.OnlyOutcomes[o]
	return ok
}

// Follow is the (follower, leader) relation a follower sets up, unique on
// the pair.
type Follow struct {
	ID        string
	Follower  Address
	Leader    Address
	Policy    CopyPolicy
	Enabled   bool
	CreatedAt time.Time
}

// RiskPolicy is attached 1:1 to each follower and is account-wide, not
// per-follow.
type RiskPolicy struct {
	Follower          Address
	MaxCopyPercentage decimal.Decimal // upper bound applied after copy_percentage
	MinTradeAmount    decimal.Decimal
	MaxTradeAmount    decimal.NullDecimal // unset means uncapped
	MaxOpenPositions  int
	MaxDailyLoss      decimal.NullDecimal // unset means no daily-loss gate
	SlippageTolerance decimal.Decimal     // relative, in [0,1]
	CopyDelay         time.Duration
	AutoCopyEnabled   bool
}
