// Package upstream defines the external trade/market data source contract
// and a resty-backed REST implementation used by both the detector
// and the ingestor's polling fallback.
package upstream

import (
	"context"
	"time"
)

// Market is the subset of a market record the relay consumes: id, question,
// outcomes, outcome prices, active/closed flags, volume, liquidity, and
// end date.
type Market struct {
	ID             string
	Question       string
	Outcomes       []string
	OutcomePrices  []float64
	Active         bool
	Closed         bool
	Volume         float64
	Liquidity      float64
	EndDate        time.Time
}

// Live reports whether a market can still accept orders, approximated as
// active && !closed.
func (m Market) Live() bool { return m.Active && !m.Closed }

// WalletTrade is one entry of the paginated "list trades by wallet"
// endpoint.
type WalletTrade struct {
	ID           string
	MarketID     string
	MakerAddress string
	Side         string
	Price        float64
	Size         float64
	Timestamp    time.Time
	TxHash       string
}

// Upstream is the read-only market/trader data source the detector and the
// ingestor's polling fallback depend on. Implementations must classify
// failures using relayerr (UpstreamUnavailable for network/5xx,
// UpstreamBadData for malformed records).
type Upstream interface {
	ListMarkets(ctx context.Context) ([]Market, error)

	// ListTradesByWallet returns trades for wallet, newest first, paginated
	// via cursor. wallet == "" is a resolved convention, not an omission:
	// it asks for trades across every wallet, unscoped, which is what lets
	// the detector discover wallets it has never seen before. A real
	// discovery feed would expose this as its own endpoint; this relay
	// reuses ListTradesByWallet with an empty wallet instead of adding one.
	ListTradesByWallet(ctx context.Context, wallet string, limit int, cursor string) (trades []WalletTrade, nextCursor string, err error)

	GetMarketPrice(ctx context.Context, marketID string, outcomeIndex int) (float64, error)
}
