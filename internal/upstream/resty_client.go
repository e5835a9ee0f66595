package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/iamshubha/poly-copytrade-sub000/internal/relayerr"
)

// RestyClient implements Upstream over HTTP using go-resty/resty/v2, a
// typed REST client in place of a bespoke makeRequest helper. Every call
// is rate-limited so the detector's periodic scan and the ingestor's
// per-leader polling never overrun the upstream's own limits.
type RestyClient struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// NewRestyClient builds an Upstream client against baseURL, timing every
// call out after timeout and allowing at most ratePerSecond requests per
// second with a burst of the same size.
func NewRestyClient(baseURL, token string, timeout time.Duration, ratePerSecond int) *RestyClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0) // the relay's own ingestor/detector own retry+backoff, not the HTTP client

	if token != "" {
		client.SetAuthToken(token)
	}

	if ratePerSecond < 1 {
		ratePerSecond = 1
	}

	return &RestyClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond),
	}
}

type marketsResponse struct {
	Markets []struct {
		ID            string    `json:"id"`
		Question      string    `json:"question"`
		Outcomes      []string  `json:"outcomes"`
		OutcomePrices []float64 `json:"outcome_prices"`
		Active        bool      `json:"active"`
		Closed        bool      `json:"closed"`
		Volume        float64   `json:"volume"`
		Liquidity     float64   `json:"liquidity"`
		EndDate       time.Time `json:"end_date"`
	} `json:"markets"`
}

func (c *RestyClient) ListMarkets(ctx context.Context) ([]Market, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, relayerr.Upstream(err)
	}

	var body marketsResponse
	resp, err := c.client.R().SetContext(ctx).SetResult(&body).Get("/markets")
	if err != nil {
		return nil, relayerr.Upstream(err)
	}
	if resp.IsError() {
		return nil, relayerr.Upstream(fmt.Errorf("list markets: status %d", resp.StatusCode()))
	}

	out := make([]Market, 0, len(body.Markets))
	for _, m := range body.Markets {
		out = append(out, Market{
			ID:            m.ID,
			Question:      m.Question,
			Outcomes:      m.Outcomes,
			OutcomePrices: m.OutcomePrices,
			Active:        m.Active,
			Closed:        m.Closed,
			Volume:        m.Volume,
			Liquidity:     m.Liquidity,
			EndDate:       m.EndDate,
		})
	}
	return out, nil
}

type tradesResponse struct {
	Trades []struct {
		ID           string    `json:"id"`
		MarketID     string    `json:"market_id"`
		MakerAddress string    `json:"maker_address"`
		Side         string    `json:"side"`
		Price        float64   `json:"price"`
		Size         float64   `json:"size"`
		Timestamp    time.Time `json:"timestamp"`
		TxHash       string    `json:"tx_hash"`
	} `json:"trades"`
	NextCursor string `json:"next_cursor"`
}

func (c *RestyClient) ListTradesByWallet(ctx context.Context, wallet string, limit int, cursor string) ([]WalletTrade, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", relayerr.Upstream(err)
	}

	var body tradesResponse
	req := c.client.R().SetContext(ctx).SetResult(&body).
		SetQueryParam("wallet", wallet).
		SetQueryParam("limit", fmt.Sprintf("%d", limit))
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}
	resp, err := req.Get("/trades")
	if err != nil {
		return nil, "", relayerr.Upstream(err)
	}
	if resp.IsError() {
		return nil, "", relayerr.Upstream(fmt.Errorf("list trades for %s: status %d", wallet, resp.StatusCode()))
	}

	out := make([]WalletTrade, 0, len(body.Trades))
	for _, t := range body.Trades {
		if t.ID == "" || t.MarketID == "" {
			return nil, "", relayerr.BadData(fmt.Errorf("trade missing id or market_id"))
		}
		out = append(out, WalletTrade{
			ID:           t.ID,
			MarketID:     t.MarketID,
			MakerAddress: t.MakerAddress,
			Side:         t.Side,
			Price:        t.Price,
			Size:         t.Size,
			Timestamp:    t.Timestamp,
			TxHash:       t.TxHash,
		})
	}
	return out, body.NextCursor, nil
}

func (c *RestyClient) GetMarketPrice(ctx context.Context, marketID string, outcomeIndex int) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, relayerr.Upstream(err)
	}

	var body struct {
		Prices []float64 `json:"outcome_prices"`
	}
	resp, err := c.client.R().SetContext(ctx).SetResult(&body).Get("/markets/" + marketID)
	if err != nil {
		return 0, relayerr.Upstream(err)
	}
	if resp.IsError() {
		return 0, relayerr.Upstream(fmt.Errorf("get market %s: status %d", marketID, resp.StatusCode()))
	}
	if outcomeIndex < 0 || outcomeIndex >= len(body.Prices) {
		return 0, relayerr.BadData(fmt.Errorf("market %s has no outcome index %d", marketID, outcomeIndex))
	}
	return body.Prices[outcomeIndex], nil
}
