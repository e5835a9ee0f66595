// Package exchange defines the order-submission boundary and an
// HTTP-backed implementation with worker-side idempotency, generalized
// from a signed-order wire format to a generic REST submit call plus a
// local idempotency table.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/relayerr"
	"github.com/iamshubha/poly-copytrade-sub000/internal/store"
)

// Order is everything Exchange.Submit needs to place a copy trade.
type Order struct {
	MarketID       string
	OutcomeIndex   domain.Outcome
	Side           domain.Side
	Notional       decimal.Decimal
	Shares         decimal.Decimal
	Price          decimal.Decimal
	MakerAddress   domain.Address
	IdempotencyKey string // always the intent_id
}

// Exchange submits orders. A conforming implementation treats
// re-submission with the same IdempotencyKey within its retention window
// as the original order.
type Exchange interface {
	Submit(ctx context.Context, order Order) (orderRef string, submittedAt time.Time, err error)
}

type submitRequest struct {
	MarketID       string `json:"market_id"`
	OutcomeIndex   int    `json:"outcome_index"`
	Side           string `json:"side"`
	Notional       string `json:"notional"`
	Shares         string `json:"shares"`
	Price          string `json:"price"`
	MakerAddress   string `json:"maker_address"`
	IdempotencyKey string `json:"idempotency_key"`
}

type submitResponse struct {
	OrderRef    string `json:"order_ref"`
	SubmittedAt int64  `json:"submitted_at"`
}

// RestyExchange is an HTTP-backed Exchange. Because it cannot assume the
// remote venue offers server-side idempotency, it consults the
// copied_trade table (keyed by intent_id) before the remote call and
// returns the recorded TxRef when a row exists; the executor writes that
// row after a successful submit, so a re-submission within a retry window
// resolves to the first outcome.
type RestyExchange struct {
	client *resty.Client
	store  store.Store
}

// NewRestyExchange constructs a RestyExchange against baseURL with token
// auth and timeout.
func NewRestyExchange(baseURL, token string, timeout time.Duration, st store.Store) *RestyExchange {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(token)
	return &RestyExchange{client: client, store: st}
}

func (e *RestyExchange) Submit(ctx context.Context, order Order) (string, time.Time, error) {
	if existing, err := e.store.GetCopiedTrade(ctx, order.IdempotencyKey); err == nil && existing != nil && existing.TxRef != "" {
		return existing.TxRef, existing.ExecutedAt, nil
	}

	var out submitResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(submitRequest{
			MarketID:       order.MarketID,
			OutcomeIndex:   int(order.OutcomeIndex),
			Side:           string(order.Side),
			Notional:       order.Notional.String(),
			Shares:         order.Shares.String(),
			Price:          order.Price.String(),
			MakerAddress:   string(order.MakerAddress),
			IdempotencyKey: order.IdempotencyKey,
		}).
		SetResult(&out).
		Post("/orders")
	if err != nil {
		return "", time.Time{}, relayerr.New(relayerr.ExchangeTransient, err)
	}
	if resp.StatusCode() >= 500 || resp.StatusCode() == 429 {
		return "", time.Time{}, relayerr.New(relayerr.ExchangeTransient, fmt.Errorf("exchange returned status %d", resp.StatusCode()))
	}
	if resp.StatusCode() >= 400 {
		return "", time.Time{}, relayerr.New(relayerr.ExchangeRejected, fmt.Errorf("exchange rejected order: status %d", resp.StatusCode()))
	}
	if out.OrderRef == "" {
		return "", time.Time{}, relayerr.New(relayerr.ExchangeRejected, fmt.Errorf("exchange accepted request but returned no order_ref"))
	}

	submittedAt := time.UnixMilli(out.SubmittedAt)
	if out.SubmittedAt == 0 {
		submittedAt = time.Now()
	}
	return out.OrderRef, submittedAt, nil
}
