// Package relaytest provides small in-memory fakes shared across package
// test suites, preferring hand-written fakes over generated mocks.
package relaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/exchange"
	"github.com/iamshubha/poly-copytrade-sub000/internal/upstream"
)

// FakeUpstream is a scriptable Upstream for dispatcher/executor/detector
// tests.
type FakeUpstream struct {
	mu sync.Mutex

	Markets     []upstream.Market
	Trades      map[string][]upstream.WalletTrade // wallet -> trades
	Prices      map[string]float64                // "marketID:outcomeIndex" -> price
	MarketsErr  error
	TradesErr   error
	PriceErr    error
}

// NewFakeUpstream constructs an empty FakeUpstream.
func NewFakeUpstream() *FakeUpstream {
	return &FakeUpstream{
		Trades: make(map[string][]upstream.WalletTrade),
		Prices: make(map[string]float64),
	}
}

func (f *FakeUpstream) ListMarkets(context.Context) ([]upstream.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MarketsErr != nil {
		return nil, f.MarketsErr
	}
	return f.Markets, nil
}

func (f *FakeUpstream) ListTradesByWallet(_ context.Context, wallet string, limit int, _ string) ([]upstream.WalletTrade, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TradesErr != nil {
		return nil, "", f.TradesErr
	}
	trades := f.Trades[wallet]
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, "", nil
}

func (f *FakeUpstream) GetMarketPrice(_ context.Context, marketID string, outcomeIndex int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PriceErr != nil {
		return 0, f.PriceErr
	}
	return f.Prices[priceKey(marketID, outcomeIndex)], nil
}

// SetPrice is a test helper for seeding GetMarketPrice responses.
func (f *FakeUpstream) SetPrice(marketID string, outcomeIndex int, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prices[priceKey(marketID, outcomeIndex)] = price
}

func priceKey(marketID string, outcomeIndex int) string {
	return fmt.Sprintf("%s:%d", marketID, outcomeIndex)
}

// FakeExchange records every submitted order and returns a deterministic
// order ref, honoring the idempotency contract real implementations must
// provide.
type FakeExchange struct {
	mu      sync.Mutex
	Orders  []exchange.Order
	refs    map[string]string
	SubmitErr error
}

// NewFakeExchange constructs an empty FakeExchange.
func NewFakeExchange() *FakeExchange {
	return &FakeExchange{refs: make(map[string]string)}
}

func (f *FakeExchange) Submit(_ context.Context, order exchange.Order) (string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return "", time.Time{}, f.SubmitErr
	}
	if ref, ok := f.refs[order.IdempotencyKey]; ok {
		return ref, time.Now(), nil
	}
	f.Orders = append(f.Orders, order)
	ref := "order-" + order.IdempotencyKey
	f.refs[order.IdempotencyKey] = ref
	return ref, time.Now(), nil
}

// FakeNotifier records every notification for assertion.
type FakeNotifier struct {
	mu            sync.Mutex
	Notifications []Notification
}

// Notification is a recorded call to Notify.
type Notification struct {
	User    domain.Address
	Kind    domain.NotificationKind
	Payload map[string]any
}

func (f *FakeNotifier) Notify(user domain.Address, kind domain.NotificationKind, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notifications = append(f.Notifications, Notification{User: user, Kind: kind, Payload: payload})
}

// Count returns how many notifications of kind were recorded.
func (f *FakeNotifier) Count(kind domain.NotificationKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, notif := range f.Notifications {
		if notif.Kind == kind {
			n++
		}
	}
	return n
}
