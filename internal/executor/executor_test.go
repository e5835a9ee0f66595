package executor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/exchange"
	"github.com/iamshubha/poly-copytrade-sub000/internal/relaytest"
	"github.com/iamshubha/poly-copytrade-sub000/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const (
	follower = domain.Address("0xFollower")
	leader   = domain.Address("0xLeader")
)

type harness struct {
	store    *store.Memory
	upstream *relaytest.FakeUpstream
	exchange *relaytest.FakeExchange
	notifier *relaytest.FakeNotifier
	exec     *Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory()
	up := relaytest.NewFakeUpstream()
	ex := relaytest.NewFakeExchange()
	notifier := &relaytest.FakeNotifier{}
	return &harness{
		store:    st,
		upstream: up,
		exchange: ex,
		notifier: notifier,
		exec:     New(st, up, ex, notifier, zerolog.Nop()),
	}
}

func seedIntent(t *testing.T, h *harness, risk domain.RiskPolicy, intent domain.CopyIntent) {
	t.Helper()
	risk.Follower = intent.Follower
	_, err := h.store.CreateFollow(context.Background(), domain.Follow{
		Follower: intent.Follower,
		Leader:   leader,
		Policy:   domain.CopyPolicy{Enabled: true},
		Enabled:  true,
	}, risk)
	require.NoError(t, err)
	inserted, err := h.store.InsertIntent(context.Background(), intent)
	require.NoError(t, err)
	require.True(t, inserted)
}

func baseIntent(id string) domain.CopyIntent {
	return domain.CopyIntent{
		IntentID:         id,
		LeaderTradeID:    "lt-" + id,
		FollowID:         "follow-" + id,
		Follower:         follower,
		MarketID:         "M",
		OutcomeIndex:     domain.OutcomeYes,
		Side:             domain.SideBuy,
		IntendedNotional: dec("50"),
		IntendedPrice:    dec("0.65"),
		Status:           domain.StatusPending,
	}
}

func TestExecute_HappyPath(t *testing.T) {
	h := newHarness(t)
	risk := domain.RiskPolicy{
		MaxCopyPercentage: dec("100"),
		MinTradeAmount:    dec("1"),
		MaxOpenPositions:  10,
		SlippageTolerance: dec("0.05"),
		AutoCopyEnabled:   true,
	}
	intent := baseIntent("i1")
	seedIntent(t, h, risk, intent)
	h.upstream.SetPrice("M", int(domain.OutcomeYes), 0.66)

	outcome := h.exec.Execute(context.Background(), intent.IntentID)
	assert.Equal(t, OutcomeAck, outcome)

	got, err := h.store.GetIntent(context.Background(), intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	ct, err := h.store.GetCopiedTrade(context.Background(), intent.IntentID)
	require.NoError(t, err)
	require.NotNil(t, ct)
	assert.True(t, ct.ExecutedPrice.Equal(dec("0.66")))
	assert.Equal(t, 1, h.notifier.Count(domain.NotifyTradeExecuted))
	assert.Len(t, h.exchange.Orders, 1)
}

func TestExecute_SlippageRejected(t *testing.T) {
	h := newHarness(t)
	risk := domain.RiskPolicy{
		MaxCopyPercentage: dec("100"),
		MinTradeAmount:    dec("1"),
		MaxOpenPositions:  10,
		SlippageTolerance: dec("0.05"),
		AutoCopyEnabled:   true,
	}
	intent := baseIntent("i2")
	seedIntent(t, h, risk, intent)
	h.upstream.SetPrice("M", int(domain.OutcomeYes), 0.80) // drift ~0.231 > 0.05

	outcome := h.exec.Execute(context.Background(), intent.IntentID)
	assert.Equal(t, OutcomeAck, outcome)

	got, err := h.store.GetIntent(context.Background(), intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, domain.ReasonSlippage, got.Reason)

	assert.Empty(t, h.exchange.Orders, "exchange must not be called on slippage rejection")
	assert.Equal(t, 1, h.notifier.Count(domain.NotifyTradeFailed))
}

func TestExecute_ZeroSlippageToleranceRejectsAnyDrift(t *testing.T) {
	h := newHarness(t)
	risk := domain.RiskPolicy{
		MaxCopyPercentage: dec("100"),
		MinTradeAmount:    dec("1"),
		MaxOpenPositions:  10,
		SlippageTolerance: dec("0"),
		AutoCopyEnabled:   true,
	}
	intent := baseIntent("i3")
	seedIntent(t, h, risk, intent)
	h.upstream.SetPrice("M", int(domain.OutcomeYes), 0.6501)

	outcome := h.exec.Execute(context.Background(), intent.IntentID)
	assert.Equal(t, OutcomeAck, outcome)
	got, err := h.store.GetIntent(context.Background(), intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestExecute_ZeroSlippageToleranceAcceptsExactFill(t *testing.T) {
	h := newHarness(t)
	risk := domain.RiskPolicy{
		MaxCopyPercentage: dec("100"),
		MinTradeAmount:    dec("1"),
		MaxOpenPositions:  10,
		SlippageTolerance: dec("0"),
		AutoCopyEnabled:   true,
	}
	intent := baseIntent("i4")
	seedIntent(t, h, risk, intent)
	h.upstream.SetPrice("M", int(domain.OutcomeYes), 0.65)

	outcome := h.exec.Execute(context.Background(), intent.IntentID)
	assert.Equal(t, OutcomeAck, outcome)
	got, err := h.store.GetIntent(context.Background(), intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestExecute_MaxOpenPositionsZeroRejectsEveryIntent(t *testing.T) {
	h := newHarness(t)
	risk := domain.RiskPolicy{
		MaxCopyPercentage: dec("100"),
		MinTradeAmount:    dec("1"),
		MaxOpenPositions:  0,
		SlippageTolerance: dec("0.05"),
		AutoCopyEnabled:   true,
	}
	intent := baseIntent("i5")
	seedIntent(t, h, risk, intent)
	h.upstream.SetPrice("M", int(domain.OutcomeYes), 0.65)

	outcome := h.exec.Execute(context.Background(), intent.IntentID)
	assert.Equal(t, OutcomeAck, outcome)
	got, err := h.store.GetIntent(context.Background(), intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSkipped, got.Status)
	assert.Equal(t, domain.ReasonPositionLimit, got.Reason)
	assert.Empty(t, h.exchange.Orders)
}

func TestExecute_PositionCapEnforcement(t *testing.T) {
	h := newHarness(t)
	risk := domain.RiskPolicy{
		MaxCopyPercentage: dec("100"),
		MinTradeAmount:    dec("1"),
		MaxOpenPositions:  2,
		SlippageTolerance: dec("0.05"),
		AutoCopyEnabled:   true,
	}
	risk.Follower = follower
	_, err := h.store.CreateFollow(context.Background(), domain.Follow{
		Follower: follower, Leader: leader,
		Policy: domain.CopyPolicy{Enabled: true}, Enabled: true,
	}, risk)
	require.NoError(t, err)

	processing1 := baseIntent("p1")
	processing1.Status = domain.StatusProcessing
	processing2 := baseIntent("p2")
	processing2.Status = domain.StatusProcessing
	for _, in := range []domain.CopyIntent{processing1, processing2} {
		_, err := h.store.InsertIntent(context.Background(), in)
		require.NoError(t, err)
	}

	newIntent := baseIntent("p3")
	_, err = h.store.InsertIntent(context.Background(), newIntent)
	require.NoError(t, err)
	h.upstream.SetPrice("M", int(domain.OutcomeYes), 0.65)

	outcome := h.exec.Execute(context.Background(), newIntent.IntentID)
	assert.Equal(t, OutcomeAck, outcome)
	got, err := h.store.GetIntent(context.Background(), newIntent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSkipped, got.Status)
	assert.Equal(t, domain.ReasonPositionLimit, got.Reason)

	// One PROCESSING intent completes, freeing a slot for a subsequent trade.
	require.NoError(t, h.store.TransitionStatus(context.Background(), "p1", domain.StatusProcessing, domain.StatusCompleted, ""))

	nextIntent := baseIntent("p4")
	_, err = h.store.InsertIntent(context.Background(), nextIntent)
	require.NoError(t, err)
	outcome = h.exec.Execute(context.Background(), nextIntent.IntentID)
	assert.Equal(t, OutcomeAck, outcome)
	got, err = h.store.GetIntent(context.Background(), nextIntent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestExecute_DisableDuringDelay(t *testing.T) {
	h := newHarness(t)
	risk := domain.RiskPolicy{
		MaxCopyPercentage: dec("100"),
		MinTradeAmount:    dec("1"),
		MaxOpenPositions:  10,
		SlippageTolerance: dec("0.05"),
		AutoCopyEnabled:   true,
	}
	intent := baseIntent("i6")
	seedIntent(t, h, risk, intent)

	// Follower disables auto-copy while the intent is still PENDING/delayed.
	require.NoError(t, h.store.SetAutoCopyEnabled(context.Background(), follower, false))

	outcome := h.exec.Execute(context.Background(), intent.IntentID)
	assert.Equal(t, OutcomeAck, outcome)
	got, err := h.store.GetIntent(context.Background(), intent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSkipped, got.Status)
	assert.Equal(t, domain.ReasonDisabledAtExec, got.Reason)
	assert.Empty(t, h.exchange.Orders)
	assert.Equal(t, 0, h.notifier.Count(domain.NotifyTradeExecuted))
}

func TestExecute_IdempotentReDelivery(t *testing.T) {
	h := newHarness(t)
	risk := domain.RiskPolicy{
		MaxCopyPercentage: dec("100"),
		MinTradeAmount:    dec("1"),
		MaxOpenPositions:  10,
		SlippageTolerance: dec("0.05"),
		AutoCopyEnabled:   true,
	}
	intent := baseIntent("i7")
	seedIntent(t, h, risk, intent)
	h.upstream.SetPrice("M", int(domain.OutcomeYes), 0.66)

	first := h.exec.Execute(context.Background(), intent.IntentID)
	require.Equal(t, OutcomeAck, first)
	require.Len(t, h.exchange.Orders, 1)

	// Re-delivery of an already-terminal intent must Ack without doing
	// anything further.
	second := h.exec.Execute(context.Background(), intent.IntentID)
	assert.Equal(t, OutcomeAck, second)
	assert.Len(t, h.exchange.Orders, 1, "no second exchange submission")
}

func TestExecute_ExchangeSubmitIdempotencyAcrossRetries(t *testing.T) {
	h := newHarness(t)
	ord := exchange.Order{MarketID: "M", IdempotencyKey: "intent-x"}
	ref1, _, err := h.exchange.Submit(context.Background(), ord)
	require.NoError(t, err)
	ref2, _, err := h.exchange.Submit(context.Background(), ord)
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2, "re-submitting the same idempotency key must return the original order_ref")
	assert.Len(t, h.exchange.Orders, 1)
}

func TestPriceDrift(t *testing.T) {
	d := priceDrift(0.66, dec("0.65"))
	assert.True(t, d.GreaterThan(dec("0.015")) && d.LessThan(dec("0.016")), "got %s", d)

	assert.True(t, priceDrift(0.65, decimal.Zero).IsZero(), "undefined drift against zero intended price must not panic or divide by zero")
}
