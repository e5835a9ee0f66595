package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/queue"
	"github.com/iamshubha/poly-copytrade-sub000/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nullDec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

func newHarness(t *testing.T) (*store.Memory, *queue.Memory, *Dispatcher) {
	t.Helper()
	st := store.NewMemory()
	q := queue.NewMemory(60*time.Second, queue.RetryPolicy{MaxAttempts: 5, Base: time.Second, Cap: 5 * time.Minute})
	d := New(st, q, zerolog.Nop())
	return st, q, d
}

func seedFollow(t *testing.T, st *store.Memory, follower, leader domain.Address, policy domain.CopyPolicy, risk domain.RiskPolicy) *domain.Follow {
	t.Helper()
	f, err := st.CreateFollow(context.Background(), domain.Follow{
		Follower: follower,
		Leader:   leader,
		Policy:   policy,
		Enabled:  true,
	}, risk)
	require.NoError(t, err)
	return f
}

func baseRisk(follower domain.Address) domain.RiskPolicy {
	return domain.RiskPolicy{
		Follower:          follower,
		MaxCopyPercentage: dec("100"),
		MinTradeAmount:    dec("1"),
		MaxOpenPositions:  10,
		SlippageTolerance: dec("0.05"),
		AutoCopyEnabled:   true,
	}
}

const (
	leaderAddr   = domain.Address("0xLeader")
	followerAddr = domain.Address("0xFollower")
)

func TestDispatch_HappyPathProportionalCopy(t *testing.T) {
	st, q, d := newHarness(t)
	f := seedFollow(t, st, followerAddr, leaderAddr,
		domain.CopyPolicy{Enabled: true, CopyPercentage: dec("50")},
		baseRisk(followerAddr))

	observedAt := time.Now()
	trade := domain.LeaderTrade{
		LeaderTradeID: "lt-1",
		Leader:        leaderAddr,
		MarketID:      "M",
		Side:          domain.SideBuy,
		Notional:      dec("100"),
		Price:         dec("0.65"),
		ObservedAt:    observedAt,
	}

	require.NoError(t, d.Dispatch(context.Background(), trade))

	intentID := domain.IntentID("lt-1", f.ID)
	intent, err := st.GetIntent(context.Background(), intentID)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, domain.StatusPending, intent.Status)
	assert.True(t, intent.IntendedNotional.Equal(dec("50")), "expected notional 50, got %s", intent.IntendedNotional)
	assert.True(t, intent.IntendedPrice.Equal(dec("0.65")))

	job, err := q.Reserve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, intentID, job.IntentID)
}

func TestDispatch_MarketWhitelistSkip(t *testing.T) {
	st, q, d := newHarness(t)
	f := seedFollow(t, st, followerAddr, leaderAddr,
		domain.CopyPolicy{
			Enabled:        true,
			CopyPercentage: dec("50"),
			OnlyMarkets:    map[string]struct{}{"M-prime": {}},
		},
		baseRisk(followerAddr))

	trade := domain.LeaderTrade{
		LeaderTradeID: "lt-2",
		Leader:        leaderAddr,
		MarketID:      "M",
		Side:          domain.SideBuy,
		Notional:      dec("100"),
		Price:         dec("0.65"),
		ObservedAt:    time.Now(),
	}
	require.NoError(t, d.Dispatch(context.Background(), trade))

	intentID := domain.IntentID("lt-2", f.ID)
	intent, err := st.GetIntent(context.Background(), intentID)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, domain.StatusSkipped, intent.Status)
	assert.Equal(t, domain.ReasonMarketNotAllowed, intent.Reason)

	job, err := q.Reserve(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job, "skipped intent must never be enqueued")
}

func TestDispatch_DuplicateIngestionIsIdempotent(t *testing.T) {
	st, q, d := newHarness(t)
	f := seedFollow(t, st, followerAddr, leaderAddr,
		domain.CopyPolicy{Enabled: true, CopyPercentage: dec("50")},
		baseRisk(followerAddr))

	trade := domain.LeaderTrade{
		LeaderTradeID: "lt-dup",
		Leader:        leaderAddr,
		MarketID:      "M",
		Side:          domain.SideBuy,
		Notional:      dec("100"),
		Price:         dec("0.65"),
		ObservedAt:    time.Now(),
	}

	require.NoError(t, d.Dispatch(context.Background(), trade))
	require.NoError(t, d.Dispatch(context.Background(), trade)) // replayed, e.g. stream + poll both observed it

	intentID := domain.IntentID("lt-dup", f.ID)
	intent, err := st.GetIntent(context.Background(), intentID)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, domain.StatusPending, intent.Status)

	// Re-enqueuing a known intent_id must be a no-op: exactly one job ready.
	job, err := q.Reserve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	again, err := q.Reserve(context.Background())
	require.NoError(t, err)
	assert.Nil(t, again, "duplicate dispatch must not produce a second queued job")
}

func TestDispatch_BelowMinAfterCapping(t *testing.T) {
	st, _, d := newHarness(t)
	risk := baseRisk(followerAddr)
	risk.MinTradeAmount = dec("10")
	seedFollow(t, st, followerAddr, leaderAddr,
		domain.CopyPolicy{Enabled: true, CopyPercentage: dec("0")},
		risk)

	trade := domain.LeaderTrade{
		LeaderTradeID: "lt-3",
		Leader:        leaderAddr,
		MarketID:      "M",
		Side:          domain.SideBuy,
		Notional:      dec("100"),
		Price:         dec("0.65"),
		ObservedAt:    time.Now(),
	}
	require.NoError(t, d.Dispatch(context.Background(), trade))

	intents := listIntents(st)
	require.Len(t, intents, 1)
	assert.Equal(t, domain.StatusSkipped, intents[0].Status)
	assert.Equal(t, domain.ReasonBelowMin, intents[0].Reason)
}

func TestDispatch_DisabledFollowIsSkipped(t *testing.T) {
	st, q, d := newHarness(t)
	seedFollow(t, st, followerAddr, leaderAddr,
		domain.CopyPolicy{Enabled: false, CopyPercentage: dec("50")},
		baseRisk(followerAddr))

	trade := domain.LeaderTrade{
		LeaderTradeID: "lt-4",
		Leader:        leaderAddr,
		MarketID:      "M",
		Side:          domain.SideBuy,
		Notional:      dec("100"),
		Price:         dec("0.65"),
		ObservedAt:    time.Now(),
	}
	require.NoError(t, d.Dispatch(context.Background(), trade))

	intents := listIntents(st)
	require.Len(t, intents, 1)
	assert.Equal(t, domain.StatusSkipped, intents[0].Status)
	assert.Equal(t, domain.ReasonDisabled, intents[0].Reason)

	job, err := q.Reserve(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDispatch_NoLostTrades_OneIntentPerFollow(t *testing.T) {
	st, _, d := newHarness(t)
	follower2 := domain.Address("0xFollower2")
	seedFollow(t, st, followerAddr, leaderAddr, domain.CopyPolicy{Enabled: true, CopyPercentage: dec("50")}, baseRisk(followerAddr))
	seedFollow(t, st, follower2, leaderAddr, domain.CopyPolicy{Enabled: true, CopyPercentage: dec("10")}, baseRisk(follower2))

	trade := domain.LeaderTrade{
		LeaderTradeID: "lt-5",
		Leader:        leaderAddr,
		MarketID:      "M",
		Side:          domain.SideBuy,
		Notional:      dec("100"),
		Price:         dec("0.65"),
		ObservedAt:    time.Now(),
	}
	require.NoError(t, d.Dispatch(context.Background(), trade))

	intents := listIntents(st)
	assert.Len(t, intents, 2, "exactly one CopyIntent per Follow of the leader at observation time")
}

func TestSizeIntent_CapsInOrder(t *testing.T) {
	risk := domain.RiskPolicy{
		MaxCopyPercentage: dec("20"),
		MinTradeAmount:    dec("1"),
		MaxTradeAmount:    nullDec("15"),
	}
	notional, ok := sizeIntent(dec("100"), dec("50"), risk)
	require.True(t, ok)
	// base = 50, capped by max_trade_amount to 15, capped by max_copy_percentage (20) to 20 -> min(15,20)=15
	assert.True(t, notional.Equal(dec("15")), "got %s", notional)
}

func TestSizeIntent_RejectsBelowMin(t *testing.T) {
	risk := domain.RiskPolicy{
		MaxCopyPercentage: dec("100"),
		MinTradeAmount:    dec("5"),
	}
	_, ok := sizeIntent(dec("100"), dec("0"), risk)
	assert.False(t, ok, "copy_percentage=0 must be rejected for any positive min_trade_amount")
}

func listIntents(st *store.Memory) []domain.CopyIntent {
	return st.AllIntentsForTest()
}
