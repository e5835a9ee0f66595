package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
)

const testFollower = domain.Address("0x2222222222222222222222222222222222222222")

func seedFollowerRisk(t *testing.T, m *Memory, maxDailyLoss decimal.Decimal) {
	t.Helper()
	m.mu.Lock()
	m.risk[testFollower] = domain.RiskPolicy{
		Follower:          testFollower,
		MaxCopyPercentage: decimal.NewFromInt(100),
		MaxOpenPositions:  100,
		MaxDailyLoss:      decimal.NullDecimal{Decimal: maxDailyLoss, Valid: true},
		AutoCopyEnabled:   true,
	}
	m.mu.Unlock()
}

// TestAdmitIntent_DailyLossBucketsByAdmittedAtNotCreatedAt exercises the
// CopyDelay scenario where an intent is created late on day D (CreatedAt)
// but only admitted into the daily-loss bucket once it actually clears risk
// gating on day D+1 (AdmittedAt). Bucketing by CreatedAt would charge it
// to day one and miss it on day two, letting the limit pass.
func TestAdmitIntent_DailyLossBucketsByAdmittedAtNotCreatedAt(t *testing.T) {
	m := NewMemory()
	seedFollowerRisk(t, m, decimal.NewFromInt(100))

	dayOne := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	dayTwo := time.Date(2026, 1, 2, 0, 5, 0, 0, time.UTC)

	// Prior intent was created near the end of day one but, per CopyDelay,
	// was not admitted until early on day two.
	m.mu.Lock()
	m.intents["prior"] = domain.CopyIntent{
		IntentID:         "prior",
		Follower:         testFollower,
		Side:             domain.SideBuy,
		IntendedNotional: decimal.NewFromInt(90),
		Status:           domain.StatusCompleted,
		CreatedAt:        dayOne,
		AdmittedAt:       dayTwo,
	}
	m.mu.Unlock()

	m.mu.Lock()
	m.intents["next"] = domain.CopyIntent{
		IntentID:         "next",
		Follower:         testFollower,
		Side:             domain.SideBuy,
		IntendedNotional: decimal.NewFromInt(20),
		Status:           domain.StatusPending,
		CreatedAt:        dayTwo,
	}
	m.mu.Unlock()

	decision, err := m.AdmitIntent(context.Background(), "next", dayTwo)
	require.NoError(t, err)
	// prior (90) + next (20) = 110 > 100 when bucketed by admission day (both
	// fall on day two); the daily loss limit must trigger.
	assert.False(t, decision.Admitted)
	assert.Equal(t, domain.ReasonDailyLossLimit, decision.Reason)
}

func TestAdmitIntent_SetsAdmittedAtOnSuccess(t *testing.T) {
	m := NewMemory()
	seedFollowerRisk(t, m, decimal.NewFromInt(1000))

	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	m.mu.Lock()
	m.intents["i1"] = domain.CopyIntent{
		IntentID:         "i1",
		Follower:         testFollower,
		Side:             domain.SideBuy,
		IntendedNotional: decimal.NewFromInt(10),
		Status:           domain.StatusPending,
	}
	m.mu.Unlock()

	decision, err := m.AdmitIntent(context.Background(), "i1", now)
	require.NoError(t, err)
	require.True(t, decision.Admitted)
	assert.Equal(t, now, decision.Intent.AdmittedAt)
}
