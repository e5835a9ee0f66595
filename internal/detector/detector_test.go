package detector

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/relayerr"
	"github.com/iamshubha/poly-copytrade-sub000/internal/relaytest"
	"github.com/iamshubha/poly-copytrade-sub000/internal/store"
	"github.com/iamshubha/poly-copytrade-sub000/internal/upstream"
)

const (
	leaderWallet    = "0x1111111111111111111111111111111111111111"
	smallFryWallet  = "0x2222222222222222222222222222222222222222"
)

func newTestDetector(up *relaytest.FakeUpstream, st store.Store, th domain.Thresholds) *Detector {
	return New(up, st, th, time.Minute, zerolog.Nop())
}

func seedMarketAndTrades(up *relaytest.FakeUpstream, marketID, wallet string, count int, price, size float64) {
	up.Markets = append(up.Markets, upstream.Market{ID: marketID, Active: true, Closed: false})
	for i := 0; i < count; i++ {
		up.Trades[""] = append(up.Trades[""], upstream.WalletTrade{
			ID:           marketID + "-" + wallet + "-" + string(rune('a'+i)),
			MarketID:     marketID,
			MakerAddress: wallet,
			Price:        price,
			Size:         size,
		})
	}
}

func TestDiscover_QualifiesAboveThresholds(t *testing.T) {
	up := relaytest.NewFakeUpstream()
	seedMarketAndTrades(up, "M", leaderWallet, 5, 10, 20) // volume 200*5=1000, trades 5
	st := store.NewMemory()
	d := newTestDetector(up, st, domain.Thresholds{MinVolume: 500, MinTrades: 3})

	leaders, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, leaders, 1)
	assert.Equal(t, domain.Address(leaderWallet), leaders[0].Address)
}

func TestDiscover_ExcludesBelowThresholds(t *testing.T) {
	up := relaytest.NewFakeUpstream()
	seedMarketAndTrades(up, "M", smallFryWallet, 1, 1, 1)
	st := store.NewMemory()
	d := newTestDetector(up, st, domain.Thresholds{MinVolume: 500, MinTrades: 3})

	leaders, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, leaders)
}

func TestDiscover_IgnoresClosedMarkets(t *testing.T) {
	up := relaytest.NewFakeUpstream()
	up.Markets = append(up.Markets, upstream.Market{ID: "M-closed", Active: true, Closed: true})
	up.Trades[""] = append(up.Trades[""], upstream.WalletTrade{ID: "t1", MarketID: "M-closed", MakerAddress: leaderWallet, Price: 100, Size: 100})
	st := store.NewMemory()
	d := newTestDetector(up, st, domain.Thresholds{MinVolume: 1, MinTrades: 1})

	leaders, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, leaders, "a closed market's trades must not count toward qualification")
}

func TestDiscover_UpstreamFailurePropagatesAsUpstreamUnavailable(t *testing.T) {
	up := relaytest.NewFakeUpstream()
	up.MarketsErr = assertError{"boom"}
	st := store.NewMemory()
	d := newTestDetector(up, st, domain.Thresholds{})

	_, err := d.Discover(context.Background())
	require.Error(t, err)
	assert.True(t, relayerr.OfKind(err, relayerr.UpstreamUnavailable))
}

func TestRunCycle_DeltaAddedThenRemoved(t *testing.T) {
	up := relaytest.NewFakeUpstream()
	seedMarketAndTrades(up, "M", leaderWallet, 5, 10, 20)
	st := store.NewMemory()
	d := newTestDetector(up, st, domain.Thresholds{MinVolume: 500, MinTrades: 3})

	var gotAdded, gotRemoved []domain.Leader
	calls := 0
	d.Subscribe(func(added, removed []domain.Leader) {
		calls++
		gotAdded = added
		gotRemoved = removed
	})

	d.runCycle(context.Background())
	require.Equal(t, 1, calls)
	require.Len(t, gotAdded, 1)
	assert.Empty(t, gotRemoved)
	assert.True(t, d.IsLeader(leaderWallet))

	// Next cycle: the leader drops below threshold and disappears.
	up.Trades[""] = nil
	up.Markets = nil
	d.runCycle(context.Background())
	require.Equal(t, 2, calls)
	assert.Empty(t, gotAdded)
	require.Len(t, gotRemoved, 1)
	assert.False(t, d.IsLeader(leaderWallet))
}

func TestRunCycle_RetainsPreviousSetOnUpstreamFailure(t *testing.T) {
	up := relaytest.NewFakeUpstream()
	seedMarketAndTrades(up, "M", leaderWallet, 5, 10, 20)
	st := store.NewMemory()
	d := newTestDetector(up, st, domain.Thresholds{MinVolume: 500, MinTrades: 3})

	calls := 0
	d.Subscribe(func(added, removed []domain.Leader) { calls++ })

	d.runCycle(context.Background())
	require.Equal(t, 1, calls)
	assert.True(t, d.IsLeader(leaderWallet))

	up.MarketsErr = assertError{"upstream down"}
	d.runCycle(context.Background())
	assert.Equal(t, 1, calls, "a failed cycle must not invoke handlers")
	assert.True(t, d.IsLeader(leaderWallet), "a failed cycle must retain the previous leader set")
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
