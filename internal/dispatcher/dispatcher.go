// Package dispatcher fans a LeaderTrade out to the matching CopyIntents
// and schedules them onto the queue, generalized from a single fixed
// copy-ratio to the full CopyPolicy + RiskPolicy filter chain.
package dispatcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/metrics"
	"github.com/iamshubha/poly-copytrade-sub000/internal/queue"
	"github.com/iamshubha/poly-copytrade-sub000/internal/store"
)

const hundred = "100"

// Dispatcher consumes LeaderTrade events and produces CopyIntents.
type Dispatcher struct {
	store store.Store
	queue queue.Queue
	log   zerolog.Logger
}

// New constructs a Dispatcher.
func New(st store.Store, q queue.Queue, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{store: st, queue: q, log: log.With().Str("component", "dispatcher").Logger()}
}

// Run consumes in until ctx is cancelled or the channel closes. For a given
// follower, trades are processed in receive order, which preserves the
// per-follower ordering guarantee since the channel itself is ordered
// and Dispatch does not fan work out across goroutines.
func (d *Dispatcher) Run(ctx context.Context, in <-chan domain.LeaderTrade) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-in:
			if !ok {
				return
			}
			if err := d.Dispatch(ctx, t); err != nil {
				d.log.Error().Err(err).Str("leader_trade_id", t.LeaderTradeID).Msg("dispatch failed")
			}
		}
	}
}

// Dispatch runs the filter-and-schedule algorithm for a single LeaderTrade.
func (d *Dispatcher) Dispatch(ctx context.Context, t domain.LeaderTrade) error {
	if _, err := d.store.InsertLeaderTrade(ctx, t); err != nil {
		return err
	}

	bundles, err := d.store.FollowsByLeader(ctx, t.Leader)
	if err != nil {
		return err
	}

	for _, fb := range bundles {
		d.dispatchOne(ctx, t, fb)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, t domain.LeaderTrade, fb store.FollowBundle) {
	f := fb.Follow
	risk := fb.Risk
	intentID := domain.IntentID(t.LeaderTradeID, f.ID)
	log := d.log.With().Str("intent_id", intentID).Str("follow_id", f.ID).Logger()

	skip := func(reason string) {
		intent := domain.CopyIntent{
			IntentID:      intentID,
			LeaderTradeID: t.LeaderTradeID,
			FollowID:      f.ID,
			Follower:      f.Follower,
			MarketID:      t.MarketID,
			OutcomeIndex:  t.OutcomeIndex,
			Side:          t.Side,
			Status:        domain.StatusSkipped,
			Reason:        reason,
			CreatedAt:     t.ObservedAt,
		}
		inserted, err := d.store.InsertIntent(ctx, intent)
		if err != nil {
			log.Error().Err(err).Msg("failed to record skipped intent")
			return
		}
		if !inserted {
			return // duplicate dispatch of an already-recorded decision, no-op
		}
		metrics.ObserveIntent(string(domain.StatusSkipped), reason)
		log.Info().Str("reason", reason).Msg("intent skipped")
	}

	// Step a: master switches.
	if !f.Enabled || !f.Policy.Enabled || !risk.AutoCopyEnabled {
		skip(domain.ReasonDisabled)
		return
	}

	// Step b: market filter.
	if ok, reason := f.Policy.AllowsMarket(t.MarketID); !ok {
		skip(reason)
		return
	}

	// Step c: outcome filter.
	if !f.Policy.AllowsOutcome(t.OutcomeIndex) {
		skip(domain.ReasonOutcomeNotAllowed)
		return
	}

	// Step d: sizing.
	notional, ok := sizeIntent(t.Notional, f.Policy.CopyPercentage, risk)
	if !ok {
		skip(domain.ReasonBelowMin)
		return
	}

	// Step e: scheduling.
	scheduledAt := t.ObservedAt.Add(risk.CopyDelay)

	// Step f: persist PENDING.
	intent := domain.CopyIntent{
		IntentID:         intentID,
		LeaderTradeID:    t.LeaderTradeID,
		FollowID:         f.ID,
		Follower:         f.Follower,
		MarketID:         t.MarketID,
		OutcomeIndex:     t.OutcomeIndex,
		Side:             t.Side,
		IntendedNotional: notional,
		IntendedPrice:    t.Price,
		ScheduledAt:      scheduledAt,
		Status:           domain.StatusPending,
		CreatedAt:        t.ObservedAt,
	}
	inserted, err := d.store.InsertIntent(ctx, intent)
	if err != nil {
		log.Error().Err(err).Msg("failed to record intent")
		return
	}
	if !inserted {
		return // duplicate dispatch, do not enqueue again
	}

	// Step g: enqueue with delivery delay.
	delay := time.Until(scheduledAt)
	if delay < 0 {
		delay = 0
	}
	if err := d.queue.Enqueue(ctx, intentID, delay); err != nil {
		log.Error().Err(err).Msg("failed to enqueue intent")
		return
	}
	metrics.ObserveIntent(string(domain.StatusPending), "")
	log.Info().Str("market_id", t.MarketID).Msg("intent dispatched")
}

// sizeIntent applies the proportional-size capping chain. ok is false when
// the result falls below the follower's min_trade_amount.
func sizeIntent(tradeNotional, copyPercentage decimal.Decimal, risk domain.RiskPolicy) (decimal.Decimal, bool) {
	hundredD := decimal.RequireFromString(hundred)

	base := tradeNotional.Mul(copyPercentage).Div(hundredD)
	capped := base
	if risk.MaxTradeAmount.Valid && capped.GreaterThan(risk.MaxTradeAmount.Decimal) {
		capped = risk.MaxTradeAmount.Decimal
	}
	maxByPercentage := tradeNotional.Mul(risk.MaxCopyPercentage).Div(hundredD)
	if capped.GreaterThan(maxByPercentage) {
		capped = maxByPercentage
	}
	if capped.LessThan(risk.MinTradeAmount) {
		return decimal.Zero, false
	}
	return capped, true
}
