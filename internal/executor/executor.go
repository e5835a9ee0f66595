// Package executor implements the per-job logic of the worker pool:
// admit, price-check, submit, and record the outcome of one CopyIntent.
// Generalizes a fixed-ratio execute/place-order pair into a full
// risk-gate and slippage-check chain.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/exchange"
	"github.com/iamshubha/poly-copytrade-sub000/internal/metrics"
	"github.com/iamshubha/poly-copytrade-sub000/internal/notify"
	"github.com/iamshubha/poly-copytrade-sub000/internal/relayerr"
	"github.com/iamshubha/poly-copytrade-sub000/internal/store"
	"github.com/iamshubha/poly-copytrade-sub000/internal/upstream"
)

// Outcome is what the worker pool needs to decide Ack vs Nack after
// Execute returns.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRetry
)

// Executor runs the admit-through-record algorithm for one reserved job.
type Executor struct {
	store    store.Store
	upstream upstream.Upstream
	exchange exchange.Exchange
	notifier notify.Notifier
	log      zerolog.Logger
}

// New constructs an Executor.
func New(st store.Store, up upstream.Upstream, ex exchange.Exchange, notifier notify.Notifier, log zerolog.Logger) *Executor {
	return &Executor{store: st, upstream: up, exchange: ex, notifier: notifier, log: log.With().Str("component", "executor").Logger()}
}

// Execute runs the full algorithm for intentID and reports whether the
// caller should Ack (terminal outcome reached, or nothing to do) or retry
// (transient failure).
func (e *Executor) Execute(ctx context.Context, intentID string) Outcome {
	log := e.log.With().Str("intent_id", intentID).Logger()

	// Step 1: idempotent re-delivery guard.
	intent, err := e.store.GetIntent(ctx, intentID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load intent, retrying")
		return OutcomeRetry
	}
	if intent == nil || intent.Status != domain.StatusPending {
		return OutcomeAck
	}

	// Steps 2-4: refresh follower state, risk gate, admit.
	decision, err := e.store.AdmitIntent(ctx, intentID, time.Now())
	if err != nil {
		log.Warn().Err(err).Msg("admission check failed, retrying")
		return OutcomeRetry
	}
	if !decision.Admitted {
		log.Info().Str("reason", decision.Reason).Msg("intent skipped at execution")
		metrics.ObserveIntent(string(domain.StatusSkipped), decision.Reason)
		if _, ok := domain.SilentReasons[decision.Reason]; !ok {
			e.notifier.Notify(decision.Intent.Follower, domain.NotifyTradeFailed, map[string]any{
				"intent_id": intentID,
				"reason":    decision.Reason,
			})
		}
		return OutcomeAck
	}
	admitted := decision.Intent
	risk := decision.Risk

	// Step 5: live price and slippage check.
	livePrice, err := e.upstream.GetMarketPrice(ctx, admitted.MarketID, int(admitted.OutcomeIndex))
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch live price, retrying")
		return OutcomeRetry
	}
	drift := priceDrift(livePrice, admitted.IntendedPrice)
	if drift.GreaterThan(risk.SlippageTolerance) {
		return e.failSlippage(ctx, admitted, drift, log)
	}

	// Step 6: recompute shares against the live price.
	liveDecimal := decimalFromFloat(livePrice)
	shares := admitted.IntendedNotional.Div(liveDecimal)

	// Step 7: submit with intent_id as the idempotency key.
	order := exchange.Order{
		MarketID:       admitted.MarketID,
		OutcomeIndex:   admitted.OutcomeIndex,
		Side:           admitted.Side,
		Notional:       admitted.IntendedNotional,
		Shares:         shares,
		Price:          liveDecimal,
		MakerAddress:   admitted.Follower,
		IdempotencyKey: intentID,
	}
	submitStart := time.Now()
	orderRef, submittedAt, err := e.exchange.Submit(ctx, order)
	metrics.ObserveExchangeSubmit(time.Since(submitStart))
	if err != nil {
		return e.handleSubmitFailure(ctx, admitted, err, log)
	}

	// Step 8: success.
	if err := e.store.UpsertCopiedTrade(ctx, domain.CopiedTrade{
		IntentID:       intentID,
		ExecutedPrice:  liveDecimal,
		ExecutedShares: shares,
		Status:         domain.StatusCompleted,
		TxRef:          orderRef,
		ExecutedAt:     submittedAt,
	}); err != nil {
		log.Error().Err(err).Msg("failed to persist completed trade, retrying")
		return OutcomeRetry
	}
	if err := e.store.TransitionStatus(ctx, intentID, domain.StatusProcessing, domain.StatusCompleted, ""); err != nil {
		log.Error().Err(err).Msg("failed to transition intent to completed")
		return OutcomeRetry
	}
	e.notifier.Notify(admitted.Follower, domain.NotifyTradeExecuted, map[string]any{
		"intent_id":       intentID,
		"market_id":       admitted.MarketID,
		"executed_price":  liveDecimal.String(),
		"executed_shares": shares.String(),
		"tx_ref":          orderRef,
	})
	metrics.ObserveIntent(string(domain.StatusCompleted), "")
	return OutcomeAck
}

func (e *Executor) failSlippage(ctx context.Context, intent domain.CopyIntent, drift decimal.Decimal, log zerolog.Logger) Outcome {
	if err := e.store.TransitionStatus(ctx, intent.IntentID, domain.StatusProcessing, domain.StatusFailed, domain.ReasonSlippage); err != nil {
		log.Error().Err(err).Msg("failed to transition intent to failed (slippage)")
		return OutcomeRetry
	}
	e.notifier.Notify(intent.Follower, domain.NotifyTradeFailed, map[string]any{
		"intent_id": intent.IntentID,
		"reason":    domain.ReasonSlippage,
		"drift":     drift.String(),
	})
	metrics.ObserveIntent(string(domain.StatusFailed), domain.ReasonSlippage)
	return OutcomeAck
}

func (e *Executor) handleSubmitFailure(ctx context.Context, intent domain.CopyIntent, err error, log zerolog.Logger) Outcome {
	var re *relayerr.Error
	if errors.As(err, &re) && !re.Kind.Transient() {
		if txErr := e.store.TransitionStatus(ctx, intent.IntentID, domain.StatusProcessing, domain.StatusFailed, domain.ReasonExchangeRejected); txErr != nil {
			log.Error().Err(txErr).Msg("failed to transition intent to failed (exchange rejected)")
			return OutcomeRetry
		}
		e.notifier.Notify(intent.Follower, domain.NotifyTradeFailed, map[string]any{
			"intent_id": intent.IntentID,
			"reason":    domain.ReasonExchangeRejected,
			"error":     err.Error(),
		})
		metrics.ObserveIntent(string(domain.StatusFailed), domain.ReasonExchangeRejected)
		return OutcomeAck
	}
	log.Warn().Err(err).Msg("exchange submit failed transiently, retrying")
	return OutcomeRetry
}
