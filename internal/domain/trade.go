package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LeaderTrade is the observed, already-executed trade by a leader — the
// originating event of the whole pipeline.
type LeaderTrade struct {
	LeaderTradeID string // unique; the primary dedup key
	Leader        Address
	MarketID      string
	OutcomeIndex  Outcome
	Side          Side
	Notional      decimal.Decimal
	Shares        decimal.Decimal
	Price         decimal.Decimal
	ObservedAt    time.Time
	TxHash        string // empty when not exposed by upstream
}

// Status is a CopyIntent's lifecycle state. Transitions are constrained to
// exactly this graph: PENDING -> PROCESSING -> {COMPLETED|FAILED}, or
// PENDING -> SKIPPED.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusSkipped    Status = "SKIPPED"
)

// CanTransition reports whether moving from s to next is a legal edge in
// the status graph.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusSkipped
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Skip and failure reason enums. The executor notifies on a skip or
// failure unless its reason is in SilentReasons; skips recorded by the
// dispatcher never produce a notification.
const (
	ReasonDisabled          = "disabled"
	ReasonMarketNotAllowed  = "market_not_allowed"
	ReasonMarketExcluded    = "market_excluded"
	ReasonOutcomeNotAllowed = "outcome_not_allowed"
	ReasonBelowMin          = "below_min"
	ReasonDisabledAtExec    = "disabled_at_exec"
	ReasonPositionLimit     = "position_limit"
	ReasonDailyLossLimit    = "daily_loss_limit"
	ReasonOversize          = "oversize"
	ReasonSlippage          = "slippage"
	ReasonExchangeRejected  = "exchange_rejected"
)

// SilentReasons never produce a notification.
var SilentReasons = map[string]struct{}{
	ReasonDisabled:         {},
	ReasonMarketNotAllowed: {},
	ReasonMarketExcluded:   {},
	ReasonBelowMin:         {},
}

// CopyIntent is the decision to mirror a LeaderTrade for one Follow,
// pre-execution. One row per (LeaderTrade, Follow).
type CopyIntent struct {
	IntentID         string // deterministic hash(leader_trade_id, follow_id); the idempotency key
	LeaderTradeID    string
	FollowID         string
	Follower         Address
	MarketID         string
	OutcomeIndex     Outcome
	Side             Side
	IntendedNotional decimal.Decimal
	IntendedPrice    decimal.Decimal
	ScheduledAt      time.Time
	Status           Status
	Reason           string // populated for SKIPPED/FAILED
	CreatedAt        time.Time
	AdmittedAt       time.Time // set by AdmitIntent; zero until the intent clears risk gating
}

// CopiedTrade is the post-execution record of a CopyIntent.
type CopiedTrade struct {
	IntentID       string
	ExecutedPrice  decimal.Decimal
	ExecutedShares decimal.Decimal
	Fee            decimal.Decimal
	Status         Status
	TxRef          string
	Error          string
	ExecutedAt     time.Time
}

// NotificationKind enumerates the kinds Notify accepts.
type NotificationKind string

const (
	NotifyTradeExecuted NotificationKind = "TRADE_EXECUTED"
	NotifyTradeFailed   NotificationKind = "TRADE_FAILED"
	NotifyNewFollower   NotificationKind = "NEW_FOLLOWER"
)

// Notification is a queued, best-effort message surfaced to a user.
type Notification struct {
	ID        string
	User      Address
	Kind      NotificationKind
	Payload   map[string]any
	CreatedAt time.Time
	ReadAt    *time.Time
}
