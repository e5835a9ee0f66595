// Package store defines the persistence boundary for the relay and
// provides a Postgres-backed implementation plus an in-memory fake used by
// tests, built around the seven tables this relay persists rather than a
// simpler follower/trade/position shape.
package store

import (
	"context"
	"time"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
)

// FollowBundle is a Follow joined with the follower's account-wide
// RiskPolicy, as consumed by the dispatcher's sizing step.
type FollowBundle struct {
	Follow domain.Follow
	Risk   domain.RiskPolicy
}

// AdmitDecision is the result of atomically running the executor's
// admission check (refresh follower state, risk gate, transition to
// PROCESSING) as a single transaction against the follower's row.
type AdmitDecision struct {
	Admitted bool
	Reason   string // populated when Admitted is false
	Intent   domain.CopyIntent
	Risk     domain.RiskPolicy
}

// Store is the persistence interface every core component depends on.
// Implementations must provide follower-row-level locking for AdmitIntent
// so the position bound and daily loss limit hold under concurrency.
type Store interface {
	UpsertLeader(ctx context.Context, l domain.Leader) error
	GetLeader(ctx context.Context, addr domain.Address) (*domain.Leader, error)
	ListLeaders(ctx context.Context) ([]domain.Leader, error)

	CreateFollow(ctx context.Context, f domain.Follow, risk domain.RiskPolicy) (*domain.Follow, error)
	DeleteFollow(ctx context.Context, id string) error
	SetAutoCopyEnabled(ctx context.Context, follower domain.Address, enabled bool) error
	FollowsByLeader(ctx context.Context, leader domain.Address) ([]FollowBundle, error)
	GetRiskPolicy(ctx context.Context, follower domain.Address) (*domain.RiskPolicy, error)

	InsertLeaderTrade(ctx context.Context, t domain.LeaderTrade) (inserted bool, err error)

	InsertIntent(ctx context.Context, intent domain.CopyIntent) (inserted bool, err error)
	GetIntent(ctx context.Context, intentID string) (*domain.CopyIntent, error)
	AdmitIntent(ctx context.Context, intentID string, now time.Time) (*AdmitDecision, error)
	TransitionStatus(ctx context.Context, intentID string, from, to domain.Status, reason string) error

	UpsertCopiedTrade(ctx context.Context, ct domain.CopiedTrade) error
	GetCopiedTrade(ctx context.Context, intentID string) (*domain.CopiedTrade, error)

	InsertNotification(ctx context.Context, n domain.Notification) error
}
