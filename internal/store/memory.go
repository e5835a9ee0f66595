package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/relayerr"
)

// Memory is an in-process Store used by tests. It
// implements the same atomicity contract as the Postgres store (a single
// mutex stands in for the row-level lock a real transaction would take).
type Memory struct {
	mu sync.Mutex

	leaders       map[domain.Address]domain.Leader
	follows       map[string]domain.Follow
	followsByPair map[string]string // follower|leader -> follow id
	risk          map[domain.Address]domain.RiskPolicy
	leaderTrades  map[string]domain.LeaderTrade
	intents       map[string]domain.CopyIntent
	copiedTrades  map[string]domain.CopiedTrade
	notifications []domain.Notification
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		leaders:       make(map[domain.Address]domain.Leader),
		follows:       make(map[string]domain.Follow),
		followsByPair: make(map[string]string),
		risk:          make(map[domain.Address]domain.RiskPolicy),
		leaderTrades:  make(map[string]domain.LeaderTrade),
		intents:       make(map[string]domain.CopyIntent),
		copiedTrades:  make(map[string]domain.CopiedTrade),
	}
}

func (m *Memory) UpsertLeader(_ context.Context, l domain.Leader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.UpdatedAt = time.Now()
	m.leaders[l.Address] = l
	return nil
}

func (m *Memory) GetLeader(_ context.Context, addr domain.Address) (*domain.Leader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leaders[addr]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *Memory) ListLeaders(_ context.Context) ([]domain.Leader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Leader, 0, len(m.leaders))
	for _, l := range m.leaders {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func pairKey(follower, leader domain.Address) string {
	return string(follower) + "|" + string(leader)
}

func (m *Memory) CreateFollow(_ context.Context, f domain.Follow, risk domain.RiskPolicy) (*domain.Follow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(f.Follower, f.Leader)
	if _, exists := m.followsByPair[key]; exists {
		return nil, relayerr.Internal(fmt.Errorf("follower %s already follows leader %s", f.Follower, f.Leader))
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CreatedAt = time.Now()
	m.follows[f.ID] = f
	m.followsByPair[key] = f.ID
	risk.Follower = f.Follower
	m.risk[f.Follower] = risk
	return &f, nil
}

func (m *Memory) DeleteFollow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.follows[id]
	if !ok {
		return nil
	}
	delete(m.follows, id)
	delete(m.followsByPair, pairKey(f.Follower, f.Leader))
	return nil
}

func (m *Memory) SetAutoCopyEnabled(_ context.Context, follower domain.Address, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.risk[follower]
	if !ok {
		return relayerr.Internal(fmt.Errorf("no risk policy for follower %s", follower))
	}
	r.AutoCopyEnabled = enabled
	m.risk[follower] = r
	return nil
}

func (m *Memory) FollowsByLeader(_ context.Context, leader domain.Address) ([]FollowBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FollowBundle
	for _, f := range m.follows {
		if f.Leader != leader || !f.Enabled {
			continue
		}
		out = append(out, FollowBundle{Follow: f, Risk: m.risk[f.Follower]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Follow.ID < out[j].Follow.ID })
	return out, nil
}

func (m *Memory) GetRiskPolicy(_ context.Context, follower domain.Address) (*domain.RiskPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.risk[follower]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) InsertLeaderTrade(_ context.Context, t domain.LeaderTrade) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.leaderTrades[t.LeaderTradeID]; exists {
		return false, nil
	}
	m.leaderTrades[t.LeaderTradeID] = t
	return true, nil
}

func (m *Memory) InsertIntent(_ context.Context, intent domain.CopyIntent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.intents[intent.IntentID]; exists {
		return false, nil
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	m.intents[intent.IntentID] = intent
	return true, nil
}

func (m *Memory) GetIntent(_ context.Context, intentID string) (*domain.CopyIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.intents[intentID]
	if !ok {
		return nil, nil
	}
	return &i, nil
}

// AdmitIntent atomically loads the intent, checks auto_copy_enabled, runs
// the risk gate, and if admitted, transitions it to PROCESSING, all under
// the single store-wide mutex standing in for the follower row lock a
// real transaction would take.
func (m *Memory) AdmitIntent(_ context.Context, intentID string, now time.Time) (*AdmitDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[intentID]
	if !ok {
		return nil, relayerr.Internal(fmt.Errorf("intent %s not found", intentID))
	}
	risk, ok := m.risk[intent.Follower]
	if !ok {
		return nil, relayerr.Internal(fmt.Errorf("no risk policy for follower %s", intent.Follower))
	}

	if !risk.AutoCopyEnabled {
		intent.Status = domain.StatusSkipped
		intent.Reason = domain.ReasonDisabledAtExec
		m.intents[intentID] = intent
		return &AdmitDecision{Admitted: false, Reason: domain.ReasonDisabledAtExec, Intent: intent, Risk: risk}, nil
	}

	openPositions := 0
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	dailyOutflow := decimalZero()
	for id, other := range m.intents {
		if id == intentID || other.Follower != intent.Follower {
			continue
		}
		if other.Status == domain.StatusPending || other.Status == domain.StatusProcessing {
			openPositions++
		}
		if other.Status == domain.StatusProcessing || other.Status == domain.StatusCompleted || other.Status == domain.StatusFailed {
			if !other.AdmittedAt.Before(dayStart) && other.AdmittedAt.Before(dayEnd) {
				if other.Side == domain.SideBuy {
					dailyOutflow = dailyOutflow.Add(other.IntendedNotional)
				} else {
					dailyOutflow = dailyOutflow.Sub(other.IntendedNotional)
				}
			}
		}
	}

	reject := func(reason string) (*AdmitDecision, error) {
		intent.Status = domain.StatusSkipped
		intent.Reason = reason
		m.intents[intentID] = intent
		return &AdmitDecision{Admitted: false, Reason: reason, Intent: intent, Risk: risk}, nil
	}

	if openPositions >= risk.MaxOpenPositions {
		return reject(domain.ReasonPositionLimit)
	}

	if risk.MaxDailyLoss.Valid {
		projected := dailyOutflow
		if intent.Side == domain.SideBuy {
			projected = projected.Add(intent.IntendedNotional)
		} else {
			projected = projected.Sub(intent.IntendedNotional)
		}
		if projected.GreaterThan(risk.MaxDailyLoss.Decimal) {
			return reject(domain.ReasonDailyLossLimit)
		}
	}

	if risk.MaxTradeAmount.Valid && intent.IntendedNotional.GreaterThan(risk.MaxTradeAmount.Decimal) {
		return reject(domain.ReasonOversize)
	}

	intent.Status = domain.StatusProcessing
	intent.AdmittedAt = now
	m.intents[intentID] = intent
	return &AdmitDecision{Admitted: true, Intent: intent, Risk: risk}, nil
}

func (m *Memory) TransitionStatus(_ context.Context, intentID string, from, to domain.Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok {
		return relayerr.Internal(fmt.Errorf("intent %s not found", intentID))
	}
	if intent.Status != from {
		return relayerr.Internal(fmt.Errorf("intent %s: expected status %s, found %s", intentID, from, intent.Status))
	}
	if !from.CanTransition(to) {
		return relayerr.Internal(fmt.Errorf("illegal transition %s -> %s", from, to))
	}
	intent.Status = to
	intent.Reason = reason
	m.intents[intentID] = intent
	return nil
}

func (m *Memory) UpsertCopiedTrade(_ context.Context, ct domain.CopiedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copiedTrades[ct.IntentID] = ct
	return nil
}

func (m *Memory) GetCopiedTrade(_ context.Context, intentID string) (*domain.CopiedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ct, ok := m.copiedTrades[intentID]
	if !ok {
		return nil, nil
	}
	return &ct, nil
}

func (m *Memory) InsertNotification(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now()
	m.notifications = append(m.notifications, n)
	return nil
}

// Notifications returns a snapshot of every notification recorded so far,
// for test assertions.
func (m *Memory) Notifications() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Notification, len(m.notifications))
	copy(out, m.notifications)
	return out
}

// AllIntentsForTest returns a snapshot of every CopyIntent recorded so far.
// The Store interface has no listing operation since no production
// component needs one; tests use this instead of threading follow ids
// through intent_id derivation by hand.
func (m *Memory) AllIntentsForTest() []domain.CopyIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CopyIntent, 0, len(m.intents))
	for _, i := range m.intents {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IntentID < out[j].IntentID })
	return out
}
