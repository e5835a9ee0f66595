package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/relayerr"
)

// Postgres is the production Store, built on jackc/pgx/v5's pooled
// connections following a pooled-connection database wrapper pattern,
// generalized to the seven tables this relay persists.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool against databaseURL and verifies connectivity
// with a 10s-timeout ping.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, relayerr.Internal(fmt.Errorf("connect to database: %w", err))
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, relayerr.Internal(fmt.Errorf("ping database: %w", err))
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() { p.pool.Close() }

// Schema is the DDL an operator applies out-of-band; the relay itself
// never manages schema migrations at runtime.
const Schema = `
CREATE TABLE IF NOT EXISTS leader (
	address TEXT PRIMARY KEY,
	volume NUMERIC NOT NULL DEFAULT 0,
	trades INTEGER NOT NULL DEFAULT 0,
	win_rate DOUBLE PRECISION,
	last_seen TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leader_trade (
	leader_trade_id TEXT PRIMARY KEY,
	leader TEXT NOT NULL,
	market_id TEXT NOT NULL,
	outcome_index SMALLINT NOT NULL,
	side TEXT NOT NULL,
	notional NUMERIC NOT NULL,
	shares NUMERIC NOT NULL,
	price NUMERIC NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	tx_hash TEXT
);

CREATE TABLE IF NOT EXISTS follow (
	id TEXT PRIMARY KEY,
	follower_addr TEXT NOT NULL,
	leader_addr TEXT NOT NULL,
	copy_policy_json JSONB NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(follower_addr, leader_addr)
);

CREATE TABLE IF NOT EXISTS risk_policy (
	follower_addr TEXT PRIMARY KEY,
	max_copy_percentage NUMERIC NOT NULL,
	min_trade_amount NUMERIC NOT NULL,
	max_trade_amount NUMERIC,
	max_open_positions INTEGER NOT NULL,
	max_daily_loss NUMERIC,
	slippage_tolerance NUMERIC NOT NULL,
	copy_delay_seconds INTEGER NOT NULL,
	auto_copy_enabled BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS copy_intent (
	intent_id TEXT PRIMARY KEY,
	leader_trade_id TEXT NOT NULL,
	follow_id TEXT NOT NULL,
	follower TEXT NOT NULL,
	market_id TEXT NOT NULL,
	outcome_index SMALLINT NOT NULL,
	side TEXT NOT NULL,
	intended_notional NUMERIC NOT NULL,
	intended_price NUMERIC NOT NULL,
	scheduled_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	reason TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	admitted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS copied_trade (
	intent_id TEXT PRIMARY KEY REFERENCES copy_intent(intent_id),
	executed_price NUMERIC,
	executed_shares NUMERIC,
	fee NUMERIC,
	status TEXT NOT NULL,
	tx_ref TEXT,
	error TEXT,
	executed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS notification (
	id TEXT PRIMARY KEY,
	user_addr TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	read_at TIMESTAMPTZ
);
`

func (p *Postgres) UpsertLeader(ctx context.Context, l domain.Leader) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO leader (address, volume, trades, win_rate, last_seen, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (address) DO UPDATE SET
			volume = EXCLUDED.volume,
			trades = EXCLUDED.trades,
			win_rate = EXCLUDED.win_rate,
			last_seen = EXCLUDED.last_seen,
			updated_at = now()`,
		string(l.Address), l.TotalVolume, l.TotalTrades, l.WinRate, l.LastSeen)
	if err != nil {
		return relayerr.Internal(err)
	}
	return nil
}

func (p *Postgres) GetLeader(ctx context.Context, addr domain.Address) (*domain.Leader, error) {
	row := p.pool.QueryRow(ctx, `SELECT address, volume, trades, win_rate, last_seen, updated_at FROM leader WHERE address = $1`, string(addr))
	var l domain.Leader
	var address string
	if err := row.Scan(&address, &l.TotalVolume, &l.TotalTrades, &l.WinRate, &l.LastSeen, &l.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, relayerr.Internal(err)
	}
	l.Address = domain.Address(address)
	return &l, nil
}

func (p *Postgres) ListLeaders(ctx context.Context) ([]domain.Leader, error) {
	rows, err := p.pool.Query(ctx, `SELECT address, volume, trades, win_rate, last_seen, updated_at FROM leader ORDER BY address`)
	if err != nil {
		return nil, relayerr.Internal(err)
	}
	defer rows.Close()

	var out []domain.Leader
	for rows.Next() {
		var l domain.Leader
		var address string
		if err := rows.Scan(&address, &l.TotalVolume, &l.TotalTrades, &l.WinRate, &l.LastSeen, &l.UpdatedAt); err != nil {
			return nil, relayerr.Internal(err)
		}
		l.Address = domain.Address(address)
		out = append(out, l)
	}
	return out, nil
}

func (p *Postgres) CreateFollow(ctx context.Context, f domain.Follow, risk domain.RiskPolicy) (*domain.Follow, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	policyJSON, err := json.Marshal(f.Policy)
	if err != nil {
		return nil, relayerr.Internal(err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, relayerr.Internal(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO follow (id, follower_addr, leader_addr, copy_policy_json, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		f.ID, string(f.Follower), string(f.Leader), policyJSON, f.Enabled); err != nil {
		return nil, relayerr.Internal(fmt.Errorf("insert follow: %w", err))
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO risk_policy (follower_addr, max_copy_percentage, min_trade_amount, max_trade_amount,
			max_open_positions, max_daily_loss, slippage_tolerance, copy_delay_seconds, auto_copy_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (follower_addr) DO UPDATE SET auto_copy_enabled = EXCLUDED.auto_copy_enabled`,
		string(f.Follower), risk.MaxCopyPercentage, risk.MinTradeAmount, nullableDecimal(risk.MaxTradeAmount),
		risk.MaxOpenPositions, nullableDecimal(risk.MaxDailyLoss), risk.SlippageTolerance,
		int(risk.CopyDelay.Seconds()), risk.AutoCopyEnabled); err != nil {
		return nil, relayerr.Internal(fmt.Errorf("insert risk policy: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, relayerr.Internal(err)
	}
	return &f, nil
}

func (p *Postgres) DeleteFollow(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM follow WHERE id = $1`, id); err != nil {
		return relayerr.Internal(err)
	}
	return nil
}

func (p *Postgres) SetAutoCopyEnabled(ctx context.Context, follower domain.Address, enabled bool) error {
	if _, err := p.pool.Exec(ctx, `UPDATE risk_policy SET auto_copy_enabled = $2 WHERE follower_addr = $1`, string(follower), enabled); err != nil {
		return relayerr.Internal(err)
	}
	return nil
}

func (p *Postgres) FollowsByLeader(ctx context.Context, leader domain.Address) ([]FollowBundle, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT f.id, f.follower_addr, f.leader_addr, f.copy_policy_json, f.enabled, f.created_at,
			r.max_copy_percentage, r.min_trade_amount, r.max_trade_amount, r.max_open_positions,
			r.max_daily_loss, r.slippage_tolerance, r.copy_delay_seconds, r.auto_copy_enabled
		FROM follow f
		JOIN risk_policy r ON r.follower_addr = f.follower_addr
		WHERE f.leader_addr = $1 AND f.enabled = true
		ORDER BY f.id`, string(leader))
	if err != nil {
		return nil, relayerr.Internal(err)
	}
	defer rows.Close()

	var out []FollowBundle
	for rows.Next() {
		var b FollowBundle
		var followerAddr, leaderAddr string
		var policyJSON []byte
		var maxTradeAmount, maxDailyLoss *decimal.Decimal
		var copyDelaySeconds int
		if err := rows.Scan(&b.Follow.ID, &followerAddr, &leaderAddr, &policyJSON, &b.Follow.Enabled, &b.Follow.CreatedAt,
			&b.Risk.MaxCopyPercentage, &b.Risk.MinTradeAmount, &maxTradeAmount, &b.Risk.MaxOpenPositions,
			&maxDailyLoss, &b.Risk.SlippageTolerance, &copyDelaySeconds, &b.Risk.AutoCopyEnabled); err != nil {
			return nil, relayerr.Internal(err)
		}
		if err := json.Unmarshal(policyJSON, &b.Follow.Policy); err != nil {
			return nil, relayerr.BadData(err)
		}
		b.Follow.Follower = domain.Address(followerAddr)
		b.Follow.Leader = domain.Address(leaderAddr)
		b.Risk.Follower = b.Follow.Follower
		b.Risk.CopyDelay = time.Duration(copyDelaySeconds) * time.Second
		b.Risk.MaxTradeAmount = toNullDecimal(maxTradeAmount)
		b.Risk.MaxDailyLoss = toNullDecimal(maxDailyLoss)
		out = append(out, b)
	}
	return out, nil
}

func (p *Postgres) GetRiskPolicy(ctx context.Context, follower domain.Address) (*domain.RiskPolicy, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT max_copy_percentage, min_trade_amount, max_trade_amount, max_open_positions,
			max_daily_loss, slippage_tolerance, copy_delay_seconds, auto_copy_enabled
		FROM risk_policy WHERE follower_addr = $1`, string(follower))

	var r domain.RiskPolicy
	var maxTradeAmount, maxDailyLoss *decimal.Decimal
	var copyDelaySeconds int
	if err := row.Scan(&r.MaxCopyPercentage, &r.MinTradeAmount, &maxTradeAmount, &r.MaxOpenPositions,
		&maxDailyLoss, &r.SlippageTolerance, &copyDelaySeconds, &r.AutoCopyEnabled); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, relayerr.Internal(err)
	}
	r.Follower = follower
	r.CopyDelay = time.Duration(copyDelaySeconds) * time.Second
	r.MaxTradeAmount = toNullDecimal(maxTradeAmount)
	r.MaxDailyLoss = toNullDecimal(maxDailyLoss)
	return &r, nil
}

func (p *Postgres) InsertLeaderTrade(ctx context.Context, t domain.LeaderTrade) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO leader_trade (leader_trade_id, leader, market_id, outcome_index, side, notional, shares, price, observed_at, tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (leader_trade_id) DO NOTHING`,
		t.LeaderTradeID, string(t.Leader), t.MarketID, int(t.OutcomeIndex), string(t.Side), t.Notional, t.Shares, t.Price, t.ObservedAt, nullString(t.TxHash))
	if err != nil {
		return false, relayerr.Internal(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) InsertIntent(ctx context.Context, intent domain.CopyIntent) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO copy_intent (intent_id, leader_trade_id, follow_id, follower, market_id, outcome_index, side,
			intended_notional, intended_price, scheduled_at, status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (intent_id) DO NOTHING`,
		intent.IntentID, intent.LeaderTradeID, intent.FollowID, string(intent.Follower), intent.MarketID,
		int(intent.OutcomeIndex), string(intent.Side), intent.IntendedNotional, intent.IntendedPrice,
		intent.ScheduledAt, string(intent.Status), nullString(intent.Reason))
	if err != nil {
		return false, relayerr.Internal(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) GetIntent(ctx context.Context, intentID string) (*domain.CopyIntent, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT intent_id, leader_trade_id, follow_id, follower, market_id, outcome_index, side,
			intended_notional, intended_price, scheduled_at, status, reason, created_at, admitted_at
		FROM copy_intent WHERE intent_id = $1`, intentID)
	return scanIntent(row)
}

func scanIntent(row pgx.Row) (*domain.CopyIntent, error) {
	var i domain.CopyIntent
	var follower string
	var outcomeIndex int
	var side, status string
	var reason *string
	var admittedAt *time.Time
	if err := row.Scan(&i.IntentID, &i.LeaderTradeID, &i.FollowID, &follower, &i.MarketID, &outcomeIndex, &side,
		&i.IntendedNotional, &i.IntendedPrice, &i.ScheduledAt, &status, &reason, &i.CreatedAt, &admittedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, relayerr.Internal(err)
	}
	i.Follower = domain.Address(follower)
	i.OutcomeIndex = domain.Outcome(outcomeIndex)
	i.Side = domain.Side(side)
	i.Status = domain.Status(status)
	if reason != nil {
		i.Reason = *reason
	}
	if admittedAt != nil {
		i.AdmittedAt = *admittedAt
	}
	return &i, nil
}

// AdmitIntent runs the admission check and status transition as a single
// serializable transaction, taking a row lock on the follower's
// risk_policy row via SELECT ... FOR UPDATE so concurrent workers
// evaluating different intents for the same follower cannot both observe
// a stale open-position count. This keeps the position bound and daily
// loss limit accurate under the worker pool's concurrency.
func (p *Postgres) AdmitIntent(ctx context.Context, intentID string, now time.Time) (*AdmitDecision, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, relayerr.Internal(err)
	}
	defer tx.Rollback(ctx)

	intent, err := scanIntent(tx.QueryRow(ctx, `SELECT intent_id, leader_trade_id, follow_id, follower, market_id,
		outcome_index, side, intended_notional, intended_price, scheduled_at, status, reason, created_at, admitted_at
		FROM copy_intent WHERE intent_id = $1`, intentID))
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, relayerr.Internal(fmt.Errorf("intent %s not found", intentID))
	}

	var risk domain.RiskPolicy
	var maxTradeAmount, maxDailyLoss *decimal.Decimal
	var copyDelaySeconds int
	row := tx.QueryRow(ctx, `
		SELECT max_copy_percentage, min_trade_amount, max_trade_amount, max_open_positions,
			max_daily_loss, slippage_tolerance, copy_delay_seconds, auto_copy_enabled
		FROM risk_policy WHERE follower_addr = $1 FOR UPDATE`, string(intent.Follower))
	if err := row.Scan(&risk.MaxCopyPercentage, &risk.MinTradeAmount, &maxTradeAmount, &risk.MaxOpenPositions,
		&maxDailyLoss, &risk.SlippageTolerance, &copyDelaySeconds, &risk.AutoCopyEnabled); err != nil {
		return nil, relayerr.Internal(fmt.Errorf("lock risk policy: %w", err))
	}
	risk.Follower = intent.Follower
	risk.CopyDelay = time.Duration(copyDelaySeconds) * time.Second
	risk.MaxTradeAmount = toNullDecimal(maxTradeAmount)
	risk.MaxDailyLoss = toNullDecimal(maxDailyLoss)

	reject := func(reason string) (*AdmitDecision, error) {
		if _, err := tx.Exec(ctx, `UPDATE copy_intent SET status = $2, reason = $3 WHERE intent_id = $1`,
			intentID, string(domain.StatusSkipped), reason); err != nil {
			return nil, relayerr.Internal(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, relayerr.Internal(err)
		}
		intent.Status = domain.StatusSkipped
		intent.Reason = reason
		return &AdmitDecision{Admitted: false, Reason: reason, Intent: *intent, Risk: risk}, nil
	}

	if !risk.AutoCopyEnabled {
		return reject(domain.ReasonDisabledAtExec)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var openPositions int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM copy_intent
		WHERE follower = $1 AND intent_id <> $2 AND status IN ('PENDING','PROCESSING')`,
		string(intent.Follower), intentID).Scan(&openPositions); err != nil {
		return nil, relayerr.Internal(err)
	}
	if openPositions >= risk.MaxOpenPositions {
		return reject(domain.ReasonPositionLimit)
	}

	if risk.MaxDailyLoss.Valid {
		var outflow decimal.Decimal
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(CASE WHEN side = 'BUY' THEN intended_notional ELSE -intended_notional END), 0)
			FROM copy_intent
			WHERE follower = $1 AND intent_id <> $2 AND status IN ('PROCESSING','COMPLETED','FAILED')
				AND admitted_at >= $3 AND admitted_at < $4`,
			string(intent.Follower), intentID, dayStart, dayEnd).Scan(&outflow); err != nil {
			return nil, relayerr.Internal(err)
		}
		projected := outflow
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

	if _, err := tx.Exec(ctx, `UPDATE copy_intent SET status = $2, admitted_at = $3 WHERE intent_id = $1`,
		intentID, string(domain.StatusProcessing), now); err != nil {
		return nil, relayerr.Internal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, relayerr.Internal(err)
	}
	intent.Status = domain.StatusProcessing
	intent.AdmittedAt = now
	return &AdmitDecision{Admitted: true, Intent: *intent, Risk: risk}, nil
}

func (p *Postgres) TransitionStatus(ctx context.Context, intentID string, from, to domain.Status, reason string) error {
	if !from.CanTransition(to) {
		return relayerr.Internal(fmt.Errorf("illegal transition %s -> %s", from, to))
	}
	tag, err := p.pool.Exec(ctx, `UPDATE copy_intent SET status = $3, reason = $4 WHERE intent_id = $1 AND status = $2`,
		intentID, string(from), string(to), nullString(reason))
	if err != nil {
		return relayerr.Internal(err)
	}
	if tag.RowsAffected() == 0 {
		return relayerr.Internal(fmt.Errorf("intent %s: expected status %s, transition not applied", intentID, from))
	}
	return nil
}

func (p *Postgres) UpsertCopiedTrade(ctx context.Context, ct domain.CopiedTrade) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO copied_trade (intent_id, executed_price, executed_shares, fee, status, tx_ref, error, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (intent_id) DO UPDATE SET
			executed_price = EXCLUDED.executed_price,
			executed_shares = EXCLUDED.executed_shares,
			fee = EXCLUDED.fee,
			status = EXCLUDED.status,
			tx_ref = EXCLUDED.tx_ref,
			error = EXCLUDED.error,
			executed_at = EXCLUDED.executed_at`,
		ct.IntentID, ct.ExecutedPrice, ct.ExecutedShares, ct.Fee, string(ct.Status), nullString(ct.TxRef), nullString(ct.Error), ct.ExecutedAt)
	if err != nil {
		return relayerr.Internal(err)
	}
	return nil
}

func (p *Postgres) GetCopiedTrade(ctx context.Context, intentID string) (*domain.CopiedTrade, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT intent_id, executed_price, executed_shares, fee, status, tx_ref, error, executed_at
		FROM copied_trade WHERE intent_id = $1`, intentID)
	var ct domain.CopiedTrade
	var status string
	var txRef, errStr *string
	if err := row.Scan(&ct.IntentID, &ct.ExecutedPrice, &ct.ExecutedShares, &ct.Fee, &status, &txRef, &errStr, &ct.ExecutedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, relayerr.Internal(err)
	}
	ct.Status = domain.Status(status)
	if txRef != nil {
		ct.TxRef = *txRef
	}
	if errStr != nil {
		ct.Error = *errStr
	}
	return &ct, nil
}

func (p *Postgres) InsertNotification(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return relayerr.Internal(err)
	}
	if _, err := p.pool.Exec(ctx, `
		INSERT INTO notification (id, user_addr, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		n.ID, string(n.User), string(n.Kind), payload); err != nil {
		return relayerr.Internal(err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableDecimal(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	return &nd.Decimal
}

func toNullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
