// Package ingest implements streaming-preferred, polling-fallback
// delivery of every leader trade exactly once to the dispatcher, with
// process-local dedup. The streaming path follows a connection
// manager/client pair; the fallback follows a position-polling loop.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamshubha/poly-copytrade-sub000/internal/config"
	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/metrics"
	"github.com/iamshubha/poly-copytrade-sub000/internal/upstream"
)

type streamTradePayload struct {
	ID           string  `json:"id"`
	MarketID     string  `json:"market_id"`
	MakerAddress string  `json:"maker_address"`
	Side         string  `json:"side"`
	Price        float64 `json:"price"`
	Size         float64 `json:"size"`
	OutcomeIndex int     `json:"outcome_index"`
	Timestamp    int64   `json:"timestamp"` // unix millis
	TxHash       string  `json:"tx_hash"`
}

func (p streamTradePayload) toLeaderTrade(leader domain.Address) (domain.LeaderTrade, error) {
	if p.ID == "" || p.MarketID == "" {
		return domain.LeaderTrade{}, fmt.Errorf("stream trade missing id or market_id")
	}
	side := domain.SideBuy
	if p.Side == "sell" || p.Side == string(domain.SideSell) {
		side = domain.SideSell
	}
	price := decimalFromFloat(p.Price)
	size := decimalFromFloat(p.Size)
	return domain.LeaderTrade{
		LeaderTradeID: p.ID,
		Leader:        leader,
		MarketID:      p.MarketID,
		OutcomeIndex:  domain.Outcome(p.OutcomeIndex),
		Side:          side,
		Notional:      price.Mul(size),
		Shares:        size,
		Price:         price,
		ObservedAt:    time.UnixMilli(p.Timestamp),
		TxHash:        p.TxHash,
	}, nil
}

func fromWalletTrade(leader domain.Address, t upstream.WalletTrade) domain.LeaderTrade {
	side := domain.SideBuy
	if t.Side == "sell" || t.Side == string(domain.SideSell) {
		side = domain.SideSell
	}
	price := decimalFromFloat(t.Price)
	size := decimalFromFloat(t.Size)
	return domain.LeaderTrade{
		LeaderTradeID: t.ID,
		Leader:        leader,
		MarketID:      t.MarketID,
		Side:          side,
		Notional:      price.Mul(size),
		Shares:        size,
		Price:         price,
		ObservedAt:    t.Timestamp,
		TxHash:        t.TxHash,
	}
}

// leaderState tracks a single leader's ingestion mode and cursor.
type leaderState struct {
	mode      string // "stream" or "poll"
	cursor    string
	lastSeen  string
	cancel    context.CancelFunc
}

// Ingestor delivers every new leader trade exactly once to the dispatcher.
type Ingestor struct {
	cfg      config.Config
	upstream upstream.Upstream
	stream   *WSStream
	log      zerolog.Logger

	dedup *dedupLRU
	out   chan domain.LeaderTrade

	mu      sync.Mutex
	leaders map[domain.Address]*leaderState
	wg      sync.WaitGroup
}

// New constructs an Ingestor. cfg supplies poll interval, dedup size, and
// backoff schedule.
func New(cfg config.Config, up upstream.Upstream, stream *WSStream, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		cfg:      cfg,
		upstream: up,
		stream:   stream,
		log:      log.With().Str("component", "ingestor").Logger(),
		dedup:    newDedupLRU(cfg.DedupLRUSize),
		out:      make(chan domain.LeaderTrade, 4096),
		leaders:  make(map[domain.Address]*leaderState),
	}
}

// Out is the channel of normalized LeaderTrade events the dispatcher
// consumes.
func (in *Ingestor) Out() <-chan domain.LeaderTrade { return in.out }

// Start begins consuming stream frames in the background. Call Attach per
// leader to begin ingestion for it.
func (in *Ingestor) Start(ctx context.Context) {
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-in.stream.Frames():
				if !ok {
					return
				}
				in.handleFrame(frame)
			}
		}
	}()
}

// Stop waits for the stream-consuming goroutine and all polling goroutines
// to exit, then closes Out.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	for _, st := range in.leaders {
		if st.cancel != nil {
			st.cancel()
		}
	}
	in.mu.Unlock()
	in.wg.Wait()
	close(in.out)
}

func (in *Ingestor) handleFrame(frame StreamFrame) {
	if frame.Channel != "wallet_trades" {
		return
	}
	leader, err := domain.ParseAddress(frame.Key)
	if err != nil {
		return
	}

	in.mu.Lock()
	st, attached := in.leaders[leader]
	in.mu.Unlock()
	if !attached || st.mode != "stream" {
		return // leader was detached or already fell back to polling
	}

	var payload streamTradePayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		in.log.Warn().Err(err).Msg("malformed stream trade frame, dropping")
		return
	}
	trade, err := payload.toLeaderTrade(leader)
	if err != nil {
		in.log.Warn().Err(err).Msg("stream trade missing required field, dropping")
		return
	}
	metrics.ObserveIngestTrade("stream")
	in.emit(trade)
}

// Attach begins ingestion for addr, preferring streaming mode and falling
// back to polling if the subscription cannot be established.
func (in *Ingestor) Attach(ctx context.Context, addr domain.Address) {
	in.mu.Lock()
	if _, exists := in.leaders[addr]; exists {
		in.mu.Unlock()
		return
	}
	leaderCtx, cancel := context.WithCancel(ctx)
	st := &leaderState{mode: "stream", cancel: cancel}
	in.leaders[addr] = st
	in.mu.Unlock()

	if err := in.stream.Subscribe("wallet_trades", string(addr)); err != nil {
		in.log.Warn().Err(err).Str("leader", string(addr)).Msg("stream subscribe failed, falling back to polling")
		in.fallbackToPolling(leaderCtx, addr, st)
		return
	}

	// A permanently-failing subscription for one leader must not stall
	// others: give this leader its own supervisor that demotes it to
	// polling if the shared stream never delivers after the backoff budget.
	in.wg.Add(1)
	go in.superviseStream(leaderCtx, addr, st)
}

// Detach stops ingestion for addr.
func (in *Ingestor) Detach(addr domain.Address) {
	in.mu.Lock()
	st, ok := in.leaders[addr]
	if ok {
		delete(in.leaders, addr)
	}
	in.mu.Unlock()
	if !ok {
		return
	}
	if st.cancel != nil {
		st.cancel()
	}
	_ = in.stream.Unsubscribe("wallet_trades", string(addr))
}

func (in *Ingestor) superviseStream(ctx context.Context, addr domain.Address, st *leaderState) {
	defer in.wg.Done()
	bo := newBackoff(in.cfg.StreamBackoffBase, in.cfg.StreamBackoffCap, in.cfg.StreamMaxAttempts)
	for {
		delay, ok := bo.Next()
		if !ok {
			in.log.Warn().Str("leader", string(addr)).Msg("stream attempts exhausted for leader, falling back to polling")
			in.fallbackToPolling(ctx, addr, st)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		// The shared WSStream handles its own reconnection; this supervisor
		// only watches for the leader to still be in "stream" mode after
		// the backoff window, a cheap proxy for "no frames have arrived to
		// justify abandoning the budget".
		in.mu.Lock()
		mode := st.mode
		in.mu.Unlock()
		if mode != "stream" {
			return
		}
	}
}

func (in *Ingestor) fallbackToPolling(ctx context.Context, addr domain.Address, st *leaderState) {
	in.mu.Lock()
	st.mode = "poll"
	in.mu.Unlock()

	in.wg.Add(1)
	go in.pollLoop(ctx, addr, st)
}

// freshOldestFirst takes trades as returned by ListTradesByWallet
// (newest first) and returns the prefix not yet seen, reversed into
// oldest-first order. Emitting in this order keeps LeaderTrades from the
// same poll batch scheduled in observed_at order downstream.
func freshOldestFirst(trades []upstream.WalletTrade, lastSeen string) []upstream.WalletTrade {
	var fresh []upstream.WalletTrade
	for _, t := range trades {
		if t.ID == lastSeen {
			break
		}
		fresh = append(fresh, t)
	}
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}
	return fresh
}

// pollLoop fetches the last N trades for addr on an interval, comparing
// against a per-leader cursor and emitting the unseen suffix.
func (in *Ingestor) pollLoop(ctx context.Context, addr domain.Address, st *leaderState) {
	defer in.wg.Done()
	ticker := time.NewTicker(in.cfg.IngestPollInterval)
	defer ticker.Stop()

	bo := newBackoff(in.cfg.StreamBackoffBase, in.cfg.StreamBackoffCap, in.cfg.StreamMaxAttempts)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trades, _, err := in.upstream.ListTradesByWallet(ctx, string(addr), in.cfg.IngestPollBatch, "")
			if err != nil {
				delay, ok := bo.Next()
				if !ok {
					in.log.Error().Err(err).Str("leader", string(addr)).Msg("polling permanently failing for leader")
					bo.Reset()
					continue
				}
				in.log.Warn().Err(err).Str("leader", string(addr)).Msg("poll failed, backing off")
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}
			bo.Reset()

			for _, t := range freshOldestFirst(trades, st.lastSeen) {
				metrics.ObserveIngestTrade("poll")
				in.emit(fromWalletTrade(addr, t))
			}
			if len(trades) > 0 {
				in.mu.Lock()
				st.lastSeen = trades[0].ID
				in.mu.Unlock()
			}
		}
	}
}

// emit applies the process-local dedup filter and pushes t onto Out. Out-
// of-order arrival is allowed — dedup is by id, not by timestamp.
func (in *Ingestor) emit(t domain.LeaderTrade) {
	if in.dedup.SeenOrRemember(t.LeaderTradeID) {
		return
	}
	select {
	case in.out <- t:
	default:
		in.log.Warn().Str("leader_trade_id", t.LeaderTradeID).Msg("ingestor output channel full, dropping")
	}
}
