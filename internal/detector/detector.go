// Package detector implements a periodic scan of the upstream data
// source that ranks wallets and publishes the (added, removed) delta to
// subscribers, in the shape of a diff-and-notify polling cycle.
package detector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/metrics"
	"github.com/iamshubha/poly-copytrade-sub000/internal/relayerr"
	"github.com/iamshubha/poly-copytrade-sub000/internal/store"
	"github.com/iamshubha/poly-copytrade-sub000/internal/upstream"
)

// DeltaHandler is invoked with the set of leaders added and removed on a
// successful detection cycle. Ordering within a cycle is added before
// removed.
type DeltaHandler func(added, removed []domain.Leader)

// Detector maintains the current set L of wallets worth monitoring.
type Detector struct {
	upstream   upstream.Upstream
	store      store.Store
	thresholds domain.Thresholds
	interval   time.Duration
	log        zerolog.Logger

	mu       sync.RWMutex
	current  map[domain.Address]domain.Leader
	handlers []DeltaHandler

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Detector. Thresholds and interval come from
// config.Config's detector fields.
func New(up upstream.Upstream, st store.Store, thresholds domain.Thresholds, interval time.Duration, log zerolog.Logger) *Detector {
	return &Detector{
		upstream:   up,
		store:      st,
		thresholds: thresholds,
		interval:   interval,
		log:        log.With().Str("component", "detector").Logger(),
		current:    make(map[domain.Address]domain.Leader),
		stop:       make(chan struct{}),
	}
}

// Subscribe registers a handler invoked on each successful cycle.
func (d *Detector) Subscribe(h DeltaHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// IsLeader is a cheap cached predicate over the last successful cycle's
// result.
func (d *Detector) IsLeader(addr domain.Address) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.current[addr]
	return ok
}

// Start begins the periodic detection loop. It runs one cycle immediately
// and then on every tick of interval, until ctx is cancelled or Stop is
// called.
func (d *Detector) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runCycle(ctx)

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			case <-ticker.C:
				d.runCycle(ctx)
			}
		}
	}()
}

// Stop halts the detection loop and waits for the current cycle to finish.
func (d *Detector) Stop() {
	close(d.stop)
	d.wg.Wait()
}

// discoverPageSize and discoverMaxPages bound the single unscoped trade
// scan Discover runs per cycle: up to discoverMaxPages pages of
// discoverPageSize trades each (20,000 trades) before the cycle gives up
// on further pagination and works with what it has, rather than looping
// forever against an upstream that never stops returning a next cursor.
const (
	discoverPageSize = 200
	discoverMaxPages = 100
)

// Discover queries the upstream source and aggregates trades by wallet
// into qualifying Leaders.
func (d *Detector) Discover(ctx context.Context) ([]domain.Leader, error) {
	markets, err := d.upstream.ListMarkets(ctx)
	if err != nil {
		return nil, relayerr.Upstream(err)
	}

	liveMarkets := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		if m.Live() {
			liveMarkets[m.ID] = struct{}{}
		}
	}

	// A minimal read-only traders aggregation: without a dedicated
	// "traders" endpoint, the relay derives wallet activity from a single
	// unscoped trade scan (wallet == "", see Upstream.ListTradesByWallet),
	// paginated and filtered down to live markets in memory. A page that
	// cannot be fetched fails the whole cycle. The scan is otherwise not
	// all-or-nothing: a page rejected as malformed ends it early, as does
	// reaching discoverMaxPages, and in both cases the cycle goes on with
	// the trades gathered up to that point.
	volumeByWallet := make(map[domain.Address]float64)
	tradesByWallet := make(map[domain.Address]int)

	cursor := ""
	for page := 0; page < discoverMaxPages; page++ {
		trades, nextCursor, err := d.upstream.ListTradesByWallet(ctx, "", discoverPageSize, cursor)
		if err != nil {
			if relayerr.OfKind(err, relayerr.UpstreamBadData) {
				break // drop a malformed page, work with what was gathered so far
			}
			return nil, relayerr.Upstream(err)
		}
		for _, t := range trades {
			if _, live := liveMarkets[t.MarketID]; !live {
				continue
			}
			addr, err := domain.ParseAddress(t.MakerAddress)
			if err != nil {
				continue
			}
			volumeByWallet[addr] += t.Price * t.Size
			tradesByWallet[addr]++
		}
		if nextCursor == "" || len(trades) == 0 {
			break
		}
		cursor = nextCursor
	}

	now := time.Now()
	var leaders []domain.Leader
	for addr, vol := range volumeByWallet {
		l := domain.Leader{
			Address:     addr,
			TotalVolume: vol,
			TotalTrades: tradesByWallet[addr],
			WinRate:     nil, // upstream exposes no closed-position ratio; admit on volume+trades alone
			LastSeen:    now,
			UpdatedAt:   now,
		}
		if l.Qualifies(d.thresholds) {
			leaders = append(leaders, l)
		}
	}
	return leaders, nil
}

func (d *Detector) runCycle(ctx context.Context) {
	leaders, err := d.Discover(ctx)
	if err != nil {
		// Transient upstream errors skip this cycle and retain the previous
		// set; the detector is advisory and a stale leader set must never cause
		// loss of ingestion for already-subscribed leaders.
		d.log.Warn().Err(err).Msg("detection cycle skipped")
		return
	}

	next := make(map[domain.Address]domain.Leader, len(leaders))
	for _, l := range leaders {
		next[l.Address] = l
	}

	d.mu.Lock()
	prev := d.current
	var added, removed []domain.Leader
	for addr, l := range next {
		if _, existed := prev[addr]; !existed {
			added = append(added, l)
		}
	}
	for addr, l := range prev {
		if _, stillPresent := next[addr]; !stillPresent {
			removed = append(removed, l)
		}
	}
	d.current = next
	handlers := append([]DeltaHandler(nil), d.handlers...)
	d.mu.Unlock()
	metrics.SetDetectorLeaders(len(next))

	for _, l := range leaders {
		if err := d.store.UpsertLeader(ctx, l); err != nil {
			d.log.Error().Err(err).Str("leader", string(l.Address)).Msg("failed to persist leader")
		}
	}

	if len(added) == 0 && len(removed) == 0 {
		return
	}

	d.log.Info().Int("added", len(added)).Int("removed", len(removed)).Msg("leader set changed")
	for _, h := range handlers {
		h(added, removed) // added before removed
	}
}
