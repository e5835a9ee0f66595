// Package app wires every component into a running relay and owns the
// dependency-ordered startup/shutdown sequence: construct collaborators,
// start background goroutines, serve HTTP, shut down on signal. Takes
// constructor-injected collaborators rather than sharing singleton
// clients across packages.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamshubha/poly-copytrade-sub000/internal/config"
	"github.com/iamshubha/poly-copytrade-sub000/internal/detector"
	"github.com/iamshubha/poly-copytrade-sub000/internal/dispatcher"
	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/exchange"
	"github.com/iamshubha/poly-copytrade-sub000/internal/executor"
	"github.com/iamshubha/poly-copytrade-sub000/internal/httpapi"
	"github.com/iamshubha/poly-copytrade-sub000/internal/ingest"
	"github.com/iamshubha/poly-copytrade-sub000/internal/notify"
	"github.com/iamshubha/poly-copytrade-sub000/internal/queue"
	"github.com/iamshubha/poly-copytrade-sub000/internal/store"
	"github.com/iamshubha/poly-copytrade-sub000/internal/upstream"
)

// App owns every long-lived component and the order they start and stop
// in.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	store    store.Store
	upstream upstream.Upstream
	stream   *ingest.WSStream
	detector *detector.Detector
	ingestor *ingest.Ingestor
	dispatcher *dispatcher.Dispatcher
	queue    queue.Queue
	notifier *notify.StoreNotifier
	workers  *executor.WorkerPool
	httpSrv  *http.Server

	cancel context.CancelFunc
}

// Deps bundles the collaborators constructed by cmd/relay/main.go. Keeping
// construction outside New lets main.go choose Postgres vs in-memory,
// Redis vs in-memory, per environment, without App knowing about either.
type Deps struct {
	Store    store.Store
	Upstream upstream.Upstream
	Exchange exchange.Exchange
	Queue    queue.Queue
}

// New wires every component from cfg and deps. Nothing is started yet;
// call Start.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) *App {
	notifier := notify.NewStoreNotifier(deps.Store, log)
	stream := ingest.NewWSStream(cfg.StreamURL, log)
	ingestor := ingest.New(*cfg, deps.Upstream, stream, log)

	thresholds := domain.Thresholds{
		MinVolume:  cfg.MinVolume,
		MinTrades:  cfg.MinTrades,
		MinWinRate: cfg.MinWinRate,
	}
	det := detector.New(deps.Upstream, deps.Store, thresholds, cfg.DetectorInterval, log)
	disp := dispatcher.New(deps.Store, deps.Queue, log)
	exec := executor.New(deps.Store, deps.Upstream, deps.Exchange, notifier, log)
	workers := executor.NewWorkerPool(cfg.WorkerConcurrency, deps.Queue, exec, log)

	router := httpapi.NewRouter(deps.Store, log)
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	a := &App{
		cfg:        cfg,
		log:        log.With().Str("component", "app").Logger(),
		store:      deps.Store,
		upstream:   deps.Upstream,
		stream:     stream,
		detector:   det,
		ingestor:   ingestor,
		dispatcher: disp,
		queue:      deps.Queue,
		notifier:   notifier,
		workers:    workers,
		httpSrv:    httpSrv,
	}

	det.Subscribe(a.onLeaderDelta)
	return a
}

func (a *App) onLeaderDelta(added, removed []domain.Leader) {
	ctx := context.Background()
	for _, l := range added {
		a.ingestor.Attach(ctx, l.Address)
	}
	for _, l := range removed {
		a.ingestor.Detach(l.Address)
	}
}

// Start launches every background component in dependency order: stream,
// ingestion, detector (which drives ingestion attach/detach), dispatcher,
// workers, notifier, then the HTTP server.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.stream.Start(runCtx, a.cfg.StreamBackoffBase, a.cfg.StreamBackoffCap, a.cfg.StreamMaxAttempts); err != nil {
		a.log.Warn().Err(err).Msg("initial stream dial failed, leaders will fall back to polling as they attach")
	}
	a.ingestor.Start(runCtx)
	a.detector.Start(runCtx)

	go a.dispatcher.Run(runCtx, a.ingestor.Out())
	a.workers.Start(runCtx)
	go a.notifier.Run(runCtx)

	go func() {
		a.log.Info().Str("addr", a.httpSrv.Addr).Msg("starting http server")
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error().Err(err).Msg("http server failed")
		}
	}()

	return nil
}

// Shutdown stops components in dependency order: ingestion first
// (stop accepting new trades), then the dispatcher drains its input
// channel naturally as the ingestor stops emitting, then workers finish
// their currently-reserved job and exit without acking incomplete work.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info().Msg("shutting down")

	a.detector.Stop()
	_ = a.stream.Close()
	a.ingestor.Stop()

	if a.cancel != nil {
		a.cancel()
	}
	a.workers.Wait()
	a.notifier.Stop()

	return a.httpSrv.Shutdown(ctx)
}
