package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iamshubha/poly-copytrade-sub000/internal/app"
	"github.com/iamshubha/poly-copytrade-sub000/internal/config"
	"github.com/iamshubha/poly-copytrade-sub000/internal/exchange"
	"github.com/iamshubha/poly-copytrade-sub000/internal/queue"
	"github.com/iamshubha/poly-copytrade-sub000/internal/store"
	"github.com/iamshubha/poly-copytrade-sub000/internal/upstream"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	log.Info().Str("environment", cfg.Environment).Msg("starting copy-trade relay")

	pg, err := store.NewPostgres(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pg.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	q := queue.NewRedis(redisClient, "copytrade", cfg.QueueVisibility, queue.RetryPolicy{
		MaxAttempts: cfg.QueueMaxAttempts,
		Base:        cfg.QueueRetryBase,
		Cap:         cfg.QueueRetryCap,
	})

	up := upstream.NewRestyClient(cfg.UpstreamBaseURL, cfg.UpstreamToken, cfg.HTTPTimeout, 10)
	ex := exchange.NewRestyExchange(cfg.UpstreamBaseURL, cfg.UpstreamToken, cfg.ExchangeTimeout, pg)

	a := app.New(cfg, app.Deps{
		Store:    pg,
		Upstream: up,
		Exchange: ex,
		Queue:    q,
	}, log.Logger)

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start relay")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("relay shutdown complete")
}
