package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinickit/clinic-scheduling/internal/config"
	"github.com/clinickit/clinic-scheduling/internal/db"
	"github.com/clinickit/clinic-scheduling/internal/notify"
	redisclient "github.com/clinickit/clinic-scheduling/internal/redisclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := zerolog.New(os.Stdout).With().Timestamp().Str("component", "notifier").Logger()
	if cfg.Env == "dev" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.PollInterval).Msg("notifier starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	source := notify.NewPgChangeSource(pgPool)
	pub := notify.NewRedisPublisher(rdb, notify.Channel)
	poller := notify.NewPoller(source, pub, cfg.PollInterval, log)

	if err := poller.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("poller stopped")
	}

	log.Info().Msg("notifier shut down")
}
