package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinickit/clinic-scheduling/internal/api"
	"github.com/clinickit/clinic-scheduling/internal/clinic"
	"github.com/clinickit/clinic-scheduling/internal/config"
	"github.com/clinickit/clinic-scheduling/internal/db"
	"github.com/clinickit/clinic-scheduling/internal/notify"
	redisclient "github.com/clinickit/clinic-scheduling/internal/redisclient"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := newLogger(cfg.Env)
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		log.Fatal().Err(err).Msg("schema migration error")
	}
	log.Info().Msg("connected to Postgres, schema up to date")

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

	repo := clinic.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	recorder := notify.NewRecorder(pgPool, log)
	svc := clinic.NewService(repo, locker, recorder, log)

	hub := notify.NewHub(log)
	go hub.Listen(rootCtx, rdb, notify.Channel)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Hub:     hub,
		PgPool:  pgPool,
		Redis:   rdb,
		Env:     cfg.Env,
		Version: version,
		Logger:  log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}

	log.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newLogger(env string) zerolog.Logger {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "dev" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return log
}
