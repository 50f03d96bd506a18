// Command server runs the comment-to-DM automation backend: the webhook
// receiver, the management API, the delivery workers, and the entitlement
// sweeps, all in one process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/replyloop/go-dm-backend/internal/config"
	"github.com/replyloop/go-dm-backend/internal/credentials"
	httpapi "github.com/replyloop/go-dm-backend/internal/http"
	"github.com/replyloop/go-dm-backend/internal/instagram"
	"github.com/replyloop/go-dm-backend/internal/observability"
	"github.com/replyloop/go-dm-backend/internal/queue"
	"github.com/replyloop/go-dm-backend/internal/repo"
	"github.com/replyloop/go-dm-backend/internal/scheduler"
	"github.com/replyloop/go-dm-backend/internal/services"
	"github.com/replyloop/go-dm-backend/internal/sysutil"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", cfg.OTEL.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutCtx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	credStore, err := credentials.NewStore(db, []byte(cfg.Meta.EncryptionKey))
	if err != nil {
		logger.Fatal().Err(err).Msg("credential store init failed")
	}

	client := instagram.NewClient(cfg.Meta.GraphVersion, cfg.Meta.SendTimeout, nil)

	entitlement := services.NewEntitlementService(db)

	dispatcher := &services.DispatchService{
		DB:             db,
		Sender:         client,
		Credentials:    credStore,
		Entitlement:    entitlement,
		RateLimits:     services.NewRateLimitService(db, cfg.Dispatch.DMRatePerDay, cfg.Dispatch.DMRateWindow),
		Log:            logger.With().Str("component", "dispatch").Logger(),
		MaxRetries:     cfg.Dispatch.MaxRetries,
		RetryBase:      cfg.Dispatch.RetryBaseDelay,
		RateLimitDefer: cfg.Dispatch.RateLimitDefer,
		TransientDefer: 5 * time.Minute,
	}

	q := queue.New(db, dispatcher, logger.With().Str("component", "queue").Logger())
	q.Workers = cfg.Dispatch.Workers
	if err := q.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("queue start failed")
	}
	defer func() {
		if err := q.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue close failed")
		}
	}()

	pipeline := services.NewPipelineService(db, q, entitlement, logger.With().Str("component", "pipeline").Logger())

	sweeper := scheduler.NewSweeper(db,
		logger.With().Str("component", "sweeper").Logger(),
		cfg.Dispatch.TrialSweepEvery,
		cfg.Dispatch.PaySweepEvery,
	)
	sweeper.Start(ctx)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, pipeline, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
}
