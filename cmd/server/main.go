// Command server runs the callback gateway: the submission gate, the CSRF
// endpoint, health and metrics.
//
// @title       Callback Gateway API
// @version     1.0
// @description Server-side gate for the callback request form: CSRF, idempotency, validation and rate limiting.
// @BasePath    /api
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-callback-backend/internal/config"
	httpapi "github.com/tbourn/go-callback-backend/internal/http"
	"github.com/tbourn/go-callback-backend/internal/observability"
	"github.com/tbourn/go-callback-backend/internal/ratelimit"
	"github.com/tbourn/go-callback-backend/internal/repo"
	"github.com/tbourn/go-callback-backend/internal/services"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg := config.MustLoad()
	observability.SetupLogging(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, os.Stderr)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if cfg.OTEL.Enabled {
		if err := repo.UseTracing(db); err != nil {
			return fmt.Errorf("db tracing: %w", err)
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	housekeeping(ctx, db, cfg)

	limiter, closeLimiter, err := newSubmitLimiter(ctx, cfg.SubmitLimit, db)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	defer func() {
		if err := closeLimiter(); err != nil {
			log.Warn().Err(err).Msg("rate limiter close")
		}
	}()

	r := gin.New()
	httpapi.RegisterRoutes(r, db, limiter, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("submit_path", cfg.SubmitPath).
			Str("rate_limit_store", cfg.SubmitLimit.Store).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// housekeeping drops expired rows left by a previous run.
func housekeeping(ctx context.Context, db *gorm.DB, cfg config.Config) {
	now := time.Now().UTC()
	sessSvc := &services.SessionService{DB: db, TTL: cfg.Session.TTL}
	if n, err := sessSvc.Cleanup(ctx); err != nil {
		log.Warn().Err(err).Msg("session cleanup")
	} else if n > 0 {
		log.Info().Int64("deleted", n).Msg("expired sessions removed")
	}
	if _, err := repo.PruneIdempotency(ctx, db, now); err != nil {
		log.Warn().Err(err).Msg("idempotency prune")
	}
	if cfg.SubmitLimit.Store == config.StoreSQLite && cfg.SubmitLimit.Window > 0 {
		if _, err := repo.PruneRateWindows(ctx, db, now.Add(-cfg.SubmitLimit.Window)); err != nil {
			log.Warn().Err(err).Msg("rate window prune")
		}
	}
}

// newSubmitLimiter builds the submission limiter on the configured store.
// The returned close function releases the store's connections.
func newSubmitLimiter(ctx context.Context, cfg config.SubmitLimitConfig, db *gorm.DB) (*ratelimit.Limiter, func() error, error) {
	noop := func() error { return nil }

	var (
		store   ratelimit.Store
		closeFn = noop
	)
	switch cfg.Store {
	case config.StoreSQLite:
		store = repo.NewRateWindowStore(db)
	case config.StoreRedis:
		rs, client, err := ratelimit.NewRedisStoreFromURL(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, noop, err
		}
		store, closeFn = rs, client.Close
	case config.StoreMemory, "":
		store = ratelimit.NewMemoryStore()
	default:
		return nil, noop, fmt.Errorf("unknown store %q", cfg.Store)
	}

	lim, err := ratelimit.New(store, cfg.Max, cfg.Window)
	if err != nil {
		_ = closeFn()
		return nil, noop, err
	}
	if !lim.Enabled() {
		log.Warn().Int("max", cfg.Max).Dur("window", cfg.Window).Msg("submission rate limiting disabled")
	}
	return lim, closeFn, nil
}
