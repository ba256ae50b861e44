package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/bootstrap"
	"github.com/boddenberg/etudes-bfa-go/internal/config"
	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/handler"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/cache"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/observability"
	"github.com/boddenberg/etudes-bfa-go/internal/kpi"
	"github.com/boddenberg/etudes-bfa-go/internal/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("use_supabase", cfg.UseSupabase),
		zap.Bool("supabase_realtime", cfg.SupabaseRealtime),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.String("kpi_label_locale", cfg.KPILabelLocale),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "etudes-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Backend ---
	backend, err := bootstrap.Open(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open backend", zap.Error(err))
	}

	// --- Cache ---
	snapshotCache := cache.New[[]domain.Study](cfg.CacheTTL)
	defer snapshotCache.Close()

	// --- Services ---
	clock := time.Now
	feed := service.NewFeed(backend.Studies, snapshotCache, clock, metrics, logger).WithPolling(cfg.CacheTTL)
	deps := handler.Deps{
		Studies:   service.NewStudyService(backend.Studies, feed, clock, metrics, logger),
		Dashboard: service.NewDashboardService(feed, clock, kpi.LabelerFor(cfg.KPILabelLocale), metrics, logger),
		Checklist: service.NewChecklistService(backend.Studies, backend.Checklist, logger),
		Feed:      feed,
		Ping:      backend.Ping,
	}

	// --- Router ---
	router := handler.NewRouter(deps, metrics, logger, cfg.CORSAllowedOrigins)

	// --- Run until SIGINT/SIGTERM ---
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Server ---
	// Request contexts derive from ctx so open event streams end on shutdown.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return feed.Run(gctx, backend.Changes)
	})

	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port), zap.String("backend", backend.Name))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}
