// Package bootstrap selects and builds the data backend from configuration.
// Both the API server and the CLI go through it.
package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/config"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/memory"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/supabase"
	"github.com/boddenberg/etudes-bfa-go/internal/port"

	"go.uber.org/zap"
)

// Backend groups the adapters a process needs.
type Backend struct {
	Name      string
	Studies   port.StudyStore
	Checklist port.ChecklistStore
	// Changes is nil when no change notifications are available; the feed
	// then polls.
	Changes port.ChangeSubscriber
	// Ping is nil for the in-memory backend.
	Ping func(ctx context.Context) error
}

// Open returns the Supabase backend when configured, the seeded in-memory
// one otherwise.
func Open(cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	if !cfg.SupabaseEnabled() {
		logger.Warn("Supabase not configured, using in-memory demo data")
		store := memory.NewSeeded(time.Now())
		return &Backend{Name: "memory", Studies: store, Checklist: store, Changes: store}, nil
	}

	logger.Info("using Supabase as data backend",
		zap.String("supabase_url", cfg.SupabaseURL),
		zap.String("studies_table", cfg.StudiesTable),
		zap.Bool("realtime", cfg.SupabaseRealtime),
	)

	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	client := supabase.NewClient(
		&http.Client{Timeout: cfg.HTTPTimeout},
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		resilience.NewCircuitBreaker("supabase"),
		resilienceCfg,
		logger,
	).WithTables(cfg.StudiesTable, cfg.DocumentsTable)

	b := &Backend{Name: "supabase", Studies: client, Checklist: client, Ping: client.Ping}
	if cfg.SupabaseRealtime {
		rt, err := supabase.NewRealtime(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.StudiesTable, logger)
		if err != nil {
			return nil, err
		}
		b.Changes = rt
	}
	return b, nil
}
