package main

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/bootstrap"
	"github.com/boddenberg/etudes-bfa-go/internal/config"
	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/cache"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/observability"
	"github.com/boddenberg/etudes-bfa-go/internal/kpi"
	"github.com/boddenberg/etudes-bfa-go/internal/port"
	"github.com/boddenberg/etudes-bfa-go/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds the services a command runs against. Tests set studies and
// checklist before executing; otherwise they come from the environment.
type app struct {
	studies   port.StudyStore
	checklist port.ChecklistStore
	logger    *zap.Logger
	now       func() time.Time

	output  string
	timeout time.Duration
	verbose bool

	snapshots    *cache.TTL[[]domain.Study]
	feed         *service.Feed
	studySvc     *service.StudyService
	dashboardSvc *service.DashboardService
	checklistSvc *service.ChecklistService
}

func (a *app) setup(_ *cobra.Command, _ []string) error {
	if a.logger == nil {
		level := "warn"
		if a.verbose {
			level = "debug"
		}
		a.logger = observability.NewLogger(level)
	}
	if a.now == nil {
		a.now = time.Now
	}

	_ = config.LoadDotEnv(".env")
	cfg := config.Load()
	if a.studies == nil {
		backend, err := bootstrap.Open(cfg, a.logger)
		if err != nil {
			return fmt.Errorf("open backend: %w", err)
		}
		a.studies, a.checklist = backend.Studies, backend.Checklist
	}
	if _, err := parseFormat(a.output); err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	a.snapshots = cache.New[[]domain.Study](time.Minute)
	a.feed = service.NewFeed(a.studies, a.snapshots, a.now, metrics, a.logger)
	a.studySvc = service.NewStudyService(a.studies, a.feed, a.now, metrics, a.logger)
	a.dashboardSvc = service.NewDashboardService(a.feed, a.now, kpi.LabelerFor(cfg.KPILabelLocale), metrics, a.logger)
	a.checklistSvc = service.NewChecklistService(a.studies, a.checklist, a.logger)
	return nil
}

// teardown waits for refreshes started by mutations and stops the cache
// janitor. It is safe to call more than once.
func (a *app) teardown() {
	if a.feed != nil {
		a.feed.Close()
		a.feed = nil
	}
	if a.snapshots != nil {
		a.snapshots.Close()
		a.snapshots = nil
	}
}

func (a *app) teardownHook(_ *cobra.Command, _ []string) {
	a.teardown()
}

func (a *app) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "etudesctl",
		Short:             "Manage études and inspect their KPIs",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: a.teardownHook,
	}
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "Output format: table, json or yaml")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "Operation timeout")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newListCmd(a),
		newCreateCmd(a),
		newStatusCmd(a),
		newDeleteCmd(a),
		newKPIsCmd(a),
		newOverviewCmd(a),
		newDocsCmd(a),
	)
	return root
}

// =============================================================================
// ÉTUDES
// =============================================================================

func newListCmd(a *app) *cobra.Command {
	var search, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List études, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := domain.StudyFilter{Search: search}
			if status != "" {
				s, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				filter.Status = s
			}

			ctx, cancel := a.context()
			defer cancel()
			rows, err := a.studySvc.List(ctx, filter)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, rows)
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "Match title or client (case-insensitive)")
	cmd.Flags().StringVar(&status, "status", "", "Only études with this status (en_cours, livre, facture, clos)")
	return cmd
}

func newCreateCmd(a *app) *cobra.Command {
	var req domain.CreateStudyRequest
	var amount float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an étude",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("amount") {
				req.Amount = &amount
			}
			ctx, cancel := a.context()
			defer cancel()
			study, err := a.studySvc.Create(ctx, &req)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, study)
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "Title (required)")
	cmd.Flags().StringVar(&req.Client, "client", "", "Client (required)")
	cmd.Flags().Float64Var(&amount, "amount", 0, "Amount in euros (required)")
	cmd.Flags().StringVar(&req.Status, "status", "", "Initial status (default en_cours)")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move an étude to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context()
			defer cancel()
			study, err := a.studySvc.UpdateStatus(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, study)
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an étude",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context()
			defer cancel()
			if err := a.studySvc.Delete(ctx, args[0]); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, domain.SuccessResponse{Message: "study deleted", ID: args[0]})
		},
	}
}

// =============================================================================
// KPIs
// =============================================================================

func newKPIsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "kpis",
		Short: "Show the KPI dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context()
			defer cancel()
			d, err := a.dashboardSvc.Dashboard(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, d)
		},
	}
}

func newOverviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Show the home screen figures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context()
			defer cancel()
			ov, err := a.studySvc.Overview(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, ov)
		},
	}
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func newDocsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs <id>",
		Short: "Show the document checklist of an étude",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context()
			defer cancel()
			cl, err := a.checklistSvc.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, cl)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "toggle <id> <document>",
		Short: "Flip one document (devis, ce, rm, pvrf)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context()
			defer cancel()
			cl, err := a.checklistSvc.Toggle(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, cl)
		},
	})
	return cmd
}
