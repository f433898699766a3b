package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/engagement-analysis/advert-sync/internal/cache"
	"github.com/engagement-analysis/advert-sync/internal/contacts"
	"github.com/engagement-analysis/advert-sync/internal/identity"
	"github.com/engagement-analysis/advert-sync/internal/logger"
	"github.com/engagement-analysis/advert-sync/internal/sync"
)

const metricsFlushTimeout = 10 * time.Second

func newSyncCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync advert audiences to the contact service",
		Long: `Classify the participant records into audiences and sync every configured
target. Only participants that were not synced by an earlier run are sent.

Targets are reconciled in order: consent withdrawn, weekly advert, then the
non-relevant targets of each dataset. The first failure stops the run;
everything synced before it stays in the cache.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recordPaths, err := cmd.Flags().GetStringSlice("records")
			if err != nil {
				return err
			}
			dryRun, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return err
			}
			return runSync(cmd, v, recordPaths, dryRun)
		},
	}

	cmd.Flags().StringSlice("records", nil, "Participant record JSONL files (required)")
	cmd.Flags().Bool("dry-run", false, "Compute what would be synced without contacting the workspace")
	if err := cmd.MarkFlagRequired("records"); err != nil {
		logger.Fatalf("Failed to mark records flag as required: %v", err)
	}
	return cmd
}

func runSync(cmd *cobra.Command, v *viper.Viper, recordPaths []string, dryRun bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	sets, err := buildAudiences(cfg, recordPaths)
	if err != nil {
		return err
	}
	jobs, err := buildJobs(cfg, sets)
	if err != nil {
		return err
	}

	c, err := cache.New(ctx, &cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to open sync cache: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warnf("Failed to close sync cache: %v", err)
		}
	}()

	// A dry run never resolves identities or calls the workspace, so it
	// needs neither credential.
	var (
		resolver identity.Resolver
		svc      contacts.Service
	)
	if !dryRun {
		table, err := identity.New(ctx, &cfg.Identity)
		if err != nil {
			return fmt.Errorf("failed to open identity table: %w", err)
		}
		defer func() { _ = table.Close() }()
		resolver = table

		svc, err = newContactsService(&cfg.Contacts)
		if err != nil {
			return fmt.Errorf("failed to create contacts client: %w", err)
		}
	}

	metrics, shutdownMetrics, err := newSyncMetrics(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), metricsFlushTimeout)
		defer cancel()
		shutdownMetrics(flushCtx)
	}()

	started := time.Now().UTC()
	reconciler := sync.NewReconciler(c, resolver, svc, sync.WithDryRun(dryRun), sync.WithMetrics(metrics))
	reports, runErr := reconciler.Reconcile(ctx, jobs)

	if err := writeReport(cmd.OutOrStdout(), reports, dryRun); err != nil {
		logger.Warnf("Failed to render sync report: %v", err)
	}
	if runErr != nil {
		return fmt.Errorf("sync failed: %w", runErr)
	}

	if !dryRun {
		for _, ds := range cfg.Datasets {
			if err := c.SetTimestamp(ctx, ds.Name, started); err != nil {
				return fmt.Errorf("failed to record sync time of dataset %s: %w", ds.Name, err)
			}
		}
	}

	logger.Infof("Synced %d targets for pipeline %s", len(reports), cfg.GetPipelineName())
	return nil
}
