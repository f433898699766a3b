package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/engagement-analysis/advert-sync/internal/audience"
	"github.com/engagement-analysis/advert-sync/internal/export"
	"github.com/engagement-analysis/advert-sync/internal/identity"
	"github.com/engagement-analysis/advert-sync/internal/logger"
)

func newExportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-contacts",
		Short: "Export the weekly advert audience as a RapidPro contact import CSV",
		Long: `Compute the weekly advert audience, re-identify it and write the URNs as a
CSV that can be uploaded to RapidPro directly. The sync cache is not used.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recordPaths, err := cmd.Flags().GetStringSlice("records")
			if err != nil {
				return err
			}
			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return err
			}
			return runExport(cmd, v, recordPaths, output)
		},
	}

	cmd.Flags().StringSlice("records", nil, "Participant record JSONL files (required)")
	cmd.Flags().String("output", "", "Path of the CSV file to write (required)")
	for _, name := range []string{"records", "output"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			logger.Fatalf("Failed to mark %s flag as required: %v", name, err)
		}
	}
	return cmd
}

func runExport(cmd *cobra.Command, v *viper.Viper, recordPaths []string, output string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	sets, err := buildAudiences(cfg, recordPaths)
	if err != nil {
		return err
	}
	advert := sets[audience.WeeklyAdvert]

	table, err := identity.New(ctx, &cfg.Identity)
	if err != nil {
		return fmt.Errorf("failed to open identity table: %w", err)
	}
	defer func() { _ = table.Close() }()

	logger.Infof("Converting %d uuids to urns", advert.Len())
	resolved, err := table.ResolveBatch(ctx, advert.Sorted())
	if err != nil {
		return fmt.Errorf("failed to resolve advert uuids: %w", err)
	}
	urns := make([]string, 0, len(resolved))
	for _, urn := range resolved {
		urns = append(urns, urn)
	}

	f, err := os.OpenFile(filepath.Clean(output), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	n, err := export.WriteContactsCSV(f, urns)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	logger.Infof("Wrote %d urns to %s", n, output)
	return nil
}
