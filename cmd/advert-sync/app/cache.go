package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/engagement-analysis/advert-sync/internal/cache"
	"github.com/engagement-analysis/advert-sync/internal/logger"
)

func newCacheCmd(v *viper.Viper) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the sync cache",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the uuids already synced to a target, in sync order",
		Long: `Print the uuids already synced to a target, in sync order.

With --dataset instead of --target, print when the dataset was last synced
and how many of its records are cached.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := cmd.Flags().GetString("target")
			if err != nil {
				return err
			}
			dataset, err := cmd.Flags().GetString("dataset")
			if err != nil {
				return err
			}

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			c, err := cache.New(cmd.Context(), &cfg.Cache)
			if err != nil {
				return fmt.Errorf("failed to open sync cache: %w", err)
			}
			defer func() { _ = c.Close() }()

			if dataset != "" {
				return showDataset(cmd, c, dataset)
			}

			uuids, err := c.GetSynced(cmd.Context(), target)
			if err != nil {
				return err
			}
			for _, u := range uuids {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), u); err != nil {
					return err
				}
			}
			logger.Infof("Target %s has %d synced uuids", target, len(uuids))
			return nil
		},
	}
	showCmd.Flags().String("target", "", "Target name")
	showCmd.Flags().String("dataset", "", "Dataset name")
	showCmd.MarkFlagsOneRequired("target", "dataset")
	showCmd.MarkFlagsMutuallyExclusive("target", "dataset")

	cacheCmd.AddCommand(showCmd)
	return cacheCmd
}

func showDataset(cmd *cobra.Command, c cache.Cache, dataset string) error {
	ts, err := c.GetTimestamp(cmd.Context(), dataset)
	if err != nil {
		return err
	}
	recs, err := c.GetRecords(cmd.Context(), dataset)
	if err != nil {
		return err
	}

	lastSynced := "never"
	if ts != nil {
		lastSynced = ts.Format(time.RFC3339)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "last synced: %s\ncached records: %d\n", lastSynced, len(recs))
	return err
}
