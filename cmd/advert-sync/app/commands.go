// Package app provides the commands of the advert-sync CLI.
package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/engagement-analysis/advert-sync/internal/config"
	"github.com/engagement-analysis/advert-sync/internal/logger"
	"github.com/engagement-analysis/advert-sync/internal/versions"
)

// NewRootCmd creates the root command with every subcommand attached.
// Flags are bound to a viper instance owned by the returned command, so
// --config can also come from ADVERT_SYNC_CONFIG.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	rootCmd := &cobra.Command{
		Use:               "advert-sync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Sync advert audiences to a RapidPro workspace",
		Long: `advert-sync classifies labelled participant records into advert audiences
and incrementally syncs them to contact fields and groups in a RapidPro
workspace. Contacts synced by earlier runs are never sent again.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if v.GetBool("debug") {
				return logger.Initialize("debug", strings.EqualFold(v.GetString("log_format"), "json"))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to the pipeline configuration file (YAML)")
	mustBind(v, "debug", rootCmd.PersistentFlags().Lookup("debug"))
	mustBind(v, "config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(newSyncCmd(v))
	rootCmd.AddCommand(newExportCmd(v))
	rootCmd.AddCommand(newCacheCmd(v))
	rootCmd.AddCommand(newIdentityCmd(v))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to read format flag: %w", err)
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(out, string(output))
				return err
			}

			_, err = fmt.Fprint(out, info.String())
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		logger.Fatalf("Failed to bind %s flag: %v", key, err)
	}
}
