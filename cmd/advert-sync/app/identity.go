package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/engagement-analysis/advert-sync/internal/identity"
)

func newIdentityCmd(v *viper.Viper) *cobra.Command {
	identityCmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the participant uuid table",
	}

	registerCmd := &cobra.Command{
		Use:   "register URN...",
		Short: "De-identify URNs, minting uuids for new ones",
		Long: `Print the participant uuid of every URN, one per line in argument order.
URNs that are not in the table yet are given a new uuid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			table, err := identity.New(cmd.Context(), &cfg.Identity)
			if err != nil {
				return fmt.Errorf("failed to open identity table: %w", err)
			}
			defer func() { _ = table.Close() }()

			for _, urn := range args {
				uuid, err := table.Register(cmd.Context(), urn)
				if err != nil {
					return fmt.Errorf("failed to register urn: %w", err)
				}
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), uuid); err != nil {
					return err
				}
			}
			return nil
		},
	}

	identityCmd.AddCommand(registerCmd)
	return identityCmd
}
