package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/adsnap/internal/storage/postgres"
)

// newMigrateCmd creates the 'migrate' subcommand for the Postgres cache schema.
func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or roll back the weekly cache schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(postgres.Up), string(postgres.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				cfg, err := resolveConfig(cmd.Context())
				if err != nil {
					return err
				}
				dsn = cfg.Cache.Postgres.DSN
			}
			if dsn == "" {
				return errors.New("cache.postgres.dsn (or --dsn) is required")
			}

			dir := postgres.Direction(args[0])
			ran, err := migrateFn(dsn, dir)
			if err != nil {
				return err
			}
			if !ran {
				fmt.Fprintf(cmd.OutOrStdout(), "Migration %s: no change\n", dir)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migration %s completed successfully\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN; overrides cache.postgres.dsn")
	return cmd
}
