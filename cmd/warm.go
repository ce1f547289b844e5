package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newWarmCmd creates the 'warm' subcommand. It resolves one week and renders its
// screenshots in the foreground, which is how past weeks are back-filled.
func newWarmCmd() *cobra.Command {
	var week string
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Resolve and fill one week synchronously",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWarmCommand(cmd, week)
		},
	}
	cmd.Flags().StringVar(&week, "week", "", "week-ending Saturday (yyyy-mm-dd); defaults to the most recent one")
	return cmd
}

func runWarmCommand(cmd *cobra.Command, week string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	app, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			app.Logger().Warn("Failed to close application", zap.Error(cerr))
		}
	}()

	report, err := app.Warm(cmd.Context(), week)
	if err != nil {
		return fmt.Errorf("warm week: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "week %s: state=%s screenshots=%d/%d\n", report.WeekEnd, report.State, report.Done, report.Total)
	if report.Fill != nil {
		fmt.Fprintf(out, "fill run %s: discovered=%d filled=%d pending=%d\n",
			report.Fill.RunID, report.Fill.Discovered, report.Fill.Filled, report.Fill.Pending)
	}
	return nil
}
