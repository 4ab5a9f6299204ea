package main

import (
	"context"

	"github.com/aretw0/forkline/internal/cli"
	"github.com/spf13/cobra"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Check the active identity's quota and rotate when it is exhausted",
	Long: `Checks the quota of the identity owning the Active fork. When it is
exhausted the fork's workflow is disabled, the fork is marked exhausted and
the next identity becomes current. No fork is created: run 'forkline fork create'
afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			result, err := app.Rotate(ctx)
			if err != nil {
				return err
			}
			return newPrinter().Rotation(result)
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete every exhausted fork",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			if err := app.Cleanup(ctx); err != nil {
				return err
			}
			newPrinter().Line("cleanup complete")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(cleanupCmd)
}
