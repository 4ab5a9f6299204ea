package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aretw0/forkline/internal/cli"
	"github.com/spf13/cobra"
)

var forkCmd = &cobra.Command{
	Use:   "fork",
	Short: "Manage the fork chain",
}

var forkSourceCmd = &cobra.Command{
	Use:   "source [owner/repo]",
	Short: "Register the root repository of the chain",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			repo := app.Config.Fork.SourceRepo
			if len(args) > 0 {
				repo = args[0]
			}
			if repo == "" {
				return fmt.Errorf("no source repository given and fork.source_repo is not configured")
			}
			if err := app.RegisterSource(ctx, repo); err != nil {
				return err
			}
			newPrinter().Line("source %s registered", repo)
			return nil
		})
	},
}

var forkCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Fork the newest chain repository as the current identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		activate, _ := cmd.Flags().GetBool("activate")
		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			repo, err := app.CreateNext(ctx, activate)
			if err != nil {
				return err
			}
			newPrinter().Line("fork %s active", repo)
			return nil
		})
	},
}

var forkRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Dispatch the workflow of the active fork",
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			runID, conclusion, err := app.RunActive(ctx, wait)
			if err != nil {
				return err
			}
			p := newPrinter()
			if !wait {
				p.Line("run %d dispatched", runID)
				return nil
			}
			p.Line("run %d finished: %s", runID, conclusion)
			return nil
		})
	},
}

var forkDeleteCmd = &cobra.Command{
	Use:   "delete <index>",
	Short: "Delete the fork at a chain index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid chain index %q: %w", args[0], err)
		}
		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			if err := app.Teardown(ctx, index); err != nil {
				return err
			}
			newPrinter().Line("node %d disabled", index)
			return nil
		})
	},
}

var forkSecretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Push the configured secrets to every active fork",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			if err := app.SetSecrets(ctx); err != nil {
				return err
			}
			newPrinter().Line("%d secrets set", len(app.Config.Secrets))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(forkCmd)
	forkCmd.AddCommand(forkSourceCmd, forkCreateCmd, forkRunCmd, forkSecretsCmd, forkDeleteCmd)

	forkCreateCmd.Flags().Bool("activate", true, "enable the workflow on the new fork")
	forkRunCmd.Flags().Bool("wait", false, "wait for the run to complete")
}
