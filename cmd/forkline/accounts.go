package main

import (
	"context"

	"github.com/aretw0/forkline/internal/cli"
	"github.com/spf13/cobra"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the metered usage of every identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			return newPrinter().Quota(app.QuotaAll(ctx))
		})
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the identity pool",
}

var accountsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Resolve every identity and report rejected credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			total := app.Pool.Size()
			if err := app.ValidateAccounts(ctx); err != nil {
				return err
			}
			p := newPrinter()
			for _, identity := range app.Pool.Identities() {
				p.Line("%s", identity)
			}
			p.Line("%d of %d identities valid", len(app.Pool.Identities()), total)
			return nil
		})
	},
}

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Manage proxy bindings",
}

var proxyImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Bind proxies to identities in file order",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) > 0 {
			path = args[0]
		}
		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			if err := app.ImportProxies(path); err != nil {
				return err
			}
			newPrinter().Line("%d proxies bound", app.Proxies.Len())
			return nil
		})
	},
}

var proxyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Probe every bound proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			failed := app.TestProxies(ctx)
			p := newPrinter()
			for _, token := range failed {
				p.Line("unreachable: %s", token)
			}
			p.Line("%d of %d proxies reachable", app.Proxies.Len()-len(failed), app.Proxies.Len())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(quotaCmd, accountsCmd, proxyCmd)
	accountsCmd.AddCommand(accountsValidateCmd)
	proxyCmd.AddCommand(proxyImportCmd, proxyTestCmd)
}
