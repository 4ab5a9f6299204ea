package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpAdapter "github.com/aretw0/forkline/internal/adapters/http"
	"github.com/aretw0/forkline/internal/cli"
	"github.com/aretw0/forkline/internal/presentation/tui"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP status server",
	Long: `Exposes the fork chain, quota reports, rotation and Prometheus metrics over HTTP.
With --interval the server also runs a rotation check on every tick.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		interval, _ := cmd.Flags().GetDuration("interval")

		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			if addr == "" {
				addr = app.Config.Server.Addr
			}
			tui.PrintBanner(os.Stderr, version())

			handler := httpAdapter.NewHandler(&httpAdapter.Server{
				Store:   app.Store,
				Rotator: app.Rotation,
				Quota:   app.QuotaAll,
				Metrics: app.Metrics.Handler(),
				Logger:  app.Logger,
			})

			srv := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := context.WithCancel(ctx)
			defer stop()
			if interval > 0 {
				go rotateEvery(ctx, app, interval)
			}

			// Channel to listen for errors coming from the listener.
			serverErrors := make(chan error, 1)
			go func() {
				app.Logger.Info("starting forkline server", "addr", srv.Addr)
				serverErrors <- srv.ListenAndServe()
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(shutdown)

			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case sig := <-shutdown:
				app.Logger.Info("shutting down", "signal", sig.String())
				stop()

				// Give outstanding requests a deadline for completion.
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					app.Logger.Warn("graceful shutdown did not complete", "timeout", 5*time.Second, "err", err)
					if err := srv.Close(); err != nil {
						return fmt.Errorf("failed to close server: %w", err)
					}
				}
				app.Logger.Info("forkline server stopped")
				return nil
			}
		})
	},
}

// rotateEvery runs a rotation check per tick until ctx ends.
func rotateEvery(ctx context.Context, app *cli.App, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := app.Rotate(ctx)
			switch {
			case errors.Is(err, domain.ErrLeaseHeld):
				app.Logger.Debug("rotation skipped, lease held elsewhere")
			case err != nil:
				app.Logger.Error("scheduled rotation failed", "err", err)
			case result.Rotated:
				app.Logger.Info("scheduled rotation", "repo", result.Repo, "from", result.From, "to", result.To)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "address to listen on (default server.addr)")
	serveCmd.Flags().Duration("interval", 0, "run a rotation check at this interval (0 disables)")
}
