package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/forkline/internal/cli"
	"github.com/aretw0/forkline/internal/config"
	"github.com/aretw0/forkline/internal/logging"
	"github.com/aretw0/forkline/internal/presentation/tui"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "forkline",
	Short: "Forkline rotates automated work across a chain of forks",
	Long: `Forkline keeps one fork per worker identity and moves automated work to
the next identity when the current one runs out of metered quota.

Typical cycle:
  forkline fork source owner/repo   register the root repository
  forkline fork create              fork the newest chain repo as the current identity
  forkline rotate                   check quota and advance the identity ring
  forkline cleanup                  delete forks whose identity is exhausted`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("dir", ".forkline", "configuration directory")
	rootCmd.PersistentFlags().String("config", "", "configuration file (default <dir>/forkline.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().String("lease-redis", "", "redis address for the cross-process rotation lease")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})
}

func initConfig() {
	viper.SetEnvPrefix("FORKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the configuration file and overlays flags and FORKLINE_* variables.
func loadConfig() (config.Config, error) {
	dir := viper.GetString("dir")
	path := viper.GetString("config")
	if path == "" {
		path = filepath.Join(dir, config.DefaultFile)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if viper.IsSet("dir") || cfg.Paths.Dir == "" {
		cfg.Paths.Dir = dir
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v := viper.GetString("lease-redis"); v != "" {
		cfg.Lease.RedisAddr = v
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(level, cfg.Log.Format), nil
}

func newPrinter() *tui.Printer {
	return tui.NewPrinter(os.Stdout, viper.GetBool("json"))
}

// withApp builds the App for one command and closes it afterwards.
func withApp(ctx context.Context, fn func(context.Context, *cli.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	app, err := cli.NewApp(cli.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("failed to close backends", "err", err)
		}
	}()
	return fn(ctx, app)
}
