// Package main is the entry point for the smart-logs CLI.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/smedrec/smart-logs/internal/config"
	"github.com/smedrec/smart-logs/internal/core"

	// Modules register themselves at init time.
	_ "github.com/smedrec/smart-logs/internal/archive"
	_ "github.com/smedrec/smart-logs/internal/cron"
	_ "github.com/smedrec/smart-logs/internal/dlq"
	_ "github.com/smedrec/smart-logs/internal/gateway"
	_ "github.com/smedrec/smart-logs/internal/health"
	_ "github.com/smedrec/smart-logs/internal/metrics"
	_ "github.com/smedrec/smart-logs/internal/monitor"
	_ "github.com/smedrec/smart-logs/internal/queue"
	_ "github.com/smedrec/smart-logs/internal/telemetry"
	_ "github.com/smedrec/smart-logs/modules/queue/redis"
	_ "github.com/smedrec/smart-logs/modules/storage/postgres"
	_ "github.com/smedrec/smart-logs/modules/storage/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errMissingDatabaseURL distinguishes misconfiguration (exit 2) from
// operational failure (exit 1).
var errMissingDatabaseURL = errors.New("no database URL configured (set POSTGRES_URL or DATABASE_URL)")

func main() {
	if err := rootCmd().Execute(); err != nil {
		if errors.Is(err, errMissingDatabaseURL) {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "smart-logs",
		Short:         "Audit event delivery, quarantine, and retention lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		versionCmd(), startCmd(), configCmd(),
		archiveCmd(), retrieveCmd(), deleteCmd(),
		statsCmd(), validateCmd(), cleanupCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("smart-logs %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Println("\nNo compiled modules.")
				return
			}
			fmt.Println("\nCompiled modules:")
			for _, mod := range mods {
				fmt.Printf("  %s\n", mod.ID)
			}
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the service with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				resolved, err := resolveConfigPath()
				if err != nil {
					return err
				}
				cfgPath = resolved
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}))

			appCtx := core.NewAppContext(logger, defaultDataDir())
			appCtx = appCtx.WithModuleConfigs(cfg.Modules)

			app := core.NewApp(appCtx)
			ids := config.Resolve(cfg)
			if err := app.LoadModules(ids); err != nil {
				return err
			}

			return app.Run()
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			ids := config.Resolve(cfg)
			fmt.Printf("Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Printf("  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

// resolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/smart-logs/smart-logs.yaml → ./smart-logs.yaml
func resolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "smart-logs", "smart-logs.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "smart-logs", "smart-logs.yaml"))
	}

	candidates = append(candidates, "smart-logs.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

func defaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "smart-logs")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "smart-logs")
}
