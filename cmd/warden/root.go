package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/warden/internal/config"
	"github.com/aretw0/warden/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden governs risky operations as reversible, auditable spans",
	Long: `Warden runs each risky operation as a span: simulate it, evaluate policy and risk,
collect approvals, execute under a lock and roll back when needed. Every step lands
on an audited timeline.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default ./warden.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().String("policies", "", "Policy YAML file (overrides config)")
	rootCmd.PersistentFlags().String("policy-dir", "", "Policy directory of markdown/JSON documents (overrides config)")
	rootCmd.PersistentFlags().String("commands", "", "Allow-list of external commands exposed as proc.* operations (overrides config)")
}

// loadConfig reads the config file and environment, then applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("policies"); v != "" {
		cfg.Policy.File = v
	}
	if v, _ := cmd.Flags().GetString("policy-dir"); v != "" {
		cfg.Policy.Dir = v
	}
	if v, _ := cmd.Flags().GetString("commands"); v != "" {
		cfg.Commands.File = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := logging.ParseLevel(cfg.Log.Level)
	logger := logging.New(level)
	if cfg.Log.Format == "json" {
		logger = logging.NewJSON(os.Stderr, level)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
