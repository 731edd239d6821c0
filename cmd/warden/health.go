package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/warden/internal/presentation/tui"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/observability"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report system health",
	Long: `Without --url, samples this host once and runs the health battery locally.
With --url, asks a running server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		out := cmd.OutOrStdout()
		if url != "" {
			h, err := fetchHealth(cmd, strings.TrimRight(url, "/")+"/health")
			if err != nil {
				return err
			}
			return tui.HealthTable(out, h)
		}

		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close(ctx) }()

		if err := observability.NewSampler(st.warden.Timeline()).Sample(ctx); err != nil {
			logger.Warn("Host sample incomplete", "err", err)
		}
		if err := tui.HealthTable(out, st.warden.Health(ctx)); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nOperations: %s\n", strings.Join(st.warden.Operations(), ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().String("url", "", "Base URL of a running warden server")
}

func fetchHealth(cmd *cobra.Command, url string) (domain.SystemHealth, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return domain.SystemHealth{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return domain.SystemHealth{}, fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	// 503 still carries a report.
	var h domain.SystemHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return domain.SystemHealth{}, fmt.Errorf("decode health (status %d): %w", resp.StatusCode, err)
	}
	return h, nil
}
