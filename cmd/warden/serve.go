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

	"github.com/aretw0/warden/internal/presentation/tui"
	httpadapter "github.com/aretw0/warden/pkg/adapters/http"
	"github.com/aretw0/warden/pkg/observability"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts Warden as an HTTP service exposing spans, approvals, contracts and the
timeline as a JSON API, plus /health, /metrics and /openapi.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.Close(shutdownCtx); err != nil {
				logger.Error("Shutdown incomplete", "err", err)
			}
		}()

		handler, err := httpadapter.NewHandler(st.warden,
			httpadapter.WithGatherer(st.registry),
			httpadapter.WithRateLimit(cfg.Server.RateLimit, cfg.Server.Burst),
			httpadapter.WithLogger(logger.With("component", "http")),
		)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet && tui.IsTerminal(os.Stdout) {
			tui.PrintBanner(os.Stdout)
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("Starting Warden server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("Start shutdown")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				_ = srv.Close()
				return fmt.Errorf("graceful shutdown did not complete: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			return st.warden.Maintain(ctx, cfg.Maintenance.SweepInterval)
		})
		if cfg.Sampler.Enabled {
			sampler := observability.NewSampler(st.warden.Timeline(),
				observability.WithInterval(cfg.Sampler.Interval),
				observability.WithSamplerLogger(logger.With("component", "sampler")),
			)
			g.Go(func() error {
				if err := sampler.Run(ctx); !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}
		if st.policies != nil && cfg.Policy.Watch {
			g.Go(func() error { return watchPolicies(ctx, st, logger) })
		}

		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("Warden server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides config)")
	serveCmd.Flags().BoolP("quiet", "q", false, "Skip the banner")
}
