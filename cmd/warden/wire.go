package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/warden"
	"github.com/aretw0/warden/internal/config"
	loamadapter "github.com/aretw0/warden/pkg/adapters/loam"
	"github.com/aretw0/warden/pkg/adapters/process"
	redisadapter "github.com/aretw0/warden/pkg/adapters/redis"
	"github.com/aretw0/warden/pkg/governance"
	"github.com/aretw0/warden/pkg/observability"
	"github.com/aretw0/warden/pkg/ports"
	"github.com/aretw0/warden/pkg/registry"
	"github.com/aretw0/warden/pkg/timeline/sink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
)

// stack is a wired Warden plus the process resources it holds.
type stack struct {
	warden   *warden.Warden
	registry *prometheus.Registry
	policies *loamadapter.Loader
	closers  []func(context.Context) error
}

// Close releases resources in reverse order of acquisition.
func (s *stack) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// policyLoader picks the configured policy source. Nil means the built-in set.
func policyLoader(cfg *config.Config) (ports.PolicyLoader, *loamadapter.Loader, error) {
	switch {
	case cfg.Policy.File != "":
		return governance.FileLoader{Path: cfg.Policy.File}, nil, nil
	case cfg.Policy.Dir != "":
		l, err := loamadapter.Open(cfg.Policy.Dir)
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	}
	return nil, nil, nil
}

// catalog registers the built-in operations plus the configured external commands.
func catalog(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.NewRegistry()
	registry.RegisterKV(reg, registry.NewKV())
	registry.RegisterWeb(reg, &http.Client{Timeout: 30 * time.Second})
	if cfg.Commands.File != "" {
		cmds, err := process.LoadCommands(cfg.Commands.File)
		if err != nil {
			return nil, err
		}
		process.NewRunner(process.WithBaseDir(cfg.Commands.BaseDir)).Register(reg, cmds)
	}
	return reg, nil
}

// build wires a Warden from cfg: policies, Redis locking and streaming,
// sink middleware, Prometheus metrics and OTLP tracing.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	st := &stack{registry: prometheus.NewRegistry()}
	st.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	reg, err := catalog(cfg)
	if err != nil {
		return nil, err
	}
	opts := []warden.Option{
		warden.WithLogger(logger),
		warden.WithRegistry(reg),
		warden.WithMetrics(observability.NewMetrics(st.registry)),
	}

	loader, dirLoader, err := policyLoader(cfg)
	if err != nil {
		return nil, err
	}
	if loader != nil {
		opts = append(opts, warden.WithPolicyLoader(loader))
		st.policies = dirLoader
	}

	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		st.closers = append(st.closers, func(context.Context) error { return client.Close() })

		var stream sink.Sink = redisadapter.NewStreamSink(client, cfg.Redis.Stream, redisadapter.WithMaxLen(cfg.Redis.StreamMaxLen))
		var mws []sink.Middleware
		if cfg.Sinks.Redact {
			mws = append(mws, sink.NewRedactionMiddleware(governance.NewDetector(), cfg.Sinks.RedactKeys))
		}
		key, err := cfg.Sinks.Key()
		if err != nil {
			return nil, err
		}
		if key != nil {
			mws = append(mws, sink.NewEncryptionMiddleware(sink.EncryptionConfig{ActiveKey: key}))
		}
		opts = append(opts,
			warden.WithLocker(redisadapter.NewLocker(client, cfg.Redis.LockPrefix), cfg.Redis.LockTTL),
			warden.WithSinks(sink.Chain(stream, mws...)),
		)
		logger.Info("Redis enabled", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)
	}

	if cfg.Tracing.Endpoint != "" {
		tp, err := observability.NewTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, tp.Shutdown)
		opts = append(opts, warden.WithTracer(tp.Tracer("warden")))
		logger.Info("Tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	w, err := warden.New(opts...)
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}
	st.warden = w
	return st, nil
}

// watchPolicies reloads policies whenever a document in the policy directory changes.
func watchPolicies(ctx context.Context, st *stack, logger *slog.Logger) error {
	changes, err := st.policies.Watch(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-changes:
			if !ok {
				return nil
			}
			if err := st.warden.Governor().LoadPolicies(ctx, st.policies); err != nil {
				logger.Error("Policy reload rejected", "document", id, "err", err)
				continue
			}
			logger.Info("Policies reloaded", "document", id, "count", len(st.warden.Governor().Policies()))
		}
	}
}
