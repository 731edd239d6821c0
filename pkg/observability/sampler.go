package observability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/warden/internal/logging"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// MetricRecorder accepts metric samples. timeline.Store implements it.
type MetricRecorder interface {
	RecordMetric(ctx context.Context, name string, value float64, unit, source string, tags map[string]string) string
}

// DefaultSampleInterval is how often Run samples the host.
const DefaultSampleInterval = 15 * time.Second

// Sampler records host CPU and memory usage as cpu_usage and memory_usage percentages.
type Sampler struct {
	rec      MetricRecorder
	interval time.Duration
	cpu      func(context.Context) (float64, error)
	memory   func(context.Context) (float64, error)
	logger   *slog.Logger
}

// SamplerOption configures the Sampler.
type SamplerOption func(*Sampler)

// WithInterval overrides DefaultSampleInterval.
func WithInterval(d time.Duration) SamplerOption {
	return func(s *Sampler) { s.interval = d }
}

// WithProbes replaces the host probes.
func WithProbes(cpu, memory func(context.Context) (float64, error)) SamplerOption {
	return func(s *Sampler) {
		s.cpu = cpu
		s.memory = memory
	}
}

// WithSamplerLogger configures a logger for the Sampler.
func WithSamplerLogger(logger *slog.Logger) SamplerOption {
	return func(s *Sampler) { s.logger = logger }
}

// NewSampler creates a sampler backed by gopsutil.
func NewSampler(rec MetricRecorder, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		rec:      rec,
		interval: DefaultSampleInterval,
		cpu:      hostCPU,
		memory:   hostMemory,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func hostCPU(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, errors.New("no cpu samples")
	}
	return pct[0], nil
}

func hostMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// Sample takes one reading of each probe. Failed probes are skipped.
func (s *Sampler) Sample(ctx context.Context) error {
	var errs []error
	if v, err := s.cpu(ctx); err != nil {
		errs = append(errs, err)
	} else {
		s.rec.RecordMetric(ctx, "cpu_usage", v, "%", "sampler", nil)
	}
	if v, err := s.memory(ctx); err != nil {
		errs = append(errs, err)
	} else {
		s.rec.RecordMetric(ctx, "memory_usage", v, "%", "sampler", nil)
	}
	return errors.Join(errs...)
}

// Run samples every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.Sample(ctx); err != nil {
			s.logger.WarnContext(ctx, "Host sample failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
