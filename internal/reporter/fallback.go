package reporter

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/metrics"
)

// Fallback hands a vector to a secondary reporter when the primary rejects
// it, e.g. a local CSV file behind a Kafka cluster.
//
//	engine → Fallback.Report → primary.Report
//	                         └→ secondary.Report (on primary failure)
type Fallback struct {
	primary   Reporter
	secondary Reporter

	fallbackCount atomic.Uint64
}

// WithFallback wraps two reporters that have already been through Init.
func WithFallback(primary, secondary Reporter) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

// Name returns the primary's name, so metrics stay keyed by it.
func (f *Fallback) Name() string {
	return f.primary.Name()
}

// Init is a no-op: both reporters are initialized by New.
func (f *Fallback) Init(map[string]any) error {
	return nil
}

// SetFeatureNames forwards names to whichever side wants them.
func (f *Fallback) SetFeatureNames(names []string) {
	for _, r := range []Reporter{f.primary, f.secondary} {
		if fa, ok := r.(FeatureNamesAware); ok {
			fa.SetFeatureNames(names)
		}
	}
}

// Start starts the secondary first so it is ready before anything fails.
func (f *Fallback) Start(ctx context.Context) error {
	if err := f.secondary.Start(ctx); err != nil {
		return err
	}
	if err := f.primary.Start(ctx); err != nil {
		_ = f.secondary.Stop(ctx)
		return err
	}
	return nil
}

// Stop stops both reporters.
func (f *Fallback) Stop(ctx context.Context) error {
	err := errors.Join(f.primary.Stop(ctx), f.secondary.Stop(ctx))
	if n := f.fallbackCount.Load(); n > 0 {
		slog.Info("fallback reporter used",
			"primary", f.primary.Name(),
			"secondary", f.secondary.Name(),
			"total_fallbacks", n)
	}
	return err
}

// Report tries the primary, then the secondary. It fails only when both do.
func (f *Fallback) Report(ctx context.Context, vec *core.FeatureVector) error {
	err := f.primary.Report(ctx, vec)
	if err == nil {
		return nil
	}
	metrics.ReporterErrorsTotal.WithLabelValues(f.primary.Name(), "fallback").Inc()
	if ferr := f.secondary.Report(ctx, vec); ferr != nil {
		return errors.Join(err, ferr)
	}
	f.fallbackCount.Add(1)
	metrics.VectorsReportedTotal.WithLabelValues(f.secondary.Name()).Inc()
	return nil
}

// Flush flushes both reporters.
func (f *Fallback) Flush(ctx context.Context) error {
	return errors.Join(f.primary.Flush(ctx), f.secondary.Flush(ctx))
}
