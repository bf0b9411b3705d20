package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fxrange/internal/domain"
	"fxrange/internal/metrics"
	"fxrange/internal/perf"
	"fxrange/internal/timeframe"
)

// MetricsCache stores evaluated metrics keyed by strategy, window and the
// series content.
type MetricsCache interface {
	Get(ctx context.Context, strategy string, window int, series domain.Series) (*perf.Metrics, bool, error)
	Put(ctx context.Context, strategy string, window int, series domain.Series, m *perf.Metrics) error
}

// AnnotationSink receives every annotated series produced during a run.
type AnnotationSink interface {
	WriteAnnotated(ctx context.Context, a *domain.AnnotatedSeries) error
}

// Backtester replays price series through a strategy and computes
// performance metrics.
type Backtester struct {
	registry *Registry
	workers  int
	cache    MetricsCache
	sink     AnnotationSink
	log      *slog.Logger
}

// NewBacktester creates a Backtester that looks up strategies in the provided
// registry and evaluates up to workers series concurrently.
func NewBacktester(registry *Registry, workers int, log *slog.Logger) *Backtester {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Backtester{
		registry: registry,
		workers:  workers,
		log:      log.With("component", "backtester"),
	}
}

// SetCache enables the metrics cache.
func (bt *Backtester) SetCache(c MetricsCache) { bt.cache = c }

// SetAnnotationSink enables export of annotated series.
func (bt *Backtester) SetAnnotationSink(s AnnotationSink) { bt.sink = s }

// RunSeries evaluates a single series with the named strategy.
func (bt *Backtester) RunSeries(ctx context.Context, name string, series domain.Series) (*perf.Metrics, error) {
	s, ok := bt.registry.Get(name)
	if !ok {
		return nil, errUnknownStrategy(name)
	}

	ppy, err := timeframe.PeriodsPerYear(series.Timeframe)
	if err != nil {
		metrics.ObserveEvaluation(series.Timeframe, metrics.StatusConfig, 0, 0)
		return nil, fmt.Errorf("%s: %w", series.Key(), err)
	}

	// Cache hits skip Generate; only used when nothing is exported.
	if bt.cache != nil && bt.sink == nil {
		m, hit, err := bt.cache.Get(ctx, name, s.Window(), series)
		if err != nil {
			bt.log.Warn("metrics cache read failed", "series", series.Key(), "err", err)
		} else if hit {
			metrics.ObserveEvaluation(series.Timeframe, metrics.StatusCached, 0, 0)
			return m, nil
		}
	}

	start := time.Now()
	a, err := s.Generate(series)
	if err != nil {
		metrics.ObserveEvaluation(series.Timeframe, statusFor(err), 0, 0)
		return nil, err
	}

	m, err := perf.Evaluate(a, ppy)
	if err != nil {
		metrics.ObserveEvaluation(series.Timeframe, statusFor(err), 0, 0)
		return nil, fmt.Errorf("%s: %w", series.Key(), err)
	}
	metrics.ObserveEvaluation(series.Timeframe, metrics.StatusOK, time.Since(start), m.TradeCount)

	if bt.sink != nil {
		if err := bt.sink.WriteAnnotated(ctx, a); err != nil {
			bt.log.Error("writing annotated series failed", "series", series.Key(), "err", err)
		}
	}

	if bt.cache != nil {
		if err := bt.cache.Put(ctx, name, s.Window(), series, m); err != nil {
			bt.log.Warn("metrics cache write failed", "series", series.Key(), "err", err)
		}
	}

	return m, nil
}

func errUnknownStrategy(name string) error {
	return fmt.Errorf("unknown strategy %q: %w", name, domain.ErrConfiguration)
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return metrics.StatusConfig
	case errors.Is(err, domain.ErrData):
		return metrics.StatusData
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.StatusCanceled
	default:
		return metrics.StatusFailed
	}
}
