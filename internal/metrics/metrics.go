// Package metrics exposes Prometheus collectors for backtest evaluations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status labels for SeriesEvaluated.
const (
	StatusOK       = "ok"
	StatusCached   = "cached"
	StatusConfig   = "config_error"
	StatusData     = "data_error"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

var (
	SeriesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxrange_series_evaluated_total",
			Help: "Series evaluations by timeframe and outcome",
		},
		[]string{"timeframe", "status"},
	)

	EvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fxrange_evaluation_duration_seconds",
			Help:    "Signal generation plus evaluation time per series",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		},
		[]string{"timeframe"},
	)

	Trades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxrange_trades_total",
			Help: "Signals emitted across evaluated series",
		},
		[]string{"timeframe"},
	)
)

// ObserveEvaluation records the outcome of one series evaluation.
func ObserveEvaluation(timeframe, status string, elapsed time.Duration, trades int) {
	SeriesEvaluated.WithLabelValues(timeframe, status).Inc()
	if status == StatusOK {
		EvaluationDuration.WithLabelValues(timeframe).Observe(elapsed.Seconds())
		Trades.WithLabelValues(timeframe).Add(float64(trades))
	}
}

// Handler returns the /metrics handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
