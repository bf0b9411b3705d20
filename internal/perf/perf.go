// Package perf turns an annotated series into performance metrics: compounded
// and annualised return, Sharpe ratio, maximum drawdown and trade count.
package perf

import (
	"errors"
	"fmt"
	"math"

	"fxrange/internal/domain"
)

// Sharpe is an annualised Sharpe ratio that may be undefined. When Defined is
// false, Value is NaN and Reason explains why.
type Sharpe struct {
	Value   float64
	Defined bool
	Reason  string
}

// Metrics is the performance record for one series.
type Metrics struct {
	Series           string
	Timeframe        string
	Bars             int
	TradeCount       int
	TotalReturn      float64
	AnnualizedReturn float64
	Sharpe           Sharpe
	MaxDrawdown      float64
}

// Evaluate computes Metrics for an annotated series sampled periodsPerYear
// times per year.
func Evaluate(a *domain.AnnotatedSeries, periodsPerYear float64) (*Metrics, error) {
	if a == nil || a.Len() < 2 {
		n := 0
		if a != nil {
			n = a.Len()
		}
		return nil, fmt.Errorf("need at least 2 bars to compute returns, got %d: %w", n, domain.ErrData)
	}
	if periodsPerYear <= 0 || math.IsNaN(periodsPerYear) || math.IsInf(periodsPerYear, 0) {
		return nil, fmt.Errorf("periods per year %v must be positive: %w", periodsPerYear, domain.ErrConfiguration)
	}
	if len(a.StrategyReturns) != a.Len() || len(a.HasReturn) != a.Len() || len(a.Signals) != a.Len() {
		return nil, fmt.Errorf("%s: annotation length mismatch: %w", a.Series.Key(), domain.ErrData)
	}

	cum := CumulativeReturns(a.StrategyReturns, a.HasReturn)
	total := cum[len(cum)-1] - 1

	m := &Metrics{
		Series:           a.Series.Key(),
		Timeframe:        a.Series.Timeframe,
		Bars:             a.Len(),
		TradeCount:       TradeCount(a.Signals),
		TotalReturn:      total,
		AnnualizedReturn: AnnualizedReturn(total, a.Len(), periodsPerYear),
		MaxDrawdown:      MaxDrawdown(cum),
	}

	sr, err := SharpeRatio(presentReturns(a.StrategyReturns, a.HasReturn), periodsPerYear)
	switch {
	case err == nil:
		m.Sharpe = Sharpe{Value: sr, Defined: true}
	case errors.Is(err, domain.ErrNumericDegeneracy):
		m.Sharpe = Sharpe{Value: math.NaN(), Reason: err.Error()}
	default:
		return nil, err
	}

	return m, nil
}

// CumulativeReturns compounds the present returns into an equity curve
// seeded at 1.0. Bars without a return carry the previous value forward.
func CumulativeReturns(returns []float64, present []bool) []float64 {
	cum := make([]float64, len(returns))
	equity := 1.0
	for i, r := range returns {
		if present[i] {
			equity *= 1 + r
		}
		cum[i] = equity
	}
	return cum
}

// AnnualizedReturn scales a total return over n sampled periods to a
// compounded yearly rate: (1+total)^(periodsPerYear/n) - 1. A total loss of
// 100% or more annualises to -1.
func AnnualizedReturn(total float64, n int, periodsPerYear float64) float64 {
	if n <= 0 {
		return 0
	}
	growth := 1 + total
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, periodsPerYear/float64(n)) - 1
}

// SharpeRatio returns mean*ppy / (std*sqrt(ppy)) with std the sample
// standard deviation (n-1 denominator). Fewer than two returns or zero
// variance wraps domain.ErrNumericDegeneracy.
func SharpeRatio(returns []float64, periodsPerYear float64) (float64, error) {
	if len(returns) < 2 {
		return math.NaN(), fmt.Errorf("sharpe ratio needs at least 2 returns, got %d: %w",
			len(returns), domain.ErrNumericDegeneracy)
	}
	mean, std := meanStd(returns)
	if std == 0 || math.IsNaN(std) {
		return math.NaN(), fmt.Errorf("sharpe ratio undefined for zero-variance returns: %w", domain.ErrNumericDegeneracy)
	}
	return mean * periodsPerYear / (std * math.Sqrt(periodsPerYear)), nil
}

// MaxDrawdown returns the largest running-peak minus current value over the
// equity curve. It is a raw difference of curve values, not a percentage of
// the peak.
func MaxDrawdown(cum []float64) float64 {
	maxDD := 0.0
	peak := math.Inf(-1)
	for _, v := range cum {
		if v > peak {
			peak = v
		}
		if dd := peak - v; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// TradeCount counts bars with a non-zero signal.
func TradeCount(signals []domain.Signal) int {
	n := 0
	for _, s := range signals {
		if s != domain.SignalNone {
			n++
		}
	}
	return n
}

func presentReturns(returns []float64, present []bool) []float64 {
	out := make([]float64, 0, len(returns))
	for i, r := range returns {
		if present[i] {
			out = append(out, r)
		}
	}
	return out
}

// meanStd returns the mean and sample standard deviation (two-pass).
func meanStd(xs []float64) (mean, std float64) {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	std = math.Sqrt(ss / float64(len(xs)-1))
	return mean, std
}
