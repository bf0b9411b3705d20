// Package domain defines the core types shared across the fxrange packages:
// price bars, series, positions, signals and the annotated series produced by
// a strategy.
package domain

import (
	"strings"
	"time"
)

// Bar is a single sampled OHLC record. Only Close is consumed by the signal
// engine; the remaining fields are carried through from the source file.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	TickVolume int64
	Volume     int64
	Spread     int64
}

// Series is an ordered, chronological sequence of bars for one instrument
// sampled at one timeframe.
type Series struct {
	Instrument string
	Timeframe  string
	Bars       []Bar
}

// Key returns the series identifier, e.g. "EURUSD_H1".
func (s Series) Key() string {
	return SeriesKey(s.Instrument, s.Timeframe)
}

// Closes extracts the closing prices in order.
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		closes[i] = b.Close
	}
	return closes
}

// SeriesKey builds the identifier used to key results.
func SeriesKey(instrument, timeframe string) string {
	return strings.ToUpper(instrument) + "_" + strings.ToUpper(timeframe)
}

// Position is the exposure held after a bar has been processed.
type Position int8

const (
	PositionFlat  Position = 0
	PositionLong  Position = 1
	PositionShort Position = -1
)

// String returns "flat", "long" or "short".
func (p Position) String() string {
	switch p {
	case PositionLong:
		return "long"
	case PositionShort:
		return "short"
	default:
		return "flat"
	}
}

// Signal is the action emitted on a bar.
type Signal int8

const (
	SignalNone  Signal = 0
	SignalLong  Signal = 1  // enter or flip long
	SignalShort Signal = -1 // enter or flip short
)

// AnnotatedSeries is a Series augmented with the per-bar output of a
// strategy. All slices have len(Series.Bars) entries.
type AnnotatedSeries struct {
	Series   Series
	Strategy string
	Window   int

	Positions []Position
	Signals   []Signal

	// Upper and Lower are the channel bounds each bar is tested against;
	// NaN during warm-up.
	Upper []float64
	Lower []float64

	// PeriodReturns[i] = close[i]/close[i-1] - 1.
	PeriodReturns []float64
	// StrategyReturns[i] = Positions[i-1] * PeriodReturns[i].
	StrategyReturns []float64
	// HasReturn[i] is false where no return exists (bar 0).
	HasReturn []bool
}

// Len returns the number of bars in the annotated series.
func (a *AnnotatedSeries) Len() int {
	return len(a.Series.Bars)
}
