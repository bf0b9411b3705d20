// Package builtins provides built-in strategy implementations that ship with
// fxrange.
package builtins

import (
	"fmt"
	"math"

	"fxrange/internal/domain"
	"fxrange/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*ChannelReversion)(nil)

// DefaultWindow is the channel look-back used when none is configured.
const DefaultWindow = 50

// ChannelReversion fades breakouts of a rolling close-price channel. A close
// above the channel high goes (or flips) short; a close below the channel low
// goes (or flips) long. Once positioned it only reacts to a breakout of the
// opposite boundary, so positions alternate strictly long/short and never
// return to flat.
type ChannelReversion struct {
	window int
}

// NewChannelReversion creates the strategy with the given channel window.
func NewChannelReversion(window int) *ChannelReversion {
	return &ChannelReversion{window: window}
}

// Name returns "channel-reversion".
func (s *ChannelReversion) Name() string {
	return "channel-reversion"
}

// Window returns the channel look-back length.
func (s *ChannelReversion) Window() int {
	return s.window
}

// Transition applies one bar to the position state machine. upper and lower
// are the channel bounds built from the bars preceding the current close.
func Transition(state domain.Position, close, upper, lower float64) (domain.Position, domain.Signal) {
	switch state {
	case domain.PositionFlat:
		if close > upper {
			return domain.PositionShort, domain.SignalShort
		}
		if close < lower {
			return domain.PositionLong, domain.SignalLong
		}
	case domain.PositionLong:
		if close > upper {
			return domain.PositionShort, domain.SignalShort
		}
	case domain.PositionShort:
		if close < lower {
			return domain.PositionLong, domain.SignalLong
		}
	}
	return state, domain.SignalNone
}

// Generate runs the breakout scan over the series. Bars with index below
// window+1 stay flat with no signal.
func (s *ChannelReversion) Generate(series domain.Series) (*domain.AnnotatedSeries, error) {
	if s.window <= 0 {
		return nil, fmt.Errorf("window %d must be positive: %w", s.window, domain.ErrConfiguration)
	}
	n := len(series.Bars)
	if n < s.window+1 {
		return nil, fmt.Errorf("%s: %d bars, need at least %d for window %d: %w",
			series.Key(), n, s.window+1, s.window, domain.ErrData)
	}

	closes := series.Closes()
	for i, c := range closes {
		if math.IsNaN(c) || math.IsInf(c, 0) || c <= 0 {
			return nil, fmt.Errorf("%s: bar %d has invalid close %v: %w", series.Key(), i, c, domain.ErrData)
		}
	}

	ch, err := ComputeChannel(closes, s.window)
	if err != nil {
		return nil, err
	}

	a := &domain.AnnotatedSeries{
		Series:    series,
		Strategy:  s.Name(),
		Window:    s.window,
		Positions: make([]domain.Position, n),
		Signals:   make([]domain.Signal, n),
		Upper:     ch.Upper,
		Lower:     ch.Lower,
	}

	pos := domain.PositionFlat
	for i := s.window + 1; i < n; i++ {
		var sig domain.Signal
		pos, sig = Transition(pos, closes[i], ch.Upper[i], ch.Lower[i])
		a.Positions[i] = pos
		a.Signals[i] = sig
	}

	strategy.AnnotateReturns(a)
	return a, nil
}
