package domain

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w", ...) and
// test them with errors.Is. All of them are scoped to a single series.
var (
	// ErrConfiguration reports an invalid window or unsupported timeframe.
	ErrConfiguration = errors.New("configuration error")

	// ErrData reports insufficient bars or missing/non-numeric prices.
	ErrData = errors.New("data error")

	// ErrNumericDegeneracy reports a ratio that is undefined, such as a
	// Sharpe ratio over zero-variance returns.
	ErrNumericDegeneracy = errors.New("numeric degeneracy")
)
