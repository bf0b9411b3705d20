// Package store loads price series from CSV and Parquet files, exports
// annotated series, and persists backtest runs to SQL.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"fxrange/internal/domain"
	"fxrange/internal/strategy"
)

// SeriesRef points at one stored series. Err is set when the series was
// discovered but its name could not be parsed; loading it returns Err.
type SeriesRef struct {
	Instrument string
	Timeframe  string
	Path       string
	Err        error
}

// Key returns the series identifier.
func (r SeriesRef) Key() string {
	if r.Err != nil {
		return strings.ToUpper(strings.TrimSuffix(filepath.Base(r.Path), filepath.Ext(r.Path)))
	}
	return domain.SeriesKey(r.Instrument, r.Timeframe)
}

// BarStore persists and retrieves bar series keyed by instrument and
// timeframe.
type BarStore interface {
	// WriteBars persists bars for one series, merging with what is stored.
	WriteBars(ctx context.Context, instrument, timeframe string, bars []domain.Bar) error

	// ReadSeries returns the full series in chronological order.
	ReadSeries(ctx context.Context, instrument, timeframe string) (domain.Series, error)

	// ListSeries returns every series available, sorted by key.
	ListSeries(ctx context.Context) ([]SeriesRef, error)
}

// ResultStore persists backtest runs and their per-series results.
type ResultStore interface {
	SaveRun(ctx context.Context, run *strategy.Run) error
	LatestRun(ctx context.Context) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	ListResults(ctx context.Context, runID string) ([]ResultRecord, error)
}

type source struct {
	ref   SeriesRef
	store BarStore
}

func (s source) Key() string { return s.ref.Key() }

func (s source) Load(ctx context.Context) (domain.Series, error) {
	if s.ref.Err != nil {
		return domain.Series{}, s.ref.Err
	}
	if err := ctx.Err(); err != nil {
		return domain.Series{}, err
	}
	return s.store.ReadSeries(ctx, s.ref.Instrument, s.ref.Timeframe)
}

// Sources lists the series in bs as lazily loaded batch sources. When only
// is non-empty, it restricts the result to those series keys; a key that is
// not found yields a source that fails with domain.ErrData.
func Sources(ctx context.Context, bs BarStore, only []string) ([]strategy.SeriesSource, error) {
	refs, err := bs.ListSeries(ctx)
	if err != nil {
		return nil, err
	}

	if len(only) == 0 {
		out := make([]strategy.SeriesSource, 0, len(refs))
		for _, ref := range refs {
			out = append(out, source{ref: ref, store: bs})
		}
		return out, nil
	}

	byKey := make(map[string]SeriesRef, len(refs))
	for _, ref := range refs {
		byKey[ref.Key()] = ref
	}
	out := make([]strategy.SeriesSource, 0, len(only))
	for _, key := range only {
		key = strings.ToUpper(strings.TrimSpace(key))
		ref, ok := byKey[key]
		if !ok {
			ref = SeriesRef{Path: key, Err: fmt.Errorf("series %s not found: %w", key, domain.ErrData)}
		}
		out = append(out, source{ref: ref, store: bs})
	}
	return out, nil
}
