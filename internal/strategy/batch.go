package strategy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fxrange/internal/domain"
	"fxrange/internal/perf"
)

// SeriesSource lazily loads one price series. Key identifies the source in
// results even when loading fails.
type SeriesSource interface {
	Key() string
	Load(ctx context.Context) (domain.Series, error)
}

// Result is the outcome of evaluating one series. Exactly one of Metrics and
// Err is set.
type Result struct {
	Key     string
	Metrics *perf.Metrics
	Err     error
}

// ResultSet collects per-series results from concurrent workers.
type ResultSet struct {
	mu      sync.RWMutex
	results map[string]Result
}

// NewResultSet creates an empty ResultSet.
func NewResultSet() *ResultSet {
	return &ResultSet{results: make(map[string]Result)}
}

// Put stores r under r.Key, replacing any earlier result for the same key.
func (rs *ResultSet) Put(r Result) {
	rs.mu.Lock()
	rs.results[r.Key] = r
	rs.mu.Unlock()
}

// Get returns the result stored for key.
func (rs *ResultSet) Get(key string) (Result, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.results[key]
	return r, ok
}

// Len returns the number of stored results.
func (rs *ResultSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.results)
}

// Keys returns all series keys in sorted order.
func (rs *ResultSet) Keys() []string {
	rs.mu.RLock()
	keys := make([]string, 0, len(rs.results))
	for k := range rs.results {
		keys = append(keys, k)
	}
	rs.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// All returns every result ordered by key.
func (rs *ResultSet) All() []Result {
	keys := rs.Keys()
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]Result, 0, len(keys))
	for _, k := range keys {
		out = append(out, rs.results[k])
	}
	return out
}

// Successes returns the results that produced metrics, ordered by key.
func (rs *ResultSet) Successes() []Result {
	var out []Result
	for _, r := range rs.All() {
		if r.Err == nil {
			out = append(out, r)
		}
	}
	return out
}

// Failures returns the results that failed, ordered by key.
func (rs *ResultSet) Failures() []Result {
	var out []Result
	for _, r := range rs.All() {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Run describes one batch invocation.
type Run struct {
	ID         string
	Strategy   string
	Window     int
	StartedAt  time.Time
	FinishedAt time.Time
	Results    *ResultSet
}

// RunBatch evaluates every source with the named strategy, at most
// bt.workers at a time. A failing series is recorded in the result set and
// never aborts the others. The returned error is non-nil only when the
// strategy is unknown or ctx is cancelled.
func (bt *Backtester) RunBatch(ctx context.Context, name string, sources []SeriesSource) (*Run, error) {
	s, ok := bt.registry.Get(name)
	if !ok {
		return nil, errUnknownStrategy(name)
	}

	run := &Run{
		ID:        uuid.NewString(),
		Strategy:  name,
		Window:    s.Window(),
		StartedAt: time.Now().UTC(),
		Results:   NewResultSet(),
	}
	bt.log.Info("batch started", "run", run.ID, "strategy", name, "window", run.Window,
		"series", len(sources), "workers", bt.workers)

	sem := make(chan struct{}, bt.workers)
	g, gctx := errgroup.WithContext(ctx)

	for _, src := range sources {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				run.Results.Put(Result{Key: src.Key(), Err: gctx.Err()})
				return nil
			}

			series, err := src.Load(gctx)
			if err != nil {
				bt.log.Warn("loading series failed", "series", src.Key(), "err", err)
				run.Results.Put(Result{Key: src.Key(), Err: err})
				return nil
			}

			m, err := bt.RunSeries(gctx, name, series)
			if err != nil {
				bt.log.Warn("evaluating series failed", "series", src.Key(), "err", err)
				run.Results.Put(Result{Key: src.Key(), Err: err})
				return nil
			}
			run.Results.Put(Result{Key: src.Key(), Metrics: m})
			return nil
		})
	}

	_ = g.Wait()
	run.FinishedAt = time.Now().UTC()

	bt.log.Info("batch finished", "run", run.ID,
		"ok", len(run.Results.Successes()), "failed", len(run.Results.Failures()),
		"elapsed", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

	return run, ctx.Err()
}
