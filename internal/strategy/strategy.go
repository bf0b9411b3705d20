// Package strategy defines the Strategy interface for signal generators,
// a Registry for looking them up by name, and the Backtester that turns
// annotated series into performance metrics.
package strategy

import (
	"sort"

	"fxrange/internal/domain"
)

// Strategy is the interface that all signal generators must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Window returns the look-back length the strategy needs before it can
	// emit signals.
	Window() int

	// Generate scans the series once and returns it annotated with
	// positions, signals and returns. Implementations must not mutate the
	// input series.
	Generate(series domain.Series) (*domain.AnnotatedSeries, error)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AnnotateReturns fills PeriodReturns, StrategyReturns and HasReturn from the
// series closes and the already-populated Positions. The position held after
// bar i-1 earns the return realised over bar i.
func AnnotateReturns(a *domain.AnnotatedSeries) {
	n := a.Len()
	a.PeriodReturns = make([]float64, n)
	a.StrategyReturns = make([]float64, n)
	a.HasReturn = make([]bool, n)

	bars := a.Series.Bars
	for i := 1; i < n; i++ {
		pr := bars[i].Close/bars[i-1].Close - 1
		a.PeriodReturns[i] = pr
		a.StrategyReturns[i] = float64(a.Positions[i-1]) * pr
		a.HasReturn[i] = true
	}
}
