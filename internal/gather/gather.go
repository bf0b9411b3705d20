// Package gather downloads historical bars into the local bar store.
package gather

import (
	"context"
	"fmt"
	"time"

	"fxrange/internal/domain"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass and returns when it is done or ctx is
	// cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Split cuts the range into consecutive windows no longer than step. The
// last window ends at r.End. An empty or inverted range yields nothing.
func (r DateRange) Split(step time.Duration) []DateRange {
	if !r.End.After(r.Start) {
		return nil
	}
	if step <= 0 {
		return []DateRange{r}
	}
	var out []DateRange
	for from := r.Start; from.Before(r.End); from = from.Add(step) {
		to := from.Add(step)
		if to.After(r.End) {
			to = r.End
		}
		out = append(out, DateRange{Start: from, End: to})
	}
	return out
}

// ParseRange builds a UTC range from YYYY-MM-DD dates. An empty end means
// now.
func ParseRange(start, end string, now time.Time) (DateRange, error) {
	if start == "" {
		return DateRange{}, fmt.Errorf("gather start date is required: %w", domain.ErrConfiguration)
	}
	from, err := time.ParseInLocation(time.DateOnly, start, time.UTC)
	if err != nil {
		return DateRange{}, fmt.Errorf("parsing start date: %w: %w", err, domain.ErrConfiguration)
	}
	to := now.UTC()
	if end != "" {
		if to, err = time.ParseInLocation(time.DateOnly, end, time.UTC); err != nil {
			return DateRange{}, fmt.Errorf("parsing end date: %w: %w", err, domain.ErrConfiguration)
		}
	}
	if !to.After(from) {
		return DateRange{}, fmt.Errorf("end %s is not after start %s: %w", to.Format(time.DateOnly), start, domain.ErrConfiguration)
	}
	return DateRange{Start: from, End: to}, nil
}
