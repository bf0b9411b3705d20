package builtins

import (
	"fmt"
	"math"

	"fxrange/internal/domain"
)

// Channel holds the trailing high/low of the closes that precede each bar.
// For i >= window, Upper[i] = max(close[i-window..i-1]) and
// Lower[i] = min(close[i-window..i-1]); earlier bars are NaN with Valid false.
type Channel struct {
	Upper []float64
	Lower []float64
	Valid []bool
}

// ComputeChannel builds the channel in one pass using monotonic deques of
// indices, so each close is pushed and popped at most once.
func ComputeChannel(closes []float64, window int) (Channel, error) {
	if window <= 0 {
		return Channel{}, fmt.Errorf("channel window %d must be positive: %w", window, domain.ErrConfiguration)
	}

	n := len(closes)
	ch := Channel{
		Upper: make([]float64, n),
		Lower: make([]float64, n),
		Valid: make([]bool, n),
	}

	maxQ := make([]int, 0, window) // closes decreasing front to back
	minQ := make([]int, 0, window) // closes increasing front to back

	for i := 0; i < n; i++ {
		// Deques hold indices in [i-window, i-1] here.
		for len(maxQ) > 0 && maxQ[0] < i-window {
			maxQ = maxQ[1:]
		}
		for len(minQ) > 0 && minQ[0] < i-window {
			minQ = minQ[1:]
		}

		if i >= window {
			ch.Upper[i] = closes[maxQ[0]]
			ch.Lower[i] = closes[minQ[0]]
			ch.Valid[i] = true
		} else {
			ch.Upper[i] = math.NaN()
			ch.Lower[i] = math.NaN()
		}

		c := closes[i]
		for len(maxQ) > 0 && closes[maxQ[len(maxQ)-1]] <= c {
			maxQ = maxQ[:len(maxQ)-1]
		}
		maxQ = append(maxQ, i)
		for len(minQ) > 0 && closes[minQ[len(minQ)-1]] >= c {
			minQ = minQ[:len(minQ)-1]
		}
		minQ = append(minQ, i)
	}

	return ch, nil
}
