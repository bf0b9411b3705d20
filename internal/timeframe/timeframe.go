// Package timeframe maps MT5-style timeframe labels (M15, H1, H4, ...) to
// sampling durations and annualisation factors.
package timeframe

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fxrange/internal/domain"
)

// TradingDaysPerYear is the annualisation base.
const TradingDaysPerYear = 252

// Timeframe describes one supported sampling period.
type Timeframe struct {
	Label         string
	PeriodsPerDay float64
	Duration      time.Duration
}

// PeriodsPerYear returns TradingDaysPerYear * PeriodsPerDay.
func (tf Timeframe) PeriodsPerYear() float64 {
	return TradingDaysPerYear * tf.PeriodsPerDay
}

var table = map[string]Timeframe{
	"M1":  {Label: "M1", PeriodsPerDay: 24 * 60, Duration: time.Minute},
	"M5":  {Label: "M5", PeriodsPerDay: 24 * 12, Duration: 5 * time.Minute},
	"M15": {Label: "M15", PeriodsPerDay: 24 * 4, Duration: 15 * time.Minute},
	"M30": {Label: "M30", PeriodsPerDay: 24 * 2, Duration: 30 * time.Minute},
	"H1":  {Label: "H1", PeriodsPerDay: 24, Duration: time.Hour},
	"H4":  {Label: "H4", PeriodsPerDay: 6, Duration: 4 * time.Hour},
	"D1":  {Label: "D1", PeriodsPerDay: 1, Duration: 24 * time.Hour},
	"W1":  {Label: "W1", PeriodsPerDay: 1.0 / 7, Duration: 7 * 24 * time.Hour},
	"MN":  {Label: "MN", PeriodsPerDay: 1.0 / 30, Duration: 30 * 24 * time.Hour},
}

// Parse looks up a label. Labels are case-insensitive; unknown labels wrap
// domain.ErrConfiguration.
func Parse(label string) (Timeframe, error) {
	tf, ok := table[strings.ToUpper(strings.TrimSpace(label))]
	if !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe %q (supported: %s): %w",
			label, strings.Join(Labels(), ", "), domain.ErrConfiguration)
	}
	return tf, nil
}

// PeriodsPerYear is shorthand for Parse(label) followed by PeriodsPerYear.
func PeriodsPerYear(label string) (float64, error) {
	tf, err := Parse(label)
	if err != nil {
		return 0, err
	}
	return tf.PeriodsPerYear(), nil
}

// Labels returns all supported labels ordered from shortest to longest period.
func Labels() []string {
	labels := make([]string, 0, len(table))
	for l := range table {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		return table[labels[i]].Duration < table[labels[j]].Duration
	})
	return labels
}

// FromFilename splits a name like "EURUSD_H1.csv" into instrument and
// timeframe label. The timeframe is the part between the last underscore and
// the extension.
func FromFilename(name string) (instrument, label string, err error) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	idx := strings.LastIndex(stem, "_")
	if idx <= 0 || idx == len(stem)-1 {
		return "", "", fmt.Errorf("file name %q is not INSTRUMENT_TIMEFRAME: %w", base, domain.ErrConfiguration)
	}
	instrument = strings.ToUpper(stem[:idx])
	label = strings.ToUpper(stem[idx+1:])
	if _, err := Parse(label); err != nil {
		return "", "", fmt.Errorf("file %s: %w", base, err)
	}
	return instrument, label, nil
}
