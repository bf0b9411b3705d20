package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"fxrange/internal/domain"
	"fxrange/internal/strategy"
	"fxrange/internal/timeframe"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ strategy.AnnotationSink = (*ParquetStore)(nil)

// ParquetStore implements BarStore and strategy.AnnotationSink using Parquet
// files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	TickVolume int64   `parquet:"tick_volume"`
	Volume     int64   `parquet:"volume"`
	Spread     int64   `parquet:"spread"`
}

// AnnotatedRecord is the Parquet schema for one bar of strategy output.
type AnnotatedRecord struct {
	Timestamp      int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Close          float64 `parquet:"close"`
	Upper          float64 `parquet:"upper"` // NaN during warm-up
	Lower          float64 `parquet:"lower"`
	Position       int32   `parquet:"position"`
	Signal         int32   `parquet:"signal"`
	PeriodReturn   float64 `parquet:"period_return"`
	StrategyReturn float64 `parquet:"strategy_return"`
	HasReturn      bool    `parquet:"has_return"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars merges bars into the series file at:
//
//	<DataDir>/bars/<INSTRUMENT>/<TF>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, instrument, tf string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = BarRecord{
			Symbol:     strings.ToUpper(instrument),
			Timestamp:  b.Timestamp.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			TickVolume: b.TickVolume,
			Volume:     b.Volume,
			Spread:     b.Spread,
		}
	}

	path := s.barPath(instrument, tf)

	// Read existing records to merge.
	existing, _ := readParquetFile[BarRecord](path)
	merged := mergeBarRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing bars for %s: %w", domain.SeriesKey(instrument, tf), err)
	}
	return nil
}

// ReadSeries reads the full series for instrument and timeframe.
func (s *ParquetStore) ReadSeries(_ context.Context, instrument, tf string) (domain.Series, error) {
	path := s.barPath(instrument, tf)
	records, err := readParquetFile[BarRecord](path)
	if err != nil {
		return domain.Series{}, fmt.Errorf("reading %s: %w", path, errors.Join(domain.ErrData, err))
	}

	series := domain.Series{
		Instrument: strings.ToUpper(instrument),
		Timeframe:  strings.ToUpper(tf),
		Bars:       make([]domain.Bar, len(records)),
	}
	for i, r := range records {
		series.Bars[i] = domain.Bar{
			Symbol:     r.Symbol,
			Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			TickVolume: r.TickVolume,
			Volume:     r.Volume,
			Spread:     r.Spread,
		}
	}
	return series, nil
}

// ListSeries lists every <INSTRUMENT>/<TF>.parquet under the bars directory.
func (s *ParquetStore) ListSeries(_ context.Context) ([]SeriesRef, error) {
	root := filepath.Join(s.DataDir, "bars")
	instruments, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var refs []SeriesRef
	for _, inst := range instruments {
		if !inst.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, inst.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".parquet" {
				continue
			}
			label := strings.ToUpper(strings.TrimSuffix(f.Name(), ".parquet"))
			ref := SeriesRef{
				Instrument: strings.ToUpper(inst.Name()),
				Timeframe:  label,
				Path:       filepath.Join(root, inst.Name(), f.Name()),
			}
			if _, err := timeframe.Parse(label); err != nil {
				ref.Err = err
			}
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key() < refs[j].Key() })
	return refs, nil
}

// ---------------------------------------------------------------------------
// Annotated export
// ---------------------------------------------------------------------------

// WriteAnnotated replaces the annotated export for the series at:
//
//	<DataDir>/annotated/<INSTRUMENT>/<TF>.parquet
func (s *ParquetStore) WriteAnnotated(_ context.Context, a *domain.AnnotatedSeries) error {
	records := make([]AnnotatedRecord, a.Len())
	for i, b := range a.Series.Bars {
		records[i] = AnnotatedRecord{
			Timestamp:      b.Timestamp.UnixMilli(),
			Close:          b.Close,
			Upper:          a.Upper[i],
			Lower:          a.Lower[i],
			Position:       int32(a.Positions[i]),
			Signal:         int32(a.Signals[i]),
			PeriodReturn:   a.PeriodReturns[i],
			StrategyReturn: a.StrategyReturns[i],
			HasReturn:      a.HasReturn[i],
		}
	}

	path := s.annotatedPath(a.Series.Instrument, a.Series.Timeframe)
	if err := writeParquetFile(path, records); err != nil {
		return fmt.Errorf("writing annotated %s: %w", a.Series.Key(), err)
	}
	return nil
}

// ReadAnnotated reads back an annotated export.
func (s *ParquetStore) ReadAnnotated(instrument, tf string) ([]AnnotatedRecord, error) {
	return readParquetFile[AnnotatedRecord](s.annotatedPath(instrument, tf))
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/bars/<INSTRUMENT>/<TF>.parquet
func (s *ParquetStore) barPath(instrument, tf string) string {
	return filepath.Join(s.DataDir, "bars", strings.ToUpper(instrument), strings.ToUpper(tf)+".parquet")
}

// annotatedPath returns the filesystem path for an annotated export.
// Layout: <dataDir>/annotated/<INSTRUMENT>/<TF>.parquet
func (s *ParquetStore) annotatedPath(instrument, tf string) string {
	return filepath.Join(s.DataDir, "annotated", strings.ToUpper(instrument), strings.ToUpper(tf)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by timestamp, preferring new
// records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
