package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"fxrange/internal/domain"
	"fxrange/internal/timeframe"
)

var _ BarStore = (*CSVStore)(nil)

// CSVStore reads and writes tab-separated MT5 exports named
// INSTRUMENT_TF.csv in a single directory.
type CSVStore struct {
	Dir string
}

// NewCSVStore creates a CSVStore rooted at dir.
func NewCSVStore(dir string) *CSVStore {
	return &CSVStore{Dir: dir}
}

const (
	mt5DateLayout = "2006.01.02"
	mt5TimeLayout = "15:04:05"
)

var csvHeader = []string{"<DATE>", "<TIME>", "<OPEN>", "<HIGH>", "<LOW>", "<CLOSE>", "<TICKVOL>", "<VOL>", "<SPREAD>"}

// ReadSeries loads INSTRUMENT_TF.csv from the store directory.
func (s *CSVStore) ReadSeries(_ context.Context, instrument, tf string) (domain.Series, error) {
	path := s.path(instrument, tf)
	f, err := os.Open(path)
	if err != nil {
		return domain.Series{}, fmt.Errorf("opening %s: %w", path, errors.Join(domain.ErrData, err))
	}
	defer f.Close()

	series, err := ParseCSV(f, instrument, tf)
	if err != nil {
		return domain.Series{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return series, nil
}

// ListSeries discovers *_*.csv files. Files whose timeframe is not supported
// are returned with Err set so callers can report them.
func (s *CSVStore) ListSeries(_ context.Context) ([]SeriesRef, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*_*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	refs := make([]SeriesRef, 0, len(matches))
	for _, path := range matches {
		inst, tf, err := timeframe.FromFilename(path)
		refs = append(refs, SeriesRef{Instrument: inst, Timeframe: tf, Path: path, Err: err})
	}
	return refs, nil
}

// WriteBars merges bars into the MT5-style export for the series. Bars with
// the same timestamp replace stored ones; the file stays in time order.
func (s *CSVStore) WriteBars(ctx context.Context, instrument, tf string, bars []domain.Bar) error {
	path := s.path(instrument, tf)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	existing, err := s.ReadSeries(ctx, instrument, tf)
	switch {
	case err == nil:
		bars = mergeBars(existing.Bars, bars)
	case errors.Is(err, fs.ErrNotExist):
		bars = mergeBars(nil, bars)
	default:
		return fmt.Errorf("reading existing %s: %w", filepath.Base(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return err
	}
	for _, b := range bars {
		ts := b.Timestamp.UTC()
		rec := []string{
			ts.Format(mt5DateLayout),
			ts.Format(mt5TimeLayout),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			strconv.FormatInt(b.TickVolume, 10),
			strconv.FormatInt(b.Volume, 10),
			strconv.FormatInt(b.Spread, 10),
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// mergeBars deduplicates by timestamp, preferring incoming bars.
func mergeBars(existing, incoming []domain.Bar) []domain.Bar {
	seen := make(map[int64]domain.Bar, len(existing)+len(incoming))
	for _, b := range existing {
		seen[b.Timestamp.UnixNano()] = b
	}
	for _, b := range incoming {
		seen[b.Timestamp.UnixNano()] = b
	}

	merged := make([]domain.Bar, 0, len(seen))
	for _, b := range seen {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

func (s *CSVStore) path(instrument, tf string) string {
	return filepath.Join(s.Dir, domain.SeriesKey(instrument, tf)+".csv")
}

// ParseCSV reads a tab-separated export with a header row. Header names are
// trimmed, stripped of '<' and '>' and upper-cased. CLOSE is required; DATE,
// TIME, OPEN, HIGH, LOW, TICKVOL, VOL and SPREAD are optional. Errors wrap
// domain.ErrData and name the offending line.
func ParseCSV(r io.Reader, instrument, tf string) (domain.Series, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Series{}, fmt.Errorf("empty file: %w", domain.ErrData)
		}
		return domain.Series{}, fmt.Errorf("reading header: %w", errors.Join(domain.ErrData, err))
	}
	cols := headerIndex(header)

	closeIdx, ok := cols["CLOSE"]
	if !ok {
		return domain.Series{}, fmt.Errorf("missing CLOSE column (have %s): %w",
			strings.Join(normalizedHeader(header), ", "), domain.ErrData)
	}

	series := domain.Series{
		Instrument: strings.ToUpper(instrument),
		Timeframe:  strings.ToUpper(tf),
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Series{}, fmt.Errorf("reading row: %w", errors.Join(domain.ErrData, err))
		}
		line, _ := cr.FieldPos(0)

		if closeIdx >= len(rec) || strings.TrimSpace(rec[closeIdx]) == "" {
			return domain.Series{}, fmt.Errorf("line %d: missing CLOSE value: %w", line, domain.ErrData)
		}
		closeVal, err := strconv.ParseFloat(strings.TrimSpace(rec[closeIdx]), 64)
		if err != nil {
			return domain.Series{}, fmt.Errorf("line %d: non-numeric CLOSE %q: %w", line, rec[closeIdx], domain.ErrData)
		}

		bar := domain.Bar{
			Symbol:     series.Instrument,
			Close:      closeVal,
			Open:       optFloat(rec, cols, "OPEN"),
			High:       optFloat(rec, cols, "HIGH"),
			Low:        optFloat(rec, cols, "LOW"),
			TickVolume: optInt(rec, cols, "TICKVOL"),
			Volume:     optInt(rec, cols, "VOL"),
			Spread:     optInt(rec, cols, "SPREAD"),
		}
		if _, ok := cols["DATE"]; ok {
			ts, err := parseMT5Time(field(rec, cols, "DATE"), field(rec, cols, "TIME"))
			if err != nil {
				return domain.Series{}, fmt.Errorf("line %d: %w", line, errors.Join(domain.ErrData, err))
			}
			bar.Timestamp = ts
		}
		series.Bars = append(series.Bars, bar)
	}
	return series, nil
}

func normalizedHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.ReplaceAll(h, "<", "")
		h = strings.ReplaceAll(h, ">", "")
		out[i] = strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}
	return out
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range normalizedHeader(header) {
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	return cols
}

func field(rec []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// optFloat and optInt return zero for absent or unparsable optional values.
func optFloat(rec []string, cols map[string]int, name string) float64 {
	v, err := strconv.ParseFloat(field(rec, cols, name), 64)
	if err != nil {
		return 0
	}
	return v
}

func optInt(rec []string, cols map[string]int, name string) int64 {
	s := field(rec, cols, name)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(v)
	}
	return 0
}

func parseMT5Time(date, clock string) (time.Time, error) {
	if clock == "" {
		return time.ParseInLocation(mt5DateLayout, date, time.UTC)
	}
	return time.ParseInLocation(mt5DateLayout+" "+mt5TimeLayout, date+" "+clock, time.UTC)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
