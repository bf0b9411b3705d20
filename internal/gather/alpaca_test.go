package gather

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"fxrange/internal/domain"
	"fxrange/internal/store"
)

type fakeClient struct {
	mu       sync.Mutex
	requests []marketdata.GetBarsRequest
	fail     map[string]error
	step     time.Duration
}

func (f *fakeClient) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if err := f.fail[symbol]; err != nil {
		return nil, err
	}
	var bars []marketdata.Bar
	price := 20.0
	for ts := req.Start; ts.Before(req.End); ts = ts.Add(f.step) {
		price += 0.01
		bars = append(bars, marketdata.Bar{
			Timestamp: ts, Open: price, High: price + 0.05, Low: price - 0.05, Close: price,
			Volume: 1000, TradeCount: 42,
		})
	}
	return bars, nil
}

func (f *fakeClient) starts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.Start
	}
	return out
}

func TestAlpacaGathererName(t *testing.T) {
	g := NewAlpacaGatherer(&fakeClient{}, store.NewParquetStore(t.TempDir()), AlpacaOptions{}, nil)
	if g.Name() != "alpaca" {
		t.Errorf("Name() = %q, want %q", g.Name(), "alpaca")
	}
}

func TestAlpacaTimeFrame(t *testing.T) {
	tests := []struct {
		label string
		n     int
		unit  marketdata.TimeFrameUnit
	}{
		{"M1", 1, marketdata.Min},
		{"m15", 15, marketdata.Min},
		{"M30", 30, marketdata.Min},
		{"H1", 1, marketdata.Hour},
		{"H4", 4, marketdata.Hour},
		{"D1", 1, marketdata.Day},
		{"W1", 1, marketdata.Week},
		{"MN", 1, marketdata.Month},
	}
	for _, tc := range tests {
		tf, err := AlpacaTimeFrame(tc.label)
		if err != nil {
			t.Errorf("AlpacaTimeFrame(%q): %v", tc.label, err)
			continue
		}
		if tf.N != tc.n || tf.Unit != tc.unit {
			t.Errorf("AlpacaTimeFrame(%q) = %+v, want %d %v", tc.label, tf, tc.n, tc.unit)
		}
	}
	if _, err := AlpacaTimeFrame("H2"); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("AlpacaTimeFrame(H2) error = %v, want ErrConfiguration", err)
	}
}

func TestDateRangeSplit(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := DateRange{Start: start, End: start.Add(25 * time.Hour)}

	parts := r.Split(10 * time.Hour)
	if len(parts) != 3 {
		t.Fatalf("Split returned %d windows, want 3", len(parts))
	}
	if !parts[0].Start.Equal(start) || !parts[2].End.Equal(r.End) {
		t.Errorf("Split bounds = %v .. %v", parts[0].Start, parts[2].End)
	}
	for i := 1; i < len(parts); i++ {
		if !parts[i].Start.Equal(parts[i-1].End) {
			t.Errorf("window %d starts at %v, previous ends at %v", i, parts[i].Start, parts[i-1].End)
		}
	}

	if got := (DateRange{Start: r.End, End: r.Start}).Split(time.Hour); got != nil {
		t.Errorf("inverted range Split = %v, want nil", got)
	}
}

func TestRequestWindowDoesNotOverflow(t *testing.T) {
	if w := requestWindow(30 * 24 * time.Hour); w <= 0 {
		t.Errorf("requestWindow(monthly) = %v, want positive", w)
	}
	if w := requestWindow(time.Minute); w != barsPerRequest*time.Minute {
		t.Errorf("requestWindow(1m) = %v", w)
	}
}

func TestAlpacaGathererRun(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	client := &fakeClient{step: time.Hour}
	start := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	opts := AlpacaOptions{
		Symbols:    []string{"FXE", "BTC/USD"},
		Timeframes: []string{"H1"},
		Range:      DateRange{Start: start, End: start.Add(48 * time.Hour)},
	}

	g := NewAlpacaGatherer(client, ps, opts, nil)
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, inst := range []string{"FXE", "BTCUSD"} {
		series, err := ps.ReadSeries(context.Background(), inst, "H1")
		if err != nil {
			t.Fatalf("ReadSeries %s: %v", inst, err)
		}
		if len(series.Bars) != 48 {
			t.Errorf("%s: %d bars, want 48", inst, len(series.Bars))
		}
		if series.Bars[0].TickVolume != 42 || series.Bars[0].Volume != 1000 {
			t.Errorf("%s: bar = %+v", inst, series.Bars[0])
		}
	}

	// Second pass resumes after the last stored bar.
	client.requests = nil
	opts.Range.End = start.Add(72 * time.Hour)
	g = NewAlpacaGatherer(client, ps, opts, nil)
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	wantResume := start.Add(48 * time.Hour)
	for _, s := range client.starts() {
		if !s.Equal(wantResume) {
			t.Errorf("resumed request starts at %v, want %v", s, wantResume)
		}
	}
	series, err := ps.ReadSeries(context.Background(), "FXE", "H1")
	if err != nil {
		t.Fatalf("ReadSeries: %v", err)
	}
	if len(series.Bars) != 72 {
		t.Errorf("after resume: %d bars, want 72", len(series.Bars))
	}
}

func TestAlpacaGathererReportsFailures(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	client := &fakeClient{step: 24 * time.Hour, fail: map[string]error{"BAD": errors.New("422 invalid symbol")}}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	g := NewAlpacaGatherer(client, ps, AlpacaOptions{
		Symbols:     []string{"UUP", "BAD"},
		Timeframes:  []string{"D1"},
		Range:       DateRange{Start: start, End: start.AddDate(0, 0, 10)},
		MaxAttempts: 2,
		RetryDelay:  time.Millisecond,
	}, nil)

	if err := g.Run(context.Background()); err == nil {
		t.Fatal("Run returned nil error with a failing symbol")
	}
	if _, err := ps.ReadSeries(context.Background(), "UUP", "D1"); err != nil {
		t.Errorf("healthy symbol was not stored: %v", err)
	}

	client.mu.Lock()
	n := len(client.requests)
	client.mu.Unlock()
	if bad := n - 1; bad != 2 {
		t.Errorf("failing symbol attempted %d times, want 2", bad)
	}
}

func TestAlpacaGathererUnknownTimeframe(t *testing.T) {
	g := NewAlpacaGatherer(&fakeClient{}, store.NewParquetStore(t.TempDir()), AlpacaOptions{
		Symbols:    []string{"FXE"},
		Timeframes: []string{"H3"},
	}, nil)
	if err := g.Run(context.Background()); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Run error = %v, want ErrConfiguration", err)
	}
}

func TestParseRange(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)

	r, err := ParseRange("2024-01-01", "", now)
	if err != nil {
		t.Fatalf("ParseRange: %v", err)
	}
	if !r.Start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || !r.End.Equal(now) {
		t.Errorf("range = %v..%v", r.Start, r.End)
	}

	r, err = ParseRange("2024-01-01", "2024-02-01", now)
	if err != nil {
		t.Fatalf("ParseRange with end: %v", err)
	}
	if !r.End.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("End = %v, want 2024-02-01", r.End)
	}

	bad := []struct{ start, end string }{
		{"", ""},
		{"01/02/2024", ""},
		{"2024-01-01", "tomorrow"},
		{"2024-03-01", "2024-02-01"},
	}
	for _, tc := range bad {
		if _, err := ParseRange(tc.start, tc.end, now); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("ParseRange(%q, %q) error = %v, want ErrConfiguration", tc.start, tc.end, err)
		}
	}
}
