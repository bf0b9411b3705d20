package report

import (
	"bytes"
	"database/sql"
	"errors"
	"math"
	"strings"
	"testing"

	"fxrange/internal/perf"
	"fxrange/internal/store"
	"fxrange/internal/strategy"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.6824, "68.24%"},
		{0.13425, "13.43%"},
		{-0.05, "-5.00%"},
		{0, "0.00%"},
		{1.5, "150.00%"},
		{math.NaN(), "n/a"},
		{math.Inf(1), "n/a"},
	}
	for _, tc := range tests {
		if got := Percent(tc.in); got != tc.want {
			t.Errorf("Percent(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRatio(t *testing.T) {
	if got := Ratio(perf.Sharpe{Value: 1.1891, Defined: true}); got != "1.19" {
		t.Errorf("Ratio = %q, want 1.19", got)
	}
	if got := Ratio(perf.Sharpe{Value: math.NaN(), Reason: "zero variance"}); got != "undefined" {
		t.Errorf("Ratio(undefined) = %q, want undefined", got)
	}
}

func sampleMetrics() *perf.Metrics {
	return &perf.Metrics{
		Series: "NZDUSD_M15", Timeframe: "M15", Bars: 100000, TradeCount: 1400,
		TotalReturn: 0.6824, AnnualizedReturn: 0.1343, MaxDrawdown: 0.1586,
		Sharpe: perf.Sharpe{Value: 1.19, Defined: true},
	}
}

func TestFields(t *testing.T) {
	fields := Fields(sampleMetrics())
	want := []Field{
		{"Total Trades", "1400"},
		{"Total Return", "68.24%"},
		{"Annualized Return", "13.43%"},
		{"Sharpe Ratio", "1.19"},
		{"Max Drawdown", "15.86%"},
		{"Timeframe", "M15"},
	}
	if len(fields) != len(want) {
		t.Fatalf("Fields returned %d entries, want %d", len(fields), len(want))
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field %d = %+v, want %+v", i, fields[i], want[i])
		}
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	results := []strategy.Result{
		{Key: "NZDUSD_M15", Metrics: sampleMetrics()},
		{Key: "GBPUSD_H2", Err: errors.New("unsupported timeframe")},
	}
	if err := WriteSummary(&buf, results); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Results for NZDUSD_M15:",
		"Total Return: 68.24%",
		"Timeframe: M15",
		"Results for GBPUSD_H2:",
		"Error: unsupported timeframe",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestTable(t *testing.T) {
	rows := []Row{
		RowFromResult(strategy.Result{Key: "NZDUSD_M15", Metrics: sampleMetrics()}),
		RowFromResult(strategy.Result{Key: "USDJPY_H1", Err: errors.New("need at least 51 bars")}),
	}
	out := Table("channel-reversion", rows)

	for _, want := range []string{"SERIES", "NZDUSD_M15", "68.24%", "1.19", "1 series failed", "need at least 51 bars"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestRowFromRecord(t *testing.T) {
	row := RowFromRecord(store.ResultRecord{
		SeriesKey: "EURUSD_H1", Timeframe: "H1", TradeCount: 3,
		Sharpe: sql.NullFloat64{Float64: 0.5, Valid: true}, SharpeDefined: true,
	})
	if row.Key != "EURUSD_H1" || !row.Sharpe.Defined || row.Sharpe.Value != 0.5 {
		t.Errorf("row = %+v", row)
	}

	undefined := RowFromRecord(store.ResultRecord{SeriesKey: "AUDNZD_M30"})
	if undefined.Sharpe.Defined || Ratio(undefined.Sharpe) != "undefined" {
		t.Errorf("undefined sharpe row = %+v", undefined)
	}
}

func TestPad(t *testing.T) {
	if got := pad("ab", 4, true); got != "ab  " {
		t.Errorf("pad left = %q", got)
	}
	if got := pad("ab", 4, false); got != "  ab" {
		t.Errorf("pad right = %q", got)
	}
	if got := pad("abcdef", 4, false); got != "abcdef" {
		t.Errorf("pad overflow = %q", got)
	}
}
