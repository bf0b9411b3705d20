// Package report formats backtest metrics for the console.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"fxrange/internal/perf"
	"fxrange/internal/store"
	"fxrange/internal/strategy"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	colHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	seriesStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var hundred = decimal.NewFromInt(100)

// Percent renders a fraction as a percentage with two decimals, e.g.
// 0.6824 -> "68.24%".
func Percent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return decimal.NewFromFloat(v).Mul(hundred).StringFixed(2) + "%"
}

// Ratio renders a Sharpe ratio with two decimals, or "undefined".
func Ratio(s perf.Sharpe) string {
	if !s.Defined || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return "undefined"
	}
	return decimal.NewFromFloat(s.Value).StringFixed(2)
}

// Field is one labelled value of a per-series summary.
type Field struct {
	Name  string
	Value string
}

// Fields returns the per-series summary in display order.
func Fields(m *perf.Metrics) []Field {
	return []Field{
		{"Total Trades", fmt.Sprintf("%d", m.TradeCount)},
		{"Total Return", Percent(m.TotalReturn)},
		{"Annualized Return", Percent(m.AnnualizedReturn)},
		{"Sharpe Ratio", Ratio(m.Sharpe)},
		{"Max Drawdown", Percent(m.MaxDrawdown)},
		{"Timeframe", m.Timeframe},
	}
}

// WriteSummary prints one block per result:
//
//	Results for EURUSD_H1:
//	Total Trades: 312
//	...
func WriteSummary(w io.Writer, results []strategy.Result) error {
	for _, r := range results {
		if _, err := fmt.Fprintf(w, "\nResults for %s:\n", r.Key); err != nil {
			return err
		}
		if r.Err != nil {
			if _, err := fmt.Fprintf(w, "Error: %v\n", r.Err); err != nil {
				return err
			}
			continue
		}
		for _, f := range Fields(r.Metrics) {
			if _, err := fmt.Fprintf(w, "%s: %s\n", f.Name, f.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Row is one table line, independent of where the metrics came from.
type Row struct {
	Key         string
	Timeframe   string
	Bars        int
	Trades      int
	TotalReturn float64
	Annualized  float64
	Sharpe      perf.Sharpe
	MaxDrawdown float64
	Err         string
}

// RowFromResult converts an in-memory batch result.
func RowFromResult(r strategy.Result) Row {
	if r.Err != nil {
		return Row{Key: r.Key, Err: r.Err.Error()}
	}
	m := r.Metrics
	return Row{
		Key:         r.Key,
		Timeframe:   m.Timeframe,
		Bars:        m.Bars,
		Trades:      m.TradeCount,
		TotalReturn: m.TotalReturn,
		Annualized:  m.AnnualizedReturn,
		Sharpe:      m.Sharpe,
		MaxDrawdown: m.MaxDrawdown,
	}
}

// RowFromRecord converts a persisted result.
func RowFromRecord(rec store.ResultRecord) Row {
	row := Row{
		Key:         rec.SeriesKey,
		Timeframe:   rec.Timeframe,
		Bars:        rec.Bars,
		Trades:      rec.TradeCount,
		TotalReturn: rec.TotalReturn,
		Annualized:  rec.AnnualizedReturn,
		Sharpe:      perf.Sharpe{Value: math.NaN()},
		MaxDrawdown: rec.MaxDrawdown,
		Err:         rec.Error,
	}
	if rec.SharpeDefined && rec.Sharpe.Valid {
		row.Sharpe = perf.Sharpe{Value: rec.Sharpe.Float64, Defined: true}
	}
	return row
}

var columns = []struct {
	title string
	width int
}{
	{"SERIES", 14}, {"TF", 4}, {"BARS", 8}, {"TRADES", 7},
	{"TOTAL", 10}, {"ANNUAL", 10}, {"SHARPE", 9}, {"MAX DD", 9},
}

// Table renders rows as an aligned console table. Failed rows are listed
// after the table.
func Table(title string, rows []Row) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(titleStyle.Render(" " + title + " "))
		b.WriteString("\n")
	}

	for i, c := range columns {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(colHeaderStyle.Render(pad(c.title, c.width, i == 0)))
	}
	b.WriteString("\n")

	var failed []Row
	for _, r := range rows {
		if r.Err != "" {
			failed = append(failed, r)
			continue
		}
		cells := []string{
			seriesStyle.Render(pad(r.Key, columns[0].width, true)),
			pad(r.Timeframe, columns[1].width, false),
			pad(fmt.Sprintf("%d", r.Bars), columns[2].width, false),
			pad(fmt.Sprintf("%d", r.Trades), columns[3].width, false),
			signed(r.TotalReturn).Render(pad(Percent(r.TotalReturn), columns[4].width, false)),
			signed(r.Annualized).Render(pad(Percent(r.Annualized), columns[5].width, false)),
			pad(Ratio(r.Sharpe), columns[6].width, false),
			pad(Percent(r.MaxDrawdown), columns[7].width, false),
		}
		b.WriteString(strings.Join(cells, " "))
		b.WriteString("\n")
	}

	if len(failed) > 0 {
		b.WriteString("\n")
		b.WriteString(errStyle.Render(fmt.Sprintf("%d series failed:", len(failed))))
		b.WriteString("\n")
		for _, r := range failed {
			b.WriteString("  ")
			b.WriteString(seriesStyle.Render(r.Key))
			b.WriteString(" ")
			b.WriteString(dimStyle.Render(r.Err))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func signed(v float64) lipgloss.Style {
	if v < 0 {
		return lossStyle
	}
	return gainStyle
}

func pad(s string, width int, left bool) string {
	if len(s) >= width {
		return s
	}
	if left {
		return s + strings.Repeat(" ", width-len(s))
	}
	return strings.Repeat(" ", width-len(s)) + s
}
