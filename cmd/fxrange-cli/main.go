package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"fxrange/internal/config"
	"fxrange/internal/perf"
	"fxrange/internal/report"
	"fxrange/internal/store"
	"fxrange/pkg/fxrange"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: fxrange-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version         Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  latest          Show the latest run from fxrange-backtest\n")
	fmt.Fprintf(os.Stderr, "  result <KEY>    Show one series of the latest run, e.g. EURUSD_H1\n")
	fmt.Fprintf(os.Stderr, "  runs            List stored runs from the result database\n")
	fmt.Fprintf(os.Stderr, "  series          List series available to the backtester\n")
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
}

func main() {
	addr := flag.String("addr", "", "gRPC address of fxrange-backtest (default: server.grpc_addr)")
	limit := flag.Int("n", 20, "number of runs to list")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	if cmd == "version" {
		fmt.Printf("fxrange-cli %s\n", version)
		return
	}

	cfgPath := "config/fxrange.yaml"
	if p := os.Getenv("FXRANGE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("failed to load config: %v", err)
	}
	if *addr == "" {
		*addr = cfg.Server.GRPCAddr
	}
	if *addr == "" {
		*addr = "localhost:50051"
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case "latest":
		c := dial(*addr)
		defer c.Close()
		run, err := c.LatestRun(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		rows := make([]report.Row, len(run.Results))
		for i, r := range run.Results {
			rows[i] = toRow(r)
		}
		title := fmt.Sprintf("%s (window %d) run %s at %s", run.Strategy, run.Window, run.ID, run.StartedAt)
		fmt.Print(report.Table(title, rows))

	case "result":
		if flag.NArg() < 2 {
			fatalf("result requires a series key, e.g. EURUSD_H1")
		}
		c := dial(*addr)
		defer c.Close()
		res, err := c.GetResult(ctx, flag.Arg(1))
		if err != nil {
			fatalf("%v", err)
		}
		row := toRow(*res)
		if row.Err != "" {
			fmt.Printf("%s: %s\n", row.Key, row.Err)
			return
		}
		fmt.Printf("Results for %s:\n", row.Key)
		for _, f := range report.Fields(rowMetrics(row)) {
			fmt.Printf("%s: %s\n", f.Name, f.Value)
		}

	case "runs":
		rs, err := openResults(ctx, cfg)
		if err != nil {
			fatalf("opening result store: %v", err)
		}
		defer rs.Close()
		runs, err := rs.ListRuns(ctx, *limit)
		if err != nil {
			fatalf("%v", err)
		}
		for _, r := range runs {
			fmt.Printf("%s  %-20s window=%-4d series=%-4d failures=%-4d %s\n",
				r.ID, r.Strategy, r.Window, r.Series, r.Failures,
				r.StartedAt.UTC().Format(time.RFC3339))
		}

	case "series":
		var bs store.BarStore = store.NewCSVStore(cfg.Storage.CSVDir)
		if cfg.Backtest.Source == "parquet" {
			bs = store.NewParquetStore(cfg.Storage.DataDir)
		}
		refs, err := bs.ListSeries(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		for _, ref := range refs {
			if ref.Err != nil {
				fmt.Printf("%-16s %s (%v)\n", ref.Key(), ref.Path, ref.Err)
				continue
			}
			fmt.Printf("%-16s %s\n", ref.Key(), ref.Path)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func dial(addr string) *fxrange.Client {
	c, err := fxrange.NewClient(addr)
	if err != nil {
		fatalf("%v", err)
	}
	return c
}

func openResults(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	dsn := cfg.Storage.SQLDSN
	if cfg.Storage.SQLDriver == "sqlite" && dsn == "" {
		dsn = filepath.Join(cfg.Storage.DataDir, "fxrange.db")
	}
	return store.OpenSQLStore(ctx, cfg.Storage.SQLDriver, dsn)
}

func toRow(r fxrange.Result) report.Row {
	row := report.Row{
		Key:         r.Series,
		Timeframe:   r.Timeframe,
		Bars:        r.Bars,
		Trades:      r.Trades,
		TotalReturn: r.TotalReturn,
		Annualized:  r.AnnualizedReturn,
		Sharpe:      perf.Sharpe{Value: math.NaN()},
		MaxDrawdown: r.MaxDrawdown,
		Err:         r.Error,
	}
	if r.Sharpe != nil {
		row.Sharpe = perf.Sharpe{Value: *r.Sharpe, Defined: true}
	}
	return row
}

func rowMetrics(r report.Row) *perf.Metrics {
	return &perf.Metrics{
		Series:           r.Key,
		Timeframe:        r.Timeframe,
		Bars:             r.Bars,
		TradeCount:       r.Trades,
		TotalReturn:      r.TotalReturn,
		AnnualizedReturn: r.Annualized,
		Sharpe:           r.Sharpe,
		MaxDrawdown:      r.MaxDrawdown,
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fxrange-cli: "+format+"\n", args...)
	os.Exit(1)
}
