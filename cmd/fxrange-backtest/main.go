package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fxrange/internal/api"
	"fxrange/internal/cache"
	"fxrange/internal/config"
	"fxrange/internal/report"
	"fxrange/internal/scheduler"
	"fxrange/internal/store"
	"fxrange/internal/strategy"
	"fxrange/internal/strategy/builtins"
	"fxrange/internal/util"
)

func main() {
	once := flag.Bool("once", false, "run a single batch and exit, ignoring schedule and listeners")
	summary := flag.Bool("summary", false, "also print a per-series summary block")
	flag.Parse()

	cfgPath := "config/fxrange.yaml"
	if p := os.Getenv("FXRANGE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	if cfg.Schedule.Cron != "" {
		if err := scheduler.Validate(cfg.Schedule.Cron); err != nil {
			log.Fatalf("%v", err)
		}
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := strategy.NewRegistry()
	registry.Register(builtins.NewChannelReversion(cfg.Backtest.Window))

	var bars store.BarStore
	switch cfg.Backtest.Source {
	case "parquet":
		bars = store.NewParquetStore(cfg.Storage.DataDir)
	default:
		bars = store.NewCSVStore(cfg.Storage.CSVDir)
	}

	bt := strategy.NewBacktester(registry, cfg.Backtest.Workers, logger)
	if cfg.Backtest.ExportAnnotated {
		bt.SetAnnotationSink(store.NewParquetStore(cfg.Storage.DataDir))
	}

	if cfg.Redis.Addr != "" {
		rc := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := rc.Ping(pingCtx)
		pingCancel()
		if err != nil {
			slog.Warn("redis unavailable, running without metrics cache", "addr", cfg.Redis.Addr, "err", err)
			rc.Close()
		} else {
			bt.SetCache(rc)
			defer rc.Close()
		}
	}

	results, err := openResults(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open result store: %v", err)
	}
	defer results.Close()

	reports := api.NewReportServer(results, logger)
	server := api.NewServer(cfg, reports, logger)

	runBatch := func(ctx context.Context) error {
		sources, err := store.Sources(ctx, bars, cfg.Backtest.Series)
		if err != nil {
			return fmt.Errorf("listing series: %w", err)
		}
		run, err := bt.RunBatch(ctx, cfg.Backtest.Strategy, sources)
		if run == nil {
			return err
		}
		if serr := results.SaveRun(context.WithoutCancel(ctx), run); serr != nil {
			slog.Error("saving run", "run", run.ID, "err", serr)
		}
		reports.Publish(run)
		printRun(run, *summary)
		return err
	}

	if err := runBatch(ctx); err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	serve := cfg.Server.GRPCAddr != "" || cfg.Server.MetricsAddr != ""
	if *once || (cfg.Schedule.Cron == "" && !serve) {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	if serve {
		g.Go(func() error { return server.ListenAndServe(gctx) })
	}
	if cfg.Schedule.Cron != "" {
		sched := scheduler.New(logger)
		if err := sched.Add("backtest", cfg.Schedule.Cron, runBatch); err != nil {
			log.Fatalf("%v", err)
		}
		slog.Info("next scheduled run", "at", sched.Next().Format(time.RFC3339))
		g.Go(func() error { return sched.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// openResults opens the configured SQL store. An empty sqlite DSN places the
// database under the data directory.
func openResults(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	dsn := cfg.Storage.SQLDSN
	if cfg.Storage.SQLDriver == "sqlite" && dsn == "" {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return nil, err
		}
		dsn = filepath.Join(cfg.Storage.DataDir, "fxrange.db")
	}
	return store.OpenSQLStore(ctx, cfg.Storage.SQLDriver, dsn)
}

func printRun(run *strategy.Run, summary bool) {
	all := run.Results.All()
	if summary {
		if err := report.WriteSummary(os.Stdout, all); err != nil {
			slog.Error("writing summary", "err", err)
		}
		fmt.Println()
	}
	rows := make([]report.Row, len(all))
	for i, r := range all {
		rows[i] = report.RowFromResult(r)
	}
	title := fmt.Sprintf("%s (window %d) run %s", run.Strategy, run.Window, run.ID)
	fmt.Print(report.Table(title, rows))
}
