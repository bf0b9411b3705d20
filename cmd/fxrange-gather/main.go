package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fxrange/internal/config"
	"fxrange/internal/gather"
	"fxrange/internal/scheduler"
	"fxrange/internal/store"
	"fxrange/internal/util"
)

func main() {
	once := flag.Bool("once", false, "gather a single pass and exit, ignoring schedule.cron")
	workers := flag.Int("workers", 2, "concurrent series downloads")
	flag.Parse()

	cfgPath := "config/fxrange.yaml"
	if p := os.Getenv("FXRANGE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatalf("alpaca credentials are required (APCA_API_KEY_ID / APCA_API_SECRET_KEY)")
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	client := gather.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pass := func(ctx context.Context) error {
		rng, err := gather.ParseRange(cfg.Gather.StartDate, cfg.Gather.EndDate, time.Now())
		if err != nil {
			return err
		}
		g := gather.NewAlpacaGatherer(client, pstore, gather.AlpacaOptions{
			Symbols:         cfg.Gather.Symbols,
			Timeframes:      cfg.Gather.Timeframes,
			Range:           rng,
			Feed:            cfg.Alpaca.Feed,
			RateLimitPerMin: cfg.Gather.RateLimitPerMin,
			MaxAttempts:     cfg.Gather.MaxAttempts,
			Workers:         *workers,
		}, logger)
		return g.Run(ctx)
	}

	slog.Info("starting fxrange-gather", "symbols", len(cfg.Gather.Symbols), "timeframes", cfg.Gather.Timeframes)
	if err := pass(ctx); err != nil {
		if *once || cfg.Schedule.Cron == "" {
			log.Fatalf("gather error: %v", err)
		}
		slog.Error("gather pass failed", "err", err)
	}
	if *once || cfg.Schedule.Cron == "" {
		return
	}

	sched := scheduler.New(logger)
	if err := sched.Add("gather", cfg.Schedule.Cron, pass); err != nil {
		log.Fatalf("%v", err)
	}
	if err := sched.Run(ctx); err != nil {
		log.Fatalf("scheduler error: %v", err)
	}
}
