package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"fxrange/internal/domain"
	"fxrange/internal/store"
	"fxrange/internal/timeframe"
	"fxrange/internal/util"
)

var _ Gatherer = (*AlpacaGatherer)(nil)

// barsPerRequest bounds each GetBars window; the SDK pages within it.
const barsPerRequest = 10000

// BarsClient is the subset of *marketdata.Client the gatherer needs.
type BarsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaOptions configures an AlpacaGatherer.
type AlpacaOptions struct {
	Symbols         []string
	Timeframes      []string
	Range           DateRange
	Feed            string
	RateLimitPerMin int
	MaxAttempts     int
	Workers         int
	RetryDelay      time.Duration
}

// AlpacaGatherer downloads bars for every symbol and timeframe from the
// Alpaca market-data API into a BarStore. Series already in the store are
// resumed from their last bar.
type AlpacaGatherer struct {
	client  BarsClient
	store   store.BarStore
	opts    AlpacaOptions
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaClient builds a market-data client from credentials.
func NewAlpacaClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// NewAlpacaGatherer creates a gatherer writing into s.
func NewAlpacaGatherer(client BarsClient, s store.BarStore, opts AlpacaOptions, log *slog.Logger) *AlpacaGatherer {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	if log == nil {
		log = slog.Default()
	}
	return &AlpacaGatherer{
		client:  client,
		store:   s,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		log:     log.With("gatherer", "alpaca"),
	}
}

// Name returns the gatherer identifier.
func (g *AlpacaGatherer) Name() string { return "alpaca" }

type gatherJob struct {
	symbol string
	tf     timeframe.Timeframe
}

// Run fetches every configured series. Individual series failures are
// logged and counted; Run returns an error if any series failed.
func (g *AlpacaGatherer) Run(ctx context.Context) error {
	var jobs []gatherJob
	for _, label := range g.opts.Timeframes {
		tf, err := timeframe.Parse(label)
		if err != nil {
			return err
		}
		for _, sym := range g.opts.Symbols {
			jobs = append(jobs, gatherJob{symbol: sym, tf: tf})
		}
	}
	if len(jobs) == 0 {
		g.log.Info("nothing to gather")
		return nil
	}

	jobCh := make(chan gatherJob, len(jobs))
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)

	var (
		wg       sync.WaitGroup
		written  atomic.Int64
		failed   atomic.Int64
		runStart = time.Now()
	)

	g.log.Info("starting gather", "series", len(jobs), "workers", g.opts.Workers,
		"start", g.opts.Range.Start.Format(time.DateOnly), "end", g.opts.Range.End.Format(time.DateOnly))

	workers := min(g.opts.Workers, len(jobs))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if ctx.Err() != nil {
					return
				}
				n, err := g.gatherSeries(ctx, job)
				key := domain.SeriesKey(instrumentName(job.symbol), job.tf.Label)
				if err != nil {
					failed.Add(1)
					g.log.Error("series failed", "series", key, "err", err)
					continue
				}
				written.Add(int64(n))
				g.log.Info("series done", "series", key, "bars", n)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	g.log.Info("gather complete",
		"bars", written.Load(),
		"failed", failed.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d series failed", n, len(jobs))
	}
	return nil
}

func (g *AlpacaGatherer) gatherSeries(ctx context.Context, job gatherJob) (int, error) {
	inst := instrumentName(job.symbol)
	alpacaTF, err := AlpacaTimeFrame(job.tf.Label)
	if err != nil {
		return 0, err
	}

	rng := g.opts.Range
	if existing, err := g.store.ReadSeries(ctx, inst, job.tf.Label); err == nil && len(existing.Bars) > 0 {
		last := existing.Bars[len(existing.Bars)-1].Timestamp
		if resume := last.Add(job.tf.Duration); resume.After(rng.Start) {
			rng.Start = resume
		}
	}

	total := 0
	for _, window := range rng.Split(requestWindow(job.tf.Duration)) {
		if err := g.limiter.Wait(ctx); err != nil {
			return total, err
		}

		var raw []marketdata.Bar
		err := util.Retry(ctx, g.opts.MaxAttempts, g.opts.RetryDelay, func() error {
			var ferr error
			raw, ferr = g.client.GetBars(job.symbol, marketdata.GetBarsRequest{
				TimeFrame: alpacaTF,
				Start:     window.Start,
				End:       window.End,
				Feed:      marketdata.Feed(g.opts.Feed),
			})
			if errors.Is(ferr, context.Canceled) {
				return util.Permanent(ferr)
			}
			return ferr
		})
		if err != nil {
			return total, fmt.Errorf("GetBars %s %s: %w", job.symbol, job.tf.Label, err)
		}
		if len(raw) == 0 {
			continue
		}

		bars := toDomainBars(inst, raw)
		if err := g.store.WriteBars(ctx, inst, job.tf.Label, bars); err != nil {
			return total, fmt.Errorf("writing %s: %w", domain.SeriesKey(inst, job.tf.Label), err)
		}
		total += len(bars)
	}
	return total, nil
}

// requestWindow is the span covered by barsPerRequest bars, capped so
// monthly bars do not overflow time.Duration.
func requestWindow(bar time.Duration) time.Duration {
	const maxWindow = 20 * 365 * 24 * time.Hour
	if bar > maxWindow/barsPerRequest {
		return maxWindow
	}
	return bar * barsPerRequest
}

// AlpacaTimeFrame maps a timeframe label to the Alpaca bar timeframe.
func AlpacaTimeFrame(label string) (marketdata.TimeFrame, error) {
	switch strings.ToUpper(label) {
	case "M1":
		return marketdata.NewTimeFrame(1, marketdata.Min), nil
	case "M5":
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case "M15":
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case "M30":
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case "H1":
		return marketdata.NewTimeFrame(1, marketdata.Hour), nil
	case "H4":
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case "D1":
		return marketdata.NewTimeFrame(1, marketdata.Day), nil
	case "W1":
		return marketdata.NewTimeFrame(1, marketdata.Week), nil
	case "MN":
		return marketdata.NewTimeFrame(1, marketdata.Month), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("no alpaca timeframe for %q: %w", label, domain.ErrConfiguration)
}

// instrumentName turns "BTC/USD" into "BTCUSD".
func instrumentName(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func toDomainBars(inst string, raw []marketdata.Bar) []domain.Bar {
	bars := make([]domain.Bar, len(raw))
	for i, ab := range raw {
		bars[i] = domain.Bar{
			Symbol:     inst,
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			TickVolume: int64(ab.TradeCount),
			Volume:     int64(ab.Volume),
		}
	}
	return bars
}
