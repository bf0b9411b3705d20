// Package cache keeps evaluated metrics in Redis so unchanged series are not
// re-evaluated between runs.
package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-redis/redis/v8"

	"fxrange/internal/domain"
	"fxrange/internal/perf"
	"fxrange/internal/strategy"
)

const keyPrefix = "fxrange:metrics:"

var _ strategy.MetricsCache = (*RedisCache)(nil)

// RedisCache implements strategy.MetricsCache on a Redis server.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to addr. A zero ttl keeps entries forever.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get returns cached metrics for the series, if present.
func (c *RedisCache) Get(ctx context.Context, strategyName string, window int, series domain.Series) (*perf.Metrics, bool, error) {
	data, err := c.client.Get(ctx, Key(strategyName, window, series)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	m, err := Decode(data)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Put stores metrics for the series.
func (c *RedisCache) Put(ctx context.Context, strategyName string, window int, series domain.Series, m *perf.Metrics) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, Key(strategyName, window, series), data, c.ttl).Err()
}

// Key builds fxrange:metrics:<strategy>:<window>:<fingerprint>.
func Key(strategyName string, window int, series domain.Series) string {
	return keyPrefix + strategyName + ":" + strconv.Itoa(window) + ":" + Fingerprint(series)
}

// Fingerprint hashes the series key and its closes. Any change to a close
// price or the bar count yields a different fingerprint.
func Fingerprint(series domain.Series) string {
	d := xxhash.New()
	_, _ = d.WriteString(series.Key())

	var buf [8]byte
	for _, b := range series.Bars {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(b.Close))
		_, _ = d.Write(buf[:])
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// entry is the JSON form of perf.Metrics; Sharpe is null when undefined.
type entry struct {
	Series           string   `json:"series"`
	Timeframe        string   `json:"timeframe"`
	Bars             int      `json:"bars"`
	TradeCount       int      `json:"trade_count"`
	TotalReturn      float64  `json:"total_return"`
	AnnualizedReturn float64  `json:"annualized_return"`
	Sharpe           *float64 `json:"sharpe"`
	SharpeReason     string   `json:"sharpe_reason,omitempty"`
	MaxDrawdown      float64  `json:"max_drawdown"`
}

// Encode serialises metrics for storage.
func Encode(m *perf.Metrics) ([]byte, error) {
	e := entry{
		Series:           m.Series,
		Timeframe:        m.Timeframe,
		Bars:             m.Bars,
		TradeCount:       m.TradeCount,
		TotalReturn:      m.TotalReturn,
		AnnualizedReturn: m.AnnualizedReturn,
		SharpeReason:     m.Sharpe.Reason,
		MaxDrawdown:      m.MaxDrawdown,
	}
	if m.Sharpe.Defined {
		v := m.Sharpe.Value
		e.Sharpe = &v
	}
	return json.Marshal(e)
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*perf.Metrics, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding cached metrics: %w", err)
	}
	m := &perf.Metrics{
		Series:           e.Series,
		Timeframe:        e.Timeframe,
		Bars:             e.Bars,
		TradeCount:       e.TradeCount,
		TotalReturn:      e.TotalReturn,
		AnnualizedReturn: e.AnnualizedReturn,
		MaxDrawdown:      e.MaxDrawdown,
		Sharpe:           perf.Sharpe{Value: math.NaN(), Reason: e.SharpeReason},
	}
	if e.Sharpe != nil {
		m.Sharpe = perf.Sharpe{Value: *e.Sharpe, Defined: true}
	}
	return m, nil
}
