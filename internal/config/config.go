package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fxrange/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for fxrange.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Backtest Backtest `yaml:"backtest"`
	Server   Server   `yaml:"server"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Gather   Gather   `yaml:"gather"`
	Redis    Redis    `yaml:"redis"`
	Schedule Schedule `yaml:"schedule"`
	Logging  Logging  `yaml:"logging"`
}

// Storage holds paths and connection strings for data persistence.
type Storage struct {
	DataDir   string `yaml:"data_dir"`
	CSVDir    string `yaml:"csv_dir"`
	SQLDriver string `yaml:"sql_driver"`
	SQLDSN    string `yaml:"sql_dsn"`
}

// Backtest selects the strategy and how series are evaluated.
type Backtest struct {
	Strategy        string   `yaml:"strategy"`
	Window          int      `yaml:"window"`
	Workers         int      `yaml:"workers"`
	Source          string   `yaml:"source"` // "csv" or "parquet"
	ExportAnnotated bool     `yaml:"export_annotated"`
	Series          []string `yaml:"series"`
}

// Server holds network listener configuration. Empty addresses disable the
// listener.
type Server struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Gather controls the bar gatherer.
type Gather struct {
	Symbols         []string `yaml:"symbols"`
	Timeframes      []string `yaml:"timeframes"`
	StartDate       string   `yaml:"start_date"`
	EndDate         string   `yaml:"end_date"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	MaxAttempts     int      `yaml:"max_attempts"`
}

// Redis configures the optional metrics cache. An empty Addr disables it.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Schedule holds the cron expression for periodic re-runs. Empty runs once.
type Schedule struct {
	Cron string `yaml:"cron"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, then applies environment variable overrides and defaults.
// A .env file in the working directory, if present, is loaded first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("CSV_DIR"); v != "" {
		cfg.Storage.CSVDir = v
	}
	if v := os.Getenv("SQL_DRIVER"); v != "" {
		cfg.Storage.SQLDriver = v
	}
	if v := os.Getenv("SQL_DSN"); v != "" {
		cfg.Storage.SQLDSN = v
	}

	if v := os.Getenv("FXRANGE_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backtest.Window = n
		}
	}
	if v := os.Getenv("FXRANGE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backtest.Workers = n
		}
	}
	if v := os.Getenv("FXRANGE_SERIES"); v != "" {
		cfg.Backtest.Series = splitList(v)
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars take precedence (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLDriver == "" {
		cfg.Storage.SQLDriver = "sqlite"
	}
	if cfg.Backtest.Strategy == "" {
		cfg.Backtest.Strategy = "channel-reversion"
	}
	if cfg.Backtest.Window == 0 {
		cfg.Backtest.Window = 50
	}
	if cfg.Backtest.Workers == 0 {
		cfg.Backtest.Workers = 4
	}
	if cfg.Backtest.Source == "" {
		cfg.Backtest.Source = "csv"
	}
	if cfg.Gather.MaxAttempts == 0 {
		cfg.Gather.MaxAttempts = 3
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects settings no run can succeed with. Errors wrap
// domain.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error
	if c.Backtest.Window <= 0 {
		errs = append(errs, fmt.Errorf("backtest.window must be positive, got %d", c.Backtest.Window))
	}
	if c.Backtest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("backtest.workers must be positive, got %d", c.Backtest.Workers))
	}
	switch c.Backtest.Source {
	case "csv", "parquet":
	default:
		errs = append(errs, fmt.Errorf("backtest.source must be csv or parquet, got %q", c.Backtest.Source))
	}
	switch c.Storage.SQLDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.sql_driver must be sqlite or postgres, got %q", c.Storage.SQLDriver))
	}
	if c.Backtest.Source == "csv" && c.Storage.CSVDir == "" {
		errs = append(errs, errors.New("storage.csv_dir is required when backtest.source is csv"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w: %w", errors.Join(errs...), domain.ErrConfiguration)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
