package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fxrange/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fxrange.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "CSV_DIR", "SQL_DRIVER", "SQL_DSN", "FXRANGE_WINDOW", "FXRANGE_WORKERS",
		"FXRANGE_SERIES", "REDIS_ADDR", "REDIS_PASSWORD", "ALPACA_API_KEY", "ALPACA_API_SECRET",
		"ALPACA_DATA_URL", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/fxrange/data"
  csv_dir: "/tmp/fxrange/csv"
  sql_driver: "postgres"
  sql_dsn: "postgres://fx@localhost/fxrange?sslmode=disable"
backtest:
  strategy: "channel-reversion"
  window: 20
  workers: 8
  export_annotated: true
  series: ["EURUSD_H1", "GBPUSD_M15"]
server:
  grpc_addr: ":9090"
  metrics_addr: ":9100"
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  feed: "sip"
gather:
  symbols: ["FXE", "UUP"]
  timeframes: ["H1", "D1"]
  start_date: "2022-01-01"
  rate_limit_per_min: 180
redis:
  addr: "localhost:6379"
  ttl: 2h
schedule:
  cron: "0 22 * * 1-5"
logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/fxrange/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/fxrange/data")
	}
	if cfg.Storage.SQLDriver != "postgres" {
		t.Errorf("Storage.SQLDriver = %q, want postgres", cfg.Storage.SQLDriver)
	}

	// -- Backtest --
	if cfg.Backtest.Window != 20 || cfg.Backtest.Workers != 8 {
		t.Errorf("Backtest window/workers = %d/%d, want 20/8", cfg.Backtest.Window, cfg.Backtest.Workers)
	}
	if !cfg.Backtest.ExportAnnotated {
		t.Error("Backtest.ExportAnnotated = false, want true")
	}
	if len(cfg.Backtest.Series) != 2 || cfg.Backtest.Series[1] != "GBPUSD_M15" {
		t.Errorf("Backtest.Series = %v", cfg.Backtest.Series)
	}

	// -- Server --
	if cfg.Server.GRPCAddr != ":9090" || cfg.Server.MetricsAddr != ":9100" {
		t.Errorf("Server = %+v", cfg.Server)
	}

	// -- Alpaca / Gather --
	if cfg.Alpaca.APIKey != "test-key" || cfg.Alpaca.Feed != "sip" {
		t.Errorf("Alpaca = %+v", cfg.Alpaca)
	}
	if cfg.Gather.RateLimitPerMin != 180 || len(cfg.Gather.Timeframes) != 2 {
		t.Errorf("Gather = %+v", cfg.Gather)
	}

	// -- Redis / Schedule / Logging --
	if cfg.Redis.TTL != 2*time.Hour {
		t.Errorf("Redis.TTL = %v, want 2h", cfg.Redis.TTL)
	}
	if cfg.Schedule.Cron != "0 22 * * 1-5" {
		t.Errorf("Schedule.Cron = %q", cfg.Schedule.Cron)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "storage:\n  csv_dir: ./csv\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Backtest.Window != 50 {
		t.Errorf("default Window = %d, want 50", cfg.Backtest.Window)
	}
	if cfg.Backtest.Workers != 4 {
		t.Errorf("default Workers = %d, want 4", cfg.Backtest.Workers)
	}
	if cfg.Backtest.Strategy != "channel-reversion" || cfg.Backtest.Source != "csv" {
		t.Errorf("default Backtest = %+v", cfg.Backtest)
	}
	if cfg.Storage.SQLDriver != "sqlite" || cfg.Storage.DataDir != "data" {
		t.Errorf("default Storage = %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("default Logging = %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/srv/fx")
	t.Setenv("FXRANGE_WINDOW", "30")
	t.Setenv("FXRANGE_SERIES", "EURUSD_H1, AUDNZD_H4 ,")
	t.Setenv("ALPACA_API_KEY", "from-env")
	t.Setenv("APCA_API_KEY_ID", "canonical")

	cfg, err := Load(writeConfig(t, "storage:\n  data_dir: /ignored\n  csv_dir: ./csv\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Storage.DataDir != "/srv/fx" {
		t.Errorf("DataDir = %q, want /srv/fx", cfg.Storage.DataDir)
	}
	if cfg.Backtest.Window != 30 {
		t.Errorf("Window = %d, want 30", cfg.Backtest.Window)
	}
	if len(cfg.Backtest.Series) != 2 || cfg.Backtest.Series[1] != "AUDNZD_H4" {
		t.Errorf("Series = %q", cfg.Backtest.Series)
	}
	if cfg.Alpaca.APIKey != "canonical" {
		t.Errorf("APIKey = %q, want canonical", cfg.Alpaca.APIKey)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Storage:  Storage{CSVDir: "csv", SQLDriver: "sqlite"},
			Backtest: Backtest{Window: 50, Workers: 4, Source: "csv"},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.Backtest.Window = 0 }},
		{"negative window", func(c *Config) { c.Backtest.Window = -5 }},
		{"no workers", func(c *Config) { c.Backtest.Workers = 0 }},
		{"unknown driver", func(c *Config) { c.Storage.SQLDriver = "mysql" }},
		{"unknown source", func(c *Config) { c.Backtest.Source = "xlsx" }},
		{"csv without dir", func(c *Config) { c.Storage.CSVDir = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("Validate() = %v, want ErrConfiguration", err)
			}
		})
	}
	if err := base().Validate(); err != nil {
		t.Errorf("Validate() on valid config = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load of a missing file returned nil error")
	}
}
