package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultFiatCurrency   = "EUR"
	defaultSnapshotPath   = "ledger.json"
	defaultJournalDir     = "./wal/updates"
	defaultUpdateInterval = 5 * time.Minute
	defaultDashboardAddr  = ":8080"
	defaultRetryInitial   = time.Second
	defaultRetryMax       = 30 * time.Second
	defaultRetryAttempts  = 5
)

// Config is the resolved runtime configuration.
type Config struct {
	Platform       string
	FiatCurrency   string
	SnapshotPath   string
	JournalDir     string
	UpdateInterval time.Duration
	DashboardAddr  string
	TLSDomains     []string
	TLSCacheDir    string

	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMaxAttempts     int

	// Fresh discards an unreadable snapshot instead of refusing to start.
	Fresh bool
}

type ConfigTmp struct {
	Platform       string        `yaml:"platform"`
	FiatCurrency   string        `yaml:"fiat_currency,omitempty"`
	SnapshotPath   string        `yaml:"snapshot_path,omitempty"`
	JournalDir     string        `yaml:"journal_dir,omitempty"`
	UpdateInterval time.Duration `yaml:"update_interval,omitempty"`
	DashboardAddr  string        `yaml:"dashboard_addr,omitempty"`
	TLSDomains     []string      `yaml:"tls_domains,omitempty"`
	TLSCacheDir    string        `yaml:"tls_cache_dir,omitempty"`

	RetryInitialInterval time.Duration `yaml:"retry_initial_interval,omitempty"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval,omitempty"`
	RetryMaxAttempts     int           `yaml:"retry_max_attempts,omitempty"`
}

// Get resolves configuration from the --config yaml file, falling back to CLI
// flags when no config path is given.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	platform := flag.String("platform", "binance", "exchange platform: binance or bybit")
	fiat := flag.String("fiat", defaultFiatCurrency, "reference fiat currency, example: EUR")
	snapshotPath := flag.String("snapshot", defaultSnapshotPath, "path to the ledger snapshot file")
	journalDir := flag.String("journal", defaultJournalDir, "directory for the update journal WAL")
	interval := flag.Duration("interval", defaultUpdateInterval, "background update interval")
	addr := flag.String("addr", defaultDashboardAddr, "dashboard listen address")
	fresh := flag.Bool("fresh", false, "discard an unreadable snapshot and start from scratch")
	flag.Parse()

	if *configPath != "" {
		cfg, err := getYaml(*configPath)
		if err != nil {
			return Config{}, err
		}
		cfg.Fresh = *fresh
		return cfg, nil
	}

	cfg := Config{
		Platform:             *platform,
		FiatCurrency:         *fiat,
		SnapshotPath:         *snapshotPath,
		JournalDir:           *journalDir,
		UpdateInterval:       *interval,
		DashboardAddr:        *addr,
		RetryInitialInterval: defaultRetryInitial,
		RetryMaxInterval:     defaultRetryMax,
		RetryMaxAttempts:     defaultRetryAttempts,
		Fresh:                *fresh,
	}

	return cfg, validate(cfg)
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, fmt.Errorf("incorrect yaml config: %w", err)
	}

	cfg := Config{
		Platform:             tmp.Platform,
		FiatCurrency:         tmp.FiatCurrency,
		SnapshotPath:         tmp.SnapshotPath,
		JournalDir:           tmp.JournalDir,
		UpdateInterval:       tmp.UpdateInterval,
		DashboardAddr:        tmp.DashboardAddr,
		TLSDomains:           tmp.TLSDomains,
		TLSCacheDir:          tmp.TLSCacheDir,
		RetryInitialInterval: tmp.RetryInitialInterval,
		RetryMaxInterval:     tmp.RetryMaxInterval,
		RetryMaxAttempts:     tmp.RetryMaxAttempts,
	}

	if cfg.FiatCurrency == "" {
		cfg.FiatCurrency = defaultFiatCurrency
	}
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = defaultSnapshotPath
	}
	if cfg.JournalDir == "" {
		cfg.JournalDir = defaultJournalDir
	}
	if cfg.UpdateInterval == 0 {
		cfg.UpdateInterval = defaultUpdateInterval
	}
	if cfg.DashboardAddr == "" {
		cfg.DashboardAddr = defaultDashboardAddr
	}
	if cfg.RetryInitialInterval == 0 {
		cfg.RetryInitialInterval = defaultRetryInitial
	}
	if cfg.RetryMaxInterval == 0 {
		cfg.RetryMaxInterval = defaultRetryMax
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = defaultRetryAttempts
	}

	return cfg, validate(cfg)
}

func validate(cfg Config) error {
	switch cfg.Platform {
	case "binance", "bybit":
	case "":
		return fmt.Errorf("missing 'platform' param in config")
	default:
		return fmt.Errorf("incorrect 'platform' param in config: %s (must be binance or bybit)", cfg.Platform)
	}

	if cfg.UpdateInterval < 0 {
		return fmt.Errorf("incorrect 'update_interval' param in config: %s", cfg.UpdateInterval)
	}

	return nil
}
