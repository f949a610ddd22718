// Package config loads and persists the ingestion core's configuration:
// which storage/cache backends to dial, which symbols/streams to collect,
// and the resilience defaults the Retry Policy and Circuit Breaker Registry
// start from.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DatabaseType selects one of the three Storage Driver variants.
type DatabaseType string

const (
	DatabaseRelational   DatabaseType = "relational"
	DatabaseEmbeddedFile DatabaseType = "embedded_file"
	DatabaseCloudDoc     DatabaseType = "cloud_doc"
)

// DatabaseConfig holds the relational variant's connection parameters.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// EmbeddedConfig holds the embedded single-file variant's parameters.
type EmbeddedConfig struct {
	Path string `json:"path"`
}

// CloudConfig holds the cloud document-store variant's parameters.
// Region and Table are an implementation detail of the DynamoDB binding (see
// DESIGN.md); CredentialsPath and URL are the canonical spec keys.
type CloudConfig struct {
	CredentialsPath string `json:"credentials_path"`
	URL             string `json:"url"`
	Region          string `json:"region"`
	Table           string `json:"table"`
}

// CacheConfig holds the optional TTL cache's connection parameters.
type CacheConfig struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	TTL      time.Duration `json:"ttl"`
}

// CollectionConfig names what to collect and at what cadence.
type CollectionConfig struct {
	Symbols         []string      `json:"symbols"`
	Timeframes      []string      `json:"timeframes"`
	OIPeriods       []string      `json:"oi_periods"`
	HistoricalDays  int           `json:"historical_days"`
	BatchSize       int           `json:"batch_size"`
	WSBatchSize     int           `json:"ws_batch_size"`
	WSBatchInterval time.Duration `json:"ws_batch_interval"`
}

// RetryConfig mirrors resilience.RetryConfig's canonical keys.
type RetryConfig struct {
	MaxRetries   int           `json:"max_retries"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
}

// BreakerConfig mirrors resilience.BreakerConfig's canonical keys.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}

// ResilienceConfig groups the retry and breaker defaults new Exchange Client
// instances are built from.
type ResilienceConfig struct {
	Retry   RetryConfig   `json:"retry"`
	Breaker BreakerConfig `json:"breaker"`
}

// Config is the full canonical configuration surface from spec §6.
type Config struct {
	DatabaseType DatabaseType     `json:"database_type"`
	Database     DatabaseConfig   `json:"database"`
	Embedded     EmbeddedConfig   `json:"embedded"`
	Cloud        CloudConfig      `json:"cloud"`
	Cache        CacheConfig      `json:"cache"`
	Collection   CollectionConfig `json:"collection"`
	Resilience   ResilienceConfig `json:"resilience"`

	ExchangeBaseURL string `json:"exchange_base_url"`
	ExchangeWSURL   string `json:"exchange_ws_url"`
}

// Default returns a Config populated with the spec's stated defaults.
func Default() *Config {
	return &Config{
		DatabaseType: DatabaseEmbeddedFile,
		Embedded:     EmbeddedConfig{Path: "ingest.db"},
		Cache:        CacheConfig{Host: "localhost", Port: 6379, PoolSize: 50},
		Collection: CollectionConfig{
			Symbols:         []string{"BTCUSDT"},
			Timeframes:      []string{"1m", "5m", "1h"},
			OIPeriods:       []string{"5m"},
			HistoricalDays:  30,
			BatchSize:       1000,
			WSBatchSize:     10,
			WSBatchInterval: 100 * time.Millisecond,
		},
		Resilience: ResilienceConfig{
			Retry:   RetryConfig{MaxRetries: 5, InitialDelay: 200 * time.Millisecond, MaxDelay: 30 * time.Second},
			Breaker: BreakerConfig{FailureThreshold: 10, RecoveryTimeout: 120 * time.Second},
		},
		ExchangeBaseURL: "https://fapi.binance.com",
		ExchangeWSURL:   "wss://fstream.binance.com",
	}
}

// StateStore persists and retrieves Config.
type StateStore interface {
	LoadConfig() (*Config, error)
	SaveConfig(*Config) error
}

// JSONStateStore implements StateStore backed by a JSON file on disk.
type JSONStateStore struct {
	Path string
}

// NewStateStore returns a StateStore backed by the given file path.
func NewStateStore(path string) *JSONStateStore {
	return &JSONStateStore{Path: path}
}

// rawConfig mirrors Config but with every time.Duration field as a string,
// so the on-disk JSON reads "200ms" / "30s" rather than a bare integer of
// nanoseconds.
type rawConfig struct {
	DatabaseType DatabaseType   `json:"database_type"`
	Database     DatabaseConfig `json:"database"`
	Embedded     EmbeddedConfig `json:"embedded"`
	Cloud        CloudConfig    `json:"cloud"`
	Cache        struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		DB       int    `json:"db"`
		PoolSize int    `json:"pool_size"`
		TTL      string `json:"ttl"`
	} `json:"cache"`
	Collection struct {
		Symbols         []string `json:"symbols"`
		Timeframes      []string `json:"timeframes"`
		OIPeriods       []string `json:"oi_periods"`
		HistoricalDays  int      `json:"historical_days"`
		BatchSize       int      `json:"batch_size"`
		WSBatchSize     int      `json:"ws_batch_size"`
		WSBatchInterval string   `json:"ws_batch_interval"`
	} `json:"collection"`
	Resilience struct {
		Retry struct {
			MaxRetries   int    `json:"max_retries"`
			InitialDelay string `json:"initial_delay"`
			MaxDelay     string `json:"max_delay"`
		} `json:"retry"`
		Breaker struct {
			FailureThreshold int    `json:"failure_threshold"`
			RecoveryTimeout  string `json:"recovery_timeout"`
		} `json:"breaker"`
	} `json:"resilience"`
	ExchangeBaseURL string `json:"exchange_base_url"`
	ExchangeWSURL   string `json:"exchange_ws_url"`
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// LoadConfig reads and unmarshals the config JSON file.
func (s *JSONStateStore) LoadConfig() (*Config, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", s.Path, err)
	}
	var r rawConfig
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", s.Path, err)
	}

	cfg := &Config{
		DatabaseType:    r.DatabaseType,
		Database:        r.Database,
		Embedded:        r.Embedded,
		Cloud:           r.Cloud,
		ExchangeBaseURL: r.ExchangeBaseURL,
		ExchangeWSURL:   r.ExchangeWSURL,
	}
	cfg.Cache.Host, cfg.Cache.Port, cfg.Cache.DB, cfg.Cache.PoolSize = r.Cache.Host, r.Cache.Port, r.Cache.DB, r.Cache.PoolSize
	if cfg.Cache.TTL, err = parseDuration(r.Cache.TTL, 0); err != nil {
		return nil, fmt.Errorf("cache.ttl: %w", err)
	}

	cfg.Collection.Symbols = r.Collection.Symbols
	cfg.Collection.Timeframes = r.Collection.Timeframes
	cfg.Collection.OIPeriods = r.Collection.OIPeriods
	cfg.Collection.HistoricalDays = r.Collection.HistoricalDays
	cfg.Collection.BatchSize = r.Collection.BatchSize
	cfg.Collection.WSBatchSize = r.Collection.WSBatchSize
	if cfg.Collection.WSBatchInterval, err = parseDuration(r.Collection.WSBatchInterval, 100*time.Millisecond); err != nil {
		return nil, fmt.Errorf("collection.ws_batch_interval: %w", err)
	}

	cfg.Resilience.Retry.MaxRetries = r.Resilience.Retry.MaxRetries
	if cfg.Resilience.Retry.InitialDelay, err = parseDuration(r.Resilience.Retry.InitialDelay, 200*time.Millisecond); err != nil {
		return nil, fmt.Errorf("resilience.retry.initial_delay: %w", err)
	}
	if cfg.Resilience.Retry.MaxDelay, err = parseDuration(r.Resilience.Retry.MaxDelay, 30*time.Second); err != nil {
		return nil, fmt.Errorf("resilience.retry.max_delay: %w", err)
	}
	cfg.Resilience.Breaker.FailureThreshold = r.Resilience.Breaker.FailureThreshold
	if cfg.Resilience.Breaker.RecoveryTimeout, err = parseDuration(r.Resilience.Breaker.RecoveryTimeout, 120*time.Second); err != nil {
		return nil, fmt.Errorf("resilience.breaker.recovery_timeout: %w", err)
	}
	return cfg, nil
}

// SaveConfig marshals and writes cfg back to the JSON file, with every
// time.Duration rendered as its string form.
func (s *JSONStateStore) SaveConfig(cfg *Config) error {
	var r rawConfig
	r.DatabaseType = cfg.DatabaseType
	r.Database = cfg.Database
	r.Embedded = cfg.Embedded
	r.Cloud = cfg.Cloud
	r.ExchangeBaseURL = cfg.ExchangeBaseURL
	r.ExchangeWSURL = cfg.ExchangeWSURL

	r.Cache.Host, r.Cache.Port, r.Cache.DB, r.Cache.PoolSize = cfg.Cache.Host, cfg.Cache.Port, cfg.Cache.DB, cfg.Cache.PoolSize
	r.Cache.TTL = cfg.Cache.TTL.String()

	r.Collection.Symbols = cfg.Collection.Symbols
	r.Collection.Timeframes = cfg.Collection.Timeframes
	r.Collection.OIPeriods = cfg.Collection.OIPeriods
	r.Collection.HistoricalDays = cfg.Collection.HistoricalDays
	r.Collection.BatchSize = cfg.Collection.BatchSize
	r.Collection.WSBatchSize = cfg.Collection.WSBatchSize
	r.Collection.WSBatchInterval = cfg.Collection.WSBatchInterval.String()

	r.Resilience.Retry.MaxRetries = cfg.Resilience.Retry.MaxRetries
	r.Resilience.Retry.InitialDelay = cfg.Resilience.Retry.InitialDelay.String()
	r.Resilience.Retry.MaxDelay = cfg.Resilience.Retry.MaxDelay.String()
	r.Resilience.Breaker.FailureThreshold = cfg.Resilience.Breaker.FailureThreshold
	r.Resilience.Breaker.RecoveryTimeout = cfg.Resilience.Breaker.RecoveryTimeout.String()

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(s.Path, data, 0644)
}
