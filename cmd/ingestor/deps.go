package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/daveintdbn/futures-ingest/config"
	"github.com/daveintdbn/futures-ingest/internal/cache"
	"github.com/daveintdbn/futures-ingest/internal/exchange"
	"github.com/daveintdbn/futures-ingest/internal/market"
	"github.com/daveintdbn/futures-ingest/internal/resilience"
	"github.com/daveintdbn/futures-ingest/internal/storage"
)

// deps bundles every long-lived component a subcommand needs, built once
// from the loaded Config. Tracker and the breaker Registry are explicitly
// constructed here and threaded through, per spec §9's "avoid hidden
// process-wide mutable state accessed by name."
type deps struct {
	cfg       *config.Config
	tracker   *resilience.Tracker
	breakers  *resilience.Registry
	driver    storage.Driver
	cacheImpl cache.Cache // nil if unconfigured
	client    exchange.Client
	validator *market.Validator
}

// credentials loaded from .env (API_KEY / API_SECRET), per SPEC_FULL.md's
// ambient-stack wiring of the teacher's unused godotenv dependency.
func loadCredentials() (apiKey, apiSecret string) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error
	return os.Getenv("API_KEY"), os.Getenv("API_SECRET")
}

func buildDeps(cfg *config.Config) (*deps, error) {
	tracker := resilience.NewTracker(nil)
	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Resilience.Breaker.RecoveryTimeout,
	})

	driver, err := buildStorage(cfg)
	if err != nil {
		return nil, storageErr(err)
	}

	var c cache.Cache
	if cfg.Cache.Host != "" {
		c = cache.NewRedisCache(cache.Config{
			Addr:     fmt.Sprintf("%s:%d", cfg.Cache.Host, cfg.Cache.Port),
			DB:       cfg.Cache.DB,
			TTL:      cfg.Cache.TTL,
			PoolSize: cfg.Cache.PoolSize,
		})
	}

	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxRetries:   cfg.Resilience.Retry.MaxRetries,
		InitialDelay: cfg.Resilience.Retry.InitialDelay,
		MaxDelay:     cfg.Resilience.Retry.MaxDelay,
		Base:         2.0,
		Jitter:       true,
	})

	apiKey, _ := loadCredentials() // API_SECRET is unused: spec requires no auth beyond a static credential

	client := exchange.NewFullClient(exchange.RESTClientConfig{
		BaseURL:  cfg.ExchangeBaseURL,
		APIKey:   apiKey,
		Limiter:  resilience.NewLimiter(1200),
		Breakers: breakers,
		Retry:    retry,
		Tracker:  tracker,
	}, cfg.ExchangeWSURL)

	return &deps{
		cfg:       cfg,
		tracker:   tracker,
		breakers:  breakers,
		driver:    driver,
		cacheImpl: c,
		client:    client,
		validator: market.NewValidator(),
	}, nil
}

func buildStorage(cfg *config.Config) (storage.Driver, error) {
	switch cfg.DatabaseType {
	case config.DatabaseRelational:
		return storage.NewRelationalDriver(storage.RelationalConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
		}), nil
	case config.DatabaseCloudDoc:
		return storage.NewCloudDocDriver(storage.CloudDocConfig{
			Region: cfg.Cloud.Region,
			Table:  cfg.Cloud.Table,
		}), nil
	case config.DatabaseEmbeddedFile, "":
		path := cfg.Embedded.Path
		if path == "" {
			path = "ingest.db"
		}
		return storage.NewEmbeddedDriver(path), nil
	default:
		return nil, fmt.Errorf("unknown database_type %q", cfg.DatabaseType)
	}
}

func (d *deps) Close() {
	if d.driver != nil {
		_ = d.driver.Close()
	}
	if d.cacheImpl != nil {
		_ = d.cacheImpl.Close()
	}
}

// withTimeout returns a context bounded by the spec's default 30s I/O
// timeout, cancellable by the parent (e.g. signal-driven shutdown).
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 30*time.Second)
}
