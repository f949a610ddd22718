// Package cache provides a latest-value store in front of the Storage
// Driver: the streaming collector updates the cache after each successful
// kline and mark-price flush so consumers can read the newest sample without
// hitting the database. Liquidation flushes and historical backfill do not
// touch the cache.
package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daveintdbn/futures-ingest/internal/market"
)

// Cache is the keyed latest-value store the streaming collector writes through. Per
// spec §4.9 it exposes set/get plus their multi-key batch equivalents;
// values are binary-serialized (gob) rather than text-encoded for
// efficiency.
type Cache interface {
	Set(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, out interface{}) (bool, error)
	SetMulti(ctx context.Context, items map[string]interface{}, ttl time.Duration) error
	GetMulti(ctx context.Context, keys []string, out map[string]interface{}) (map[string]bool, error)

	SetCandle(ctx context.Context, symbol, timeframe string, c market.Candle) error
	GetCandle(ctx context.Context, symbol, timeframe string) (market.Candle, bool, error)

	SetOrderBook(ctx context.Context, symbol string, snap market.OrderBookSnapshot) error
	GetOrderBook(ctx context.Context, symbol string) (market.OrderBookSnapshot, bool, error)

	SetFundingRate(ctx context.Context, symbol string, fr market.FundingRate) error
	GetFundingRate(ctx context.Context, symbol string) (market.FundingRate, bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// Config holds the connection parameters for the canonical cache.* config keys.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // 0 disables expiry
	PoolSize int           // default 50, per the concurrency model's connection-pool budget
}

// RedisCache is the default Cache implementation, keyed "<kind>:<symbol>[:<timeframe>]".
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache dials (lazily, go-redis connects on first use) a Redis
// instance per cfg.
func NewRedisCache(cfg Config) *RedisCache {
	poolSize := cfg.PoolSize
	if poolSize == 0 {
		poolSize = 50
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})
	return &RedisCache{client: client, ttl: cfg.TTL}
}

func candleKey(symbol, timeframe string) string {
	return fmt.Sprintf("candle:%s:%s", market.SanitizePathKey(symbol), timeframe)
}

func bookKey(symbol string) string {
	return fmt.Sprintf("book:%s", market.SanitizePathKey(symbol))
}

func fundingKey(symbol string) string {
	return fmt.Sprintf("funding:%s", market.SanitizePathKey(symbol))
}

// encodeGob binary-serializes v for storage; gob (rather than a text codec
// like JSON) keeps encoded values compact and cheap to decode on the hot
// read path.
func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob-encode cache value: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, out interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		return fmt.Errorf("gob-decode cache value: %w", err)
	}
	return nil
}

// Set stores v under key with the given ttl (0 uses the cache's default TTL).
func (c *RedisCache) Set(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := encodeGob(v)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the value stored under key into out. The bool return is false
// (with a nil error) on a cache miss.
func (c *RedisCache) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	if err := decodeGob(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// SetMulti stores every item in items, each with ttl (0 uses the cache's
// default TTL). go-redis has no per-key-TTL MSET, so each Set is pipelined
// into one round trip.
func (c *RedisCache) SetMulti(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	pipe := c.client.Pipeline()
	for key, v := range items {
		data, err := encodeGob(v)
		if err != nil {
			return err
		}
		pipe.Set(ctx, key, data, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetMulti fetches every key in keys and decodes found values into out
// (caller supplies one pre-typed zero-value pointer per key it cares about;
// keys absent from out are skipped). The returned map reports which keys
// were present in the cache.
func (c *RedisCache) GetMulti(ctx context.Context, keys []string, out map[string]interface{}) (map[string]bool, error) {
	pipe := c.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(keys))
	for _, key := range keys {
		cmds[key] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	found := make(map[string]bool, len(keys))
	for _, key := range keys {
		data, err := cmds[key].Bytes()
		if err != nil {
			found[key] = false
			continue
		}
		dst, ok := out[key]
		if !ok {
			found[key] = true
			continue
		}
		if err := decodeGob(data, dst); err != nil {
			return nil, err
		}
		found[key] = true
	}
	return found, nil
}

func (c *RedisCache) SetCandle(ctx context.Context, symbol, timeframe string, cn market.Candle) error {
	return c.Set(ctx, candleKey(symbol, timeframe), cn, 0)
}

func (c *RedisCache) GetCandle(ctx context.Context, symbol, timeframe string) (market.Candle, bool, error) {
	var cn market.Candle
	ok, err := c.Get(ctx, candleKey(symbol, timeframe), &cn)
	return cn, ok, err
}

func (c *RedisCache) SetOrderBook(ctx context.Context, symbol string, snap market.OrderBookSnapshot) error {
	return c.Set(ctx, bookKey(symbol), snap, 0)
}

func (c *RedisCache) GetOrderBook(ctx context.Context, symbol string) (market.OrderBookSnapshot, bool, error) {
	var snap market.OrderBookSnapshot
	ok, err := c.Get(ctx, bookKey(symbol), &snap)
	return snap, ok, err
}

func (c *RedisCache) SetFundingRate(ctx context.Context, symbol string, fr market.FundingRate) error {
	return c.Set(ctx, fundingKey(symbol), fr, 0)
}

func (c *RedisCache) GetFundingRate(ctx context.Context, symbol string) (market.FundingRate, bool, error) {
	var fr market.FundingRate
	ok, err := c.Get(ctx, fundingKey(symbol), &fr)
	return fr, ok, err
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
