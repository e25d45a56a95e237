// Package redis provides a Redis read-through cache in front of another
// store. Only threshold models are cached; audit records go straight to the
// underlying store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/store"
	"github.com/phoenix4ge/censor/threshold"
)

const modelKeyPattern = "%smodel:%s"

// Config holds the cache configuration.
type Config struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Addr:      "127.0.0.1:6379",
		TTL:       5 * time.Minute,
		KeyPrefix: "censor:",
	}
}

// NewClient creates a Redis client from the configuration.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Cache wraps a store with a model cache. Redis errors are logged and the
// call falls through to the underlying store.
type Cache struct {
	store.Store

	client redis.Cmdable
	ttl    time.Duration
	prefix string
	log    logrus.FieldLogger
}

// New creates a cache in front of next.
func New(next store.Store, client redis.Cmdable, cfg Config) *Cache {
	return &Cache{
		Store:  next,
		client: client,
		ttl:    cfg.TTL,
		prefix: cfg.KeyPrefix,
		log:    logrus.StandardLogger().WithField("component", "censor.cache"),
	}
}

// WithLogger replaces the logger.
func (c *Cache) WithLogger(l logrus.FieldLogger) *Cache {
	c.log = l
	return c
}

func (c *Cache) modelKey(uc censor.UsageContext) string {
	return fmt.Sprintf(modelKeyPattern, c.prefix, uc)
}

// GetModel returns the cached model, loading it from the store on a miss.
func (c *Cache) GetModel(ctx context.Context, uc censor.UsageContext) (*store.ModelRecord, error) {
	key := c.modelKey(uc)

	data, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var rec store.ModelRecord
		if err := json.Unmarshal([]byte(data), &rec); err == nil {
			return &rec, nil
		}
		c.log.WithField("key", key).Warn("dropping undecodable cache entry")
		c.client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		c.log.WithError(err).WithField("key", key).Warn("model cache read failed")
	}

	rec, err := c.Store.GetModel(ctx, uc)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, rec)
	return rec, nil
}

// SaveModel writes through to the store and refreshes the cache entry.
func (c *Cache) SaveModel(ctx context.Context, uc censor.UsageContext, model threshold.Model, actor string) (*store.ModelRecord, error) {
	rec, err := c.Store.SaveModel(ctx, uc, model, actor)
	if err != nil {
		return nil, err
	}
	c.set(ctx, c.modelKey(uc), rec)
	return rec, nil
}

// Invalidate drops the cached model of a context.
func (c *Cache) Invalidate(ctx context.Context, uc censor.UsageContext) error {
	return c.client.Del(ctx, c.modelKey(uc)).Err()
}

// set caches a record. A failed write deletes the key so a stale model is
// never served after a save.
func (c *Cache) set(ctx context.Context, key string, rec *store.ModelRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, string(data), c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("model cache write failed")
		c.client.Del(ctx, key)
	}
}

// Ping checks both Redis and the underlying store.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return c.Store.Ping(ctx)
}

var _ store.Store = (*Cache)(nil)
