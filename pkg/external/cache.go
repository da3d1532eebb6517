package external

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/domain"
)

// NewRedisClient connects to Redis using the cache configuration.
func NewRedisClient(config domain.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisLikelihoodCache is a read-through Redis cache in front of a likelihood source. Keys
// are scoped by namespace (the source's frequency set) and by the requested nomenclature
// version, so caches for different reference data never collide. Redis failures degrade to
// the wrapped source.
type RedisLikelihoodCache struct {
	redis     *redis.Client
	source    domain.LikelihoodSource
	namespace string
	ttl       time.Duration
	logger    *logrus.Logger
}

// cachedLikelihood represents a cached likelihood with metadata
type cachedLikelihood struct {
	Genotype   string                    `json:"genotype"`
	Version    string                    `json:"hla_nomenclature_version"`
	Likelihood domain.GenotypeLikelihood `json:"likelihood"`
	CachedAt   time.Time                 `json:"cached_at"`
}

// NewRedisLikelihoodCache wraps source with a Redis cache.
func NewRedisLikelihoodCache(client *redis.Client, source domain.LikelihoodSource, namespace string, ttl time.Duration, logger *logrus.Logger) *RedisLikelihoodCache {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLikelihoodCache{
		redis:     client,
		source:    source,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
	}
}

// GenotypeLikelihood returns the cached likelihood, looking it up on a miss.
func (c *RedisLikelihoodCache) GenotypeLikelihood(ctx context.Context, genotype domain.Genotype, hlaNomenclatureVersion string) (domain.GenotypeLikelihood, error) {
	key := c.key(genotype, hlaNomenclatureVersion)

	if cached, found, err := c.get(ctx, key, genotype, hlaNomenclatureVersion); err != nil {
		c.warn(err, "Likelihood cache read failed")
	} else if found {
		return cached, nil
	}

	likelihood, err := c.source.GenotypeLikelihood(ctx, genotype, hlaNomenclatureVersion)
	if err != nil {
		return likelihood, err
	}

	if err := c.set(ctx, key, genotype, hlaNomenclatureVersion, likelihood); err != nil {
		c.warn(err, "Likelihood cache write failed")
	}
	return likelihood, nil
}

func (c *RedisLikelihoodCache) get(ctx context.Context, key string, genotype domain.Genotype, version string) (domain.GenotypeLikelihood, bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.GenotypeLikelihood{}, false, nil
	}
	if err != nil {
		return domain.GenotypeLikelihood{}, false, fmt.Errorf("failed to get likelihood cache: %w", err)
	}

	var cached cachedLikelihood
	if err := json.Unmarshal([]byte(val), &cached); err != nil || cached.Genotype != genotype.String() || cached.Version != version {
		// Corrupted or colliding entry
		c.redis.Del(ctx, key)
		return domain.GenotypeLikelihood{}, false, nil
	}
	return cached.Likelihood, true, nil
}

func (c *RedisLikelihoodCache) set(ctx context.Context, key string, genotype domain.Genotype, version string, likelihood domain.GenotypeLikelihood) error {
	data, err := json.Marshal(cachedLikelihood{
		Genotype:   genotype.String(),
		Version:    version,
		Likelihood: likelihood,
		CachedAt:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal likelihood cache data: %w", err)
	}
	return c.redis.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate removes every cached likelihood in this cache's namespace.
func (c *RedisLikelihoodCache) Invalidate(ctx context.Context) error {
	var cursor uint64
	pattern := fmt.Sprintf("likelihood:%s:*", c.namespace)
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping checks if Redis connection is alive
func (c *RedisLikelihoodCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisLikelihoodCache) Close() error {
	return c.redis.Close()
}

// key hashes the genotype into a namespaced, versioned cache key.
func (c *RedisLikelihoodCache) key(genotype domain.Genotype, version string) string {
	hash := sha256.Sum256([]byte(genotype.String()))
	return fmt.Sprintf("likelihood:%s:%s:%x", c.namespace, version, hash[:16])
}

func (c *RedisLikelihoodCache) warn(err error, msg string) {
	if c.logger != nil {
		c.logger.WithError(err).Warn(msg)
	}
}
