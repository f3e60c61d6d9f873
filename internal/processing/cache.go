package processing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zombor/invoice-checker/internal/invoice"
)

// VerdictCache remembers verdicts by the hash of the record they were
// computed from. Validation is pure, so a hit is always current.
type VerdictCache interface {
	Get(ctx context.Context, key string) (invoice.Verdict, bool, error)
	Set(ctx context.Context, key string, verdict invoice.Verdict) error
	Close() error
}

// cacheKey hashes record bytes into a cache key
func cacheKey(record []byte) string {
	sum := sha256.Sum256(record)
	return hex.EncodeToString(sum[:])
}

// redisKV is the subset of *redis.Client the cache needs
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisVerdictCache stores verdicts as JSON strings with a TTL
type RedisVerdictCache struct {
	client redisKV
	ttl    time.Duration
	prefix string
}

// NewRedisVerdictCache connects lazily; the first command dials
func NewRedisVerdictCache(addr, password string, db int, ttl time.Duration) (*RedisVerdictCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return newRedisVerdictCache(client, ttl), nil
}

func newRedisVerdictCache(client redisKV, ttl time.Duration) *RedisVerdictCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisVerdictCache{client: client, ttl: ttl, prefix: "invoice_verdict"}
}

func (c *RedisVerdictCache) key(k string) string {
	return c.prefix + ":" + k
}

func (c *RedisVerdictCache) Get(ctx context.Context, key string) (invoice.Verdict, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return invoice.Verdict{}, false, nil
	}
	if err != nil {
		return invoice.Verdict{}, false, fmt.Errorf("getting cached verdict: %w", err)
	}
	var v invoice.Verdict
	if err := json.Unmarshal(val, &v); err != nil {
		return invoice.Verdict{}, false, fmt.Errorf("decoding cached verdict: %w", err)
	}
	return v, true, nil
}

func (c *RedisVerdictCache) Set(ctx context.Context, key string, verdict invoice.Verdict) error {
	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("encoding verdict: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching verdict: %w", err)
	}
	return nil
}

func (c *RedisVerdictCache) Close() error {
	return c.client.Close()
}
