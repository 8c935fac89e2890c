package nlp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/detect"
)

// CacheConfig configures the Redis-backed detection cache.
type CacheConfig struct {
	RedisURL       string
	TTL            time.Duration
	KeyPrefix      string
	MaxConnections int
	MinIdleConns   int
}

// DetectionCache keys recogniser results by a hash of the block content, so
// repeated runs over similar documents skip the remote call entirely.
type DetectionCache struct {
	client *redis.Client
	config *CacheConfig
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewDetectionCache connects to Redis and verifies the connection.
func NewDetectionCache(config *CacheConfig, logger *zap.Logger) (*DetectionCache, error) {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "docmask:nlp"
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}

	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	cache := &DetectionCache{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cache.client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("detection cache initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Duration("ttl", config.TTL))
	return cache, nil
}

// Get returns the cached detections for a block's content. Block IDs are
// not stored; the caller rebinds them.
func (dc *DetectionCache) Get(ctx context.Context, blockText string) ([]detect.Detection, bool) {
	key := dc.key(blockText)

	data, err := dc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		dc.misses.Add(1)
		return nil, false
	} else if err != nil {
		dc.logger.Debug("cache lookup failed", zap.Error(err))
		return nil, false
	}

	var cached []detect.Detection
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		dc.logger.Warn("dropping corrupted cache entry", zap.String("key", key))
		dc.client.Del(ctx, key)
		dc.misses.Add(1)
		return nil, false
	}

	dc.hits.Add(1)
	return cached, true
}

// Store caches a block's detections under its content hash.
func (dc *DetectionCache) Store(ctx context.Context, blockText string, detections []detect.Detection) error {
	stored := make([]detect.Detection, len(detections))
	copy(stored, detections)
	for i := range stored {
		stored[i].BlockID = ""
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal detections for caching: %w", err)
	}

	if err := dc.client.Set(ctx, dc.key(blockText), data, dc.config.TTL).Err(); err != nil {
		return fmt.Errorf("cache detections: %w", err)
	}
	return nil
}

// Stats returns the hit and miss counters.
func (dc *DetectionCache) Stats() (hits, misses int64) {
	return dc.hits.Load(), dc.misses.Load()
}

// Close closes the Redis connection.
func (dc *DetectionCache) Close() error {
	if dc.client != nil {
		return dc.client.Close()
	}
	return nil
}

// key hashes block content into a stable cache key.
func (dc *DetectionCache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:blk:%s", dc.config.KeyPrefix, hex.EncodeToString(sum[:])[:16])
}

// maskRedisURL masks credentials in a Redis URL for logging.
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
