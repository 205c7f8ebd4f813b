package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"go-menu-annotator/internal/logger"
	"go-menu-annotator/pkg/models"
)

// ObservationCache stores detection results keyed by image content.
type ObservationCache interface {
	Get(ctx context.Context, key string) ([]models.TextObservation, bool, error)
	Set(ctx context.Context, key string, observations []models.TextObservation) error
}

// RedisObservationCache keeps JSON encoded observations in Redis with a TTL.
type RedisObservationCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisObservationCache connects to redisURL and verifies the connection.
func NewRedisObservationCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisObservationCache, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisObservationCache{client: client, ttl: ttl}, nil
}

func (c *RedisObservationCache) Get(ctx context.Context, key string) ([]models.TextObservation, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var observations []models.TextObservation
	if err := json.Unmarshal(data, &observations); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return observations, true, nil
}

func (c *RedisObservationCache) Set(ctx context.Context, key string, observations []models.TextObservation) error {
	data, err := json.Marshal(observations)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Close releases the Redis connection pool.
func (c *RedisObservationCache) Close() error {
	return c.client.Close()
}

// CachingDetector serves repeated detections of the same image from a cache.
// Cache errors are logged and never fail a detection.
type CachingDetector struct {
	next      TextDetector
	cache     ObservationCache
	namespace string
}

// NewCachingDetector wraps next. namespace separates engine configurations.
func NewCachingDetector(next TextDetector, cache ObservationCache, namespace string) *CachingDetector {
	return &CachingDetector{next: next, cache: cache, namespace: namespace}
}

func (d *CachingDetector) key(img models.CapturedImage) string {
	return fmt.Sprintf("menu:observations:%s:%s", d.namespace, img.Digest())
}

func (d *CachingDetector) Detect(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
	if err := checkImage(img); err != nil {
		return nil, err
	}
	key := d.key(img)

	observations, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		logger.WithError(err).WithField("key", key).Warn("Observation cache read failed")
	}
	if ok {
		logger.WithFields(logrus.Fields{
			"key":          key,
			"observations": len(observations),
		}).Debug("Observation cache hit")
		return observations, nil
	}

	observations, err = d.next.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	if err := d.cache.Set(ctx, key, observations); err != nil {
		logger.WithError(err).WithField("key", key).Warn("Observation cache write failed")
	}
	return observations, nil
}
