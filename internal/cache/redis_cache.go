package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/atillabyte/World/internal/logging"
)

// RedisCache реализует DocumentCache поверх Redis.
// Несколько процессов синхронизации разделяют один кеш документов; после
// сохранения мира ключ инвалидируется и уведомление расходится по invalidator.
type RedisCache struct {
	client      *redis.Client
	config      *CacheConfig
	invalidator CacheInvalidator
	rec         recorder
}

// NewRedisCache создаёт Redis кеш и проверяет соединение.
//
// Параметры:
//
//	config - конфигурация Redis
//	invalidator - опциональный invalidator для Pub/Sub (может быть nil)
func NewRedisCache(config *CacheConfig, invalidator CacheInvalidator) (*RedisCache, error) {
	config.ApplyDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("Redis cache initialized: %s", config.RedisURL)
	return NewRedisCacheFromClient(rdb, config, invalidator), nil
}

// NewRedisCacheFromClient оборачивает готовый клиент без проверки соединения
func NewRedisCacheFromClient(client *redis.Client, config *CacheConfig, invalidator CacheInvalidator) *RedisCache {
	config.ApplyDefaults()
	return &RedisCache{
		client:      client,
		config:      config,
		invalidator: invalidator,
	}
}

func (r *RedisCache) key(key string) string {
	return r.config.KeyPrefix + key
}

// Get получает значение по ключу из Redis.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	start := time.Now()
	defer r.rec.recordLatency(start)

	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == nil {
		r.rec.hit()
		return val, nil
	}

	r.rec.miss()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	logging.Error("Redis Get error for key %s: %v", key, err)
	return nil, fmt.Errorf("redis get error: %w", err)
}

// Set сохраняет значение в Redis.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	start := time.Now()
	defer r.rec.recordLatency(start)

	if err := r.client.Set(ctx, r.key(key), value, r.config.ttlFor(ttl)).Err(); err != nil {
		logging.Error("Redis Set error for key %s: %v", key, err)
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete удаляет ключ из Redis.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer r.rec.recordLatency(start)

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		logging.Error("Redis Delete error for key %s: %v", key, err)
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Invalidate удаляет ключ и уведомляет другие узлы.
func (r *RedisCache) Invalidate(ctx context.Context, key string) error {
	if err := r.Delete(ctx, key); err != nil {
		return err
	}
	if r.invalidator != nil {
		if err := r.invalidator.PublishInvalidation(ctx, key); err != nil {
			logging.Error("Failed to publish invalidation for key %s: %v", key, err)
		}
	}
	return nil
}

// Close закрывает соединение с Redis.
func (r *RedisCache) Close() error {
	if err := r.client.Close(); err != nil {
		logging.Error("Error closing Redis connection: %v", err)
		return err
	}
	logging.Info("Redis cache closed")
	return nil
}

// GetMetrics возвращает текущие метрики кеша.
func (r *RedisCache) GetMetrics() *CacheMetrics {
	return r.rec.snapshot()
}
