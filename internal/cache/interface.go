package cache

import (
	"context"
	"errors"
	"time"
)

// DocumentCache кеширует сериализованные документы миров.
// Ключ строится через DocumentKey, значение - JSON-документ.
//
// Использование:
//
//	c := NewRedisCache(config, nil)
//	data, err := c.Get(ctx, DocumentKey("worlds", id))
//	err = c.Set(ctx, key, data, 30*time.Second)
//	err = c.Invalidate(ctx, key)
type DocumentCache interface {
	// Get получает значение по ключу.
	// Возвращает ErrCacheMiss если ключ не найден.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение с указанным TTL.
	// TTL = 0 означает TTL по умолчанию из конфигурации.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ только из этого кеша.
	Delete(ctx context.Context, key string) error

	// Invalidate удаляет ключ и рассылает уведомление другим узлам.
	Invalidate(ctx context.Context, key string) error

	// Close закрывает соединение с кешем.
	Close() error

	// GetMetrics возвращает метрики кеша.
	GetMetrics() *CacheMetrics
}

// CacheInvalidator управляет инвалидацией кеша через Pub/Sub.
type CacheInvalidator interface {
	// PublishInvalidation отправляет уведомление об инвалидации.
	PublishInvalidation(ctx context.Context, key string) error

	// SubscribeInvalidations подписывается на уведомления об инвалидации.
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	// Close закрывает соединение.
	Close() error
}

// InvalidationHandler обрабатывает уведомления об инвалидации кеша.
type InvalidationHandler func(key string) error

// CacheMetrics содержит метрики производительности кеша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig содержит конфигурацию для кеша.
type CacheConfig struct {
	// Redis конфигурация
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`

	// TTL настройки
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`

	// Производительность
	MaxConnections int           `yaml:"max_connections"`
	PoolTimeout    time.Duration `yaml:"pool_timeout"`

	// Локальный кеш: максимальный суммарный размер документов в байтах
	MemoryMaxBytes int64 `yaml:"memory_max_bytes"`
}

// ApplyDefaults заполняет незаданные поля значениями по умолчанию
func (c *CacheConfig) ApplyDefaults() {
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 30 * time.Second
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = time.Hour
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = 30 * time.Second
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "worldsync:"
	}
	if c.MemoryMaxBytes == 0 {
		c.MemoryMaxBytes = 64 << 20
	}
}

// ttlFor ограничивает TTL пределами конфигурации
func (c *CacheConfig) ttlFor(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.DefaultTTL
	}
	if c.MaxTTL > 0 && ttl > c.MaxTTL {
		ttl = c.MaxTTL
	}
	return ttl
}

// DocumentKey строит ключ кеша для документа коллекции
func DocumentKey(collection, id string) string {
	return collection + "/" + id
}

// Ошибки кеша
var (
	ErrCacheMiss   = NewCacheError("cache miss")
	ErrInvalidKey  = NewCacheError("invalid key")
	ErrCacheClosed = NewCacheError("cache closed")
)

// CacheError представляет ошибку кеша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
