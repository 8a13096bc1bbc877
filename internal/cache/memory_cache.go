package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// MemoryCache реализует DocumentCache в памяти процесса (ristretto).
// Используется, когда Redis не настроен, и как быстрый уровень перед хранилищем.
// Вытеснение по стоимости: стоимость записи равна размеру документа в байтах.
type MemoryCache struct {
	cache       *ristretto.Cache
	config      *CacheConfig
	invalidator CacheInvalidator
	rec         recorder
	closed      atomic.Bool
}

// NewMemoryCache создаёт локальный кеш документов
func NewMemoryCache(config *CacheConfig, invalidator CacheInvalidator) (*MemoryCache, error) {
	if config == nil {
		config = &CacheConfig{}
	}
	config.ApplyDefaults()

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     config.MemoryMaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return &MemoryCache{cache: c, config: config, invalidator: invalidator}, nil
}

// Get получает значение по ключу.
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrCacheClosed
	}
	start := time.Now()
	defer m.rec.recordLatency(start)

	v, ok := m.cache.Get(key)
	if !ok {
		m.rec.miss()
		return nil, ErrCacheMiss
	}
	m.rec.hit()

	data := v.([]byte)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set сохраняет копию значения. Запись становится видимой после обработки буфера ristretto.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if m.closed.Load() {
		return ErrCacheClosed
	}

	data := make([]byte, len(value))
	copy(data, value)
	m.cache.SetWithTTL(key, data, int64(len(data))+1, m.config.ttlFor(ttl))
	m.cache.Wait()
	return nil
}

// Delete удаляет ключ.
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if m.closed.Load() {
		return ErrCacheClosed
	}
	m.cache.Del(key)
	return nil
}

// Invalidate удаляет ключ и уведомляет другие узлы.
func (m *MemoryCache) Invalidate(ctx context.Context, key string) error {
	if err := m.Delete(ctx, key); err != nil {
		return err
	}
	if m.invalidator != nil {
		return m.invalidator.PublishInvalidation(ctx, key)
	}
	return nil
}

// Close освобождает ресурсы кеша.
func (m *MemoryCache) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		m.cache.Close()
	}
	return nil
}

// GetMetrics возвращает текущие метрики кеша.
func (m *MemoryCache) GetMetrics() *CacheMetrics {
	return m.rec.snapshot()
}
