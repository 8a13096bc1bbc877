package cache

import (
	"sync/atomic"
	"time"
)

// recorder собирает метрики попаданий и задержек, общие для всех реализаций кеша
type recorder struct {
	requests int64
	hits     int64
	misses   int64

	latencySum   int64 // в наносекундах
	latencyCount int64
	maxLatency   int64
}

func (r *recorder) hit()  { atomic.AddInt64(&r.requests, 1); atomic.AddInt64(&r.hits, 1) }
func (r *recorder) miss() { atomic.AddInt64(&r.requests, 1); atomic.AddInt64(&r.misses, 1) }

// recordLatency записывает latency метрику.
func (r *recorder) recordLatency(start time.Time) {
	latency := time.Since(start).Nanoseconds()

	atomic.AddInt64(&r.latencySum, latency)
	atomic.AddInt64(&r.latencyCount, 1)

	for {
		current := atomic.LoadInt64(&r.maxLatency)
		if latency <= current || atomic.CompareAndSwapInt64(&r.maxLatency, current, latency) {
			break
		}
	}
}

// snapshot возвращает копию метрик с вычисленными полями
func (r *recorder) snapshot() *CacheMetrics {
	m := &CacheMetrics{
		TotalRequests: atomic.LoadInt64(&r.requests),
		CacheHits:     atomic.LoadInt64(&r.hits),
		CacheMisses:   atomic.LoadInt64(&r.misses),
		LastUpdate:    time.Now(),
	}
	if total := m.CacheHits + m.CacheMisses; total > 0 {
		m.HitRatio = float64(m.CacheHits) / float64(total)
	}
	if count := atomic.LoadInt64(&r.latencyCount); count > 0 {
		m.AvgLatencyMs = float64(atomic.LoadInt64(&r.latencySum)) / float64(count) / 1e6
		m.MaxLatencyMs = float64(atomic.LoadInt64(&r.maxLatency)) / 1e6
	}
	return m
}
