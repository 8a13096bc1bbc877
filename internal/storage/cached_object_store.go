package storage

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/atillabyte/World/internal/cache"
	"github.com/atillabyte/World/internal/logging"
	"github.com/atillabyte/World/internal/object"
)

// CachedObjectStore добавляет к хранилищу кеш документов (read-through).
// Одновременные загрузки одного документа объединяются в один запрос.
//
// После сохранения мира на сервере синхронизация обязана прочитать свежий документ,
// поэтому она вызывает Invalidate перед перезагрузкой либо работает с Fresh().
type CachedObjectStore struct {
	store ObjectStore
	cache cache.DocumentCache
	ttl   time.Duration
	group singleflight.Group
}

// NewCachedObjectStore оборачивает store кешем c
func NewCachedObjectStore(store ObjectStore, c cache.DocumentCache, ttl time.Duration) *CachedObjectStore {
	return &CachedObjectStore{store: store, cache: c, ttl: ttl}
}

// LoadObject возвращает документ из кеша или из хранилища
func (s *CachedObjectStore) LoadObject(ctx context.Context, collection, id string) (*object.Object, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	key := cache.DocumentKey(collection, id)

	if data, err := s.cache.Get(ctx, key); err == nil {
		doc, perr := object.ParseJSON(data)
		if perr == nil {
			return doc, nil
		}
		logging.GetStoreLogger().Warn("Повреждённая запись кеша %s: %v", key, perr)
		_ = s.cache.Delete(ctx, key)
	} else if !cache.IsCacheMiss(err) {
		logging.GetStoreLogger().Warn("Ошибка кеша для %s: %v", key, err)
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		doc, err := s.store.LoadObject(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		if data, merr := doc.MarshalJSON(); merr == nil {
			if serr := s.cache.Set(ctx, key, data, s.ttl); serr != nil {
				logging.GetStoreLogger().Warn("Не удалось записать %s в кеш: %v", key, serr)
			}
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*object.Object).Clone(), nil
}

// Invalidate сбрасывает документ в кеше (и на других узлах, если настроен invalidator)
func (s *CachedObjectStore) Invalidate(ctx context.Context, collection, id string) error {
	if err := s.cache.Invalidate(ctx, cache.DocumentKey(collection, id)); err != nil {
		return fmt.Errorf("инвалидация %s/%s: %w", collection, id, err)
	}
	return nil
}

// Fresh возвращает хранилище без кеша
func (s *CachedObjectStore) Fresh() ObjectStore {
	return s.store
}

// Invalidator - хранилище с кешем, который можно сбросить для документа
type Invalidator interface {
	Invalidate(ctx context.Context, collection, id string) error
}
