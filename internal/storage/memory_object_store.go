package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atillabyte/World/internal/object"
)

// MemoryObjectStore реализует ObjectSaver в памяти.
// Используется в тестах и демонстрациях вместо удалённого хранилища.
// ВНИМАНИЕ: Данные теряются при перезапуске!
type MemoryObjectStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*object.Object // коллекция -> ключ -> документ
	hook func(collection, id string)
	loads int
}

// NewMemoryObjectStore создает новое хранилище в памяти.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		data: make(map[string]map[string]*object.Object),
	}
}

// OnLoad задаёт хук, вызываемый перед каждой загрузкой (для тестов)
func (s *MemoryObjectStore) OnLoad(fn func(collection, id string)) {
	s.mu.Lock()
	s.hook = fn
	s.mu.Unlock()
}

// LoadObject возвращает поверхностную копию документа.
func (s *MemoryObjectStore) LoadObject(ctx context.Context, collection, id string) (*object.Object, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	hook := s.hook
	s.loads++
	s.mu.Unlock()
	if hook != nil {
		hook(collection, id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.data[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrObjectNotFound)
	}
	return doc.Clone(), nil
}

// SaveObject сохраняет копию документа.
func (s *MemoryObjectStore) SaveObject(ctx context.Context, collection, id string, doc *object.Object) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.data[collection]
	if !ok {
		coll = make(map[string]*object.Object)
		s.data[collection] = coll
	}
	coll[id] = doc.Clone()
	return nil
}

// ListObjects возвращает ключи коллекции в алфавитном порядке.
func (s *MemoryObjectStore) ListObjects(ctx context.Context, collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data[collection]))
	for id := range s.data[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Loads возвращает число вызовов LoadObject.
func (s *MemoryObjectStore) Loads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loads
}
