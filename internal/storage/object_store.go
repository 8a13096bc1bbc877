package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/atillabyte/World/internal/object"
	"github.com/atillabyte/World/internal/world"
)

// DefaultCollection - коллекция, в которой сервер хранит миры
const DefaultCollection = "worlds"

// ErrObjectNotFound возвращается, если документа нет в хранилище
var ErrObjectNotFound = errors.New("объект не найден")

// ObjectStore определяет интерфейс удалённого хранилища документов.
// Документы адресуются парой (коллекция, ключ); результат - упорядоченный объект
// с каноническими типами значений.
type ObjectStore interface {
	// LoadObject загружает документ.
	// Возвращает ErrObjectNotFound, если документа нет.
	LoadObject(ctx context.Context, collection, id string) (*object.Object, error)
}

// ObjectSaver - хранилище, в которое можно записывать документы (локальные архивы).
type ObjectSaver interface {
	ObjectStore

	// SaveObject записывает документ целиком, заменяя существующий.
	SaveObject(ctx context.Context, collection, id string, doc *object.Object) error
}

// ObjectLister - хранилище, умеющее перечислять ключи коллекции.
type ObjectLister interface {
	ListObjects(ctx context.Context, collection string) ([]string, error)
}

// LoadSnapshot загружает документ и строит по нему снимок мира.
func LoadSnapshot(ctx context.Context, store ObjectStore, collection, id string) (*world.Snapshot, error) {
	doc, err := store.LoadObject(ctx, collection, id)
	if err != nil {
		return nil, fmt.Errorf("загрузка %s/%s: %w", collection, id, err)
	}
	snap, err := world.BuildSnapshot(doc)
	if err != nil {
		return nil, fmt.Errorf("разбор %s/%s: %w", collection, id, err)
	}
	return snap, nil
}

// SaveSnapshot записывает снимок мира как документ.
func SaveSnapshot(ctx context.Context, store ObjectSaver, collection, id string, snap *world.Snapshot) error {
	if err := store.SaveObject(ctx, collection, id, snap.Document()); err != nil {
		return fmt.Errorf("сохранение %s/%s: %w", collection, id, err)
	}
	return nil
}

// validateKey проверяет ключ документа
func validateKey(collection, id string) error {
	if collection == "" {
		return fmt.Errorf("не задана коллекция")
	}
	if id == "" {
		return fmt.Errorf("не задан идентификатор документа")
	}
	return nil
}
