package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/atillabyte/World/internal/object"
)

// BadgerObjectStore хранит документы миров в локальной BadgerDB.
// Ключ записи - "коллекция/идентификатор", значение - JSON документа.
// Служит архивом снимков: захваченный мир можно позже использовать как источник.
type BadgerObjectStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerObjectStore открывает (или создаёт) базу в каталоге dataPath.
func NewBadgerObjectStore(dataPath string) (*BadgerObjectStore, error) {
	dbPath := filepath.Join(dataPath, "objects")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerObjectStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище
func (bs *BadgerObjectStore) Close() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return nil
	}

	bs.isReady = false
	return bs.db.Close()
}

func badgerKey(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

// SaveObject записывает документ
func (bs *BadgerObjectStore) SaveObject(ctx context.Context, collection, id string, doc *object.Object) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	data, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("ошибка сериализации документа: %w", err)
	}

	err = bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(collection, id), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения документа: %w", err)
	}
	return nil
}

// LoadObject загружает документ
func (bs *BadgerObjectStore) LoadObject(ctx context.Context, collection, id string) (*object.Object, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(collection, id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки документа: %w", err)
	}

	doc, err := object.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("ошибка десериализации документа: %w", err)
	}
	return doc, nil
}

// ListObjects перечисляет ключи коллекции
func (bs *BadgerObjectStore) ListObjects(ctx context.Context, collection string) ([]string, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	prefix := []byte(collection + "/")
	var ids []string
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		return nil
	})
	return ids, err
}

// DeleteObject удаляет документ
func (bs *BadgerObjectStore) DeleteObject(ctx context.Context, collection, id string) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(collection, id))
	})
}
