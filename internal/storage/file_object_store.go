package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/atillabyte/World/internal/object"
)

// Расширения файлов документов
const (
	jsonExt = ".json"
	zstdExt = ".json.zst"
)

// FileObjectStore хранит документы как файлы <root>/<коллекция>/<id>.json
// или, при включённом сжатии, <id>.json.zst. При чтении подходят оба варианта.
type FileObjectStore struct {
	root     string
	compress bool
}

// NewFileObjectStore создаёт файловое хранилище в каталоге root
func NewFileObjectStore(root string, compress bool) (*FileObjectStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать каталог %s: %w", root, err)
	}
	return &FileObjectStore{root: root, compress: compress}, nil
}

func (s *FileObjectStore) path(collection, id, ext string) string {
	return filepath.Join(s.root, collection, id+ext)
}

// LoadObject читает документ, предпочитая несжатый файл
func (s *FileObjectStore) LoadObject(ctx context.Context, collection, id string) (*object.Object, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(collection, id, jsonExt))
	if errors.Is(err, fs.ErrNotExist) {
		data, err = s.readCompressed(s.path(collection, id, zstdExt))
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrObjectNotFound)
	}
	if err != nil {
		return nil, err
	}

	return object.ParseJSON(data)
}

// SaveObject записывает документ; файл другого формата с тем же ключом удаляется
func (s *FileObjectStore) SaveObject(ctx context.Context, collection, id string, doc *object.Object) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("ошибка сериализации документа: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(s.root, collection), 0o755); err != nil {
		return err
	}

	target, stale := s.path(collection, id, jsonExt), s.path(collection, id, zstdExt)
	if s.compress {
		target, stale = stale, target
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		data = enc.EncodeAll(data, nil)
		_ = enc.Close()
	}

	if err := WriteFileAtomic(target, data); err != nil {
		return err
	}
	if err := os.Remove(stale); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ListObjects перечисляет документы коллекции
func (s *FileObjectStore) ListObjects(ctx context.Context, collection string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, collection))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, e := range entries {
		name := e.Name()
		var id string
		switch {
		case strings.HasSuffix(name, zstdExt):
			id = strings.TrimSuffix(name, zstdExt)
		case strings.HasSuffix(name, jsonExt):
			id = strings.TrimSuffix(name, jsonExt)
		default:
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileObjectStore) readCompressed(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	data, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd %s: %w", path, err)
	}
	return data, nil
}

// WriteFileAtomic пишет файл через временный файл и переименование
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
