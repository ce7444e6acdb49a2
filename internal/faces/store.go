// Package faces — хранилище изображений лиц верифицированных субъектов.
// Ключ изображения: имя файла из URL внешнего API.
package faces

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Save(ctx context.Context, key string, r io.Reader) error
}

// FileStore — локальный каталог (по умолчанию images/faces).
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.dir, key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Save пишет через временный файл: недокачанное изображение не остается под ключом.
func (s *FileStore) Save(_ context.Context, key string, r io.Reader) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("faces: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".face-*")
	if err != nil {
		return fmt.Errorf("faces: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("faces: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("faces: close: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, key))
}
