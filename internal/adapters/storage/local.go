// Package storage provides object storage adapters.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/jobrunner/tilemerge/internal/domain"
)

// LocalStorage implements ObjectStorage for a local directory tree. Keys are
// slash-separated paths relative to the base path.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// List returns the files under prefix, sorted by key.
func (s *LocalStorage) List(ctx context.Context, prefix string, recursive bool) ([]domain.RemoteObject, error) {
	if _, err := os.Stat(s.basePath); err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: prefix, Err: err}
	}

	var objects []domain.RemoteObject

	// Walk the deepest directory named by the prefix.
	start := s.basePath
	if dir, _ := splitPrefix(prefix); dir != "" {
		start = filepath.Join(s.basePath, filepath.FromSlash(dir))
	}

	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == start && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !inListing(key, prefix, recursive) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, domain.RemoteObject{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: prefix, Err: err}
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// splitPrefix splits a key prefix into its directory part and the partial
// name after the last slash.
func splitPrefix(prefix string) (dir, name string) {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] == '/' {
			return prefix[:i], prefix[i+1:]
		}
	}
	return "", prefix
}

// Download copies a file to the destination.
func (s *LocalStorage) Download(ctx context.Context, key string, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcPath := s.FullPath(key)
	if srcPath == dest {
		return nil
	}

	src, err := os.Open(srcPath) //#nosec G304 -- key is confined to the base path by the caller
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %v", domain.ErrObjectNotFound, err)
		}
		return &domain.StorageError{Operation: "download", Key: key, Err: err}
	}
	defer func() { _ = src.Close() }()

	return writeFile(dest, src)
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
