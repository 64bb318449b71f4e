// Package cachestore keeps generation cache records as YAML files, one per
// key, grouped in a directory per namespace.
package cachestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"docchat/internal/domain"
	"docchat/internal/usecase/cache"
)

const ext = ".yaml"

// FileStore implements cache.Store on the local file system.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger.With("component", "cachestore")}, nil
}

// Get implements cache.Store. A file that does not parse is reported as
// ErrCacheCorrupt.
func (s *FileStore) Get(_ context.Context, namespace, key string) (*cache.Record, bool, error) {
	path, err := s.path(namespace, key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	var rec cache.Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, false, domain.NewDomainError("FileStore.Get", domain.ErrCacheCorrupt, err.Error())
	}
	return &rec, true, nil
}

// Put implements cache.Store. The record is written to a temp file and
// renamed into place so readers never see a partial entry.
func (s *FileStore) Put(_ context.Context, namespace, key string, rec *cache.Record) error {
	path, err := s.path(namespace, key)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create namespace dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename cache entry: %w", err)
	}
	return nil
}

// Prune deletes entries last written more than maxAge ago and returns how
// many were removed. A non-positive maxAge keeps everything.
func (s *FileStore) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("prune cache: %w", err)
	}
	if removed > 0 {
		s.logger.Info("cache pruned", "removed", removed, "max_age", maxAge)
	}
	return removed, nil
}

// path maps namespace and key to a file under the store root. Both must be
// single path elements.
func (s *FileStore) path(namespace, key string) (string, error) {
	ns := sanitize(namespace)
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", domain.NewDomainError("FileStore.path", domain.ErrInvalidInput, fmt.Sprintf("bad cache key %q", key))
	}
	return filepath.Join(s.dir, ns, key+ext), nil
}

// sanitize turns a model name such as "org/model:tag" into a directory name.
func sanitize(namespace string) string {
	if namespace == "" {
		return "_default"
	}
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	ns := r.Replace(namespace)
	if strings.HasPrefix(ns, ".") {
		ns = "_" + ns[1:]
	}
	return ns
}

var _ cache.Store = (*FileStore)(nil)
