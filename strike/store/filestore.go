package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fileStore is a KVStore backed by a single JSON document on local disk.
// It is the default backend: no external service needed, and the whole
// store can be inspected (or deleted for a clean slate) with ordinary tools.
type fileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a KVStore persisted at the given path. The file is
// created lazily on first write.
func NewFileStore(path string) (KVStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is empty")
	}
	return &fileStore{path: path}, nil
}

func (s *fileStore) SetValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.loadOrEmpty()
	data[key] = value
	return s.save(data)
}

func (s *fileStore) GetValue(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", err
	}
	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key '%s': %w", key, ErrKeyNotFound)
	}
	return value, nil
}

func (s *fileStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	prefix := strings.ReplaceAll(pattern, "*", "")
	keys := make([]string, 0, len(data))
	for key := range data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *fileStore) DeleteValue(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.loadOrEmpty()
	delete(data, key)
	return s.save(data)
}

func (s *fileStore) Close() error {
	return nil
}

// load reads the backing file. A missing file is an empty store; a corrupt
// file is surfaced so the reconciler can decide to rebuild it.
func (s *fileStore) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read store file: %w", err)
	}
	data := map[string]string{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse store file %s: %w", s.path, err)
	}
	return data, nil
}

// loadOrEmpty is the write-path load: a corrupt file is treated as empty so
// mutations (including Reset-style deletes) can always overwrite it.
func (s *fileStore) loadOrEmpty() map[string]string {
	data, err := s.load()
	if err != nil {
		return map[string]string{}
	}
	return data
}

// save writes the full document via temp-file-and-rename so a crash mid-write
// never leaves a truncated store behind.
func (s *fileStore) save(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write store temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename store temp file: %w", err)
	}
	return nil
}
