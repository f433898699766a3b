package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileTable is a Table persisted as a JSON object of uuid to handle.
// Every Register rewrites the file atomically.
type FileTable struct {
	mu      sync.RWMutex
	path    string
	prefix  string
	forward map[string]string
	reverse map[string]string
}

// OpenFileTable loads the table at path. A missing file is an empty table.
func OpenFileTable(path, prefix string) (*FileTable, error) {
	t := &FileTable{
		path:    path,
		prefix:  prefix,
		forward: make(map[string]string),
		reverse: make(map[string]string),
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return nil, fmt.Errorf("failed to read uuid table: %w", err)
	}
	if len(data) == 0 {
		return t, nil
	}

	if err := json.Unmarshal(data, &t.forward); err != nil {
		return nil, fmt.Errorf("failed to parse uuid table %s: %w", path, err)
	}
	for u, h := range t.forward {
		if other, dup := t.reverse[h]; dup {
			return nil, fmt.Errorf("uuid table %s maps one handle to both %s and %s", path, other, u)
		}
		t.reverse[h] = u
	}
	return t, nil
}

// ResolveBatch implements Resolver
func (t *FileTable) ResolveBatch(_ context.Context, uuids []string) (map[string]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return resolveFromMap(t.forward, uuids)
}

// Reverse implements Resolver
func (t *FileTable) Reverse(_ context.Context, handle string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if u, ok := t.reverse[handle]; ok {
		return u, nil
	}
	return "", ErrNotFound
}

// Register implements Table
func (t *FileTable) Register(_ context.Context, handle string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.reverse[handle]; ok {
		return u, nil
	}

	u := NewUUID(t.prefix)
	t.forward[u] = handle
	t.reverse[handle] = u
	if err := t.save(); err != nil {
		delete(t.forward, u)
		delete(t.reverse, handle)
		return "", err
	}
	return u, nil
}

// Close implements io.Closer
func (*FileTable) Close() error {
	return nil
}

func (t *FileTable) save() error {
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create uuid table directory: %w", err)
	}

	data, err := json.MarshalIndent(t.forward, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal uuid table: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
