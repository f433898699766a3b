package cache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/engagement-analysis/advert-sync/internal/logger"
)

const (
	// SyncedDirName holds one file per target
	SyncedDirName = "rapid_pro_adverts"

	// LockFileName is the advisory lock held for the life of a fileCache
	LockFileName = ".lock"
)

// fileCache implements Cache as a directory of files:
//
//	<dir>/last_updated_<dataset>.txt
//	<dir>/<dataset>.jsonl
//	<dir>/rapid_pro_adverts/<target>.jsonl
//
// Every write replaces a whole file through a rename.
type fileCache struct {
	mu     sync.Mutex
	dir    string
	lock   *flock.Flock
	synced map[string][]string
}

// NewFileCache opens the cache directory, creating it if needed, and takes
// its lock. It returns ErrLocked when another process holds the lock.
func NewFileCache(dir string) (Cache, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock cache directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", dir, ErrLocked)
	}

	logger.Debugf("Opened file cache at %s", dir)
	return &fileCache{
		dir:    dir,
		lock:   lock,
		synced: make(map[string][]string),
	}, nil
}

func (f *fileCache) syncedPath(target string) string {
	return filepath.Join(f.dir, SyncedDirName, target+".jsonl")
}

func (f *fileCache) timestampPath(dataset string) string {
	return filepath.Join(f.dir, "last_updated_"+dataset+".txt")
}

func (f *fileCache) recordsPath(dataset string) string {
	return filepath.Join(f.dir, dataset+".jsonl")
}

func (f *fileCache) GetSynced(_ context.Context, target string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	uuids, err := f.loadSynced(target)
	if err != nil {
		return nil, err
	}
	return slices.Clone(uuids), nil
}

func (f *fileCache) AppendSynced(_ context.Context, target, uuid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	uuids, err := f.loadSynced(target)
	if err != nil {
		return err
	}
	if slices.Contains(uuids, uuid) {
		return nil
	}

	updated := append(slices.Clone(uuids), uuid)
	data, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("failed to marshal synced uuids for '%s': %w", target, err)
	}
	if err := writeFileAtomic(f.syncedPath(target), data); err != nil {
		return fmt.Errorf("failed to write synced uuids for '%s': %w", target, err)
	}
	f.synced[target] = updated
	return nil
}

// loadSynced reads a target's list once and serves later calls from memory
func (f *fileCache) loadSynced(target string) ([]string, error) {
	if uuids, ok := f.synced[target]; ok {
		return uuids, nil
	}

	// #nosec G304 -- target names are validated at config load
	data, err := os.ReadFile(f.syncedPath(target))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.synced[target] = []string{}
			return f.synced[target], nil
		}
		return nil, fmt.Errorf("failed to read synced uuids for '%s': %w", target, err)
	}

	var uuids []string
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &uuids); err != nil {
			return nil, fmt.Errorf("failed to parse synced uuids for '%s': %w", target, err)
		}
	}
	if uuids == nil {
		uuids = []string{}
	}
	f.synced[target] = uuids
	return uuids, nil
}

func (f *fileCache) GetTimestamp(_ context.Context, dataset string) (*time.Time, error) {
	data, err := os.ReadFile(f.timestampPath(dataset))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read timestamp for '%s': %w", dataset, err)
	}

	ts, err := parseTimestamp(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp for '%s': %w", dataset, err)
	}
	return &ts, nil
}

func (f *fileCache) SetTimestamp(_ context.Context, dataset string, ts time.Time) error {
	if err := writeFileAtomic(f.timestampPath(dataset), []byte(formatTimestamp(ts))); err != nil {
		return fmt.Errorf("failed to write timestamp for '%s': %w", dataset, err)
	}
	return nil
}

func (f *fileCache) GetRecords(_ context.Context, dataset string) ([]json.RawMessage, error) {
	file, err := os.Open(f.recordsPath(dataset))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open records for '%s': %w", dataset, err)
	}
	defer func() { _ = file.Close() }()

	var out []json.RawMessage
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		if !json.Valid(text) {
			return nil, fmt.Errorf("records for '%s': line %d is not valid JSON", dataset, line)
		}
		out = append(out, json.RawMessage(slices.Clone(text)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records for '%s': %w", dataset, err)
	}
	return out, nil
}

func (f *fileCache) SetRecords(_ context.Context, dataset string, records []json.RawMessage) error {
	var buf bytes.Buffer
	for i, rec := range records {
		line, err := compactRecord(rec)
		if err != nil {
			return fmt.Errorf("record %d for '%s': %w", i, dataset, err)
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := writeFileAtomic(f.recordsPath(dataset), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write records for '%s': %w", dataset, err)
	}
	return nil
}

func (f *fileCache) Close() error {
	if err := f.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock cache directory: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the destination directory and
// renames it over path
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
