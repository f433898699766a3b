package identity

import (
	"context"
	"sync"
)

// MemoryTable is an in-memory Table
type MemoryTable struct {
	mu      sync.RWMutex
	prefix  string
	forward map[string]string
	reverse map[string]string
}

// NewMemoryTable creates an empty table that mints uuids with prefix
func NewMemoryTable(prefix string) *MemoryTable {
	return &MemoryTable{
		prefix:  prefix,
		forward: make(map[string]string),
		reverse: make(map[string]string),
	}
}

// Add stores a fixed mapping
func (t *MemoryTable) Add(uuid, handle string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forward[uuid] = handle
	t.reverse[handle] = uuid
}

// ResolveBatch implements Resolver
func (t *MemoryTable) ResolveBatch(_ context.Context, uuids []string) (map[string]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return resolveFromMap(t.forward, uuids)
}

// Reverse implements Resolver
func (t *MemoryTable) Reverse(_ context.Context, handle string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if u, ok := t.reverse[handle]; ok {
		return u, nil
	}
	return "", ErrNotFound
}

// Register implements Table
func (t *MemoryTable) Register(_ context.Context, handle string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.reverse[handle]; ok {
		return u, nil
	}
	u := NewUUID(t.prefix)
	t.forward[u] = handle
	t.reverse[handle] = u
	return u, nil
}

// Close implements io.Closer
func (*MemoryTable) Close() error {
	return nil
}

func resolveFromMap(forward map[string]string, uuids []string) (map[string]string, error) {
	out := make(map[string]string, len(uuids))
	var missing []string
	for _, u := range uuids {
		if h, ok := forward[u]; ok {
			out[u] = h
		} else {
			missing = append(missing, u)
		}
	}
	if len(missing) > 0 {
		return nil, newMissingError(missing)
	}
	return out, nil
}
