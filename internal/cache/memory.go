package cache

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

type memoryCache struct {
	mu         sync.Mutex
	synced     map[string][]string
	timestamps map[string]time.Time
	records    map[string][]json.RawMessage
}

// NewMemoryCache returns a Cache that lives only as long as the process
func NewMemoryCache() Cache {
	return &memoryCache{
		synced:     make(map[string][]string),
		timestamps: make(map[string]time.Time),
		records:    make(map[string][]json.RawMessage),
	}
}

func (m *memoryCache) GetSynced(_ context.Context, target string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.synced[target]), nil
}

func (m *memoryCache) AppendSynced(_ context.Context, target, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Contains(m.synced[target], uuid) {
		return nil
	}
	m.synced[target] = append(m.synced[target], uuid)
	return nil
}

func (m *memoryCache) GetTimestamp(_ context.Context, dataset string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.timestamps[dataset]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

func (m *memoryCache) SetTimestamp(_ context.Context, dataset string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timestamps[dataset] = ts
	return nil
}

func (m *memoryCache) GetRecords(_ context.Context, dataset string) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records[dataset]), nil
}

func (m *memoryCache) SetRecords(_ context.Context, dataset string, records []json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[dataset] = slices.Clone(records)
	return nil
}

func (*memoryCache) Close() error {
	return nil
}
