package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDatastore is an in-memory dataStoreClient
type fakeDatastore struct {
	mu           sync.Mutex
	forward      map[string]uuidEntity
	reverse      map[string]handleEntity
	getMultiSize []int
	failPut      bool
}

func newFakeDatastore() *fakeDatastore {
	return &fakeDatastore{
		forward: make(map[string]uuidEntity),
		reverse: make(map[string]handleEntity),
	}
}

func (*fakeDatastore) Close() error { return nil }

func (f *fakeDatastore) Get(_ context.Context, key *datastore.Key, dst interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.reverse[key.Name]
	if !ok {
		return datastore.ErrNoSuchEntity
	}
	*dst.(*handleEntity) = e
	return nil
}

func (f *fakeDatastore) GetMulti(_ context.Context, keys []*datastore.Key, dst interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getMultiSize = append(f.getMultiSize, len(keys))

	entities := dst.([]uuidEntity)
	var multi datastore.MultiError
	failed := false
	for i, k := range keys {
		e, ok := f.forward[k.Name]
		if !ok {
			if multi == nil {
				multi = make(datastore.MultiError, len(keys))
			}
			multi[i] = datastore.ErrNoSuchEntity
			failed = true
			continue
		}
		entities[i] = e
	}
	if failed {
		return multi
	}
	return nil
}

func (f *fakeDatastore) Put(_ context.Context, key *datastore.Key, src interface{}) (*datastore.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return nil, errors.New("unavailable")
	}
	switch e := src.(type) {
	case *uuidEntity:
		f.forward[key.Name] = *e
	case *handleEntity:
		f.reverse[key.Name] = *e
	default:
		return nil, fmt.Errorf("unexpected entity %T", src)
	}
	return key, nil
}

func TestDatastoreResolveBatchChunks(t *testing.T) {
	t.Parallel()

	fake := newFakeDatastore()
	uuids := make([]string, 0, 2500)
	for i := range 2500 {
		u := fmt.Sprintf("u-%04d", i)
		uuids = append(uuids, u)
		fake.forward[u] = uuidEntity{Data: fmt.Sprintf("tel:+%d", i)}
	}

	table := newDatastoreTable(fake, "ParticipantUuids", "p-")
	resolved, err := table.ResolveBatch(context.Background(), uuids)
	require.NoError(t, err)
	assert.Len(t, resolved, 2500)
	assert.Equal(t, "tel:+1999", resolved["u-1999"])
	assert.Equal(t, []int{1000, 1000, 500}, fake.getMultiSize)
}

func TestDatastoreRegisterRepairsPartialWrite(t *testing.T) {
	t.Parallel()

	fake := newFakeDatastore()
	fake.reverse["tel:+1"] = handleEntity{UUID: "p-existing"}

	table := newDatastoreTable(fake, "ParticipantUuids", "p-")
	u, err := table.Register(context.Background(), "tel:+1")
	require.NoError(t, err)
	assert.Equal(t, "p-existing", u)
	assert.Equal(t, uuidEntity{Data: "tel:+1"}, fake.forward["p-existing"])
}

func TestDatastoreRegisterWriteFailure(t *testing.T) {
	t.Parallel()

	fake := newFakeDatastore()
	fake.failPut = true

	table := newDatastoreTable(fake, "ParticipantUuids", "p-")
	_, err := table.Register(context.Background(), "tel:+1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write uuid table")
}

func TestDatastoreKeys(t *testing.T) {
	t.Parallel()

	table := newDatastoreTable(newFakeDatastore(), "ParticipantUuids", "p-")
	assert.Equal(t, "ParticipantUuids", table.forwardKey("u").Kind)
	assert.Equal(t, "ParticipantUuidsData", table.reverseKey("tel:+1").Kind)
}
