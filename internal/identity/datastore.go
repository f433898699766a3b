package identity

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/option"
)

// maxBatchKeys is the Datastore limit on keys per lookup
const maxBatchKeys = 1000

// reverseKindSuffix names the kind that indexes handles
const reverseKindSuffix = "Data"

type dataStoreClient interface {
	io.Closer
	Get(ctx context.Context, key *datastore.Key, dst interface{}) error
	GetMulti(ctx context.Context, keys []*datastore.Key, dst interface{}) error
	Put(ctx context.Context, key *datastore.Key, src interface{}) (*datastore.Key, error)
}

// uuidEntity is stored under the forward kind, keyed by uuid
type uuidEntity struct {
	Data string
}

// handleEntity is stored under the reverse kind, keyed by handle
type handleEntity struct {
	UUID string
}

// DatastoreTable is a Table backed by Cloud Datastore
type DatastoreTable struct {
	client dataStoreClient
	kind   string
	prefix string
}

// NewDatastoreTable connects to Datastore. Application default credentials
// are used when credentialsFile is empty.
func NewDatastoreTable(ctx context.Context, projectID, kind, prefix, credentialsFile string) (*DatastoreTable, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := datastore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore client: %w", err)
	}
	return newDatastoreTable(client, kind, prefix), nil
}

func newDatastoreTable(client dataStoreClient, kind, prefix string) *DatastoreTable {
	return &DatastoreTable{client: client, kind: kind, prefix: prefix}
}

func (t *DatastoreTable) forwardKey(uuid string) *datastore.Key {
	return datastore.NameKey(t.kind, uuid, nil)
}

func (t *DatastoreTable) reverseKey(handle string) *datastore.Key {
	return datastore.NameKey(t.kind+reverseKindSuffix, handle, nil)
}

// ResolveBatch implements Resolver
func (t *DatastoreTable) ResolveBatch(ctx context.Context, uuids []string) (map[string]string, error) {
	out := make(map[string]string, len(uuids))
	var missing []string

	for start := 0; start < len(uuids); start += maxBatchKeys {
		end := min(start+maxBatchKeys, len(uuids))
		chunk := uuids[start:end]

		keys := make([]*datastore.Key, len(chunk))
		for i, u := range chunk {
			keys[i] = t.forwardKey(u)
		}
		entities := make([]uuidEntity, len(chunk))

		err := t.client.GetMulti(ctx, keys, entities)
		var multiErr datastore.MultiError
		switch {
		case err == nil:
		case errors.As(err, &multiErr):
			for i, e := range multiErr {
				if e == nil {
					continue
				}
				if !errors.Is(e, datastore.ErrNoSuchEntity) {
					return nil, fmt.Errorf("failed to read uuid %s: %w", chunk[i], e)
				}
			}
		default:
			return nil, fmt.Errorf("failed to read uuid table: %w", err)
		}

		for i, u := range chunk {
			if multiErr != nil && multiErr[i] != nil {
				missing = append(missing, u)
				continue
			}
			out[u] = entities[i].Data
		}
	}

	if len(missing) > 0 {
		return nil, newMissingError(missing)
	}
	return out, nil
}

// Reverse implements Resolver
func (t *DatastoreTable) Reverse(ctx context.Context, handle string) (string, error) {
	var e handleEntity
	if err := t.client.Get(ctx, t.reverseKey(handle), &e); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read uuid table: %w", err)
	}
	return e.UUID, nil
}

// Register implements Table. The reverse entity is written first so that an
// interrupted registration is completed by the next call for the same handle.
func (t *DatastoreTable) Register(ctx context.Context, handle string) (string, error) {
	u, err := t.Reverse(ctx, handle)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		u = NewUUID(t.prefix)
		if _, err := t.client.Put(ctx, t.reverseKey(handle), &handleEntity{UUID: u}); err != nil {
			return "", fmt.Errorf("failed to write uuid table: %w", err)
		}
	default:
		return "", err
	}

	if _, err := t.client.Put(ctx, t.forwardKey(u), &uuidEntity{Data: handle}); err != nil {
		return "", fmt.Errorf("failed to write uuid table: %w", err)
	}
	return u, nil
}

// Close implements io.Closer
func (t *DatastoreTable) Close() error {
	return t.client.Close()
}
