// Package cache persists what previous runs already synced so that each run
// only sends the delta.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrLocked is returned when another invocation holds the cache
var ErrLocked = errors.New("cache is locked by another process")

// Cache is the durable sync state of the pipeline.
//
// Synced lists are append-only: AppendSynced is durable when it returns and
// appending a uuid that is already present does nothing.
type Cache interface {
	// GetSynced returns the uuids already synced to target, in sync order.
	// A target that was never synced has an empty list.
	GetSynced(ctx context.Context, target string) ([]string, error)

	// AppendSynced records that uuid was synced to target
	AppendSynced(ctx context.Context, target, uuid string) error

	// GetTimestamp returns the latest seen update time for a dataset, or nil
	GetTimestamp(ctx context.Context, dataset string) (*time.Time, error)

	// SetTimestamp stores the latest seen update time for a dataset
	SetTimestamp(ctx context.Context, dataset string, ts time.Time) error

	// GetRecords returns the cached records of a dataset
	GetRecords(ctx context.Context, dataset string) ([]json.RawMessage, error)

	// SetRecords replaces the cached records of a dataset
	SetRecords(ctx context.Context, dataset string, records []json.RawMessage) error

	// Close releases the cache
	Close() error
}

// timestampLayouts are tried in order when reading a stored timestamp
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC 3339 and the ISO 8601 variants written by
// other tools, with or without a zone. Zoneless values are read as UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func formatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func compactRecord(rec json.RawMessage) (string, error) {
	buf, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("invalid record: %w", err)
	}
	return string(buf), nil
}
