package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/engagement-analysis/advert-sync/internal/db"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS synced_uuids (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		participant_uuid TEXT NOT NULL,
		synced_at TEXT NOT NULL,
		UNIQUE (target, participant_uuid)
	)`,
	`CREATE TABLE IF NOT EXISTS cache_timestamps (
		dataset TEXT PRIMARY KEY,
		ts TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cache_records (
		dataset TEXT NOT NULL,
		seq INTEGER NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (dataset, seq)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS synced_uuids (
		seq BIGSERIAL PRIMARY KEY,
		target TEXT NOT NULL,
		participant_uuid TEXT NOT NULL,
		synced_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (target, participant_uuid)
	)`,
	`CREATE TABLE IF NOT EXISTS cache_timestamps (
		dataset TEXT PRIMARY KEY,
		ts TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cache_records (
		dataset TEXT NOT NULL,
		seq INTEGER NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (dataset, seq)
	)`,
}

// sqlCache implements Cache on database/sql for SQLite and PostgreSQL
type sqlCache struct {
	conn *db.Connection
}

// NewSQLCache creates the schema if needed and returns a Cache on conn.
// The cache owns conn and closes it on Close.
func NewSQLCache(ctx context.Context, conn *db.Connection) (Cache, error) {
	schema := sqliteSchema
	if conn.Driver == db.DriverPostgres {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := conn.DB.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create cache schema: %w", err)
		}
	}
	return &sqlCache{conn: conn}, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *sqlCache) rebind(query string) string {
	if s.conn.Driver != db.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlCache) GetSynced(ctx context.Context, target string) ([]string, error) {
	rows, err := s.conn.DB.QueryContext(ctx,
		s.rebind(`SELECT participant_uuid FROM synced_uuids WHERE target = ? ORDER BY seq`), target)
	if err != nil {
		return nil, fmt.Errorf("failed to query synced uuids for '%s': %w", target, err)
	}
	defer func() { _ = rows.Close() }()

	uuids := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan synced uuid: %w", err)
		}
		uuids = append(uuids, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read synced uuids for '%s': %w", target, err)
	}
	return uuids, nil
}

func (s *sqlCache) AppendSynced(ctx context.Context, target, uuid string) error {
	var err error
	if s.conn.Driver == db.DriverPostgres {
		_, err = s.conn.DB.ExecContext(ctx,
			`INSERT INTO synced_uuids (target, participant_uuid) VALUES ($1, $2)
			 ON CONFLICT (target, participant_uuid) DO NOTHING`, target, uuid)
	} else {
		_, err = s.conn.DB.ExecContext(ctx,
			`INSERT INTO synced_uuids (target, participant_uuid, synced_at) VALUES (?, ?, ?)
			 ON CONFLICT (target, participant_uuid) DO NOTHING`,
			target, uuid, formatTimestamp(time.Now().UTC()))
	}
	if err != nil {
		return fmt.Errorf("failed to append synced uuid for '%s': %w", target, err)
	}
	return nil
}

func (s *sqlCache) GetTimestamp(ctx context.Context, dataset string) (*time.Time, error) {
	var raw string
	err := s.conn.DB.QueryRowContext(ctx,
		s.rebind(`SELECT ts FROM cache_timestamps WHERE dataset = ?`), dataset).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read timestamp for '%s': %w", dataset, err)
	}
	ts, err := parseTimestamp(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp for '%s': %w", dataset, err)
	}
	return &ts, nil
}

func (s *sqlCache) SetTimestamp(ctx context.Context, dataset string, ts time.Time) error {
	_, err := s.conn.DB.ExecContext(ctx, s.rebind(
		`INSERT INTO cache_timestamps (dataset, ts) VALUES (?, ?)
		 ON CONFLICT (dataset) DO UPDATE SET ts = excluded.ts`), dataset, formatTimestamp(ts))
	if err != nil {
		return fmt.Errorf("failed to write timestamp for '%s': %w", dataset, err)
	}
	return nil
}

func (s *sqlCache) GetRecords(ctx context.Context, dataset string) ([]json.RawMessage, error) {
	rows, err := s.conn.DB.QueryContext(ctx,
		s.rebind(`SELECT body FROM cache_records WHERE dataset = ? ORDER BY seq`), dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to query records for '%s': %w", dataset, err)
	}
	defer func() { _ = rows.Close() }()

	var out []json.RawMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, json.RawMessage(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records for '%s': %w", dataset, err)
	}
	return out, nil
}

func (s *sqlCache) SetRecords(ctx context.Context, dataset string, records []json.RawMessage) (err error) {
	tx, err := s.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM cache_records WHERE dataset = ?`), dataset); err != nil {
		return fmt.Errorf("failed to clear records for '%s': %w", dataset, err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO cache_records (dataset, seq, body) VALUES (?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, rec := range records {
		body, cerr := compactRecord(rec)
		if cerr != nil {
			err = fmt.Errorf("record %d for '%s': %w", i, dataset, cerr)
			return err
		}
		if _, err = stmt.ExecContext(ctx, dataset, i, body); err != nil {
			return fmt.Errorf("failed to insert record %d for '%s': %w", i, dataset, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records for '%s': %w", dataset, err)
	}
	return nil
}

func (s *sqlCache) Close() error {
	return s.conn.Close()
}
