// Package statestore gives agents a durable key/value store so state
// survives manager restarts. Values are JSON blobs in a local SQLite file,
// typically kept under the agent's working directory.
package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultMaxValueBytes caps a single stored value.
const DefaultMaxValueBytes = 1 << 20 // 1 MiB

// Store is a SQLite-backed key/value store. It is safe for concurrent use;
// async command handlers may read and write it simultaneously.
type Store struct {
	db       *sql.DB
	maxBytes int
}

// Open opens (creating if needed) the store at path and ensures its schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("statestore path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create statestore directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, `CREATE TABLE IF NOT EXISTS agent_state (
  key        TEXT PRIMARY KEY,
  value      JSON NOT NULL,
  updated_at TEXT NOT NULL
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap statestore: %w", err)
	}

	return &Store{db: db, maxBytes: DefaultMaxValueBytes}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key. ok is false when the key is
// absent.
func (s *Store) Get(ctx context.Context, key string) (value json.RawMessage, ok bool, err error) {
	if key == "" {
		return nil, false, fmt.Errorf("key is empty")
	}

	var raw string
	err = s.db.QueryRowContext(ctx, "SELECT value FROM agent_state WHERE key = ?;", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read state: %w", err)
	}
	if !json.Valid([]byte(raw)) {
		return nil, false, fmt.Errorf("stored state is invalid JSON for key=%q", key)
	}
	return json.RawMessage(raw), true, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("key is empty")
	}
	if !json.Valid(value) {
		return fmt.Errorf("value is not valid JSON")
	}
	if len(value) > s.maxBytes {
		return fmt.Errorf("value exceeds max size (%d bytes)", s.maxBytes)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO agent_state(key, value, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at = excluded.updated_at;
`, key, string(value), now)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// Merge applies updates as a shallow merge over the object stored under key
// (top-level keys replaced). Both the stored value and updates must be JSON
// objects; a missing key merges over {}. The merged value is persisted and
// returned.
func (s *Store) Merge(ctx context.Context, key string, updates json.RawMessage) (json.RawMessage, error) {
	if key == "" {
		return nil, fmt.Errorf("key is empty")
	}

	upd, err := decodeObjectOrEmpty(updates)
	if err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var curRaw string
	err = tx.QueryRowContext(ctx, "SELECT value FROM agent_state WHERE key = ?;", key).Scan(&curRaw)
	if errors.Is(err, sql.ErrNoRows) {
		curRaw = "{}"
	} else if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	cur, err := decodeObjectOrEmpty(json.RawMessage(curRaw))
	if err != nil {
		return nil, fmt.Errorf("decode stored state: %w", err)
	}

	maps.Copy(cur, upd)

	merged, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("marshal merged state: %w", err)
	}
	if len(merged) > s.maxBytes {
		return nil, fmt.Errorf("merged value exceeds max size (%d bytes)", s.maxBytes)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO agent_state(key, value, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at = excluded.updated_at;
`, key, string(merged), now)
	if err != nil {
		return nil, fmt.Errorf("upsert state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return json.RawMessage(merged), nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is empty")
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM agent_state WHERE key = ?;", key); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// Keys lists all stored keys in lexical order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM agent_state ORDER BY key;")
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

func decodeObjectOrEmpty(b json.RawMessage) (map[string]json.RawMessage, error) {
	if len(b) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("invalid JSON")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}
	return m, nil
}
