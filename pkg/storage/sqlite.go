// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jllopis/aion/pkg/core"
)

// SQLiteStore persists memories and cache entries in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	owned  bool
	mu     sync.Mutex
	tables map[string]bool
}

// OpenSQLite opens dsn with the modernc driver and ensures the schema.
// An empty dsn opens a private in-memory database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps in-memory databases shared
	db.SetMaxOpenConns(1)
	store, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewSQLiteStore wraps an existing database and ensures the schema.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	s := &SQLiteStore{db: db, tables: make(map[string]bool)}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	if err := s.ensureTable(ctx, DefaultTable); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureTable(ctx context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[table] {
		return nil
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			agent_id TEXT,
			room_id TEXT NOT NULL,
			world_id TEXT,
			content_json TEXT NOT NULL,
			metadata_json TEXT,
			created_at INTEGER NOT NULL
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_room ON %s (room_id, created_at)`, table, table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure table %s: %w", table, err)
		}
	}
	s.tables[table] = true
	return nil
}

// CreateMemory inserts mem into table.
func (s *SQLiteStore) CreateMemory(ctx context.Context, mem *core.Memory, table string) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	if err := s.ensureTable(ctx, name); err != nil {
		return err
	}
	id := mem.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := mem.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	content, err := json.Marshal(mem.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	var metadata []byte
	if len(mem.Metadata) > 0 {
		if metadata, err = json.Marshal(mem.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, entity_id, agent_id, room_id, world_id, content_json, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, name),
		id, mem.EntityID, mem.AgentID, mem.RoomID, mem.WorldID,
		string(content), string(metadata), created.UnixNano(),
	)
	return err
}

// GetMemories returns the most recent q.Count memories of q.RoomID, oldest first.
func (s *SQLiteStore) GetMemories(ctx context.Context, q Query) ([]*core.Memory, error) {
	name, err := tableName(q.Table)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, name); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, entity_id, agent_id, room_id, world_id, content_json, metadata_json, created_at
		FROM %s WHERE room_id = ? ORDER BY created_at DESC, rowid DESC
	`, name)
	args := []any{q.RoomID}
	if q.Count > 0 {
		query += " LIMIT ?"
		args = append(args, q.Count)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Memory
	for rows.Next() {
		var (
			mem                        core.Memory
			agentID, worldID, metadata sql.NullString
			content                    string
			created                    int64
		)
		if err := rows.Scan(&mem.ID, &mem.EntityID, &agentID, &mem.RoomID, &worldID, &content, &metadata, &created); err != nil {
			return nil, err
		}
		mem.AgentID = agentID.String
		mem.WorldID = worldID.String
		if err := json.Unmarshal([]byte(content), &mem.Content); err != nil {
			return nil, fmt.Errorf("decode content of %s: %w", mem.ID, err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &mem.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", mem.ID, err)
			}
		}
		mem.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, &mem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetCache returns the value stored under key.
func (s *SQLiteStore) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cache WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// SetCache upserts value under key.
func (s *SQLiteStore) SetCache(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// DeleteCache removes key.
func (s *SQLiteStore) DeleteCache(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
	return err
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database if the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
