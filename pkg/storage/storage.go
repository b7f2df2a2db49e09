// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persistence collaborator used by the runtime
// and ships in-memory and SQLite implementations.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jllopis/aion/pkg/core"
)

// DefaultTable is the memory table used when a query names none.
const DefaultTable = "messages"

// Query selects memories of one room.
type Query struct {
	RoomID string
	// Count limits the result to the most recent memories; <= 0 means all.
	Count int
	Table string
}

// Store persists memories and a key/value cache.
type Store interface {
	CreateMemory(ctx context.Context, mem *core.Memory, table string) error
	// GetMemories returns memories oldest first.
	GetMemories(ctx context.Context, q Query) ([]*core.Memory, error)
	GetCache(ctx context.Context, key string) ([]byte, bool, error)
	SetCache(ctx context.Context, key string, value []byte) error
	DeleteCache(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Open returns a Store for driver: "memory" or "sqlite".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory", "inmemory":
		return NewInMemory(), nil
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func tableName(table string) (string, error) {
	if table == "" {
		return DefaultTable, nil
	}
	if !tableNamePattern.MatchString(table) {
		return "", fmt.Errorf("invalid table name: %q", table)
	}
	return table, nil
}
