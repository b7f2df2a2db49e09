// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/aion/pkg/core"
)

// InMemory implements Store with maps. Data is lost on restart.
type InMemory struct {
	mu     sync.RWMutex
	tables map[string]map[string][]*core.Memory
	cache  map[string][]byte
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		tables: make(map[string]map[string][]*core.Memory),
		cache:  make(map[string][]byte),
	}
}

// CreateMemory stores a copy of mem under its room.
func (s *InMemory) CreateMemory(_ context.Context, mem *core.Memory, table string) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	stored := *mem
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rooms, ok := s.tables[name]
	if !ok {
		rooms = make(map[string][]*core.Memory)
		s.tables[name] = rooms
	}
	rooms[stored.RoomID] = append(rooms[stored.RoomID], &stored)
	return nil
}

// GetMemories returns the most recent q.Count memories of q.RoomID, oldest first.
func (s *InMemory) GetMemories(_ context.Context, q Query) ([]*core.Memory, error) {
	name, err := tableName(q.Table)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	all := append([]*core.Memory(nil), s.tables[name][q.RoomID]...)
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if q.Count > 0 && len(all) > q.Count {
		all = all[len(all)-q.Count:]
	}
	out := make([]*core.Memory, len(all))
	for i, m := range all {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

// GetCache returns a copy of the cached value.
func (s *InMemory) GetCache(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cache[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// SetCache stores a copy of value.
func (s *InMemory) SetCache(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = append([]byte(nil), value...)
	return nil
}

// DeleteCache removes key.
func (s *InMemory) DeleteCache(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
	return nil
}

func (s *InMemory) Ping(context.Context) error { return nil }

func (s *InMemory) Close() error { return nil }
