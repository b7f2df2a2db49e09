package executor

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jllopis/aion/pkg/core"
)

// DefaultResultStoreSize is the number of messages whose results are retained.
const DefaultResultStoreSize = 1000

// ResultStore keeps action results per message id. Lists are append-only;
// the least recently touched message is evicted when the bound is reached.
type ResultStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []core.ActionResult]
}

// NewResultStore creates a store bounded to size messages.
func NewResultStore(size int) (*ResultStore, error) {
	if size <= 0 {
		size = DefaultResultStoreSize
	}
	cache, err := lru.New[string, []core.ActionResult](size)
	if err != nil {
		return nil, fmt.Errorf("result store: %w", err)
	}
	return &ResultStore{cache: cache}, nil
}

// Append adds results to the list of messageID.
func (s *ResultStore) Append(messageID string, results ...core.ActionResult) {
	if len(results) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, _ := s.cache.Get(messageID)
	next := make([]core.ActionResult, 0, len(existing)+len(results))
	next = append(next, existing...)
	next = append(next, results...)
	s.cache.Add(messageID, next)
}

// Get returns a copy of the results of messageID.
func (s *ResultStore) Get(messageID string) []core.ActionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	results, ok := s.cache.Get(messageID)
	if !ok {
		return nil
	}
	return append([]core.ActionResult(nil), results...)
}

// Delete drops the results of messageID.
func (s *ResultStore) Delete(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(messageID)
}

// Len reports how many messages have results.
func (s *ResultStore) Len() int {
	return s.cache.Len()
}
