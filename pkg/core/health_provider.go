// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthRegistry aggregates component checkers and caches their results for a TTL.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	cache    map[string]HealthResult
	cacheTTL time.Duration
	now      func() time.Time
}

// NewHealthRegistry creates a registry. A zero ttl defaults to 10s; a negative ttl disables caching.
func NewHealthRegistry(cacheTTL time.Duration) *HealthRegistry {
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Second
	}
	return &HealthRegistry{
		checkers: make(map[string]HealthChecker),
		cache:    make(map[string]HealthResult),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Register adds or replaces the checker for a component.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
	delete(r.cache, name)
}

// Unregister removes a component.
func (r *HealthRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkers, name)
	delete(r.cache, name)
}

// Check checks a single component, serving a cached result while fresh.
func (r *HealthRegistry) Check(ctx context.Context, name string) (HealthResult, error) {
	r.mu.RLock()
	checker, ok := r.checkers[name]
	cached, hit := r.cache[name]
	r.mu.RUnlock()
	if !ok {
		return HealthResult{}, fmt.Errorf("checker not registered: %s", name)
	}
	if hit && r.cacheTTL > 0 && r.now().Sub(cached.LastCheck) < r.cacheTTL {
		return cached, nil
	}

	result := checker.Check(ctx)
	result.Component = name
	if result.LastCheck.IsZero() {
		result.LastCheck = r.now()
	}
	if r.cacheTTL > 0 {
		r.mu.Lock()
		r.cache[name] = result
		r.mu.Unlock()
	}
	return result, nil
}

// CheckAll checks every component, sorted by name, and returns the overall status.
func (r *HealthRegistry) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	results := make([]HealthResult, 0, len(names))
	statuses := make([]HealthStatus, 0, len(names))
	for _, name := range names {
		result, err := r.Check(ctx, name)
		if err != nil {
			// unregistered concurrently
			continue
		}
		results = append(results, result)
		statuses = append(statuses, result.Status)
	}
	return results, WorstStatus(statuses...)
}
