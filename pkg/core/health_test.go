// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthRegistryCheckAll(t *testing.T) {
	reg := NewHealthRegistry(-1)
	reg.Register("storage", StaticHealth(HealthHealthy, "ok"))
	reg.Register("bridge:weather", StaticHealth(HealthDegraded, "respawning"))

	results, overall := reg.CheckAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "bridge:weather", results[0].Component)
	assert.Equal(t, "storage", results[1].Component)
	assert.Equal(t, HealthDegraded, overall)

	reg.Register("model", StaticHealth(HealthUnhealthy, "no handler"))
	_, overall = reg.CheckAll(context.Background())
	assert.Equal(t, HealthUnhealthy, overall)
}

func TestHealthRegistryEmptyIsHealthy(t *testing.T) {
	_, overall := NewHealthRegistry(0).CheckAll(context.Background())
	assert.Equal(t, HealthHealthy, overall)
}

func TestHealthRegistryUnknownComponent(t *testing.T) {
	_, err := NewHealthRegistry(0).Check(context.Background(), "missing")
	assert.Error(t, err)
}

func TestHealthRegistryCachesWithinTTL(t *testing.T) {
	calls := 0
	reg := NewHealthRegistry(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }
	reg.Register("svc", HealthCheckFunc(func(context.Context) HealthResult {
		calls++
		return HealthResult{Status: HealthHealthy, LastCheck: now}
	}))

	_, err := reg.Check(context.Background(), "svc")
	require.NoError(t, err)
	_, err = reg.Check(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	now = now.Add(2 * time.Minute)
	_, err = reg.Check(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestHealthRegistryUnregister(t *testing.T) {
	reg := NewHealthRegistry(0)
	reg.Register("svc", StaticHealth(HealthHealthy, ""))
	reg.Unregister("svc")
	results, _ := reg.CheckAll(context.Background())
	assert.Empty(t, results)
}

func TestWorstStatus(t *testing.T) {
	assert.Equal(t, HealthHealthy, WorstStatus())
	assert.Equal(t, HealthDegraded, WorstStatus(HealthHealthy, HealthDegraded))
	assert.Equal(t, HealthUnhealthy, WorstStatus(HealthDegraded, HealthUnhealthy, HealthHealthy))
}
