// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"time"
)

// HealthStatus represents the health state of a runtime component.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult represents the result of a health check.
type HealthResult struct {
	Status    HealthStatus `json:"status"`
	Component string       `json:"component"`
	Message   string       `json:"message,omitempty"`
	LastCheck time.Time    `json:"lastCheck"`
	Error     error        `json:"-"`
}

// HealthChecker checks the health of a component such as a bridge worker,
// the storage adapter or a registered service.
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) HealthResult

// Check calls f.
func (f HealthCheckFunc) Check(ctx context.Context) HealthResult {
	result := f(ctx)
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now()
	}
	return result
}

// StaticHealth returns a checker reporting a constant status.
func StaticHealth(status HealthStatus, message string) HealthChecker {
	return HealthCheckFunc(func(context.Context) HealthResult {
		return HealthResult{Status: status, Message: message}
	})
}

// WorstStatus folds statuses into the most severe one.
func WorstStatus(statuses ...HealthStatus) HealthStatus {
	overall := HealthHealthy
	for _, s := range statuses {
		switch s {
		case HealthUnhealthy:
			return HealthUnhealthy
		case HealthDegraded:
			overall = HealthDegraded
		}
	}
	return overall
}
