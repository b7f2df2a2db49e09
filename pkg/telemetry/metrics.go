// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/aion/pkg/errors"
)

// RuntimeMetrics records counters and latencies for the message pipeline.
// A nil *RuntimeMetrics is valid and records nothing.
type RuntimeMetrics struct {
	messages         metric.Int64Counter
	actions          metric.Int64Counter
	providerFailures metric.Int64Counter
	evaluators       metric.Int64Counter
	bridgeRequests   metric.Int64Counter
	errorsTotal      metric.Int64Counter
	modelLatency     metric.Float64Histogram
}

// NewRuntimeMetrics creates the instruments on mp, or on the global provider when mp is nil.
func NewRuntimeMetrics(mp metric.MeterProvider) (*RuntimeMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("aion/runtime")

	m := &RuntimeMetrics{}
	var err error
	if m.messages, err = meter.Int64Counter("aion.messages.total",
		metric.WithDescription("Messages handled by the pipeline")); err != nil {
		return nil, err
	}
	if m.actions, err = meter.Int64Counter("aion.actions.total",
		metric.WithDescription("Action results by action and success")); err != nil {
		return nil, err
	}
	if m.providerFailures, err = meter.Int64Counter("aion.providers.failures",
		metric.WithDescription("Provider failures isolated during state composition")); err != nil {
		return nil, err
	}
	if m.evaluators, err = meter.Int64Counter("aion.evaluators.total",
		metric.WithDescription("Evaluators executed")); err != nil {
		return nil, err
	}
	if m.bridgeRequests, err = meter.Int64Counter("aion.bridge.requests",
		metric.WithDescription("Bridge round trips by request type and outcome")); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter("aion.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	if m.modelLatency, err = meter.Float64Histogram("aion.model.latency",
		metric.WithDescription("Model handler latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordMessage counts one handled message.
func (m *RuntimeMetrics) RecordMessage(ctx context.Context, agentID string) {
	if m == nil {
		return
	}
	m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAgentID, agentID)))
}

// RecordAction counts one action result.
func (m *RuntimeMetrics) RecordAction(ctx context.Context, name string, success bool) {
	if m == nil {
		return
	}
	m.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrActionName, name),
		attribute.Bool(AttrActionSuccess, success),
	))
}

// RecordProviderFailure counts one provider failure.
func (m *RuntimeMetrics) RecordProviderFailure(ctx context.Context, name string) {
	if m == nil {
		return
	}
	m.providerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrProviderName, name)))
}

// RecordEvaluator counts one executed evaluator.
func (m *RuntimeMetrics) RecordEvaluator(ctx context.Context, name string) {
	if m == nil {
		return
	}
	m.evaluators.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrEvaluatorName, name)))
}

// RecordBridgeRequest counts one bridge round trip.
func (m *RuntimeMetrics) RecordBridgeRequest(ctx context.Context, plugin, requestType, outcome string) {
	if m == nil {
		return
	}
	m.bridgeRequests.Add(ctx, 1, metric.WithAttributes(BridgeAttributes(plugin, requestType, outcome)...))
}

// RecordModelLatency records how long a model handler took.
func (m *RuntimeMetrics) RecordModelLatency(ctx context.Context, modelType, provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.modelLatency.Record(ctx, float64(d)/float64(time.Millisecond),
		metric.WithAttributes(ModelAttributes(modelType, provider, false)...))
}

// RecordError counts err under its typed error code.
func (m *RuntimeMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	e := errors.As(err)
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(e.Code)),
		attribute.String(AttrComponent, component),
		attribute.String(AttrErrorRecovered, e.RecoverableString()),
	))
}
