// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on runtime spans and metrics.
const (
	AttrAgentID = "aion.agent.id"
	AttrRunID   = "aion.run.id"
	AttrRoomID  = "aion.room.id"
	AttrMessage = "aion.message.id"

	AttrActionName    = "aion.action.name"
	AttrActionSuccess = "aion.action.success"
	AttrActionCount   = "aion.actions.count"

	AttrProviderName  = "aion.provider.name"
	AttrProviderCount = "aion.providers.count"
	AttrStateCached   = "aion.state.cached"

	AttrEvaluatorName = "aion.evaluator.name"

	AttrModelType     = "aion.model.type"
	AttrModelProvider = "gen_ai.system"
	AttrModelStream   = "aion.model.stream"

	AttrPluginName     = "aion.plugin.name"
	AttrBridgeRequest  = "aion.bridge.request_type"
	AttrBridgeOutcome  = "aion.bridge.outcome"
	AttrComponent      = "aion.component"
	AttrErrorCode      = "error.code"
	AttrErrorRecovered = "aion.error.recoverable"
)

// RunAttributes returns the attributes identifying a pipeline invocation.
func RunAttributes(agentID, runID, roomID, messageID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentID, agentID),
	}
	if runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}
	if roomID != "" {
		attrs = append(attrs, attribute.String(AttrRoomID, roomID))
	}
	if messageID != "" {
		attrs = append(attrs, attribute.String(AttrMessage, messageID))
	}
	return attrs
}

// ModelAttributes returns attributes for a model dispatch.
func ModelAttributes(modelType, provider string, stream bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrModelType, modelType),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrModelProvider, provider))
	}
	if stream {
		attrs = append(attrs, attribute.Bool(AttrModelStream, true))
	}
	return attrs
}

// BridgeAttributes returns attributes for a bridge round trip.
func BridgeAttributes(plugin, requestType, outcome string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrPluginName, plugin),
		attribute.String(AttrBridgeRequest, requestType),
	}
	if outcome != "" {
		attrs = append(attrs, attribute.String(AttrBridgeOutcome, outcome))
	}
	return attrs
}
