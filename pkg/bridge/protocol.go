// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge runs plugins in a separate worker process and exposes them to
// the registry as proxy actions, providers and evaluators.
//
// Host and worker exchange newline-delimited JSON objects. The worker writes
// one unsolicited ready message carrying its manifest, then answers each
// request with a response of type "<request type>.result" and the same id, or
// with an error response.
package bridge

import (
	"encoding/json"

	"github.com/jllopis/aion/pkg/core"
)

// Message types.
const (
	TypeReady           = "ready"
	TypePluginInit      = "plugin.init"
	TypeActionValidate  = "action.validate"
	TypeActionInvoke    = "action.invoke"
	TypeProviderGet     = "provider.get"
	TypeEvaluatorInvoke = "evaluator.invoke"
	TypeError           = "error"

	ResultSuffix = ".result"
)

// ResultType returns the response type for a request type.
func ResultType(requestType string) string {
	return requestType + ResultSuffix
}

// Request is a host to worker envelope.
type Request struct {
	Type      string               `json:"type"`
	ID        string               `json:"id"`
	Action    string               `json:"action,omitempty"`
	Provider  string               `json:"provider,omitempty"`
	Evaluator string               `json:"evaluator,omitempty"`
	Memory    *core.Memory         `json:"memory,omitempty"`
	State     *core.State          `json:"state,omitempty"`
	Options   *core.HandlerOptions `json:"options,omitempty"`
	Config    map[string]string    `json:"config,omitempty"`
}

// Response is a worker to host envelope. Error responses carry an empty ID
// when the request could not be decoded.
type Response struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Valid     *bool           `json:"valid,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Details   any             `json:"details,omitempty"`
	Callbacks []core.Content  `json:"callbacks,omitempty"`
}

// Ready is the first line a worker writes.
type Ready struct {
	Type     string    `json:"type"`
	Manifest *Manifest `json:"manifest"`
}

// envelope is decoded first to route a worker line.
type envelope struct {
	Type     string          `json:"type"`
	ID       *string         `json:"id"`
	Manifest json.RawMessage `json:"manifest"`
}
