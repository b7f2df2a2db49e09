// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package core defines the data model and extension contracts of the Aion
// kernel: actions, providers, evaluators, services, model handlers, event
// handlers, task workers and routes. The registry stores these as interface
// values so in-process handlers and bridge proxies are interchangeable.
package core

import (
	"context"
	"errors"
	"net/http"
)

// HandlerCallback receives content produced while an action or evaluator runs,
// typically a streamed reply that should reach the user before the handler returns.
type HandlerCallback func(ctx context.Context, content Content) error

// HandlerOptions carries per-invocation options for action and evaluator handlers.
type HandlerOptions struct {
	// PreviousResults holds the results of actions that already ran in the same turn.
	PreviousResults []ActionResult `json:"previousResults,omitempty"`
	// Parameters holds free-form parameters supplied by the caller or the model.
	Parameters map[string]any `json:"parameters,omitempty"`
	// DidRespond is set for evaluators when the agent produced a reply this turn.
	DidRespond bool `json:"didRespond,omitempty"`
}

// ActionExample is one turn of a usage example shown to the model.
type ActionExample struct {
	Name    string  `json:"name"`
	Content Content `json:"content"`
}

// Action is a named, validated, executable capability.
type Action interface {
	Name() string
	Description() string
	Similes() []string
	Examples() [][]ActionExample
	Validate(ctx context.Context, msg *Memory, state *State) (bool, error)
	Handle(ctx context.Context, msg *Memory, state *State, opts HandlerOptions, cb HandlerCallback) (*ActionResult, error)
}

// Provider contributes a fragment of context to a composed State.
type Provider interface {
	Name() string
	Description() string
	// Position orders providers during composition; lower runs first.
	Position() int
	// Dynamic providers are only included when explicitly requested.
	Dynamic() bool
	// Private providers are excluded from default composition.
	Private() bool
	Get(ctx context.Context, msg *Memory, state *State) (ProviderResult, error)
}

// Evaluator is a post-hoc analysis step run after actions.
type Evaluator interface {
	Name() string
	Description() string
	Similes() []string
	// AlwaysRun evaluators bypass Validate.
	AlwaysRun() bool
	Validate(ctx context.Context, msg *Memory, state *State) (bool, error)
	// Handle may return a nil result. Returning ErrEvaluatorSkipped means the
	// evaluator declined inside Handle and did not run.
	Handle(ctx context.Context, msg *Memory, state *State, opts HandlerOptions, cb HandlerCallback) (*ActionResult, error)
}

// ErrEvaluatorSkipped is returned by evaluators that validate as part of
// Handle, such as bridged evaluators, when validation rejects the message.
var ErrEvaluatorSkipped = errors.New("evaluator skipped")

// Service is a long-lived capability keyed by a type name. Services are
// started and stopped by the runtime lifecycle, never per message.
type Service interface {
	Type() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ModelHandler generates a model output for params. Text model types return a
// string, embedding types return []float32.
type ModelHandler func(ctx context.Context, params ModelParams) (any, error)

// StreamHandler generates a lazily produced, single-pass sequence of chunks.
// The channel is closed after the final chunk.
type StreamHandler func(ctx context.Context, params ModelParams) (<-chan StreamChunk, error)

// EventHandler reacts to a bus event. Errors are logged by the bus, never propagated.
type EventHandler func(ctx context.Context, event Event) error

// TaskWorker executes deferred or recurring tasks by name.
type TaskWorker struct {
	Name     string
	Validate func(ctx context.Context, task *Task, msg *Memory) (bool, error)
	Execute  func(ctx context.Context, task *Task, options map[string]any) error
}

// Route is an HTTP endpoint contributed by a plugin.
type Route struct {
	Method  string
	Path    string
	Public  bool
	Handler http.HandlerFunc
}

// ModelRegistration pairs a model handler with its resolution metadata.
type ModelRegistration struct {
	ModelType ModelType
	Provider  string
	Priority  int
	Handler   ModelHandler
}

// StreamRegistration pairs a streaming model handler with its resolution metadata.
type StreamRegistration struct {
	ModelType ModelType
	Provider  string
	Priority  int
	Handler   StreamHandler
}

// AgentRuntime is the surface a plugin sees during Init.
type AgentRuntime interface {
	AgentID() string
	Character() *Character
	GetSetting(key string) (any, bool)
	UseModel(ctx context.Context, modelType ModelType, params ModelParams) (any, error)
	Emit(ctx context.Context, event Event, names ...EventType)
}

// Plugin bundles components registered together.
type Plugin struct {
	Name         string
	Description  string
	Config       map[string]string
	Dependencies []string
	// Init is awaited once before the plugin's components are eligible to run.
	Init        func(ctx context.Context, config map[string]string, rt AgentRuntime) error
	Actions     []Action
	Providers   []Provider
	Evaluators  []Evaluator
	Services    []Service
	Models      []ModelRegistration
	Streams     []StreamRegistration
	Events      map[EventType][]EventHandler
	Routes      []Route
	TaskWorkers []TaskWorker
}
