// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package core

import "context"

// ActionSpec is a function-backed Action for in-process plugins.
type ActionSpec struct {
	ActionName   string
	Summary      string
	Aliases      []string
	Samples      [][]ActionExample
	ValidateFunc func(ctx context.Context, msg *Memory, state *State) (bool, error)
	HandleFunc   func(ctx context.Context, msg *Memory, state *State, opts HandlerOptions, cb HandlerCallback) (*ActionResult, error)
}

func (a *ActionSpec) Name() string                { return a.ActionName }
func (a *ActionSpec) Description() string         { return a.Summary }
func (a *ActionSpec) Similes() []string           { return a.Aliases }
func (a *ActionSpec) Examples() [][]ActionExample { return a.Samples }

// Validate runs ValidateFunc; a nil ValidateFunc always validates.
func (a *ActionSpec) Validate(ctx context.Context, msg *Memory, state *State) (bool, error) {
	if a.ValidateFunc == nil {
		return true, nil
	}
	return a.ValidateFunc(ctx, msg, state)
}

// Handle runs HandleFunc; a nil HandleFunc reports success with no output.
func (a *ActionSpec) Handle(ctx context.Context, msg *Memory, state *State, opts HandlerOptions, cb HandlerCallback) (*ActionResult, error) {
	if a.HandleFunc == nil {
		return &ActionResult{ActionName: a.ActionName, Success: true}, nil
	}
	return a.HandleFunc(ctx, msg, state, opts, cb)
}

// ProviderSpec is a function-backed Provider.
type ProviderSpec struct {
	ProviderName string
	Summary      string
	Order        int
	IsDynamic    bool
	IsPrivate    bool
	GetFunc      func(ctx context.Context, msg *Memory, state *State) (ProviderResult, error)
}

func (p *ProviderSpec) Name() string        { return p.ProviderName }
func (p *ProviderSpec) Description() string { return p.Summary }
func (p *ProviderSpec) Position() int       { return p.Order }
func (p *ProviderSpec) Dynamic() bool       { return p.IsDynamic }
func (p *ProviderSpec) Private() bool       { return p.IsPrivate }

func (p *ProviderSpec) Get(ctx context.Context, msg *Memory, state *State) (ProviderResult, error) {
	if p.GetFunc == nil {
		return ProviderResult{}, nil
	}
	return p.GetFunc(ctx, msg, state)
}

// EvaluatorSpec is a function-backed Evaluator.
type EvaluatorSpec struct {
	EvaluatorName string
	Summary       string
	Aliases       []string
	Always        bool
	ValidateFunc  func(ctx context.Context, msg *Memory, state *State) (bool, error)
	HandleFunc    func(ctx context.Context, msg *Memory, state *State, opts HandlerOptions, cb HandlerCallback) (*ActionResult, error)
}

func (e *EvaluatorSpec) Name() string        { return e.EvaluatorName }
func (e *EvaluatorSpec) Description() string { return e.Summary }
func (e *EvaluatorSpec) Similes() []string   { return e.Aliases }
func (e *EvaluatorSpec) AlwaysRun() bool     { return e.Always }

func (e *EvaluatorSpec) Validate(ctx context.Context, msg *Memory, state *State) (bool, error) {
	if e.ValidateFunc == nil {
		return false, nil
	}
	return e.ValidateFunc(ctx, msg, state)
}

func (e *EvaluatorSpec) Handle(ctx context.Context, msg *Memory, state *State, opts HandlerOptions, cb HandlerCallback) (*ActionResult, error) {
	if e.HandleFunc == nil {
		return nil, nil
	}
	return e.HandleFunc(ctx, msg, state, opts, cb)
}

// ServiceSpec is a function-backed Service.
type ServiceSpec struct {
	ServiceType string
	StartFunc   func(ctx context.Context) error
	StopFunc    func(ctx context.Context) error
}

func (s *ServiceSpec) Type() string { return s.ServiceType }

func (s *ServiceSpec) Start(ctx context.Context) error {
	if s.StartFunc == nil {
		return nil
	}
	return s.StartFunc(ctx)
}

func (s *ServiceSpec) Stop(ctx context.Context) error {
	if s.StopFunc == nil {
		return nil
	}
	return s.StopFunc(ctx)
}

var (
	_ Action    = (*ActionSpec)(nil)
	_ Provider  = (*ProviderSpec)(nil)
	_ Evaluator = (*EvaluatorSpec)(nil)
	_ Service   = (*ServiceSpec)(nil)
)
