// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/errors"
)

// Plugin returns a plugin whose actions, providers and evaluators forward to
// the worker. Proxies look the worker up on every call, so they keep working
// across respawns and fail with a bridge unavailable error while it is down.
func (h *Host) Plugin() *core.Plugin {
	m := h.Manifest()
	p := &core.Plugin{
		Name:         m.Name,
		Description:  m.Description,
		Config:       m.StringConfig(),
		Dependencies: m.Dependencies,
	}
	for _, a := range m.Actions {
		p.Actions = append(p.Actions, &proxyAction{host: h, desc: a})
	}
	for _, pr := range m.Providers {
		p.Providers = append(p.Providers, &proxyProvider{host: h, desc: pr})
	}
	for _, e := range m.Evaluators {
		p.Evaluators = append(p.Evaluators, &proxyEvaluator{host: h, desc: e})
	}
	return p
}

type proxyAction struct {
	host *Host
	desc ActionDescriptor
}

func (a *proxyAction) Name() string                     { return a.desc.Name }
func (a *proxyAction) Description() string              { return a.desc.Description }
func (a *proxyAction) Similes() []string                { return a.desc.Similes }
func (a *proxyAction) Examples() [][]core.ActionExample { return nil }

func (a *proxyAction) Validate(ctx context.Context, msg *core.Memory, state *core.State) (bool, error) {
	resp, err := a.host.request(ctx, Request{
		Type:   TypeActionValidate,
		Action: a.desc.Name,
		Memory: msg,
		State:  state,
	})
	if err != nil {
		return false, err
	}
	return resp.Valid != nil && *resp.Valid, nil
}

func (a *proxyAction) Handle(ctx context.Context, msg *core.Memory, state *core.State, opts core.HandlerOptions, cb core.HandlerCallback) (*core.ActionResult, error) {
	resp, err := a.host.request(ctx, Request{
		Type:    TypeActionInvoke,
		Action:  a.desc.Name,
		Memory:  msg,
		State:   state,
		Options: &opts,
	})
	if err != nil {
		return nil, err
	}
	a.host.replay(ctx, a.desc.Name, resp.Callbacks, cb)
	return decodeResult(resp, a.desc.Name)
}

type proxyProvider struct {
	host *Host
	desc ProviderDescriptor
}

func (p *proxyProvider) Name() string        { return p.desc.Name }
func (p *proxyProvider) Description() string { return p.desc.Description }
func (p *proxyProvider) Position() int       { return p.desc.Position }
func (p *proxyProvider) Dynamic() bool       { return p.desc.Dynamic }
func (p *proxyProvider) Private() bool       { return p.desc.Private }

func (p *proxyProvider) Get(ctx context.Context, msg *core.Memory, state *core.State) (core.ProviderResult, error) {
	resp, err := p.host.request(ctx, Request{
		Type:     TypeProviderGet,
		Provider: p.desc.Name,
		Memory:   msg,
		State:    state,
	})
	if err != nil {
		return core.ProviderResult{}, err
	}
	var result core.ProviderResult
	if isNull(resp.Result) {
		return result, nil
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return result, errors.New(errors.CodeBridgeProtocol, "decode provider result", err).
			WithContext("provider", p.desc.Name)
	}
	return result, nil
}

// proxyEvaluator validates inside the worker as part of evaluator.invoke, so
// Validate always passes and Handle reports core.ErrEvaluatorSkipped when the
// worker rejected the message. The worker signals that with "valid":false;
// workers that omit it signal it with a null result for an evaluator that is
// not AlwaysRun.
type proxyEvaluator struct {
	host *Host
	desc EvaluatorDescriptor
}

func (e *proxyEvaluator) Name() string        { return e.desc.Name }
func (e *proxyEvaluator) Description() string { return e.desc.Description }
func (e *proxyEvaluator) Similes() []string   { return e.desc.Similes }
func (e *proxyEvaluator) AlwaysRun() bool     { return e.desc.AlwaysRun }

func (e *proxyEvaluator) Validate(context.Context, *core.Memory, *core.State) (bool, error) {
	return true, nil
}

func (e *proxyEvaluator) Handle(ctx context.Context, msg *core.Memory, state *core.State, opts core.HandlerOptions, cb core.HandlerCallback) (*core.ActionResult, error) {
	resp, err := e.host.request(ctx, Request{
		Type:      TypeEvaluatorInvoke,
		Evaluator: e.desc.Name,
		Memory:    msg,
		State:     state,
		Options:   &opts,
	})
	if err != nil {
		return nil, err
	}
	if skipped(resp, e.desc.AlwaysRun) {
		return nil, core.ErrEvaluatorSkipped
	}
	e.host.replay(ctx, e.desc.Name, resp.Callbacks, cb)
	return decodeResult(resp, e.desc.Name)
}

func skipped(resp Response, alwaysRun bool) bool {
	if resp.Valid != nil {
		return !*resp.Valid
	}
	return !alwaysRun && isNull(resp.Result)
}

// replay delivers content the worker produced through its callback.
func (h *Host) replay(ctx context.Context, name string, contents []core.Content, cb core.HandlerCallback) {
	if cb == nil {
		return
	}
	for _, content := range contents {
		if err := cb(ctx, content); err != nil {
			h.log.Warn("bridge.callback.error",
				slog.String("plugin", h.Name()),
				slog.String("handler", name),
				slog.String("error", err.Error()))
		}
	}
}

func decodeResult(resp Response, name string) (*core.ActionResult, error) {
	if isNull(resp.Result) {
		return nil, nil
	}
	var result core.ActionResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, errors.New(errors.CodeBridgeProtocol, "decode handler result", err).
			WithContext("handler", name)
	}
	if result.ActionName == "" {
		result.ActionName = name
	}
	return &result, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

var (
	_ core.Action    = (*proxyAction)(nil)
	_ core.Provider  = (*proxyProvider)(nil)
	_ core.Evaluator = (*proxyEvaluator)(nil)
)
