// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor runs the actions selected by the model and the evaluators
// that apply to a message.
//
// Actions run one at a time in the order given. A failing action becomes a
// failed ActionResult and the next action still runs. Evaluator failures are
// only logged.
package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/events"
	"github.com/jllopis/aion/pkg/registry"
	"github.com/jllopis/aion/pkg/telemetry"
)

// Executor runs actions and evaluators from a registry.
type Executor struct {
	reg     *registry.Registry
	results *ResultStore
	bus     *events.Bus
	log     *slog.Logger
	metrics *telemetry.RuntimeMetrics
	tracer  trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// WithEvents emits action and evaluator lifecycle events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(e *Executor) { e.bus = bus }
}

// WithMetrics records action and evaluator counts on m.
func WithMetrics(m *telemetry.RuntimeMetrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithResultStore replaces the default result store.
func WithResultStore(store *ResultStore) Option {
	return func(e *Executor) {
		if store != nil {
			e.results = store
		}
	}
}

// New creates an Executor with a default-sized result store.
func New(reg *registry.Registry, opts ...Option) *Executor {
	store, _ := NewResultStore(DefaultResultStoreSize)
	e := &Executor{
		reg:     reg,
		results: store,
		log:     slog.Default(),
		tracer:  otel.Tracer("aion/executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessOptions controls one ProcessActions call.
type ProcessOptions struct {
	Callback   core.HandlerCallback
	Parameters map[string]any
}

// ProcessOption sets a ProcessOptions field.
type ProcessOption func(*ProcessOptions)

// WithCallback passes cb to every action handler.
func WithCallback(cb core.HandlerCallback) ProcessOption {
	return func(o *ProcessOptions) { o.Callback = cb }
}

// WithParameters passes free-form parameters to every action handler.
func WithParameters(params map[string]any) ProcessOption {
	return func(o *ProcessOptions) { o.Parameters = params }
}

// ProcessActions runs the actions named by responses in order and records
// each result against msg.ID. It returns the results of this call.
func (e *Executor) ProcessActions(ctx context.Context, msg *core.Memory, responses []*core.Memory, state *core.State, opts ...ProcessOption) []core.ActionResult {
	var o ProcessOptions
	for _, opt := range opts {
		opt(&o)
	}
	if state == nil {
		state = core.NewState()
	}

	var names []string
	for _, resp := range responses {
		if resp != nil {
			names = append(names, resp.Content.Actions...)
		}
	}

	ctx, span := e.tracer.Start(ctx, "Executor.ProcessActions",
		trace.WithAttributes(
			attribute.String(telemetry.AttrMessage, msg.ID),
			attribute.Int(telemetry.AttrActionCount, len(names)),
		))
	defer span.End()

	var turn []core.ActionResult
	for _, name := range names {
		result, ran := e.runAction(ctx, msg, state, name, turn, o)
		if !ran {
			continue
		}
		turn = append(turn, result)
		e.results.Append(msg.ID, result)
		e.metrics.RecordAction(ctx, result.ActionName, result.Success)
	}
	return turn
}

func (e *Executor) runAction(ctx context.Context, msg *core.Memory, state *core.State, name string, previous []core.ActionResult, o ProcessOptions) (core.ActionResult, bool) {
	action, ok := e.reg.Action(name)
	if !ok {
		e.log.WarnContext(ctx, "executor.action.not_found",
			slog.String("action", name),
			slog.String("message_id", msg.ID),
		)
		return core.Failed(name, fmt.Errorf("action not found: %s", name)), true
	}

	valid, err := e.validateAction(ctx, action, msg, state)
	if err != nil {
		e.log.WarnContext(ctx, "executor.action.validate_error",
			slog.String("action", action.Name()),
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		e.metrics.RecordError(ctx, err, "executor")
		return core.Failed(action.Name(), err), true
	}
	if !valid {
		e.log.DebugContext(ctx, "executor.action.skipped",
			slog.String("action", action.Name()),
			slog.String("message_id", msg.ID),
		)
		return core.ActionResult{}, false
	}

	e.emit(ctx, core.EventActionStarted, msg, map[string]any{"action": action.Name()})

	handlerOpts := core.HandlerOptions{
		PreviousResults: append([]core.ActionResult(nil), previous...),
		Parameters:      o.Parameters,
	}
	res, err := e.handleAction(ctx, action, msg, state, handlerOpts, o.Callback)
	var result core.ActionResult
	switch {
	case err != nil:
		e.log.ErrorContext(ctx, "executor.action.failed",
			slog.String("action", action.Name()),
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		e.metrics.RecordError(ctx, err, "executor")
		result = core.Failed(action.Name(), err)
	case res == nil:
		result = core.ActionResult{ActionName: action.Name(), Success: true}
	default:
		result = *res
		if result.ActionName == "" {
			result.ActionName = action.Name()
		}
	}

	e.emit(ctx, core.EventActionCompleted, msg, map[string]any{
		"action":  result.ActionName,
		"success": result.Success,
		"error":   result.Error,
	})
	return result, true
}

func (e *Executor) validateAction(ctx context.Context, action core.Action, msg *core.Memory, state *core.State) (valid bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			valid, err = false, fmt.Errorf("validate panic: %v", rec)
		}
	}()
	return action.Validate(ctx, msg, state)
}

func (e *Executor) handleAction(ctx context.Context, action core.Action, msg *core.Memory, state *core.State, opts core.HandlerOptions, cb core.HandlerCallback) (res *core.ActionResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, fmt.Errorf("action panic: %v", rec)
		}
	}()
	return action.Handle(ctx, msg, state, opts, cb)
}

// Evaluate runs every evaluator that validates or is marked AlwaysRun, in
// registration order, and returns the ones that ran.
func (e *Executor) Evaluate(ctx context.Context, msg *core.Memory, state *core.State, didRespond bool, cb core.HandlerCallback) []core.Evaluator {
	if state == nil {
		state = core.NewState()
	}
	var executed []core.Evaluator
	for _, ev := range e.reg.Evaluators() {
		if !ev.AlwaysRun() {
			ok, err := e.validateEvaluator(ctx, ev, msg, state)
			if err != nil {
				e.log.WarnContext(ctx, "executor.evaluator.validate_error",
					slog.String("evaluator", ev.Name()),
					slog.String("error", err.Error()),
				)
			}
			if !ok {
				continue
			}
		}

		e.emit(ctx, core.EventEvaluatorStarted, msg, map[string]any{"evaluator": ev.Name()})
		res, err := e.handleEvaluator(ctx, ev, msg, state, core.HandlerOptions{DidRespond: didRespond}, cb)
		if stderrors.Is(err, core.ErrEvaluatorSkipped) {
			e.log.DebugContext(ctx, "executor.evaluator.skipped",
				slog.String("evaluator", ev.Name()),
				slog.String("message_id", msg.ID),
			)
			e.emit(ctx, core.EventEvaluatorCompleted, msg, map[string]any{"evaluator": ev.Name(), "skipped": true})
			continue
		}
		executed = append(executed, ev)
		if err != nil {
			e.log.WarnContext(ctx, "executor.evaluator.failed",
				slog.String("evaluator", ev.Name()),
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()),
			)
		}
		payload := map[string]any{"evaluator": ev.Name(), "success": err == nil}
		if res != nil {
			payload["result"] = *res
		}
		e.emit(ctx, core.EventEvaluatorCompleted, msg, payload)
		e.metrics.RecordEvaluator(ctx, ev.Name())
	}
	return executed
}

func (e *Executor) validateEvaluator(ctx context.Context, ev core.Evaluator, msg *core.Memory, state *core.State) (valid bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			valid, err = false, fmt.Errorf("validate panic: %v", rec)
		}
	}()
	return ev.Validate(ctx, msg, state)
}

func (e *Executor) handleEvaluator(ctx context.Context, ev core.Evaluator, msg *core.Memory, state *core.State, opts core.HandlerOptions, cb core.HandlerCallback) (res *core.ActionResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, fmt.Errorf("evaluator panic: %v", rec)
		}
	}()
	return ev.Handle(ctx, msg, state, opts, cb)
}

// Results returns a copy of the results recorded for messageID.
func (e *Executor) Results(messageID string) []core.ActionResult {
	return e.results.Get(messageID)
}

// Store exposes the underlying result store.
func (e *Executor) Store() *ResultStore {
	return e.results
}

func (e *Executor) emit(ctx context.Context, name core.EventType, msg *core.Memory, payload map[string]any) {
	if e.bus == nil {
		return
	}
	event := core.NewEvent(name, payload)
	event.RoomID = msg.RoomID
	payload["messageId"] = msg.ID
	e.bus.Emit(ctx, event)
}
