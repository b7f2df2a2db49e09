// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"text/template"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/aion/pkg/character"
	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/errors"
	"github.com/jllopis/aion/pkg/executor"
	"github.com/jllopis/aion/pkg/resilience"
	"github.com/jllopis/aion/pkg/run"
	"github.com/jllopis/aion/pkg/state"
	"github.com/jllopis/aion/pkg/storage"
	"github.com/jllopis/aion/pkg/telemetry"
)

// MessageHandlerTemplate is the character template key for the prompt used
// by HandleMessage.
const MessageHandlerTemplate = "messageHandlerTemplate"

const defaultMessageTemplate = `{{.System}}

{{.State}}

# Task
Respond as {{.AgentName}} to the latest message.

{{.Sender}}: {{.Message}}

Answer in this format:
<response>
<thought>short reasoning</thought>
<actions>comma separated action names, in the order they should run</actions>
<providers>comma separated extra providers, if needed</providers>
<text>the reply</text>
</response>`

// HandleResult is everything one pipeline invocation produced. On error it
// holds whatever was obtained before the failure.
type HandleResult struct {
	RunID          string
	Response       core.Response
	ResponseMemory *core.Memory
	State          *core.State
	ActionResults  []core.ActionResult
	Evaluators     []string
	// Messages are the contents delivered through the handler callback.
	Messages []*core.Memory
}

// HandleOptions controls one HandleMessage call.
type HandleOptions struct {
	Callback  core.HandlerCallback
	Providers []string
	ModelType core.ModelType
}

// HandleOption sets a HandleOptions field.
type HandleOption func(*HandleOptions)

// WithCallback receives every content produced by actions and evaluators.
func WithCallback(cb core.HandlerCallback) HandleOption {
	return func(o *HandleOptions) { o.Callback = cb }
}

// WithProviders includes dynamic or private providers in the composition.
func WithProviders(names ...string) HandleOption {
	return func(o *HandleOptions) { o.Providers = append(o.Providers, names...) }
}

// WithModelType selects the model type used to generate the response.
func WithModelType(mt core.ModelType) HandleOption {
	return func(o *HandleOptions) { o.ModelType = mt }
}

// HandleMessage runs msg through compose, generate, parse, execute and
// evaluate. Only model failures are returned as errors; provider, action and
// evaluator failures are recorded and the pipeline continues.
func (r *Runtime) HandleMessage(ctx context.Context, msg *core.Memory, opts ...HandleOption) (*HandleResult, error) {
	if msg == nil {
		return nil, errors.New(errors.CodeInvalidInput, "message is required", nil)
	}
	o := HandleOptions{ModelType: core.ModelTextLarge}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, _ = run.WithScope(ctx)
	ctx = core.WithRoomID(ctx, msg.RoomID)
	runID := r.runs.Start(ctx, msg.RoomID)
	ctx = core.WithRunID(ctx, runID)
	result := &HandleResult{RunID: runID}
	started := time.Now()

	ctx, span := r.tracer.Start(ctx, "Runtime.HandleMessage",
		trace.WithAttributes(telemetry.RunAttributes(r.agentID, runID, msg.RoomID, msg.ID)...))
	defer span.End()

	log := r.log.With(slog.String("run_id", runID), slog.String("message_id", msg.ID))
	log.InfoContext(ctx, "runtime.message.start", slog.String("room_id", msg.RoomID))
	r.metrics.RecordMessage(ctx, r.agentID)

	r.emitFor(ctx, core.EventRunStarted, msg, map[string]any{"status": "started"})
	r.emitFor(ctx, core.EventMessageReceived, msg, map[string]any{"message": msg})
	r.remember(ctx, msg)

	composeOpts := []state.ComposeOption{state.SkipCache()}
	if len(o.Providers) > 0 {
		composeOpts = append(composeOpts, state.WithInclude(o.Providers...))
	}
	st, err := r.composer.Compose(ctx, msg, composeOpts...)
	if err != nil {
		log.WarnContext(ctx, "runtime.compose.failed", slog.String("error", err.Error()))
		st = core.NewState()
	}
	result.State = st

	prompt, err := r.prompt(st, msg)
	if err != nil {
		return r.fail(ctx, span, result, msg, started, err)
	}
	raw, err := r.models.UseText(ctx, o.ModelType, core.ModelParams{
		Prompt: prompt,
		System: r.character.System,
	})
	if err != nil {
		return r.fail(ctx, span, result, msg, started, err)
	}

	resp := ParseResponse(raw)
	result.Response = resp
	if len(resp.Providers) > 0 {
		names := append(append([]string(nil), o.Providers...), resp.Providers...)
		if recomposed, err := r.composer.Compose(ctx, msg, state.WithInclude(names...), state.SkipCache()); err == nil {
			st = recomposed
			result.State = st
		}
	}

	responseMem := core.NewMemory(r.agentID, msg.RoomID, core.Content{
		Text:      resp.Text,
		Thought:   resp.Thought,
		Actions:   resp.Actions,
		Providers: resp.Providers,
		InReplyTo: msg.ID,
		Source:    "agent",
	})
	responseMem.AgentID = r.agentID
	result.ResponseMemory = responseMem

	var mu sync.Mutex
	cb := func(ctx context.Context, content core.Content) error {
		sent := core.NewMemory(r.agentID, msg.RoomID, content)
		sent.AgentID = r.agentID
		if sent.Content.InReplyTo == "" {
			sent.Content.InReplyTo = msg.ID
		}
		mu.Lock()
		result.Messages = append(result.Messages, sent)
		mu.Unlock()
		r.remember(ctx, sent)
		r.emitFor(ctx, core.EventMessageSent, msg, map[string]any{"message": sent})
		if o.Callback != nil {
			return o.Callback(ctx, content)
		}
		return nil
	}

	result.ActionResults = r.exec.ProcessActions(ctx, msg, []*core.Memory{responseMem}, st,
		executor.WithCallback(cb),
		executor.WithParameters(map[string]any{
			ParamResponseText: resp.Text,
			ParamThought:      resp.Thought,
		}))

	mu.Lock()
	didRespond := len(result.Messages) > 0
	mu.Unlock()
	for _, ev := range r.exec.Evaluate(ctx, msg, st, didRespond, cb) {
		result.Evaluators = append(result.Evaluators, ev.Name())
	}

	r.finish(ctx, msg, result, started, "completed", nil)
	span.SetStatus(codes.Ok, "")
	log.InfoContext(ctx, "runtime.message.complete",
		slog.Int("actions", len(result.ActionResults)),
		slog.Int("evaluators", len(result.Evaluators)),
		slog.Duration("duration", time.Since(started)))
	return result, nil
}

// HandleMessageWithTimeout runs HandleMessage and gives up after d. On expiry
// it emits RUN_TIMEOUT and returns a timeout error; the pipeline keeps running
// in the background with a canceled context.
func (r *Runtime) HandleMessageWithTimeout(ctx context.Context, msg *core.Memory, d time.Duration, opts ...HandleOption) (*HandleResult, error) {
	result, err := resilience.WithTimeout(ctx, d, func(ctx context.Context) (*HandleResult, error) {
		return r.HandleMessage(ctx, msg, opts...)
	})
	if err != nil && errors.CodeOf(err) == errors.CodeTimeout && result == nil {
		r.log.WarnContext(ctx, "runtime.message.timeout",
			slog.String("message_id", msg.ID),
			slog.Duration("timeout", d))
		r.emitFor(ctx, core.EventRunTimeout, msg, map[string]any{"timeoutMs": d.Milliseconds()})
	}
	return result, err
}

func (r *Runtime) fail(ctx context.Context, span trace.Span, result *HandleResult, msg *core.Memory, started time.Time, err error) (*HandleResult, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.metrics.RecordError(ctx, err, "runtime")
	r.log.ErrorContext(ctx, "runtime.message.failed",
		slog.String("run_id", result.RunID),
		slog.String("message_id", msg.ID),
		slog.String("error", err.Error()))
	r.finish(ctx, msg, result, started, "error", err)
	return result, err
}

// finish emits RUN_ENDED, unbinds the run and records a run summary in the
// storage cache.
func (r *Runtime) finish(ctx context.Context, msg *core.Memory, result *HandleResult, started time.Time, status string, err error) {
	payload := map[string]any{
		"status":     status,
		"actions":    len(result.ActionResults),
		"durationMs": time.Since(started).Milliseconds(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	r.emitFor(ctx, core.EventRunEnded, msg, payload)
	r.runs.End(ctx)

	if r.store == nil {
		return
	}
	summary, _ := json.Marshal(map[string]any{
		"runId":     result.RunID,
		"messageId": msg.ID,
		"roomId":    msg.RoomID,
		"status":    status,
		"actions":   result.ActionResults,
		"endedAt":   time.Now().UTC(),
	})
	if err := r.store.SetCache(ctx, "run:"+result.RunID, summary); err != nil {
		r.log.WarnContext(ctx, "runtime.storage.cache_failed", slog.String("error", err.Error()))
	}
}

func (r *Runtime) emitFor(ctx context.Context, t core.EventType, msg *core.Memory, payload map[string]any) {
	payload["messageId"] = msg.ID
	event := core.NewEvent(t, payload)
	event.RoomID = msg.RoomID
	event.Source = msg.Content.Source
	r.EmitEvent(ctx, event)
}

// remember persists mem when storage is configured. Failures are logged.
func (r *Runtime) remember(ctx context.Context, mem *core.Memory) {
	if r.store == nil {
		return
	}
	if err := r.store.CreateMemory(ctx, mem, storage.DefaultTable); err != nil {
		r.log.WarnContext(ctx, "runtime.storage.create_failed",
			slog.String("memory_id", mem.ID),
			slog.String("error", err.Error()))
	}
}

type promptData struct {
	AgentName string
	System    string
	State     string
	Sender    string
	Message   string
	Values    map[string]any
}

func (r *Runtime) prompt(st *core.State, msg *core.Memory) (string, error) {
	text := character.Template(r.character, MessageHandlerTemplate, defaultMessageTemplate)
	tmpl, err := template.New(MessageHandlerTemplate).Parse(text)
	if err != nil {
		return "", errors.New(errors.CodeConfiguration, "parse message template", err)
	}
	sender := msg.EntityID
	if sender == "" {
		sender = "user"
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, promptData{
		AgentName: r.character.Name,
		System:    r.character.System,
		State:     st.Text,
		Sender:    sender,
		Message:   msg.Content.Text,
		Values:    st.Values,
	}); err != nil {
		return "", errors.New(errors.CodeConfiguration, "render message template", err)
	}
	return buf.String(), nil
}
