// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker serves a plugin over the bridge protocol from inside a
// worker process. A worker binary is typically just:
//
//	func main() { worker.Main(myplugin.New()) }
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/jllopis/aion/pkg/bridge"
	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/errors"
	"github.com/jllopis/aion/pkg/telemetry"
)

const maxLineSize = 1024 * 1024

// Option configures Serve.
type Option func(*server)

// WithVersion sets the manifest version.
func WithVersion(version string) Option {
	return func(s *server) { s.version = version }
}

// WithLogger sets the logger. It must not write to the protocol output.
func WithLogger(log *slog.Logger) Option {
	return func(s *server) { s.log = log }
}

type server struct {
	plugin  *core.Plugin
	version string
	log     *slog.Logger
	config  map[string]string

	mu  sync.Mutex
	enc *json.Encoder
}

// Main serves plugin on stdin and stdout and exits the process when the host
// closes the connection or a termination signal arrives.
func Main(plugin *core.Plugin, opts ...Option) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := os.Getenv("AION_LOG_LEVEL")
	opts = append([]Option{WithLogger(telemetry.NewLogger(os.Stderr, level, "json"))}, opts...)
	if err := Serve(ctx, plugin, os.Stdin, os.Stdout, opts...); err != nil {
		fmt.Fprintf(os.Stderr, "bridge worker: %v\n", err)
		os.Exit(1)
	}
}

// Serve writes the ready message for plugin, then answers one request per
// input line until in is exhausted or ctx is done. Malformed lines, unknown
// request types and handler failures are answered with error responses and
// never stop the loop.
func Serve(ctx context.Context, plugin *core.Plugin, in io.Reader, out io.Writer, opts ...Option) error {
	s := &server{
		plugin:  plugin,
		version: "0.0.0",
		log:     slog.Default(),
		config:  make(map[string]string),
		enc:     json.NewEncoder(out),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.enc.SetEscapeHTML(false)
	for k, v := range plugin.Config {
		s.config[k] = v
	}

	if err := s.write(bridge.Ready{
		Type:     bridge.TypeReady,
		Manifest: bridge.ManifestFromPlugin(plugin, s.version, "go"),
	}); err != nil {
		return fmt.Errorf("write ready: %w", err)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := s.write(s.handleLine(ctx, line)); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}

func (s *server) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(v)
}

func (s *server) handleLine(ctx context.Context, line []byte) bridge.Response {
	// The header is decoded on its own so a request with a badly typed field
	// is still answered with its id.
	var header struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	_ = json.Unmarshal(line, &header)

	var req bridge.Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.log.Warn("worker.request.invalid",
			slog.String("type", header.Type),
			slog.String("id", header.ID),
			slog.String("error", err.Error()))
		return bridge.Response{Type: bridge.TypeError, ID: header.ID, Error: "Invalid JSON: " + err.Error()}
	}
	return s.handle(ctx, req)
}

func (s *server) handle(ctx context.Context, req bridge.Request) (resp bridge.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("worker.request.panic",
				slog.String("type", req.Type),
				slog.String("id", req.ID),
				slog.String("panic", fmt.Sprint(r)))
			resp = bridge.Response{
				Type:    bridge.TypeError,
				ID:      req.ID,
				Error:   fmt.Sprintf("panic: %v", r),
				Details: string(debug.Stack()),
			}
		}
	}()

	var (
		out *bridge.Response
		err error
	)
	switch req.Type {
	case bridge.TypePluginInit:
		out, err = s.init(ctx, req)
	case bridge.TypeActionValidate:
		out, err = s.validateAction(ctx, req)
	case bridge.TypeActionInvoke:
		out, err = s.invokeAction(ctx, req)
	case bridge.TypeProviderGet:
		out, err = s.getProvider(ctx, req)
	case bridge.TypeEvaluatorInvoke:
		out, err = s.invokeEvaluator(ctx, req)
	default:
		return bridge.Response{
			Type:  bridge.TypeError,
			ID:    req.ID,
			Error: "Unknown request type: " + req.Type,
		}
	}
	if err != nil {
		s.log.Warn("worker.request.failed",
			slog.String("type", req.Type),
			slog.String("id", req.ID),
			slog.String("error", err.Error()))
		resp := bridge.Response{Type: bridge.TypeError, ID: req.ID, Error: err.Error()}
		if e := errors.As(err); e.Code != errors.CodeInternal {
			resp.Details = map[string]any{"code": e.Code, "context": e.Context}
		}
		return resp
	}
	out.Type = bridge.ResultType(req.Type)
	out.ID = req.ID
	return *out
}

func (s *server) init(ctx context.Context, req bridge.Request) (*bridge.Response, error) {
	for k, v := range req.Config {
		s.config[k] = v
	}
	if s.plugin.Init != nil {
		if err := s.plugin.Init(ctx, s.config, &workerRuntime{config: s.config}); err != nil {
			return nil, err
		}
	}
	s.log.Info("worker.plugin.initialized", slog.String("plugin", s.plugin.Name))
	return &bridge.Response{}, nil
}

func (s *server) action(name string) (core.Action, error) {
	for _, a := range s.plugin.Actions {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, errors.Newf(errors.CodeNotFound, "Action not found: %s", name)
}

func (s *server) validateAction(ctx context.Context, req bridge.Request) (*bridge.Response, error) {
	a, err := s.action(req.Action)
	if err != nil {
		return nil, err
	}
	valid, err := a.Validate(ctx, memoryOf(req), stateOf(req))
	if err != nil {
		return nil, err
	}
	return &bridge.Response{Valid: &valid}, nil
}

func (s *server) invokeAction(ctx context.Context, req bridge.Request) (*bridge.Response, error) {
	a, err := s.action(req.Action)
	if err != nil {
		return nil, err
	}
	cb, callbacks := collector()
	result, err := a.Handle(ctx, memoryOf(req), stateOf(req), optionsOf(req), cb)
	if err != nil {
		return nil, err
	}
	return encodeResult(result, *callbacks)
}

func (s *server) getProvider(ctx context.Context, req bridge.Request) (*bridge.Response, error) {
	for _, p := range s.plugin.Providers {
		if p.Name() != req.Provider {
			continue
		}
		result, err := p.Get(ctx, memoryOf(req), stateOf(req))
		if err != nil {
			return nil, err
		}
		return encodeResult(result, nil)
	}
	return nil, errors.Newf(errors.CodeNotFound, "Provider not found: %s", req.Provider)
}

func (s *server) invokeEvaluator(ctx context.Context, req bridge.Request) (*bridge.Response, error) {
	for _, e := range s.plugin.Evaluators {
		if e.Name() != req.Evaluator {
			continue
		}
		msg, state := memoryOf(req), stateOf(req)
		if !e.AlwaysRun() {
			valid, err := e.Validate(ctx, msg, state)
			if err != nil {
				return nil, err
			}
			if !valid {
				resp, err := encodeResult(nil, nil)
				if err != nil {
					return nil, err
				}
				resp.Valid = &valid
				return resp, nil
			}
		}
		cb, callbacks := collector()
		result, err := e.Handle(ctx, msg, state, optionsOf(req), cb)
		if err != nil {
			return nil, err
		}
		resp, err := encodeResult(result, *callbacks)
		if err != nil {
			return nil, err
		}
		ran := true
		resp.Valid = &ran
		return resp, nil
	}
	return nil, errors.Newf(errors.CodeNotFound, "Evaluator not found: %s", req.Evaluator)
}

// collector records callback contents so the host can replay them.
func collector() (core.HandlerCallback, *[]core.Content) {
	var (
		mu       sync.Mutex
		contents []core.Content
	)
	cb := func(_ context.Context, content core.Content) error {
		mu.Lock()
		contents = append(contents, content)
		mu.Unlock()
		return nil
	}
	return cb, &contents
}

func encodeResult(v any, callbacks []core.Content) (*bridge.Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.New(errors.CodeExecution, "encode result", err)
	}
	return &bridge.Response{Result: data, Callbacks: callbacks}, nil
}

func memoryOf(req bridge.Request) *core.Memory {
	if req.Memory == nil {
		return &core.Memory{}
	}
	return req.Memory
}

func stateOf(req bridge.Request) *core.State {
	if req.State == nil {
		return core.NewState()
	}
	if req.State.Values == nil {
		req.State.Values = make(map[string]any)
	}
	if req.State.Data == nil {
		req.State.Data = make(map[string]any)
	}
	return req.State
}

func optionsOf(req bridge.Request) core.HandlerOptions {
	if req.Options == nil {
		return core.HandlerOptions{}
	}
	return *req.Options
}

// workerRuntime is the runtime a plugin sees inside a worker. Only settings
// sent with plugin.init are available.
type workerRuntime struct {
	config map[string]string
}

func (r *workerRuntime) AgentID() string            { return r.config["AGENT_ID"] }
func (r *workerRuntime) Character() *core.Character { return nil }

func (r *workerRuntime) GetSetting(key string) (any, bool) {
	v, ok := r.config[key]
	return v, ok
}

func (r *workerRuntime) UseModel(context.Context, core.ModelType, core.ModelParams) (any, error) {
	return nil, errors.New(errors.CodeConfiguration, "models are not available inside a bridge worker", nil)
}

func (r *workerRuntime) Emit(context.Context, core.Event, ...core.EventType) {}

var _ core.AgentRuntime = (*workerRuntime)(nil)
