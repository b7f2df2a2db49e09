// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/errors"
	"github.com/jllopis/aion/pkg/resilience"
	"github.com/jllopis/aion/pkg/telemetry"
)

const (
	DefaultReadyTimeout   = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	closeGrace            = 5 * time.Second
	maxLineSize           = 1024 * 1024
)

// State is the lifecycle state of a bridge worker.
type State string

const (
	StateSpawned          State = "spawned"
	StateAwaitingManifest State = "awaiting_manifest"
	StateReady            State = "ready"
	StateClosed           State = "closed"
	StateCrashed          State = "crashed"
)

// Config describes how to spawn and talk to a worker process.
type Config struct {
	// Name labels the worker in logs until its manifest arrives.
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Dir     string

	ReadyTimeout   time.Duration
	RequestTimeout time.Duration

	// Config is sent to the worker with plugin.init.
	Config map[string]string

	// MaxCrashes consecutive crashes suspend respawning for CrashCooldown.
	MaxCrashes    int
	CrashCooldown time.Duration

	// OnCrash is called when the worker exits without Close.
	OnCrash func(plugin string, err error)

	Logger  *slog.Logger
	Metrics *telemetry.RuntimeMetrics
}

// Host owns one worker process and correlates its requests and responses.
type Host struct {
	cfg     Config
	log     *slog.Logger
	tracer  trace.Tracer
	breaker *resilience.Breaker

	mu       sync.RWMutex
	conn     *conn
	manifest *Manifest
	state    State

	crashed   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// Start spawns the worker, waits for its manifest and initializes the plugin.
func Start(ctx context.Context, cfg Config) (*Host, error) {
	if cfg.Command == "" {
		return nil, errors.New(errors.CodeConfiguration, "bridge command is required", nil)
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Command
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &Host{
		cfg:    cfg,
		log:    log.With(slog.String("component", "bridge")),
		tracer: otel.Tracer("aion/bridge"),
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:             cfg.Name,
			FailureThreshold: cfg.MaxCrashes,
			Cooldown:         cfg.CrashCooldown,
		}),
		crashed: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	if err := h.spawn(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Name returns the plugin name from the manifest, or the configured name.
func (h *Host) Name() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.manifest != nil {
		return h.manifest.Name
	}
	return h.cfg.Name
}

// Manifest returns the manifest received from the current worker.
func (h *Host) Manifest() *Manifest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.manifest
}

// State returns the worker lifecycle state.
func (h *Host) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Host) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Host) spawn(ctx context.Context) error {
	c, err := h.dial()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.conn = c
	h.state = StateAwaitingManifest
	h.mu.Unlock()

	timer := time.NewTimer(h.cfg.ReadyTimeout)
	defer timer.Stop()

	var manifest *Manifest
	select {
	case r := <-c.ready:
		if r.err != nil {
			c.kill()
			h.setState(StateCrashed)
			return errors.New(errors.CodeBridgeProtocol, "invalid manifest", r.err).WithContext("plugin", h.cfg.Name)
		}
		manifest = r.manifest
	case <-c.done:
		h.setState(StateCrashed)
		return errors.BridgeUnavailable(h.cfg.Name, fmt.Errorf("worker exited before ready: %w", c.err))
	case <-timer.C:
		c.kill()
		h.setState(StateCrashed)
		return errors.New(errors.CodeTimeout, "bridge worker not ready", nil).
			WithContext("plugin", h.cfg.Name).
			WithContext("timeout", h.cfg.ReadyTimeout.String()).
			WithRecoverable(true)
	case <-ctx.Done():
		c.kill()
		h.setState(StateCrashed)
		return errors.New(errors.CodeContextLost, "context canceled waiting for bridge worker", ctx.Err())
	}

	if err := manifest.Validate(); err != nil {
		c.kill()
		h.setState(StateCrashed)
		return errors.New(errors.CodeBridgeProtocol, "invalid manifest", err).WithContext("plugin", h.cfg.Name)
	}

	h.mu.Lock()
	if h.manifest != nil && h.manifest.Name != manifest.Name {
		h.log.Warn("bridge.worker.manifest_changed",
			slog.String("previous", h.manifest.Name),
			slog.String("plugin", manifest.Name))
	}
	h.manifest = manifest
	h.mu.Unlock()
	c.setName(manifest.Name)

	if _, err := h.request(ctx, Request{Type: TypePluginInit, Config: h.cfg.Config}); err != nil {
		c.kill()
		h.setState(StateCrashed)
		return err
	}
	h.setState(StateReady)

	h.log.Info("bridge.worker.ready",
		slog.String("plugin", manifest.Name),
		slog.String("version", manifest.Version),
		slog.String("language", manifest.Language),
		slog.Int("pid", c.cmd.Process.Pid),
		slog.Int("actions", len(manifest.Actions)),
		slog.Int("providers", len(manifest.Providers)),
		slog.Int("evaluators", len(manifest.Evaluators)))
	return nil
}

func (h *Host) dial() (*conn, error) {
	cmd := exec.Command(h.cfg.Command, h.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range h.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if h.cfg.Dir != "" {
		cmd.Dir = h.cfg.Dir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	c := &conn{
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[string]chan Response),
		ready:   make(chan readyMsg, 1),
		done:    make(chan struct{}),
		log:     h.log,
	}
	c.setName(h.cfg.Name)
	cmd.Stderr = &stderrLogger{conn: c}

	if err := cmd.Start(); err != nil {
		return nil, errors.New(errors.CodeConfiguration, "start bridge worker", err).
			WithContext("command", h.cfg.Command)
	}
	h.log.Debug("bridge.worker.spawned",
		slog.String("plugin", h.cfg.Name),
		slog.String("command", h.cfg.Command),
		slog.Int("pid", cmd.Process.Pid))
	h.setState(StateSpawned)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	go func() {
		err := c.readLoop(scanner)
		h.exited(c, err)
	}()
	return c, nil
}

func (h *Host) exited(c *conn, err error) {
	h.mu.Lock()
	current := h.conn == c
	if current && !c.closing.Load() {
		h.state = StateCrashed
	}
	h.mu.Unlock()
	if !current || c.closing.Load() {
		return
	}

	name := c.getName()
	h.log.Error("bridge.worker.crashed",
		slog.String("plugin", name),
		slog.String("error", err.Error()))
	h.breaker.Failure()
	select {
	case h.crashed <- struct{}{}:
	default:
	}
	if h.cfg.OnCrash != nil {
		h.cfg.OnCrash(name, err)
	}
}

// request sends req on the current worker and waits for its response.
func (h *Host) request(ctx context.Context, req Request) (Response, error) {
	h.mu.RLock()
	c, state := h.conn, h.state
	h.mu.RUnlock()

	name := h.Name()
	if c == nil || state == StateClosed || state == StateCrashed {
		h.cfg.Metrics.RecordBridgeRequest(ctx, name, req.Type, "unavailable")
		return Response{}, errors.BridgeUnavailable(name, fmt.Errorf("worker %s", state))
	}

	req.ID = uuid.NewString()
	ctx, span := h.tracer.Start(ctx, "Bridge.Request",
		trace.WithAttributes(telemetry.BridgeAttributes(name, req.Type, "")...))
	defer span.End()

	resp, err := c.call(ctx, req, h.cfg.RequestTimeout)
	outcome := "ok"
	if err != nil {
		switch errors.CodeOf(err) {
		case errors.CodeBridgeUnavailable:
			outcome = "unavailable"
		case errors.CodeTimeout:
			outcome = "timeout"
		default:
			outcome = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.log.Warn("bridge.request.failed",
			slog.String("plugin", name),
			slog.String("type", req.Type),
			slog.String("id", req.ID),
			slog.String("error", err.Error()))
	} else {
		h.breaker.Success()
	}
	span.SetAttributes(telemetry.BridgeAttributes(name, req.Type, outcome)...)
	h.cfg.Metrics.RecordBridgeRequest(ctx, name, req.Type, outcome)
	return resp, err
}

// Close stops the worker by closing its input and waiting for it to exit.
// Proxies fail with a bridge unavailable error afterwards.
func (h *Host) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	h.mu.Lock()
	c := h.conn
	h.state = StateClosed
	h.mu.Unlock()
	if c == nil {
		return nil
	}
	c.shutdown()
	h.log.Info("bridge.worker.closed", slog.String("plugin", h.Name()))
	return nil
}

// Respawn replaces a crashed worker with a fresh process.
func (h *Host) Respawn(ctx context.Context) error {
	select {
	case <-h.closed:
		return errors.BridgeUnavailable(h.Name(), fmt.Errorf("host closed"))
	default:
	}
	h.mu.RLock()
	old := h.conn
	h.mu.RUnlock()
	if old != nil {
		old.kill()
	}
	if err := h.spawn(ctx); err != nil {
		return err
	}
	h.log.Info("bridge.worker.respawned", slog.String("plugin", h.Name()))
	return nil
}

// Supervise respawns the worker after each crash until ctx is done or the
// host is closed. Respawns are retried with rc and suspended while the crash
// breaker is open.
func (h *Host) Supervise(ctx context.Context, rc resilience.RetryConfig) {
	if rc.OnRetry == nil {
		rc.OnRetry = func(attempt int, err error, delay time.Duration) {
			h.log.Warn("bridge.worker.respawn.retry",
				slog.String("plugin", h.Name()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()))
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closed:
			return
		case <-h.crashed:
		}

		for h.breaker.Allow() != nil {
			h.log.Warn("bridge.worker.respawn.suspended", slog.String("plugin", h.Name()))
			select {
			case <-ctx.Done():
				return
			case <-h.closed:
				return
			case <-time.After(h.cooldown()):
			}
		}

		if err := rc.Do(ctx, func() error { return h.Respawn(ctx) }); err != nil {
			h.log.Error("bridge.worker.respawn.failed",
				slog.String("plugin", h.Name()),
				slog.String("error", err.Error()))
			h.breaker.Failure()
			select {
			case h.crashed <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Host) cooldown() time.Duration {
	if h.cfg.CrashCooldown > 0 {
		return h.cfg.CrashCooldown
	}
	return 30 * time.Second
}

// readyMsg is the decoded ready line, or why it could not be decoded.
type readyMsg struct {
	manifest *Manifest
	err      error
}

// conn is one spawned worker process.
type conn struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	log   *slog.Logger
	name  atomic.Value

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response

	ready   chan readyMsg
	done    chan struct{}
	err     error
	closing atomic.Bool
}

func (c *conn) setName(name string) { c.name.Store(name) }

func (c *conn) getName() string {
	name, _ := c.name.Load().(string)
	return name
}

func (c *conn) readLoop(scanner *bufio.Scanner) error {
	defer close(c.done)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		c.dispatch(line)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	if waitErr := c.cmd.Wait(); waitErr != nil {
		err = fmt.Errorf("%w (%v)", err, waitErr)
	}
	c.err = err
	return err
}

func (c *conn) dispatch(line []byte) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		c.log.Warn("bridge.worker.invalid_line",
			slog.String("plugin", c.getName()),
			slog.String("error", err.Error()))
		return
	}

	if env.Type == TypeReady {
		manifest, err := DecodeManifest(env.Manifest)
		if err != nil {
			c.log.Warn("bridge.worker.invalid_manifest",
				slog.String("plugin", c.getName()),
				slog.String("error", err.Error()))
		}
		select {
		case c.ready <- readyMsg{manifest: manifest, err: err}:
		default:
			c.log.Warn("bridge.worker.duplicate_ready", slog.String("plugin", c.getName()))
		}
		return
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		c.log.Warn("bridge.worker.invalid_response",
			slog.String("plugin", c.getName()),
			slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	c.mu.Unlock()
	if !ok {
		c.log.Warn("bridge.worker.uncorrelated",
			slog.String("plugin", c.getName()),
			slog.String("type", resp.Type),
			slog.String("id", resp.ID),
			slog.String("error", resp.Error))
		return
	}
	select {
	case ch <- resp:
	default:
		c.log.Warn("bridge.worker.duplicate_response",
			slog.String("plugin", c.getName()),
			slog.String("id", resp.ID))
	}
}

func (c *conn) call(ctx context.Context, req Request, timeout time.Duration) (Response, error) {
	ch := make(chan Response, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, errors.New(errors.CodeInvalidInput, "marshal bridge request", err).
			WithContext("type", req.Type)
	}

	c.writeMu.Lock()
	_, err = c.stdin.Write(append(data, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		return Response{}, errors.BridgeUnavailable(c.getName(), fmt.Errorf("write request: %w", err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return c.check(req, resp)
	case <-c.done:
		select {
		case resp := <-ch:
			return c.check(req, resp)
		default:
		}
		return Response{}, errors.BridgeUnavailable(c.getName(), c.err)
	case <-ctx.Done():
		return Response{}, errors.New(errors.CodeContextLost, "context canceled awaiting bridge response", ctx.Err()).
			WithContext("type", req.Type)
	case <-timer.C:
		return Response{}, errors.New(errors.CodeTimeout, "bridge request timed out", nil).
			WithContext("plugin", c.getName()).
			WithContext("type", req.Type).
			WithContext("timeout", timeout.String()).
			WithRecoverable(true)
	}
}

func (c *conn) check(req Request, resp Response) (Response, error) {
	if resp.Type == TypeError {
		e := errors.New(errors.CodeBridgeProtocol, resp.Error, nil).
			WithContext("plugin", c.getName()).
			WithContext("type", req.Type)
		if resp.Details != nil {
			e.WithContext("details", resp.Details)
		}
		return resp, e
	}
	if resp.Type != ResultType(req.Type) {
		return resp, errors.Newf(errors.CodeBridgeProtocol, "unexpected response type %q for %s", resp.Type, req.Type).
			WithContext("plugin", c.getName())
	}
	return resp, nil
}

// shutdown closes stdin and kills the process if it does not exit in time.
func (c *conn) shutdown() {
	c.closing.Store(true)
	_ = c.stdin.Close()
	select {
	case <-c.done:
	case <-time.After(closeGrace):
		c.kill()
		<-c.done
	}
}

func (c *conn) kill() {
	c.closing.Store(true)
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

// stderrLogger forwards worker stderr lines to the logger.
type stderrLogger struct {
	conn *conn
	buf  []byte
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(w.buf[:i]); len(line) > 0 {
			w.conn.log.Debug("bridge.worker.stderr",
				slog.String("plugin", w.conn.getName()),
				slog.String("line", string(line)))
		}
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineSize {
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Check reports the worker state as a health result.
func (h *Host) Check(context.Context) core.HealthResult {
	result := core.HealthResult{Component: "bridge:" + h.Name(), LastCheck: time.Now()}
	switch state := h.State(); state {
	case StateReady:
		result.Status = core.HealthHealthy
	case StateSpawned, StateAwaitingManifest:
		result.Status = core.HealthDegraded
		result.Message = "worker starting"
	default:
		result.Status = core.HealthUnhealthy
		result.Message = "worker " + string(state)
	}
	return result
}

var _ core.HealthChecker = (*Host)(nil)
