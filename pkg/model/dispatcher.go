// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package model resolves model requests to registered handlers.
//
// Without an explicit provider the highest-priority handler wins and ties go
// to the first registration. The dispatcher enforces no timeout.
package model

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/errors"
	"github.com/jllopis/aion/pkg/registry"
	"github.com/jllopis/aion/pkg/telemetry"
)

// Observer is notified after every model call.
type Observer func(ctx context.Context, call Call)

// Call describes one completed model invocation.
type Call struct {
	ModelType core.ModelType
	Provider  string
	Stream    bool
	Duration  time.Duration
	Err       error
}

// Dispatcher resolves and invokes model handlers.
type Dispatcher struct {
	reg      *registry.Registry
	log      *slog.Logger
	metrics  *telemetry.RuntimeMetrics
	observer Observer
	tracer   trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithMetrics records handler latency on m.
func WithMetrics(m *telemetry.RuntimeMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithObserver installs a hook called after every model call.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// New creates a Dispatcher over reg.
func New(reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:    reg,
		log:    slog.Default(),
		tracer: otel.Tracer("aion/model"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// UseOptions controls handler resolution.
type UseOptions struct {
	Provider string
}

// UseOption sets a UseOptions field.
type UseOption func(*UseOptions)

// WithProvider selects the handler registered by the named provider.
func WithProvider(name string) UseOption {
	return func(o *UseOptions) { o.Provider = name }
}

// Resolve returns the handler Use would invoke.
func (d *Dispatcher) Resolve(modelType core.ModelType, opts ...UseOption) (core.ModelRegistration, error) {
	o := useOptions(opts)
	regs := d.reg.ModelHandlers(modelType)
	if o.Provider != "" {
		for _, r := range regs {
			if r.Provider == o.Provider {
				return r, nil
			}
		}
		return core.ModelRegistration{}, errors.ModelProviderNotFound(string(modelType), o.Provider)
	}
	if len(regs) == 0 {
		return core.ModelRegistration{}, errors.ModelTypeNotRegistered(string(modelType))
	}
	return regs[0], nil
}

// ResolveStream returns the streaming handler UseStream would invoke.
func (d *Dispatcher) ResolveStream(modelType core.ModelType, opts ...UseOption) (core.StreamRegistration, error) {
	o := useOptions(opts)
	regs := d.reg.StreamHandlers(modelType)
	if o.Provider != "" {
		for _, r := range regs {
			if r.Provider == o.Provider {
				return r, nil
			}
		}
		return core.StreamRegistration{}, errors.ModelProviderNotFound(string(modelType), o.Provider)
	}
	if len(regs) == 0 {
		return core.StreamRegistration{}, errors.ModelTypeNotRegistered(string(modelType))
	}
	return regs[0], nil
}

// Use resolves and invokes a handler for modelType.
func (d *Dispatcher) Use(ctx context.Context, modelType core.ModelType, params core.ModelParams, opts ...UseOption) (any, error) {
	reg, err := d.Resolve(modelType, opts...)
	if err != nil {
		d.log.ErrorContext(ctx, "model.resolve.error",
			slog.String("model_type", string(modelType)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "Model.Use",
		trace.WithAttributes(telemetry.ModelAttributes(string(modelType), reg.Provider, false)...))
	defer span.End()

	start := time.Now()
	out, err := reg.Handler(ctx, params)
	elapsed := time.Since(start)

	d.metrics.RecordModelLatency(ctx, string(modelType), reg.Provider, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.RecordError(ctx, err, "model")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	d.log.DebugContext(ctx, "model.use",
		slog.String("model_type", string(modelType)),
		slog.String("provider", reg.Provider),
		slog.Duration("duration", elapsed),
	)
	d.notify(ctx, Call{ModelType: modelType, Provider: reg.Provider, Duration: elapsed, Err: err})
	return out, err
}

// UseText is Use for handlers returning text.
func (d *Dispatcher) UseText(ctx context.Context, modelType core.ModelType, params core.ModelParams, opts ...UseOption) (string, error) {
	out, err := d.Use(ctx, modelType, params, opts...)
	if err != nil {
		return "", err
	}
	switch v := out.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		return "", errors.Newf(errors.CodeExecution, "model %s returned %T, want string", modelType, out)
	}
}

// UseStream resolves a streaming handler and returns its chunk channel.
// The sequence is single-pass.
func (d *Dispatcher) UseStream(ctx context.Context, modelType core.ModelType, params core.ModelParams, opts ...UseOption) (<-chan core.StreamChunk, error) {
	reg, err := d.ResolveStream(modelType, opts...)
	if err != nil {
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "Model.UseStream",
		trace.WithAttributes(telemetry.ModelAttributes(string(modelType), reg.Provider, true)...))
	start := time.Now()
	chunks, err := reg.Handler(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		d.notify(ctx, Call{ModelType: modelType, Provider: reg.Provider, Stream: true, Duration: time.Since(start), Err: err})
		return nil, err
	}

	out := make(chan core.StreamChunk)
	go func() {
		defer close(out)
		defer span.End()
		var streamErr error
		for chunk := range chunks {
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				streamErr = ctx.Err()
				// unblock the producer
				go func() {
					for range chunks {
					}
				}()
				d.notify(ctx, Call{ModelType: modelType, Provider: reg.Provider, Stream: true, Duration: time.Since(start), Err: streamErr})
				return
			}
		}
		elapsed := time.Since(start)
		d.metrics.RecordModelLatency(ctx, string(modelType), reg.Provider, elapsed)
		d.notify(ctx, Call{ModelType: modelType, Provider: reg.Provider, Stream: true, Duration: elapsed, Err: streamErr})
	}()
	return out, nil
}

// Collect drains a stream into one string, returning the first chunk error.
func Collect(chunks <-chan core.StreamChunk) (string, error) {
	var buf []byte
	var firstErr error
	for chunk := range chunks {
		if chunk.Err != nil && firstErr == nil {
			firstErr = chunk.Err
		}
		buf = append(buf, chunk.Text...)
	}
	return string(buf), firstErr
}

func (d *Dispatcher) notify(ctx context.Context, call Call) {
	if d.observer != nil {
		d.observer(ctx, call)
	}
}

func useOptions(opts []UseOption) UseOptions {
	var o UseOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
