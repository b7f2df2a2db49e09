// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry stores the components registered on one agent runtime.
//
// A Registry is pure storage: it keeps insertion order and model priorities
// but never invokes what it holds. Registering a name that already exists
// replaces the previous entry in its original slot and logs a warning.
package registry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jllopis/aion/pkg/core"
)

// Registry holds the actions, providers, evaluators, services, model
// handlers, event handlers, task workers and routes of one runtime.
type Registry struct {
	mu         sync.RWMutex
	log        *slog.Logger
	actions    []core.Action
	providers  []core.Provider
	evaluators []core.Evaluator
	services   map[string][]core.Service
	models     map[core.ModelType][]modelEntry
	streams    map[core.ModelType][]streamEntry
	events     map[core.EventType][]core.EventHandler
	workers    map[string]core.TaskWorker
	routes     []core.Route
	seq        int
}

type modelEntry struct {
	reg core.ModelRegistration
	seq int
}

type streamEntry struct {
	reg core.StreamRegistration
	seq int
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for duplicate-name warnings.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		log:      slog.Default(),
		services: make(map[string][]core.Service),
		models:   make(map[core.ModelType][]modelEntry),
		streams:  make(map[core.ModelType][]streamEntry),
		events:   make(map[core.EventType][]core.EventHandler),
		workers:  make(map[string]core.TaskWorker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterAction adds an action, replacing any action with the same name.
func (r *Registry) RegisterAction(action core.Action) {
	if action == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.actions {
		if existing.Name() == action.Name() {
			r.warnDuplicate("action", action.Name())
			r.actions[i] = action
			return
		}
	}
	r.actions = append(r.actions, action)
}

// RegisterProvider adds a provider, replacing any provider with the same name.
func (r *Registry) RegisterProvider(provider core.Provider) {
	if provider == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.providers {
		if existing.Name() == provider.Name() {
			r.warnDuplicate("provider", provider.Name())
			r.providers[i] = provider
			return
		}
	}
	r.providers = append(r.providers, provider)
}

// RegisterEvaluator adds an evaluator, replacing any evaluator with the same name.
func (r *Registry) RegisterEvaluator(evaluator core.Evaluator) {
	if evaluator == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.evaluators {
		if existing.Name() == evaluator.Name() {
			r.warnDuplicate("evaluator", evaluator.Name())
			r.evaluators[i] = evaluator
			return
		}
	}
	r.evaluators = append(r.evaluators, evaluator)
}

// RegisterService appends a service instance under its type.
// It does not start the service.
func (r *Registry) RegisterService(service core.Service) {
	if service == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[service.Type()] = append(r.services[service.Type()], service)
}

// RegisterModel adds a model handler registration.
func (r *Registry) RegisterModel(reg core.ModelRegistration) {
	if reg.Handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.models[reg.ModelType] = append(r.models[reg.ModelType], modelEntry{reg: reg, seq: r.seq})
}

// RegisterModelStream adds a streaming model handler registration.
func (r *Registry) RegisterModelStream(reg core.StreamRegistration) {
	if reg.Handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.streams[reg.ModelType] = append(r.streams[reg.ModelType], streamEntry{reg: reg, seq: r.seq})
}

// RegisterEvent appends a handler for the named event.
func (r *Registry) RegisterEvent(name core.EventType, handler core.EventHandler) {
	if handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[name] = append(r.events[name], handler)
}

// RegisterTaskWorker adds a task worker, replacing any worker with the same name.
func (r *Registry) RegisterTaskWorker(worker core.TaskWorker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[worker.Name]; ok {
		r.warnDuplicate("task_worker", worker.Name)
	}
	r.workers[worker.Name] = worker
}

// RegisterRoute adds an HTTP route, replacing a route with the same method and path.
func (r *Registry) RegisterRoute(route core.Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.routes {
		if strings.EqualFold(existing.Method, route.Method) && existing.Path == route.Path {
			r.warnDuplicate("route", route.Method+" "+route.Path)
			r.routes[i] = route
			return
		}
	}
	r.routes = append(r.routes, route)
}

// RegisterPlugin stores every component of a plugin. Plugin Init is the
// caller's concern.
func (r *Registry) RegisterPlugin(plugin *core.Plugin) {
	if plugin == nil {
		return
	}
	for _, a := range plugin.Actions {
		r.RegisterAction(a)
	}
	for _, p := range plugin.Providers {
		r.RegisterProvider(p)
	}
	for _, e := range plugin.Evaluators {
		r.RegisterEvaluator(e)
	}
	for _, s := range plugin.Services {
		r.RegisterService(s)
	}
	for _, m := range plugin.Models {
		r.RegisterModel(m)
	}
	for _, s := range plugin.Streams {
		r.RegisterModelStream(s)
	}
	names := make([]string, 0, len(plugin.Events))
	for name := range plugin.Events {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		for _, h := range plugin.Events[core.EventType(name)] {
			r.RegisterEvent(core.EventType(name), h)
		}
	}
	for _, w := range plugin.TaskWorkers {
		r.RegisterTaskWorker(w)
	}
	for _, route := range plugin.Routes {
		r.RegisterRoute(route)
	}
}

// UnregisterAction removes the named action. It reports whether it existed.
func (r *Registry) UnregisterAction(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.actions {
		if a.Name() == name {
			r.actions = append(r.actions[:i:i], r.actions[i+1:]...)
			return true
		}
	}
	return false
}

// UnregisterProvider removes the named provider.
func (r *Registry) UnregisterProvider(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.providers {
		if p.Name() == name {
			r.providers = append(r.providers[:i:i], r.providers[i+1:]...)
			return true
		}
	}
	return false
}

// UnregisterEvaluator removes the named evaluator.
func (r *Registry) UnregisterEvaluator(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.evaluators {
		if e.Name() == name {
			r.evaluators = append(r.evaluators[:i:i], r.evaluators[i+1:]...)
			return true
		}
	}
	return false
}

// UnregisterEvent drops every handler of the named event.
func (r *Registry) UnregisterEvent(name core.EventType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, name)
}

// Actions returns the registered actions in insertion order.
func (r *Registry) Actions() []core.Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.Action(nil), r.actions...)
}

// Action looks up an action by exact name, then by case-insensitive name or simile.
func (r *Registry) Action(name string) (core.Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.actions {
		if a.Name() == name {
			return a, true
		}
	}
	want := NormalizeName(name)
	if want == "" {
		return nil, false
	}
	for _, a := range r.actions {
		if NormalizeName(a.Name()) == want {
			return a, true
		}
	}
	for _, a := range r.actions {
		for _, simile := range a.Similes() {
			if NormalizeName(simile) == want {
				return a, true
			}
		}
	}
	return nil, false
}

// Providers returns the registered providers in insertion order.
func (r *Registry) Providers() []core.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.Provider(nil), r.providers...)
}

// Provider looks up a provider by name.
func (r *Registry) Provider(name string) (core.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Evaluators returns the registered evaluators in insertion order.
func (r *Registry) Evaluators() []core.Evaluator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.Evaluator(nil), r.evaluators...)
}

// Services returns the service instances registered under serviceType.
func (r *Registry) Services(serviceType string) []core.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.Service(nil), r.services[serviceType]...)
}

// AllServices returns every service instance, grouped by type name in sorted order.
func (r *Registry) AllServices() []core.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.services))
	for t := range r.services {
		types = append(types, t)
	}
	sort.Strings(types)
	var out []core.Service
	for _, t := range types {
		out = append(out, r.services[t]...)
	}
	return out
}

// ModelHandlers returns the registrations for modelType ordered by descending
// priority, ties in registration order.
func (r *Registry) ModelHandlers(modelType core.ModelType) []core.ModelRegistration {
	r.mu.RLock()
	entries := append([]modelEntry(nil), r.models[modelType]...)
	r.mu.RUnlock()
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].reg.Priority != entries[j].reg.Priority {
			return entries[i].reg.Priority > entries[j].reg.Priority
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]core.ModelRegistration, len(entries))
	for i, e := range entries {
		out[i] = e.reg
	}
	return out
}

// StreamHandlers is ModelHandlers for the streaming table.
func (r *Registry) StreamHandlers(modelType core.ModelType) []core.StreamRegistration {
	r.mu.RLock()
	entries := append([]streamEntry(nil), r.streams[modelType]...)
	r.mu.RUnlock()
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].reg.Priority != entries[j].reg.Priority {
			return entries[i].reg.Priority > entries[j].reg.Priority
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]core.StreamRegistration, len(entries))
	for i, e := range entries {
		out[i] = e.reg
	}
	return out
}

// ModelTypes lists the model types that have at least one handler.
func (r *Registry) ModelTypes() []core.ModelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ModelType, 0, len(r.models))
	for t, entries := range r.models {
		if len(entries) > 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EventHandlers returns the handlers of the named event in registration order.
func (r *Registry) EventHandlers(name core.EventType) []core.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.EventHandler(nil), r.events[name]...)
}

// TaskWorker returns the worker registered under name.
func (r *Registry) TaskWorker(name string) (core.TaskWorker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	return w, ok
}

// Routes returns the registered routes in insertion order.
func (r *Registry) Routes() []core.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.Route(nil), r.routes...)
}

func (r *Registry) warnDuplicate(kind, name string) {
	r.log.Warn("registry.duplicate",
		slog.String("kind", kind),
		slog.String("name", name),
	)
}

// NormalizeName folds an action name or simile for lookup: upper case,
// with spaces and dashes mapped to underscores.
func NormalizeName(name string) string {
	name = strings.TrimSpace(strings.ToUpper(name))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}
