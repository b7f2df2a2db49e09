// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing agents built on the Aion
// runtime.
//
// This package includes:
//   - A Harness that wires a runtime with a scripted model and an event collector
//   - Scenario definitions for declarative message pipeline tests
//   - Assertion helpers for pipeline results and events
//
// Example usage:
//
//	h := testing.NewHarness(t, character)
//	h.Model.AddReply("Hello!", "REPLY")
//
//	scenario := testing.NewScenario("greeting").
//	    WithInput("Hi").
//	    ExpectReply(testing.Contains("Hello")).
//	    ExpectActions("REPLY")
//
//	scenario.Run(t, h).Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/runtime"
)

// Scenario defines one message pipeline interaction and what it must produce.
type Scenario struct {
	name          string
	description   string
	input         string
	context       context.Context
	timeout       time.Duration
	providers     []string
	modelType     core.ModelType
	expectations  []Expectation
	setupFuncs    []func(h *Harness) error
	teardownFuncs []func(h *Harness) error
}

// Expectation is a condition verified after a scenario ran.
type Expectation interface {
	Check(result *ScenarioResult) error
	Description() string
}

// ScenarioResult is the outcome of running a scenario.
type ScenarioResult struct {
	Result *runtime.HandleResult
	// Reply joins the text of every message the agent sent.
	Reply    string
	Actions  []core.ActionResult
	Events   []core.Event
	Error    error
	Duration time.Duration
}

// NewScenario creates a scenario named name.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		timeout: 30 * time.Second,
		context: context.Background(),
	}
}

// Name returns the scenario name.
func (s *Scenario) Name() string { return s.name }

// WithDescription adds a description to the scenario.
func (s *Scenario) WithDescription(desc string) *Scenario {
	s.description = desc
	return s
}

// WithInput sets the inbound message text.
func (s *Scenario) WithInput(input string) *Scenario {
	s.input = input
	return s
}

// WithContext sets the parent context.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout bounds the pipeline run.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithProviders includes dynamic or private providers in the composition.
func (s *Scenario) WithProviders(names ...string) *Scenario {
	s.providers = append(s.providers, names...)
	return s
}

// WithModelType selects the model type used for generation.
func (s *Scenario) WithModelType(mt core.ModelType) *Scenario {
	s.modelType = mt
	return s
}

// WithSetup adds a function run before the message is handled.
func (s *Scenario) WithSetup(fn func(h *Harness) error) *Scenario {
	s.setupFuncs = append(s.setupFuncs, fn)
	return s
}

// WithTeardown adds a function run after the message is handled.
func (s *Scenario) WithTeardown(fn func(h *Harness) error) *Scenario {
	s.teardownFuncs = append(s.teardownFuncs, fn)
	return s
}

// Expect adds an expectation.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectReply expects the sent messages to match.
func (s *Scenario) ExpectReply(matcher StringMatcher) *Scenario {
	return s.Expect(&replyExpectation{matcher: matcher})
}

// ExpectNoReply expects the agent to send nothing.
func (s *Scenario) ExpectNoReply() *Scenario {
	return s.Expect(&noReplyExpectation{})
}

// ExpectNoError expects the pipeline to succeed.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectError expects the pipeline to fail with a matching error.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(&errorExpectation{matcher: matcher})
}

// ExpectActions expects exactly these actions, in this order.
func (s *Scenario) ExpectActions(names ...string) *Scenario {
	return s.Expect(&actionsExpectation{names: names})
}

// ExpectActionSucceeded expects action name to have run successfully.
func (s *Scenario) ExpectActionSucceeded(name string) *Scenario {
	return s.Expect(&actionOutcomeExpectation{name: name, success: true})
}

// ExpectActionFailed expects action name to have run and failed.
func (s *Scenario) ExpectActionFailed(name string) *Scenario {
	return s.Expect(&actionOutcomeExpectation{name: name})
}

// ExpectEvaluator expects evaluator name to have run.
func (s *Scenario) ExpectEvaluator(name string) *Scenario {
	return s.Expect(&evaluatorExpectation{name: name})
}

// ExpectEvent expects an event of type t.
func (s *Scenario) ExpectEvent(t core.EventType) *Scenario {
	return s.Expect(&eventExpectation{eventType: t})
}

// ExpectNoEvent expects no event of type t.
func (s *Scenario) ExpectNoEvent(t core.EventType) *Scenario {
	return s.Expect(&eventExpectation{eventType: t, absent: true})
}

// ExpectMinDuration expects the run to take at least d.
func (s *Scenario) ExpectMinDuration(d time.Duration) *Scenario {
	return s.Expect(&minDurationExpectation{min: d})
}

// ExpectMaxDuration expects the run to complete within d.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// Run handles the scenario input on h. Events collected before the run are
// discarded.
func (s *Scenario) Run(t testing.TB, h *Harness) *ScenarioResult {
	t.Helper()

	for _, setup := range s.setupFuncs {
		if err := setup(h); err != nil {
			t.Fatalf("scenario %q setup failed: %v", s.name, err)
		}
	}
	defer func() {
		for _, teardown := range s.teardownFuncs {
			if err := teardown(h); err != nil {
				t.Errorf("scenario %q teardown failed: %v", s.name, err)
			}
		}
	}()

	var opts []runtime.HandleOption
	if len(s.providers) > 0 {
		opts = append(opts, runtime.WithProviders(s.providers...))
	}
	if s.modelType != "" {
		opts = append(opts, runtime.WithModelType(s.modelType))
	}

	h.Events.Reset()
	start := time.Now()
	res, err := h.Runtime.HandleMessageWithTimeout(s.context, h.Message(s.input), s.timeout, opts...)
	out := &ScenarioResult{
		Result:   res,
		Error:    err,
		Duration: time.Since(start),
		Events:   h.Events.Events(),
	}
	if res != nil {
		out.Actions = res.ActionResults
		texts := make([]string, 0, len(res.Messages))
		for _, m := range res.Messages {
			if m.Content.Text != "" {
				texts = append(texts, m.Content.Text)
			}
		}
		out.Reply = strings.Join(texts, "\n")
	}
	return out
}

// Assert checks every expectation of scenario and reports failures to t.
func (r *ScenarioResult) Assert(t testing.TB, scenario *Scenario) {
	t.Helper()
	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

// ActionNames returns the names of the executed actions in order.
func (r *ScenarioResult) ActionNames() []string {
	names := make([]string, len(r.Actions))
	for i, a := range r.Actions {
		names[i] = a.ActionName
	}
	return names
}

// StringMatcher matches strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains matches strings containing substr.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals matches exactly expected.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex matches the regular expression pattern. An invalid pattern never matches.
func Regex(pattern string) StringMatcher {
	re, err := regexp.Compile(pattern)
	return &regexMatcher{pattern: pattern, re: re, err: err}
}

// HasPrefix matches strings starting with prefix.
func HasPrefix(prefix string) StringMatcher {
	return &prefixMatcher{prefix: prefix}
}

// Not inverts m.
func Not(m StringMatcher) StringMatcher {
	return &notMatcher{inner: m}
}

type containsMatcher struct{ substr string }

func (m *containsMatcher) Match(s string) bool { return strings.Contains(s, m.substr) }
func (m *containsMatcher) Description() string { return fmt.Sprintf("contains %q", m.substr) }

type equalsMatcher struct{ expected string }

func (m *equalsMatcher) Match(s string) bool { return s == m.expected }
func (m *equalsMatcher) Description() string { return fmt.Sprintf("equals %q", m.expected) }

type regexMatcher struct {
	pattern string
	re      *regexp.Regexp
	err     error
}

func (m *regexMatcher) Match(s string) bool { return m.err == nil && m.re.MatchString(s) }
func (m *regexMatcher) Description() string { return fmt.Sprintf("matches regex %q", m.pattern) }

type prefixMatcher struct{ prefix string }

func (m *prefixMatcher) Match(s string) bool { return strings.HasPrefix(s, m.prefix) }
func (m *prefixMatcher) Description() string { return fmt.Sprintf("has prefix %q", m.prefix) }

type notMatcher struct{ inner StringMatcher }

func (m *notMatcher) Match(s string) bool { return !m.inner.Match(s) }
func (m *notMatcher) Description() string { return "not " + m.inner.Description() }

type replyExpectation struct{ matcher StringMatcher }

func (e *replyExpectation) Check(r *ScenarioResult) error {
	if !e.matcher.Match(r.Reply) {
		return fmt.Errorf("reply %q does not match: %s", r.Reply, e.matcher.Description())
	}
	return nil
}

func (e *replyExpectation) Description() string {
	return "reply " + e.matcher.Description()
}

type noReplyExpectation struct{}

func (e *noReplyExpectation) Check(r *ScenarioResult) error {
	if r.Result != nil && len(r.Result.Messages) > 0 {
		return fmt.Errorf("expected no reply, got %q", r.Reply)
	}
	return nil
}

func (e *noReplyExpectation) Description() string { return "no reply" }

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("expected no error, got: %v", r.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string { return "no error" }

type errorExpectation struct{ matcher StringMatcher }

func (e *errorExpectation) Check(r *ScenarioResult) error {
	if r.Error == nil {
		return fmt.Errorf("expected error matching %s, got nil", e.matcher.Description())
	}
	if !e.matcher.Match(r.Error.Error()) {
		return fmt.Errorf("error %q does not match: %s", r.Error.Error(), e.matcher.Description())
	}
	return nil
}

func (e *errorExpectation) Description() string {
	return "error " + e.matcher.Description()
}

type actionsExpectation struct{ names []string }

func (e *actionsExpectation) Check(r *ScenarioResult) error {
	if got := r.ActionNames(); !slices.Equal(got, e.names) {
		return fmt.Errorf("actions %v, want %v", got, e.names)
	}
	return nil
}

func (e *actionsExpectation) Description() string {
	return fmt.Sprintf("actions %v", e.names)
}

type actionOutcomeExpectation struct {
	name    string
	success bool
}

func (e *actionOutcomeExpectation) Check(r *ScenarioResult) error {
	for _, a := range r.Actions {
		if a.ActionName != e.name {
			continue
		}
		if a.Success != e.success {
			return fmt.Errorf("action %q success=%t (error %q)", e.name, a.Success, a.Error)
		}
		return nil
	}
	return fmt.Errorf("action %q did not run", e.name)
}

func (e *actionOutcomeExpectation) Description() string {
	if e.success {
		return fmt.Sprintf("action %q succeeded", e.name)
	}
	return fmt.Sprintf("action %q failed", e.name)
}

type evaluatorExpectation struct{ name string }

func (e *evaluatorExpectation) Check(r *ScenarioResult) error {
	if r.Result == nil || !slices.Contains(r.Result.Evaluators, e.name) {
		return fmt.Errorf("evaluator %q did not run", e.name)
	}
	return nil
}

func (e *evaluatorExpectation) Description() string {
	return fmt.Sprintf("evaluator %q ran", e.name)
}

type eventExpectation struct {
	eventType core.EventType
	absent    bool
}

func (e *eventExpectation) Check(r *ScenarioResult) error {
	found := slices.ContainsFunc(r.Events, func(ev core.Event) bool { return ev.Type == e.eventType })
	switch {
	case e.absent && found:
		return fmt.Errorf("event %q was emitted", e.eventType)
	case !e.absent && !found:
		return fmt.Errorf("event %q was not emitted", e.eventType)
	}
	return nil
}

func (e *eventExpectation) Description() string {
	if e.absent {
		return fmt.Sprintf("event %q not emitted", e.eventType)
	}
	return fmt.Sprintf("event %q emitted", e.eventType)
}

type minDurationExpectation struct{ min time.Duration }

func (e *minDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration < e.min {
		return fmt.Errorf("duration %v is less than minimum %v", r.Duration, e.min)
	}
	return nil
}

func (e *minDurationExpectation) Description() string { return fmt.Sprintf("duration >= %v", e.min) }

type maxDurationExpectation struct{ max time.Duration }

func (e *maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("duration %v exceeds maximum %v", r.Duration, e.max)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string { return fmt.Sprintf("duration <= %v", e.max) }
