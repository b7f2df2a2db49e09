// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/runtime"
)

// ResultAssertions checks a HandleResult fluently.
type ResultAssertions struct {
	t   testing.TB
	res *runtime.HandleResult
}

// AssertResult starts assertions on res. A nil res fails the test.
func AssertResult(t testing.TB, res *runtime.HandleResult) *ResultAssertions {
	t.Helper()
	if !assert.NotNil(t, res, "handle result") {
		res = &runtime.HandleResult{}
	}
	return &ResultAssertions{t: t, res: res}
}

// HasText asserts the parsed response text contains substr.
func (r *ResultAssertions) HasText(substr string) *ResultAssertions {
	r.t.Helper()
	assert.Contains(r.t, r.res.Response.Text, substr, "response text")
	return r
}

// HasThought asserts the parsed response thought contains substr.
func (r *ResultAssertions) HasThought(substr string) *ResultAssertions {
	r.t.Helper()
	assert.Contains(r.t, r.res.Response.Thought, substr, "response thought")
	return r
}

// Sent asserts the agent sent a message containing substr.
func (r *ResultAssertions) Sent(substr string) *ResultAssertions {
	r.t.Helper()
	for _, m := range r.res.Messages {
		if strings.Contains(m.Content.Text, substr) {
			return r
		}
	}
	assert.Failf(r.t, "message not sent", "no sent message contains %q", substr)
	return r
}

// SentCount asserts how many messages the agent sent.
func (r *ResultAssertions) SentCount(n int) *ResultAssertions {
	r.t.Helper()
	assert.Len(r.t, r.res.Messages, n, "sent messages")
	return r
}

// RanActions asserts exactly names ran, in order.
func (r *ResultAssertions) RanActions(names ...string) *ResultAssertions {
	r.t.Helper()
	got := make([]string, len(r.res.ActionResults))
	for i, a := range r.res.ActionResults {
		got[i] = a.ActionName
	}
	if len(names) == 0 {
		assert.Empty(r.t, got, "actions")
		return r
	}
	assert.Equal(r.t, names, got, "actions")
	return r
}

// ActionSucceeded asserts action name ran successfully.
func (r *ResultAssertions) ActionSucceeded(name string) *ResultAssertions {
	r.t.Helper()
	if a, ok := r.action(name); ok {
		assert.True(r.t, a.Success, "action %s failed: %s", name, a.Error)
	}
	return r
}

// ActionFailed asserts action name ran and failed with an error containing substr.
func (r *ResultAssertions) ActionFailed(name, substr string) *ResultAssertions {
	r.t.Helper()
	if a, ok := r.action(name); ok {
		assert.False(r.t, a.Success, "action %s succeeded", name)
		assert.Contains(r.t, a.Error, substr, "action %s error", name)
	}
	return r
}

// RanEvaluators asserts exactly names ran, in order.
func (r *ResultAssertions) RanEvaluators(names ...string) *ResultAssertions {
	r.t.Helper()
	if len(names) == 0 {
		assert.Empty(r.t, r.res.Evaluators, "evaluators")
		return r
	}
	assert.Equal(r.t, names, r.res.Evaluators, "evaluators")
	return r
}

// HasStateValue asserts the composed state carries key.
func (r *ResultAssertions) HasStateValue(key string, want any) *ResultAssertions {
	r.t.Helper()
	if !assert.NotNil(r.t, r.res.State, "state") {
		return r
	}
	assert.Equal(r.t, want, r.res.State.Values[key], "state value %s", key)
	return r
}

func (r *ResultAssertions) action(name string) (core.ActionResult, bool) {
	r.t.Helper()
	for _, a := range r.res.ActionResults {
		if a.ActionName == name {
			return a, true
		}
	}
	assert.Failf(r.t, "action did not run", "action %q not in results", name)
	return core.ActionResult{}, false
}

// EventAssertions checks a sequence of collected events.
type EventAssertions struct {
	t      testing.TB
	events []core.Event
}

// AssertEvents starts assertions on events.
func AssertEvents(t testing.TB, events []core.Event) *EventAssertions {
	return &EventAssertions{t: t, events: events}
}

// Has asserts every type in types was emitted.
func (e *EventAssertions) Has(types ...core.EventType) *EventAssertions {
	e.t.Helper()
	got := e.types()
	for _, t := range types {
		assert.Contains(e.t, got, t, "events")
	}
	return e
}

// Lacks asserts no event of the given types was emitted.
func (e *EventAssertions) Lacks(types ...core.EventType) *EventAssertions {
	e.t.Helper()
	got := e.types()
	for _, t := range types {
		assert.NotContains(e.t, got, t, "events")
	}
	return e
}

// InOrder asserts types appear as a subsequence of the emitted events.
func (e *EventAssertions) InOrder(types ...core.EventType) *EventAssertions {
	e.t.Helper()
	i := 0
	for _, ev := range e.events {
		if i < len(types) && ev.Type == types[i] {
			i++
		}
	}
	assert.Equal(e.t, len(types), i, "events %v not in order %v", e.types(), types)
	return e
}

// Payload asserts the first event of type t carries key with value want.
func (e *EventAssertions) Payload(t core.EventType, key string, want any) *EventAssertions {
	e.t.Helper()
	for _, ev := range e.events {
		if ev.Type == t {
			assert.Equal(e.t, want, ev.Payload[key], "%s payload %s", t, key)
			return e
		}
	}
	assert.Failf(e.t, "event not emitted", "no %s event", t)
	return e
}

// Count asserts how many events of type t were emitted.
func (e *EventAssertions) Count(t core.EventType, n int) *EventAssertions {
	e.t.Helper()
	got := 0
	for _, ev := range e.events {
		if ev.Type == t {
			got++
		}
	}
	assert.Equal(e.t, n, got, "%s events", t)
	return e
}

func (e *EventAssertions) types() []core.EventType {
	out := make([]core.EventType, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}
