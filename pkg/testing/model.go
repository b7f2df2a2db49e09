// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/jllopis/aion/pkg/core"
)

// ScriptedResponse is one queued model output.
type ScriptedResponse struct {
	Text  string
	Error error
	// Condition, when set, skips this response unless it matches the params.
	Condition func(params core.ModelParams) bool
}

// ModelScript is a model handler that answers from a queue of scripted
// responses and records every call it receives.
type ModelScript struct {
	mu          sync.Mutex
	responses   []ScriptedResponse
	next        int
	calls       []core.ModelParams
	fallback    string
	hasFallback bool
}

// NewModelScript queues responses in order.
func NewModelScript(responses ...string) *ModelScript {
	s := &ModelScript{}
	for _, r := range responses {
		s.AddResponse(r)
	}
	return s
}

// AddResponse queues a raw model output.
func (s *ModelScript) AddResponse(text string) *ModelScript {
	return s.AddScripted(ScriptedResponse{Text: text})
}

// AddReply queues a tagged response that runs actions with text. No
// actions means a plain REPLY.
func (s *ModelScript) AddReply(text string, actions ...string) *ModelScript {
	return s.AddResponse(Tagged(core.Response{Text: text, Actions: actions}))
}

// AddError queues a failing generation.
func (s *ModelScript) AddError(err error) *ModelScript {
	return s.AddScripted(ScriptedResponse{Error: err})
}

// AddScripted queues a fully configured response.
func (s *ModelScript) AddScripted(r ScriptedResponse) *ModelScript {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return s
}

// WithFallback answers text once the queue is exhausted instead of failing.
func (s *ModelScript) WithFallback(text string) *ModelScript {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = text
	s.hasFallback = true
	return s
}

// Handle implements core.ModelHandler.
func (s *ModelScript) Handle(_ context.Context, params core.ModelParams) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, params)

	for s.next < len(s.responses) {
		r := s.responses[s.next]
		s.next++
		if r.Condition != nil && !r.Condition(params) {
			continue
		}
		if r.Error != nil {
			return nil, r.Error
		}
		return r.Text, nil
	}
	if s.hasFallback {
		return s.fallback, nil
	}
	return nil, fmt.Errorf("no more scripted responses (call %d)", len(s.calls))
}

// Calls returns the params of every call so far.
func (s *ModelScript) Calls() []core.ModelParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ModelParams(nil), s.calls...)
}

// LastPrompt returns the prompt of the latest call.
func (s *ModelScript) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	return s.calls[len(s.calls)-1].Prompt
}

// Remaining reports how many queued responses were not consumed.
func (s *ModelScript) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses) - s.next
}

// Registrations binds the script to the given model types under provider.
func (s *ModelScript) Registrations(provider string, priority int, types ...core.ModelType) []core.ModelRegistration {
	regs := make([]core.ModelRegistration, 0, len(types))
	for _, mt := range types {
		regs = append(regs, core.ModelRegistration{
			ModelType: mt,
			Provider:  provider,
			Priority:  priority,
			Handler:   s.Handle,
		})
	}
	return regs
}

// Tagged renders resp in the tagged response format the runtime parses.
func Tagged(resp core.Response) string {
	var b strings.Builder
	b.WriteString("<response>\n")
	if resp.Thought != "" {
		fmt.Fprintf(&b, "<thought>%s</thought>\n", html.EscapeString(resp.Thought))
	}
	if len(resp.Actions) > 0 {
		fmt.Fprintf(&b, "<actions>%s</actions>\n", strings.Join(resp.Actions, ", "))
	}
	if len(resp.Providers) > 0 {
		fmt.Fprintf(&b, "<providers>%s</providers>\n", strings.Join(resp.Providers, ", "))
	}
	fmt.Fprintf(&b, "<text>%s</text>\n", html.EscapeString(resp.Text))
	b.WriteString("</response>")
	return b.String()
}
