// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package anthropic

import (
	"testing"

	"github.com/jllopis/aion/pkg/llm"
)

func TestProviderImplementsInterface(t *testing.T) {
	var _ llm.StreamingProvider = (*Provider)(nil)
}

func TestNewProvider(t *testing.T) {
	p := New()
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if p.model != "claude-sonnet-4-20250514" {
		t.Errorf("expected model claude-sonnet-4-20250514, got %s", p.model)
	}
	if p.maxTokens != 4096 {
		t.Errorf("expected maxTokens 4096, got %d", p.maxTokens)
	}
}

func TestWithModel(t *testing.T) {
	p := New(WithModel("claude-opus-4-20250514"))
	if p.model != "claude-opus-4-20250514" {
		t.Errorf("expected model claude-opus-4-20250514, got %s", p.model)
	}
}

func TestWithMaxTokens(t *testing.T) {
	p := New(WithMaxTokens(8192))
	if p.maxTokens != 8192 {
		t.Errorf("expected maxTokens 8192, got %d", p.maxTokens)
	}
}

func TestNewWithAPIKey(t *testing.T) {
	p := NewWithAPIKey("test-key")
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

func TestConvertMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  llm.Message
		role string
	}{
		{name: "user message", msg: llm.Message{Role: llm.RoleUser, Content: "Hello"}, role: "user"},
		{name: "assistant message", msg: llm.Message{Role: llm.RoleAssistant, Content: "Hi there"}, role: "assistant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertMessage(tt.msg)
			if string(got.Role) != tt.role {
				t.Errorf("expected role %s, got %s", tt.role, got.Role)
			}
		})
	}
}

func TestParams(t *testing.T) {
	p := NewWithAPIKey("test-key")
	params := p.params(llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "hello"},
		},
		MaxTokens: 256,
		Stop:      []string{"</response>"},
	})
	if len(params.System) != 1 || params.System[0].Text != "be brief" {
		t.Errorf("expected system prompt extracted, got %v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(params.Messages))
	}
	if params.MaxTokens != 256 {
		t.Errorf("expected maxTokens 256, got %d", params.MaxTokens)
	}
	if len(params.StopSequences) != 1 {
		t.Errorf("expected stop sequences, got %v", params.StopSequences)
	}
}
