// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package gemini

import (
	"testing"

	"github.com/jllopis/aion/pkg/llm"
	"google.golang.org/genai"
)

func TestWithModel(t *testing.T) {
	p := &Provider{model: "gemini-2.0-flash"}
	WithModel("gemini-1.5-pro")(p)
	WithEmbeddingModel("gemini-embedding-001")(p)
	if p.model != "gemini-1.5-pro" {
		t.Errorf("expected model gemini-1.5-pro, got %s", p.model)
	}
	if p.embeddingModel != "gemini-embedding-001" {
		t.Errorf("expected embedding model gemini-embedding-001, got %s", p.embeddingModel)
	}
}

func TestConvertMessages(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are helpful"},
		{Role: llm.RoleUser, Content: "Hello"},
		{Role: llm.RoleAssistant, Content: "Hi there"},
	}

	contents, systemInstruction := convertMessages(messages)

	if systemInstruction != "You are helpful" {
		t.Errorf("expected system instruction 'You are helpful', got %s", systemInstruction)
	}
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[1].Role != "model" {
		t.Errorf("expected assistant role mapped to model, got %s", contents[1].Role)
	}
}

func TestRequestConfig(t *testing.T) {
	p := &Provider{model: "gemini-default"}
	model, _, config := p.request(llm.ChatRequest{
		Messages:    []llm.Message{{Role: llm.RoleSystem, Content: "sys"}},
		Temperature: 0.5,
		Stop:        []string{"</response>"},
	})
	if model != "gemini-default" {
		t.Errorf("expected default model, got %s", model)
	}
	if config.SystemInstruction == nil || config.Temperature == nil {
		t.Fatal("expected system instruction and temperature")
	}
	if len(config.StopSequences) != 1 {
		t.Errorf("expected stop sequences, got %v", config.StopSequences)
	}
}

func TestConvertResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "Hello "}, {Text: "world"}}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     3,
			CandidatesTokenCount: 2,
			TotalTokenCount:      5,
		},
	}
	got := convertResponse(resp)
	if got.Content != "Hello world" {
		t.Errorf("expected concatenated text, got %q", got.Content)
	}
	if got.Usage.TotalTokens != 5 {
		t.Errorf("expected 5 total tokens, got %d", got.Usage.TotalTokens)
	}
}

func TestClose(t *testing.T) {
	p := &Provider{}
	if err := p.Close(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
