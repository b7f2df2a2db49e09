package llm

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jllopis/aion/pkg/core"
)

// MockProvider is a testing implementation of StreamingProvider.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	mu       sync.Mutex
	requests []ChatRequest
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

// ChatStream streams Response one word at a time.
func (m *MockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan core.StreamChunk, error) {
	resp, err := m.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(resp.Content, " ")
	ch := make(chan core.StreamChunk, len(words)+1)
	for _, w := range words {
		if w != "" {
			ch <- core.StreamChunk{Text: w}
		}
	}
	ch <- core.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

// Requests returns the requests received so far.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

// ScriptedMockProvider returns a pre-defined sequence of responses.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	CallCount int
}

// NewScriptedMockProvider creates a ScriptedMockProvider.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	return &ScriptedMockProvider{Responses: responses}
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCount++
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}
	content := s.Responses[0]
	s.Responses = s.Responses[1:]
	return &ChatResponse{Content: content, Usage: Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}}, nil
}

// AddResponse appends a response to the queue.
func (s *ScriptedMockProvider) AddResponse(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, response)
}

// MockEmbedder returns a fixed-size vector derived from the text length.
type MockEmbedder struct {
	MockProvider
	Dimensions int
}

func (m *MockEmbedder) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	n := m.Dimensions
	if n <= 0 {
		n = 4
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = float32(len(text)+i) / 100
	}
	return vec, nil
}
