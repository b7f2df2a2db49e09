// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package qwen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jllopis/aion/pkg/llm"
)

// wireRequest is the subset of the chat completion body the tests inspect.
type wireRequest struct {
	Model          string   `json:"model"`
	MaxTokens      int      `json:"max_tokens"`
	Stop           []string `json:"stop"`
	Stream         bool     `json:"stream"`
	EnableThinking *bool    `json:"enable_thinking"`
	Dimensions     int      `json:"dimensions"`
	Messages       []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func server(t *testing.T, path string, got *wireRequest, reply func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		reply(w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewProvider(t *testing.T) {
	p := New("test-key")
	if p.model != "qwen-plus" {
		t.Errorf("expected model qwen-plus, got %s", p.model)
	}
	if p.embeddingModel != "text-embedding-v3" {
		t.Errorf("expected embedding model text-embedding-v3, got %s", p.embeddingModel)
	}
	if p.baseURL != DefaultBaseURL {
		t.Errorf("expected baseURL %s, got %s", DefaultBaseURL, p.baseURL)
	}

	p = New("test-key", WithModel("qwen-max"), WithBaseURL(IntlBaseURL))
	if p.model != "qwen-max" || p.baseURL != IntlBaseURL {
		t.Errorf("options not applied: %s %s", p.model, p.baseURL)
	}
}

func TestChat(t *testing.T) {
	var got wireRequest
	srv := server(t, "/chat/completions", &got, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-123","object":"chat.completion","created":1,"model":"qwen-plus","choices":[{"index":0,"message":{"role":"assistant","content":"Hello there!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	})

	p := New("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are helpful"},
			{Role: llm.RoleUser, Content: "Hi"},
		},
		MaxTokens: 32,
		Stop:      []string{"</response>"},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "Hello there!" {
		t.Errorf("expected content 'Hello there!', got %s", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected total tokens 15, got %d", resp.Usage.TotalTokens)
	}
	if got.Model != "qwen-plus" || got.MaxTokens != 32 || len(got.Stop) != 1 {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "Hi" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
	if got.EnableThinking == nil || *got.EnableThinking {
		t.Errorf("expected enable_thinking=false on non-streaming calls")
	}
}

func TestChatAPIError(t *testing.T) {
	srv := server(t, "/chat/completions", nil, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"auth","code":"401"}}`))
	})

	p := New("test-key", WithBaseURL(srv.URL))
	_, err := p.Chat(context.Background(), llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "qwen chat completion failed") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestChatStream(t *testing.T) {
	var got wireRequest
	srv := server(t, "/chat/completions", &got, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, event := range []string{
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"qwen3","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"qwen3","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"qwen3","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", event)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	p := New("test-key", WithBaseURL(srv.URL), WithModel("qwen3-8b"), WithThinking(true))
	chunks, err := p.ChatStream(context.Background(), llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}}})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var text strings.Builder
	done := false
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		text.WriteString(chunk.Text)
		done = done || chunk.Done
	}
	if text.String() != "Hello" || !done {
		t.Errorf("expected Hello and a final chunk, got %q done=%v", text.String(), done)
	}
	if !got.Stream || got.Model != "qwen3-8b" {
		t.Errorf("unexpected request %+v", got)
	}
	if got.EnableThinking == nil || !*got.EnableThinking {
		t.Errorf("expected enable_thinking=true")
	}
}

func TestEmbed(t *testing.T) {
	var got wireRequest
	srv := server(t, "/embeddings", &got, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-v3","data":[{"object":"embedding","index":0,"embedding":[0.5,-0.25,1]}],"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	})

	p := New("test-key", WithBaseURL(srv.URL), WithDimensions(3))
	vec, err := p.Embed(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.5 || vec[1] != -0.25 {
		t.Errorf("unexpected vector %v", vec)
	}
	if got.Model != "text-embedding-v3" || got.Dimensions != 3 {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestHandlersFromProvider(t *testing.T) {
	models, streams, err := llm.Bind("qwen", New("test-key"), 10,
		llm.Binding{ModelType: "TEXT_LARGE", Model: "qwen-max"},
		llm.Binding{ModelType: "TEXT_EMBEDDING", Model: "text-embedding-v3"},
	)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if len(models) != 2 {
		t.Errorf("expected 2 model handlers, got %d", len(models))
	}
	if len(streams) != 1 {
		t.Errorf("expected 1 stream handler, got %d", len(streams))
	}
}
