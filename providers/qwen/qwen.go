// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package qwen provides an Alibaba Cloud Qwen provider for Aion model handlers.
// DashScope serves Qwen through an OpenAI-compatible endpoint, so requests go
// through the OpenAI SDK pointed at DashScope.
package qwen

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultBaseURL is the DashScope OpenAI-compatible endpoint.
	DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	// IntlBaseURL is the international DashScope endpoint.
	IntlBaseURL = "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"
)

// Provider implements llm.StreamingProvider and llm.Embedder for Qwen models.
type Provider struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	dimensions     int
	thinking       *bool
	httpClient     *http.Client
	client         openai.Client
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default chat model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithEmbeddingModel sets the default embedding model.
func WithEmbeddingModel(model string) Option {
	return func(p *Provider) { p.embeddingModel = model }
}

// WithDimensions requests embeddings of n dimensions. Zero keeps the model default.
func WithDimensions(n int) Option {
	return func(p *Provider) { p.dimensions = n }
}

// WithThinking toggles the reasoning phase of hybrid Qwen3 models. DashScope
// rejects thinking on non-streaming calls, so Chat always sends false.
func WithThinking(enabled bool) Option {
	return func(p *Provider) { p.thinking = &enabled }
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.httpClient = client }
}

// New creates a Qwen provider for apiKey (a DashScope key).
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:         apiKey,
		baseURL:        DefaultBaseURL,
		model:          "qwen-plus",
		embeddingModel: "text-embedding-v3",
	}
	for _, opt := range opts {
		opt(p)
	}
	clientOpts := []option.RequestOption{
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithMaxRetries(1),
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(p.httpClient))
	}
	p.client = openai.NewClient(clientOpts...)
	return p
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(req), option.WithJSONSet("enable_thinking", false))
	if err != nil {
		return nil, fmt.Errorf("qwen chat completion failed: %w", err)
	}
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) > 0 {
		resp.Content = completion.Choices[0].Message.Content
	}
	return resp, nil
}

// ChatStream implements llm.StreamingProvider. Reasoning deltas of thinking
// models are not forwarded; only answer text reaches the channel.
func (p *Provider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan core.StreamChunk, error) {
	var opts []option.RequestOption
	if p.thinking != nil {
		opts = append(opts, option.WithJSONSet("enable_thinking", *p.thinking))
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req), opts...)
	chunks := make(chan core.StreamChunk, 100)

	go func() {
		defer close(chunks)
		defer stream.Close()
		send := func(chunk core.StreamChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			event := stream.Current()
			if len(event.Choices) == 0 {
				continue
			}
			choice := event.Choices[0]
			chunk := core.StreamChunk{Text: choice.Delta.Content, Done: choice.FinishReason != ""}
			if chunk.Text == "" && !chunk.Done {
				continue
			}
			if !send(chunk) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(core.StreamChunk{Err: fmt.Errorf("qwen stream failed: %w", err), Done: true})
		}
	}()

	return chunks, nil
}

// Embed implements llm.Embedder.
func (p *Provider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if model == "" {
		model = p.embeddingModel
	}
	params := openai.EmbeddingNewParams{
		Model:          openai.EmbeddingModel(model),
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.dimensions > 0 {
		params.Dimensions = openai.Int(int64(p.dimensions))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("qwen embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("qwen embedding returned no data")
	}
	values := resp.Data[0].Embedding
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out, nil
}

func (p *Provider) params(req llm.ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	// DashScope predates max_completion_tokens and only honours max_tokens.
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	return params
}

func convertMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

var (
	_ llm.StreamingProvider = (*Provider)(nil)
	_ llm.Embedder          = (*Provider)(nil)
)
