// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini provides a Google Gemini API provider for Aion model handlers.
package gemini

import (
	"context"
	"fmt"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/llm"
	"google.golang.org/genai"
)

// Provider implements llm.StreamingProvider and llm.Embedder for Google Gemini API.
type Provider struct {
	client         *genai.Client
	model          string
	embeddingModel string
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEmbeddingModel sets the default embedding model.
func WithEmbeddingModel(model string) Option {
	return func(p *Provider) {
		p.embeddingModel = model
	}
}

// New creates a new Gemini provider.
// API key is read from GOOGLE_API_KEY or GEMINI_API_KEY environment variable by default.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	return newProvider(ctx, nil, opts...)
}

// NewWithAPIKey creates a new Gemini provider with explicit API key.
func NewWithAPIKey(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	return newProvider(ctx, &genai.ClientConfig{APIKey: apiKey}, opts...)
}

func newProvider(ctx context.Context, cfg *genai.ClientConfig, opts ...Option) (*Provider, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	p := &Provider{
		client:         client,
		model:          "gemini-3-flash-preview",
		embeddingModel: "text-embedding-004",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model, contents, config := p.request(req)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content failed: %w", err)
	}
	return convertResponse(resp), nil
}

// Close is a no-op as the Gemini client doesn't require explicit closing.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) request(req llm.ChatRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	contents, systemInstruction := convertMessages(req.Messages)

	config := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if len(req.Stop) > 0 {
		config.StopSequences = req.Stop
	}
	return model, contents, config
}

// convertMessages converts llm messages to Gemini format.
func convertMessages(messages []llm.Message) ([]*genai.Content, string) {
	var systemInstruction string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			systemInstruction = msg.Content
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	return contents, systemInstruction
}

// candidateText concatenates the text parts of the first candidate.
func candidateText(resp *genai.GenerateContentResponse) (string, bool) {
	if len(resp.Candidates) == 0 {
		return "", false
	}
	candidate := resp.Candidates[0]
	var text string
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			text += part.Text
		}
	}
	return text, candidate.FinishReason != ""
}

// convertResponse converts a Gemini response to llm format.
func convertResponse(resp *genai.GenerateContentResponse) *llm.ChatResponse {
	result := &llm.ChatResponse{}
	if resp.UsageMetadata != nil {
		result.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	result.Content, _ = candidateText(resp)
	return result
}

// ChatStream implements llm.StreamingProvider.
func (p *Provider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan core.StreamChunk, error) {
	model, contents, config := p.request(req)
	chunks := make(chan core.StreamChunk, 100)

	go func() {
		defer close(chunks)
		done := false

		iter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
		iter(func(resp *genai.GenerateContentResponse, err error) bool {
			chunk := core.StreamChunk{}
			if err != nil {
				chunk.Err = fmt.Errorf("gemini stream failed: %w", err)
				chunk.Done = true
			} else {
				chunk.Text, chunk.Done = candidateText(resp)
			}
			done = chunk.Done

			select {
			case chunks <- chunk:
				return !done
			case <-ctx.Done():
				done = true
				return false
			}
		})

		if !done {
			select {
			case chunks <- core.StreamChunk{Done: true}:
			case <-ctx.Done():
			}
		}
	}()

	return chunks, nil
}

// Embed implements llm.Embedder.
func (p *Provider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if model == "" {
		model = p.embeddingModel
	}
	resp, err := p.client.Models.EmbedContent(ctx, model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed content failed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("gemini embed content returned no embeddings")
	}
	return resp.Embeddings[0].Values, nil
}

var (
	_ llm.StreamingProvider = (*Provider)(nil)
	_ llm.Embedder          = (*Provider)(nil)
)
