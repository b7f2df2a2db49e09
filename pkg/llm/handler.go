package llm

import (
	"context"
	"fmt"

	"github.com/jllopis/aion/pkg/core"
)

// Binding maps a model type to the backend model name serving it.
type Binding struct {
	ModelType core.ModelType
	Model     string
}

// Bind returns the registrations that serve bindings with p under providerName.
// Streaming registrations are added when p implements StreamingProvider, and
// embedding bindings require p to implement Embedder.
func Bind(providerName string, p Provider, priority int, bindings ...Binding) ([]core.ModelRegistration, []core.StreamRegistration, error) {
	var (
		models  []core.ModelRegistration
		streams []core.StreamRegistration
	)
	sp, canStream := p.(StreamingProvider)
	for _, b := range bindings {
		if b.ModelType == core.ModelTextEmbedding {
			emb, ok := p.(Embedder)
			if !ok {
				return nil, nil, fmt.Errorf("provider %s cannot serve %s", providerName, b.ModelType)
			}
			models = append(models, core.ModelRegistration{
				ModelType: b.ModelType, Provider: providerName, Priority: priority,
				Handler: EmbeddingHandler(emb, b.Model),
			})
			continue
		}
		models = append(models, core.ModelRegistration{
			ModelType: b.ModelType, Provider: providerName, Priority: priority,
			Handler: TextHandler(p, b.Model),
		})
		if canStream {
			streams = append(streams, core.StreamRegistration{
				ModelType: b.ModelType, Provider: providerName, Priority: priority,
				Handler: StreamHandler(sp, b.Model),
			})
		}
	}
	return models, streams, nil
}

// TextHandler adapts p to a model handler returning the response text.
func TextHandler(p Provider, model string) core.ModelHandler {
	return func(ctx context.Context, params core.ModelParams) (any, error) {
		resp, err := p.Chat(ctx, Request(model, params))
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return "", nil
		}
		return resp.Content, nil
	}
}

// StreamHandler adapts p to a streaming model handler.
func StreamHandler(p StreamingProvider, model string) core.StreamHandler {
	return func(ctx context.Context, params core.ModelParams) (<-chan core.StreamChunk, error) {
		return p.ChatStream(ctx, Request(model, params))
	}
}

// EmbeddingHandler adapts e to a model handler returning []float32.
func EmbeddingHandler(e Embedder, model string) core.ModelHandler {
	return func(ctx context.Context, params core.ModelParams) (any, error) {
		return e.Embed(ctx, model, params.Prompt)
	}
}

// Request builds a chat request from model params.
func Request(model string, params core.ModelParams) ChatRequest {
	req := ChatRequest{
		Model:       model,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stop:        params.Stop,
	}
	if params.System != "" {
		req.Messages = append(req.Messages, Message{Role: RoleSystem, Content: params.System})
	}
	req.Messages = append(req.Messages, Message{Role: RoleUser, Content: params.Prompt})
	return req
}
