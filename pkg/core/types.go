// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"time"

	"github.com/google/uuid"
)

// Character is the immutable persona and configuration of an agent.
type Character struct {
	ID         string            `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string            `json:"name" yaml:"name"`
	Username   string            `json:"username,omitempty" yaml:"username,omitempty"`
	System     string            `json:"system,omitempty" yaml:"system,omitempty"`
	Bio        []string          `json:"bio,omitempty" yaml:"bio,omitempty"`
	Topics     []string          `json:"topics,omitempty" yaml:"topics,omitempty"`
	Adjectives []string          `json:"adjectives,omitempty" yaml:"adjectives,omitempty"`
	Plugins    []string          `json:"plugins,omitempty" yaml:"plugins,omitempty"`
	Templates  map[string]string `json:"templates,omitempty" yaml:"templates,omitempty"`
	Settings   map[string]any    `json:"settings,omitempty" yaml:"settings,omitempty"`
	// Secrets holds decrypted values; loaders decrypt before handing the character out.
	Secrets map[string]string `json:"secrets,omitempty" yaml:"secrets,omitempty"`
}

// Media is an attachment carried by message content.
type Media struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Text        string `json:"text,omitempty"`
}

// Content is the payload of a Memory.
type Content struct {
	Text        string         `json:"text,omitempty"`
	Thought     string         `json:"thought,omitempty"`
	Actions     []string       `json:"actions,omitempty"`
	Providers   []string       `json:"providers,omitempty"`
	Source      string         `json:"source,omitempty"`
	InReplyTo   string         `json:"inReplyTo,omitempty"`
	Attachments []Media        `json:"attachments,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Memory is one immutable conversational unit.
type Memory struct {
	ID        string         `json:"id"`
	EntityID  string         `json:"entityId"`
	AgentID   string         `json:"agentId,omitempty"`
	RoomID    string         `json:"roomId"`
	WorldID   string         `json:"worldId,omitempty"`
	Content   Content        `json:"content"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// NewMemory builds a Memory with a generated id and the current time.
func NewMemory(entityID, roomID string, content Content) *Memory {
	return &Memory{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		RoomID:    roomID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// ProviderResult is the fragment one provider contributes to a State.
type ProviderResult struct {
	Text   string         `json:"text,omitempty"`
	Values map[string]any `json:"values,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// StateProvidersKey is the State.Data key holding per-provider results.
const StateProvidersKey = "providers"

// State is the composed context for one pipeline invocation.
type State struct {
	Text   string         `json:"text"`
	Values map[string]any `json:"values"`
	Data   map[string]any `json:"data"`
}

// NewState returns an empty State with initialized maps.
func NewState() *State {
	return &State{
		Values: make(map[string]any),
		Data:   make(map[string]any),
	}
}

// Clone returns a deep copy of s. Nested maps and slices of the JSON-like
// shapes (map[string]any, []any, ProviderResult) are copied; other values are shared.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	return &State{
		Text:   s.Text,
		Values: cloneMap(s.Values),
		Data:   cloneMap(s.Data),
	}
}

// ProviderResults returns the per-provider results recorded in s.
func (s *State) ProviderResults() map[string]ProviderResult {
	if s == nil || s.Data == nil {
		return nil
	}
	results, _ := s.Data[StateProvidersKey].(map[string]ProviderResult)
	return results
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return cloneMap(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = cloneValue(item)
		}
		return out
	case ProviderResult:
		return ProviderResult{Text: value.Text, Values: cloneMap(value.Values), Data: cloneMap(value.Data)}
	case map[string]ProviderResult:
		out := make(map[string]ProviderResult, len(value))
		for name, result := range value {
			out[name] = cloneValue(result).(ProviderResult)
		}
		return out
	default:
		return v
	}
}

// ActionResult is the outcome of one action or evaluator invocation.
type ActionResult struct {
	ActionName string         `json:"actionName,omitempty"`
	Success    bool           `json:"success"`
	Text       string         `json:"text,omitempty"`
	Values     map[string]any `json:"values,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Failed builds an unsuccessful ActionResult for name from err.
func Failed(name string, err error) ActionResult {
	result := ActionResult{ActionName: name}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// Response is the parsed output of the model for one turn.
type Response struct {
	Thought   string   `json:"thought,omitempty"`
	Text      string   `json:"text,omitempty"`
	Actions   []string `json:"actions,omitempty"`
	Providers []string `json:"providers,omitempty"`
	// Simple is true when the model answered with plain text only.
	Simple bool   `json:"simple,omitempty"`
	Raw    string `json:"-"`
}

// ModelType names a class of model capability.
type ModelType string

const (
	ModelTextSmall     ModelType = "TEXT_SMALL"
	ModelTextLarge     ModelType = "TEXT_LARGE"
	ModelTextEmbedding ModelType = "TEXT_EMBEDDING"
	ModelObjectSmall   ModelType = "OBJECT_SMALL"
	ModelObjectLarge   ModelType = "OBJECT_LARGE"
)

// ModelParams are the inputs to a model handler.
type ModelParams struct {
	Prompt      string         `json:"prompt,omitempty"`
	System      string         `json:"system,omitempty"`
	Temperature float64        `json:"temperature,omitempty"`
	MaxTokens   int            `json:"maxTokens,omitempty"`
	Stop        []string       `json:"stop,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// StreamChunk is one element of a streamed model output.
type StreamChunk struct {
	Text string
	Err  error
	Done bool
}
