// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jllopis/aion/pkg/core"
)

// Manifest is a worker's self-description, sent once in the ready message.
type Manifest struct {
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	Version      string                `json:"version"`
	Language     string                `json:"language"`
	Config       map[string]any        `json:"config,omitempty"`
	Dependencies []string              `json:"dependencies,omitempty"`
	Actions      []ActionDescriptor    `json:"actions"`
	Providers    []ProviderDescriptor  `json:"providers"`
	Evaluators   []EvaluatorDescriptor `json:"evaluators"`
}

// ActionDescriptor announces an action the worker serves.
type ActionDescriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Similes     []string `json:"similes,omitempty"`
}

// ProviderDescriptor announces a provider. Position orders provider output
// within a composed state, lower first.
type ProviderDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Dynamic     bool   `json:"dynamic,omitempty"`
	Position    int    `json:"position,omitempty"`
	Private     bool   `json:"private,omitempty"`
}

// EvaluatorDescriptor announces an evaluator.
type EvaluatorDescriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	AlwaysRun   bool     `json:"alwaysRun,omitempty"`
	Similes     []string `json:"similes,omitempty"`
}

// DecodeManifest parses the manifest of a ready message. It does not
// validate it.
func DecodeManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &manifest, nil
}

// StringConfig returns the default config as plugin settings. Strings are
// kept as is; other values are rendered as JSON.
func (m *Manifest) StringConfig() map[string]string {
	if len(m.Config) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.Config))
	for k, v := range m.Config {
		if str, ok := v.(string); ok {
			out[k] = str
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			out[k] = fmt.Sprint(v)
			continue
		}
		out[k] = string(data)
	}
	return out
}

// Validate checks that the manifest names itself and that component names are
// present and unique per kind.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("manifest is nil")
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("manifest name is required")
	}
	check := func(kind string, names []string) error {
		seen := make(map[string]struct{}, len(names))
		for _, name := range names {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("manifest %s: %s name is required", m.Name, kind)
			}
			if _, dup := seen[name]; dup {
				return fmt.Errorf("manifest %s: duplicate %s %q", m.Name, kind, name)
			}
			seen[name] = struct{}{}
		}
		return nil
	}

	actions := make([]string, len(m.Actions))
	for i, a := range m.Actions {
		actions[i] = a.Name
	}
	providers := make([]string, len(m.Providers))
	for i, p := range m.Providers {
		providers[i] = p.Name
	}
	evaluators := make([]string, len(m.Evaluators))
	for i, e := range m.Evaluators {
		evaluators[i] = e.Name
	}
	if err := check("action", actions); err != nil {
		return err
	}
	if err := check("provider", providers); err != nil {
		return err
	}
	return check("evaluator", evaluators)
}

// ManifestFromPlugin describes the bridgeable components of p.
func ManifestFromPlugin(p *core.Plugin, version, language string) *Manifest {
	m := &Manifest{
		Name:         p.Name,
		Description:  p.Description,
		Version:      version,
		Language:     language,
		Dependencies: p.Dependencies,
		Actions:      make([]ActionDescriptor, 0, len(p.Actions)),
		Providers:    make([]ProviderDescriptor, 0, len(p.Providers)),
		Evaluators:   make([]EvaluatorDescriptor, 0, len(p.Evaluators)),
	}
	if len(p.Config) > 0 {
		m.Config = make(map[string]any, len(p.Config))
		for k, v := range p.Config {
			m.Config[k] = v
		}
	}
	for _, a := range p.Actions {
		m.Actions = append(m.Actions, ActionDescriptor{
			Name:        a.Name(),
			Description: a.Description(),
			Similes:     a.Similes(),
		})
	}
	for _, pr := range p.Providers {
		m.Providers = append(m.Providers, ProviderDescriptor{
			Name:        pr.Name(),
			Description: pr.Description(),
			Dynamic:     pr.Dynamic(),
			Position:    pr.Position(),
			Private:     pr.Private(),
		})
	}
	for _, e := range p.Evaluators {
		m.Evaluators = append(m.Evaluators, EvaluatorDescriptor{
			Name:        e.Name(),
			Description: e.Description(),
			AlwaysRun:   e.AlwaysRun(),
			Similes:     e.Similes(),
		})
	}
	return m
}
