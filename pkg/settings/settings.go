// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package settings resolves agent settings from runtime overrides, the
// character's settings and the character's decrypted secrets, in that order.
package settings

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jllopis/aion/pkg/core"
)

// secretsKey is the nested settings map some character documents use for secrets.
const secretsKey = "secrets"

// Resolver performs layered setting lookup for one character.
type Resolver struct {
	mu        sync.RWMutex
	character *core.Character
	overrides map[string]any
	secrets   map[string]string
}

// New creates a Resolver over character. A nil character is treated as empty.
func New(character *core.Character) *Resolver {
	if character == nil {
		character = &core.Character{}
	}
	return &Resolver{
		character: character,
		overrides: make(map[string]any),
		secrets:   make(map[string]string),
	}
}

// Get returns the value for key: override, then character setting, then
// nested settings secret, then character secret. Missing keys return (nil, false).
func (r *Resolver) Get(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if v, ok := r.overrides[key]; ok {
		return normalize(v), true
	}
	if v, ok := r.secrets[key]; ok {
		return normalize(v), true
	}
	if v, ok := r.character.Settings[key]; ok && v != nil {
		return normalize(v), true
	}
	if nested, ok := r.character.Settings[secretsKey].(map[string]any); ok {
		if v, ok := nested[key]; ok && v != nil {
			return normalize(v), true
		}
	}
	if v, ok := r.character.Secrets[key]; ok {
		return normalize(v), true
	}
	return nil, false
}

// GetString returns the setting formatted as a string.
func (r *Resolver) GetString(key string) (string, bool) {
	v, ok := r.Get(key)
	if !ok {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// GetBool returns the setting as a bool; non-bool values report false.
func (r *Resolver) GetBool(key string) bool {
	v, ok := r.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Set writes an override. Secret values land in the secret overlay and read
// back exactly like decrypted character secrets.
func (r *Resolver) Set(key string, value any, secret bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if secret {
		delete(r.overrides, key)
		r.secrets[key] = fmt.Sprint(value)
		return
	}
	delete(r.secrets, key)
	r.overrides[key] = value
}

// Delete removes any override or secret overlay for key.
func (r *Resolver) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, key)
	delete(r.secrets, key)
}

func normalize(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
