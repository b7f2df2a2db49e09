// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package character loads character documents and decrypts their secrets.
package character

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/errors"
)

// Load reads a character document from path. YAML is used for .yaml/.yml
// files and JSON otherwise. Encrypted secrets are decrypted with salt.
func Load(path, salt string) (*core.Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, "read character", err).WithContext("path", path)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	return Parse(data, format, salt)
}

// Parse decodes a character document in format "yaml" or "json".
func Parse(data []byte, format, salt string) (*core.Character, error) {
	var c core.Character
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return nil, errors.New(errors.CodeConfiguration, "decode character yaml", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			return nil, errors.New(errors.CodeConfiguration, "decode character json", err)
		}
	default:
		return nil, errors.Newf(errors.CodeConfiguration, "unknown character format: %s", format)
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	if err := DecryptSecrets(&c, salt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the fields the runtime relies on.
func Validate(c *core.Character) error {
	if c == nil {
		return errors.Newf(errors.CodeValidation, "character is nil")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.Newf(errors.CodeValidation, "character name is required")
	}
	for _, p := range c.Plugins {
		if strings.TrimSpace(p) == "" {
			return errors.Newf(errors.CodeValidation, "character %s lists an empty plugin name", c.Name)
		}
	}
	return nil
}

// Template returns the named template or fallback.
func Template(c *core.Character, name, fallback string) string {
	if c != nil {
		if t, ok := c.Templates[name]; ok && t != "" {
			return t
		}
	}
	return fallback
}

// Summary renders the persona lines used in prompts.
func Summary(c *core.Character) string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# About %s\n", c.Name)
	for _, line := range c.Bio {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if len(c.Topics) > 0 {
		fmt.Fprintf(&b, "%s is interested in %s.\n", c.Name, strings.Join(c.Topics, ", "))
	}
	if len(c.Adjectives) > 0 {
		fmt.Fprintf(&b, "%s is %s.\n", c.Name, strings.Join(c.Adjectives, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
