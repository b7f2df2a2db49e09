// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the host configuration from defaults, a YAML (or
// JSON) file, an optional profile overlay, AION_ environment variables and
// command line overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides: AION_LOG_LEVEL sets log.level.
const EnvPrefix = "AION_"

type Config struct {
	Log       LogConfig         `koanf:"log" yaml:"log"`
	Telemetry TelemetryConfig   `koanf:"telemetry" yaml:"telemetry"`
	Character CharacterConfig   `koanf:"character" yaml:"character"`
	LLM       LLMConfig         `koanf:"llm" yaml:"llm"`
	State     StateConfig       `koanf:"state" yaml:"state"`
	Executor  ExecutorConfig    `koanf:"executor" yaml:"executor"`
	Storage   StorageConfig     `koanf:"storage" yaml:"storage"`
	Bridge    BridgeConfig      `koanf:"bridge" yaml:"bridge"`
	Plugins   []PluginConfig    `koanf:"plugins" yaml:"plugins"`
	MCP       []MCPServerConfig `koanf:"mcp" yaml:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter" yaml:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure" yaml:"otlp_insecure"`
	ServiceName  string `koanf:"service_name" yaml:"service_name"`
}

type CharacterConfig struct {
	Path       string `koanf:"path" yaml:"path"`
	SecretSalt string `koanf:"secret_salt" yaml:"secret_salt"`
}

// LLMConfig selects the model backend the host binds to TEXT_SMALL,
// TEXT_LARGE and TEXT_EMBEDDING.
type LLMConfig struct {
	Provider       string `koanf:"provider" yaml:"provider"` // ollama, mock
	BaseURL        string `koanf:"base_url" yaml:"base_url"`
	SmallModel     string `koanf:"small_model" yaml:"small_model"`
	LargeModel     string `koanf:"large_model" yaml:"large_model"`
	EmbeddingModel string `koanf:"embedding_model" yaml:"embedding_model"`
}

type StateConfig struct {
	CacheSize int `koanf:"cache_size" yaml:"cache_size"`
}

type ExecutorConfig struct {
	ResultStoreSize int `koanf:"result_store_size" yaml:"result_store_size"`
}

type StorageConfig struct {
	Driver string `koanf:"driver" yaml:"driver"` // memory, sqlite
	DSN    string `koanf:"dsn" yaml:"dsn"`
}

type BridgeConfig struct {
	ReadyTimeout    time.Duration `koanf:"ready_timeout" yaml:"ready_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout" yaml:"request_timeout"`
	RespawnAttempts int           `koanf:"respawn_attempts" yaml:"respawn_attempts"`
}

// PluginConfig declares a bridge worker process.
type PluginConfig struct {
	Name    string            `koanf:"name" yaml:"name"`
	Command string            `koanf:"command" yaml:"command"`
	Args    []string          `koanf:"args" yaml:"args"`
	Env     []string          `koanf:"env" yaml:"env"`
	Dir     string            `koanf:"dir" yaml:"dir"`
	Config  map[string]string `koanf:"config" yaml:"config"`
}

// MCPServerConfig declares an MCP server whose tools become actions.
type MCPServerConfig struct {
	Name    string   `koanf:"name" yaml:"name"`
	Command string   `koanf:"command" yaml:"command"`
	Args    []string `koanf:"args" yaml:"args"`
	URL     string   `koanf:"url" yaml:"url"`
}

func defaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.service_name", "aion")

	k.Set("llm.provider", "ollama")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("llm.small_model", "qwen2.5:3b")
	k.Set("llm.large_model", "qwen2.5-coder:7b-instruct-q5_K_M")
	k.Set("llm.embedding_model", "nomic-embed-text")

	k.Set("state.cache_size", 1000)
	k.Set("executor.result_store_size", 1000)
	k.Set("storage.driver", "memory")

	k.Set("bridge.ready_timeout", "10s")
	k.Set("bridge.request_timeout", "30s")
	k.Set("bridge.respawn_attempts", 3)
}

// Load reads path (optional) over the defaults and applies AION_ env vars.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile is Load with the profile overlay next to path applied
// after the base file: config.yaml plus profile "dev" reads config.dev.yaml.
// A missing overlay is ignored.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI parses --config, --profile (alias --env) and repeated
// --set key=value from args. Set values are parsed as YAML scalars or flow
// collections and win over every other source.
func LoadWithCLI(args []string) (*Config, error) {
	opts, sets, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, sets)
}

func load(path, profile string, sets map[string]any) (*Config, error) {
	k := koanf.New(".")
	defaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if overlay := profileConfigPath(path, profile); overlay != "" {
			if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load profile %s: %w", overlay, err)
			}
		}
	}

	// AION_STATE_CACHE_SIZE -> state.cache_size
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range sets {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// profileConfigPath returns the overlay file for profile if it exists.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	candidate := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]any, error) {
	var opts cliOptions
	sets := make(map[string]any)
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("missing value for %s", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return opts, nil, fmt.Errorf("invalid --set %q: want key=value", value)
			}
			sets[strings.TrimSpace(key)] = parseValue(raw)
		}
	}
	return opts, sets, nil
}

// parseValue decodes raw as YAML so numbers, booleans and {..} maps keep
// their types. Anything that fails to decode stays a string.
func parseValue(raw string) any {
	var v any
	if err := yamlv3.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}
