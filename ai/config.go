// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"errors"
	"fmt"
	"strings"
)

// Provider kinds understood by the provider constructors.
const (
	KindOpenAI = "openai"
	KindOllama = "ollama"
)

// Config holds the settings for one provider backend.
type Config struct {
	// Name identifies the provider in logs. Defaults to Kind.
	Name string

	// Kind selects the client implementation: "openai" or "ollama".
	Kind string

	// Host is the base URL of the service.
	// Example: "http://localhost:11434/v1" for a local OpenAI-compatible server
	Host string

	// Token is the API key. Local servers accept any value.
	Token string

	// GenerationModel is the chat model used by Generate.
	// Example: "qwen2.5:3b", "gpt-4o-mini"
	GenerationModel string

	// EmbeddingModel is the model used by Embed.
	// Example: "embeddinggemma", "text-embedding-3-small"
	EmbeddingModel string

	// Capabilities limits what the provider is used for. Zero means every
	// capability that has a model configured.
	Capabilities Capability
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithName sets the provider name.
func WithName(name string) ConfigOption {
	return func(c *Config) {
		c.Name = name
	}
}

// WithKind sets the client implementation.
func WithKind(kind string) ConfigOption {
	return func(c *Config) {
		c.Kind = kind
	}
}

// WithHost sets the service host URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.Host = host
	}
}

// WithToken sets the API key.
func WithToken(token string) ConfigOption {
	return func(c *Config) {
		c.Token = token
	}
}

// WithGenerationModel sets the chat model identifier.
func WithGenerationModel(model string) ConfigOption {
	return func(c *Config) {
		c.GenerationModel = model
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithCapabilities restricts the provider to the given capabilities.
func WithCapabilities(caps Capability) ConfigOption {
	return func(c *Config) {
		c.Capabilities = caps
	}
}

// DefaultConfig returns a Config for a local OpenAI-compatible server.
func DefaultConfig() *Config {
	return &Config{
		Kind:            KindOpenAI,
		Host:            "http://localhost:11434/v1",
		Token:           "none",
		GenerationModel: "qwen2.5:3b",
		EmbeddingModel:  "embeddinggemma",
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("http://localhost:11434"),
//	    WithEmbeddingModel("text-embedding-3-small"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize puts the configuration in canonical form. OpenAI-compatible
// hosts get a /v1 suffix; Ollama hosts lose it, since the native API is
// rooted at the server address.
func (c *Config) Normalize() {
	c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
	if c.Kind == "" {
		c.Kind = KindOpenAI
	}
	if c.Name == "" {
		c.Name = c.Kind
	}
	if c.Host != "" {
		c.Host = strings.TrimSuffix(c.Host, "/")
		switch c.Kind {
		case KindOpenAI:
			if !strings.HasSuffix(c.Host, "/v1") {
				c.Host += "/v1"
			}
		case KindOllama:
			c.Host = strings.TrimSuffix(c.Host, "/v1")
		}
	}
	if c.Token == "" {
		c.Token = "none"
	}
	if c.Capabilities == 0 {
		if c.GenerationModel != "" {
			c.Capabilities |= CapabilityGeneration
		}
		if c.EmbeddingModel != "" {
			c.Capabilities |= CapabilityEmbedding
		}
	}
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration first.
func (c *Config) Validate() error {
	c.Normalize()

	if c.Kind != KindOpenAI && c.Kind != KindOllama {
		return fmt.Errorf("ai config: unknown provider kind %q", c.Kind)
	}
	if c.Host == "" {
		return errors.New("ai config: Host is required")
	}
	if c.Capabilities == 0 {
		return errors.New("ai config: at least one of GenerationModel or EmbeddingModel is required")
	}
	if c.Capabilities.Has(CapabilityGeneration) && c.GenerationModel == "" {
		return errors.New("ai config: GenerationModel is required for generation")
	}
	if c.Capabilities.Has(CapabilityEmbedding) && c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required for embedding")
	}
	return nil
}
