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
	"context"
	"strings"
)

// Capability is a bit set of the services a provider offers.
type Capability uint8

const (
	// CapabilityGeneration marks providers that implement Generate.
	CapabilityGeneration Capability = 1 << iota
	// CapabilityEmbedding marks providers that implement Embed.
	CapabilityEmbedding
)

// Has reports whether every bit of other is set in c.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) String() string {
	var parts []string
	if c.Has(CapabilityGeneration) {
		parts = append(parts, "generation")
	}
	if c.Has(CapabilityEmbedding) {
		parts = append(parts, "embedding")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// GenerateOptions tunes a single generation call.
type GenerateOptions struct {
	// System is an optional system prompt sent before the user prompt.
	System string

	// Temperature is passed through to the model. Zero asks for deterministic output.
	Temperature float64

	// JSONMode asks the model to answer with a single JSON object.
	JSONMode bool

	// MaxTokens caps the response length. Zero leaves the provider default.
	MaxTokens int
}

// Generator produces text from a prompt.
// Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Embedder produces vector embeddings for texts.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbeddingModel identifies the model behind the vectors. Collections
	// record it so that a model change can be detected.
	EmbeddingModel() string
}

// Provider is one LLM backend. A provider declares which capabilities it
// offers; calling a method outside those capabilities returns ErrUnsupported.
type Provider interface {
	Generator
	Embedder

	// Name identifies the provider in logs and errors.
	Name() string

	// Capabilities reports what the provider can do.
	Capabilities() Capability

	// Close releases resources held by the provider.
	Close() error
}
