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

// Package ollama provides an ai.Provider for the native Ollama API.
package ollama

import (
	"log/slog"

	"github.com/poiesic/lattice/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// NewProvider creates a provider talking to an Ollama server.
// Generation and embedding use separate clients since each is bound to one model.
func NewProvider(config *ai.Config, logger *slog.Logger) (ai.Provider, error) {
	if config.Kind == "" {
		config.Kind = ai.KindOllama
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var model llms.Model
	if config.Capabilities.Has(ai.CapabilityGeneration) {
		llm, err := ollama.New(
			ollama.WithModel(config.GenerationModel),
			ollama.WithServerURL(config.Host),
		)
		if err != nil {
			return nil, err
		}
		model = llm
	}

	var embedder embeddings.Embedder
	if config.Capabilities.Has(ai.CapabilityEmbedding) {
		llm, err := ollama.New(
			ollama.WithModel(config.EmbeddingModel),
			ollama.WithServerURL(config.Host),
		)
		if err != nil {
			return nil, err
		}
		embedder, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, err
		}
	}

	return ai.NewLangchainProvider(config.Name, config.Capabilities, model, embedder, config.EmbeddingModel, logger), nil
}
