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

package openai

import (
	"log/slog"

	"github.com/poiesic/lattice/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewProvider creates a provider backed by an OpenAI-compatible API.
// The config is validated and normalized before use.
//
// Returns ai.Provider (not a concrete type) so callers stay decoupled from
// the client implementation.
func NewProvider(config *ai.Config, logger *slog.Logger) (ai.Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var model llms.Model
	if config.Capabilities.Has(ai.CapabilityGeneration) {
		client, err := openai.New(
			openai.WithBaseURL(config.Host),
			openai.WithToken(config.Token),
			openai.WithModel(config.GenerationModel),
		)
		if err != nil {
			return nil, err
		}
		model = client
	}

	var embedder embeddings.Embedder
	if config.Capabilities.Has(ai.CapabilityEmbedding) {
		client, err := openai.New(
			openai.WithBaseURL(config.Host),
			openai.WithToken(config.Token),
			openai.WithEmbeddingModel(config.EmbeddingModel),
		)
		if err != nil {
			return nil, err
		}
		embedder, err = embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
		if err != nil {
			return nil, err
		}
	}

	return ai.NewLangchainProvider(config.Name, config.Capabilities, model, embedder, config.EmbeddingModel, logger), nil
}
