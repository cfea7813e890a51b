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
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// LangchainProvider adapts langchaingo clients to Provider. The openai and
// ollama packages construct it with their own clients.
type LangchainProvider struct {
	name           string
	capabilities   Capability
	model          llms.Model
	embedder       embeddings.Embedder
	embeddingModel string
	logger         *slog.Logger
}

var _ Provider = (*LangchainProvider)(nil)

// NewLangchainProvider wraps a chat model and an embedder. Either may be nil
// when the matching capability is absent.
func NewLangchainProvider(name string, caps Capability, model llms.Model, embedder embeddings.Embedder, embeddingModel string, logger *slog.Logger) *LangchainProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if model == nil {
		caps &^= CapabilityGeneration
	}
	if embedder == nil {
		caps &^= CapabilityEmbedding
	}
	return &LangchainProvider{
		name:           name,
		capabilities:   caps,
		model:          model,
		embedder:       embedder,
		embeddingModel: embeddingModel,
		logger:         logger.With("component", "provider", "provider", name),
	}
}

// Name returns the provider name.
func (p *LangchainProvider) Name() string { return p.name }

// Capabilities returns what the provider offers.
func (p *LangchainProvider) Capabilities() Capability { return p.capabilities }

// EmbeddingModel returns the configured embedding model.
func (p *LangchainProvider) EmbeddingModel() string { return p.embeddingModel }

// Generate sends prompt, preceded by the optional system prompt, to the chat model.
func (p *LangchainProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if !p.capabilities.Has(CapabilityGeneration) {
		return "", Classify(p.name, ErrUnsupported)
	}

	var content []llms.MessageContent
	if opts.System != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, opts.System))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.JSONMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	response, err := p.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		p.logger.Debug("generation failed", "err", err)
		return "", Classify(p.name, err)
	}
	if len(response.Choices) < 1 {
		return "", Classify(p.name, fmt.Errorf("%w: no choices returned", ErrMalformedResponse))
	}
	return strings.TrimSpace(response.Choices[0].Content), nil
}

// Embed returns one vector per text.
func (p *LangchainProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !p.capabilities.Has(CapabilityEmbedding) {
		return nil, Classify(p.name, ErrUnsupported)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	p.logger.Debug("generating embeddings", "count", len(texts))
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		p.logger.Debug("embedding failed", "count", len(texts), "err", err)
		return nil, Classify(p.name, err)
	}
	if len(vectors) != len(texts) {
		return nil, Classify(p.name, fmt.Errorf("%w: %d vectors for %d texts", ErrMalformedResponse, len(vectors), len(texts)))
	}
	return vectors, nil
}

// Close is a no-op; the HTTP clients need no cleanup.
func (p *LangchainProvider) Close() error {
	p.logger.Debug("closing provider")
	return nil
}
