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

package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/lattice/ai"
)

// parseAttempts is how many generations are tried when the response is not valid JSON.
const parseAttempts = 3

// LLMStrategy asks a language model for concepts with confidence scores.
type LLMStrategy struct {
	generator ai.Generator
	logger    *slog.Logger
}

// llmConcept matches the structure requested from the model.
type llmConcept struct {
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

type llmResponse struct {
	Concepts []llmConcept `json:"concepts"`
}

// NewLLMStrategy creates the strategy on top of a generator, usually the
// provider manager.
func NewLLMStrategy(generator ai.Generator, logger *slog.Logger) *LLMStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMStrategy{generator: generator, logger: logger.With("strategy", StrategyLLM)}
}

func (s *LLMStrategy) Kind() StrategyKind { return StrategyLLM }

// Extract fails on provider errors and on responses that stay malformed
// after retries. An empty concept list is a valid answer.
func (s *LLMStrategy) Extract(ctx context.Context, req Request) ([]Candidate, error) {
	opts := ai.GenerateOptions{
		System:      buildSystemPrompt(req.MaxConcepts, req.Domain),
		Temperature: 0,
		JSONMode:    true,
	}

	var result llmResponse
	var lastErr error
	for attempt := 0; attempt < parseAttempts; attempt++ {
		response, err := s.generator.Generate(ctx, req.Text, opts)
		if err != nil {
			return nil, err
		}

		result = llmResponse{}
		if err := DecodeResponse(response, &result); err != nil {
			lastErr = err
			s.logger.Warn("error parsing extraction response",
				"attempt", attempt+1,
				"response", response,
				"err", err)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ai.ErrMalformedResponse, lastErr)
	}

	candidates := make([]Candidate, 0, len(result.Concepts))
	for _, c := range result.Concepts {
		candidates = append(candidates, Candidate{
			Name:     c.Name,
			Category: normalizeCategory(c.Category),
			Weight:   c.Confidence,
		})
	}
	return candidates, nil
}

func normalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	category = strings.ReplaceAll(category, " ", "_")
	if category == "" {
		return DefaultCategory
	}
	return category
}
