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

package relations

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/extraction"
)

const scoringPrompt = `You rate how closely pairs of concepts are related in a text.

For every pair listed by the user, return a strength between 0 and 1:
- 1 means the text treats the concepts as tightly connected (one is part of,
  causes, uses or defines the other)
- 0 means the text does not connect them at all

Respond with JSON only, in this form:
{"relationships": [{"source": "first concept", "target": "second concept", "strength": 0.5}]}`

type scoredPair struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Strength float64 `json:"strength"`
}

type scoringResponse struct {
	Relationships []scoredPair `json:"relationships"`
}

// score asks the model for the relatedness of every pair and returns the
// scores keyed by pairKey. Pairs the model did not answer are absent.
func (b *Builder) score(ctx context.Context, relations []Relation, text string) (map[string]float64, error) {
	var prompt strings.Builder
	prompt.WriteString("Text:\n")
	prompt.WriteString(text)
	prompt.WriteString("\n\nPairs:\n")
	for _, r := range relations {
		fmt.Fprintf(&prompt, "- %s | %s\n", r.Source, r.Target)
	}

	response, err := b.generator.Generate(ctx, prompt.String(), ai.GenerateOptions{
		System:   scoringPrompt,
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var parsed scoringResponse
	if err := extraction.DecodeResponse(response, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ai.ErrMalformedResponse, err)
	}

	wanted := make(map[string]bool, len(relations))
	for _, r := range relations {
		wanted[pairKey(r.Source, r.Target)] = true
	}
	scores := make(map[string]float64, len(parsed.Relationships))
	for _, p := range parsed.Relationships {
		key := pairKey(p.Source, p.Target)
		if wanted[key] {
			scores[key] = core.ClampStrength(p.Strength)
		}
	}
	if len(scores) == 0 {
		return nil, errNoScores
	}
	b.logger.Debug("scored concept pairs", "pairs", len(relations), "scored", len(scores))
	return scores, nil
}
