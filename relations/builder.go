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

// Package relations derives weighted RELATED_TO edges between the concepts
// of a chunk.
//
// Every pair of concepts extracted from the same chunk is related. The
// strength of a pair grows with the number of sentences the two concepts
// share, and can be blended with a relatedness score from a language model.
package relations

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/extraction"
)

const (
	DefaultNormalization    = 3.0
	DefaultLLMWeight        = 0.5
	DefaultMaxRelationships = 20
)

// Relation is an inferred edge between two concepts, named as extracted.
type Relation struct {
	Source        string
	Target        string
	Strength      float64
	CoOccurrences int

	// Semantic is the model-scored relatedness. Only meaningful when Scored is set.
	Semantic float64
	Scored   bool
}

// Relationship converts the relation into a graph edge between concept IDs.
func (r Relation) Relationship() *core.Relationship {
	return core.NewRelationship(core.ConceptID(r.Source), core.ConceptID(r.Target), r.Strength)
}

// Builder computes relations. It is safe for concurrent use.
type Builder struct {
	generator        ai.Generator
	normalization    float64
	llmWeight        float64
	maxRelationships int
	logger           *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder) error

// WithGenerator enables model scoring of concept pairs.
func WithGenerator(g ai.Generator) Option {
	return func(b *Builder) error {
		b.generator = g
		return nil
	}
}

// WithNormalization sets the co-occurrence count that yields full strength.
func WithNormalization(n float64) Option {
	return func(b *Builder) error {
		if n <= 0 {
			return fmt.Errorf("normalization constant must be positive, got %v", n)
		}
		b.normalization = n
		return nil
	}
}

// WithLLMWeight sets the share of the model score in the combined strength.
func WithLLMWeight(w float64) Option {
	return func(b *Builder) error {
		if w < 0 || w > 1 {
			return fmt.Errorf("llm weight must be within [0,1], got %v", w)
		}
		b.llmWeight = w
		return nil
	}
}

// WithMaxRelationships caps the relations returned per chunk.
func WithMaxRelationships(n int) Option {
	return func(b *Builder) error {
		if n <= 0 {
			return fmt.Errorf("max relationships must be positive, got %d", n)
		}
		b.maxRelationships = n
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) error {
		b.logger = logger
		return nil
	}
}

// New creates a Builder. Without a generator only co-occurrence is used.
func New(opts ...Option) (*Builder, error) {
	b := &Builder{
		normalization:    DefaultNormalization,
		llmWeight:        DefaultLLMWeight,
		maxRelationships: DefaultMaxRelationships,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	b.logger = b.logger.With("component", "relations")
	return b, nil
}

type conceptTerm struct {
	name       string
	normalized string
	words      []string
}

// Build returns the relations among concepts found in text, strongest first.
// Concepts are compared by normalized name, so casing variants count once.
// A failing model only loses the semantic signal; the only error returned is
// the context's.
func (b *Builder) Build(ctx context.Context, concepts []extraction.Candidate, text string) ([]Relation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := uniqueTerms(concepts)
	if len(terms) < 2 {
		return nil, nil
	}

	sentences := extraction.Sentences(text)
	present := make([][]bool, len(terms))
	for i, term := range terms {
		present[i] = make([]bool, len(sentences))
		for s, words := range sentences {
			present[i][s] = containsPhrase(words, term.words)
		}
	}

	var relations []Relation
	for i := range terms {
		for j := i + 1; j < len(terms); j++ {
			count := 0
			for s := range sentences {
				if present[i][s] && present[j][s] {
					count++
				}
			}
			// Concepts of one chunk always co-occur in it.
			count = max(count, 1)
			relations = append(relations, Relation{
				Source:        terms[i].name,
				Target:        terms[j].name,
				CoOccurrences: count,
				Strength:      min(1, float64(count)/b.normalization),
			})
		}
	}
	sortRelations(relations)
	if len(relations) > b.maxRelationships {
		relations = relations[:b.maxRelationships]
	}

	if b.generator != nil && b.llmWeight > 0 {
		scores, err := b.score(ctx, relations, text)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			b.logger.Warn("relatedness scoring failed, using co-occurrence only", "err", err)
		default:
			for i := range relations {
				key := pairKey(relations[i].Source, relations[i].Target)
				semantic, ok := scores[key]
				if !ok {
					continue
				}
				relations[i].Semantic = semantic
				relations[i].Scored = true
				relations[i].Strength = (1-b.llmWeight)*relations[i].Strength + b.llmWeight*semantic
			}
			sortRelations(relations)
		}
	}

	for i := range relations {
		relations[i].Strength = core.ClampStrength(relations[i].Strength)
	}
	return relations, nil
}

func uniqueTerms(concepts []extraction.Candidate) []conceptTerm {
	seen := make(map[string]bool, len(concepts))
	terms := make([]conceptTerm, 0, len(concepts))
	for _, c := range concepts {
		normalized := core.NormalizeConceptName(c.Name)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		terms = append(terms, conceptTerm{
			name:       strings.TrimSpace(c.Name),
			normalized: normalized,
			words:      strings.Fields(normalized),
		})
	}
	return terms
}

// containsPhrase reports whether phrase occurs as consecutive words of
// sentence, allowing a plural "s" on either side.
func containsPhrase(sentence, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(sentence) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(sentence); i++ {
		for k, w := range phrase {
			if !sameWord(sentence[i+k], w) {
				continue outer
			}
		}
		return true
	}
	return false
}

func sameWord(a, b string) bool {
	return a == b || a == b+"s" || a+"s" == b
}

func pairKey(a, b string) string {
	a, b = core.NormalizeConceptName(a), core.NormalizeConceptName(b)
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

func sortRelations(rs []Relation) {
	slices.SortStableFunc(rs, func(a, b Relation) int {
		if c := cmp.Compare(b.Strength, a.Strength); c != 0 {
			return c
		}
		return cmp.Compare(pairKey(a.Source, a.Target), pairKey(b.Source, b.Target))
	})
}

// errNoScores is returned when the model answered without any usable pair.
var errNoScores = errors.New("no relatedness scores in response")
