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

// Package extraction turns text into weighted concepts.
//
// An Extractor runs an ordered chain of strategies (language model,
// statistical key phrases, dictionary rules) and uses the first one that
// succeeds. The rule strategy cannot fail, so extraction never surfaces a
// strategy failure to the caller. Candidates are validated, deduplicated by
// normalized name and weighted relative to the chunk they came from.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/chunking"
	"github.com/poiesic/lattice/core"
)

const (
	DefaultMaxConcepts = 10
	DefaultCategory    = "abstract_concept"
)

// ErrExtractionFailed is returned when every strategy in the chain failed.
var ErrExtractionFailed = errors.New("concept extraction failed")

// StrategyKind tags a strategy in the fallback chain.
type StrategyKind string

const (
	StrategyLLM   StrategyKind = "llm"
	StrategyNLP   StrategyKind = "nlp"
	StrategyRules StrategyKind = "rules"
)

// Candidate is an extracted concept name with its weight in [0,1].
type Candidate struct {
	Name     string
	Category string
	Weight   float64
}

// Request is the input to a strategy.
type Request struct {
	Text        string
	Domain      string
	MaxConcepts int
}

// Strategy is one way of extracting concepts. Returning an error moves the
// chain to the next strategy; an empty result does not.
type Strategy interface {
	Kind() StrategyKind
	Extract(ctx context.Context, req Request) ([]Candidate, error)
}

// Result is the outcome of an extraction.
type Result struct {
	Concepts []Candidate

	// Strategy is the strategy that produced the concepts. For a whole
	// document it is the furthest-down strategy any chunk needed.
	Strategy StrategyKind
}

// Extractor runs the strategy chain. It is safe for concurrent use when its
// strategies are.
type Extractor struct {
	strategies  []Strategy
	validator   *Validator
	chunker     *chunking.Chunker
	maxConcepts int
	logger      *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor) error

// WithStrategies replaces the strategy chain.
func WithStrategies(strategies ...Strategy) Option {
	return func(e *Extractor) error {
		if len(strategies) == 0 {
			return errors.New("at least one extraction strategy is required")
		}
		e.strategies = strategies
		return nil
	}
}

// WithValidator sets the concept validator.
func WithValidator(v *Validator) Option {
	return func(e *Extractor) error {
		e.validator = v
		return nil
	}
}

// WithMaxConcepts caps the concepts kept per chunk.
func WithMaxConcepts(n int) Option {
	return func(e *Extractor) error {
		if n <= 0 {
			return fmt.Errorf("max concepts must be positive, got %d", n)
		}
		e.maxConcepts = n
		return nil
	}
}

// WithChunker sets how whole documents are split before extraction.
func WithChunker(c *chunking.Chunker) Option {
	return func(e *Extractor) error {
		e.chunker = c
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) error {
		e.logger = logger
		return nil
	}
}

// New creates an Extractor. With a non-nil generator the chain is
// llm, nlp, rules; otherwise nlp, rules.
func New(generator ai.Generator, opts ...Option) (*Extractor, error) {
	e := &Extractor{
		validator:   NewValidator(DefaultMinLength, DefaultMaxLength),
		maxConcepts: DefaultMaxConcepts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "extractor")
	if e.strategies == nil {
		if generator != nil {
			e.strategies = append(e.strategies, NewLLMStrategy(generator, e.logger))
		}
		e.strategies = append(e.strategies, NewNLPStrategy(), NewRuleStrategy(nil))
	}
	if e.chunker == nil {
		c, err := chunking.New(chunking.DefaultSize, chunking.DefaultOverlap)
		if err != nil {
			return nil, err
		}
		e.chunker = c
	}
	return e, nil
}

// Strategies returns the chain in order.
func (e *Extractor) Strategies() []StrategyKind {
	kinds := make([]StrategyKind, len(e.strategies))
	for i, s := range e.strategies {
		kinds[i] = s.Kind()
	}
	return kinds
}

// Extract returns the concepts of text. With isChunk set, text is treated
// as one chunk and weighted on its own. Otherwise text is a whole document:
// it is split into chunks, every chunk is extracted independently and the
// results are merged, so no part of a long document is skipped.
func (e *Extractor) Extract(ctx context.Context, text string, isChunk bool, domain string) (*Result, error) {
	if isChunk {
		return e.extractChunk(ctx, text, domain)
	}

	chunks := e.chunker.Split(text)
	results := make([][]Candidate, 0, len(chunks))
	used := -1
	for _, ch := range chunks {
		res, err := e.extractChunk(ctx, ch.Text, domain)
		if err != nil {
			return nil, err
		}
		results = append(results, res.Concepts)
		used = max(used, slices.Index(e.Strategies(), res.Strategy))
	}
	result := &Result{Concepts: Merge(results...)}
	if used >= 0 {
		result.Strategy = e.strategies[used].Kind()
	}
	return result, nil
}

func (e *Extractor) extractChunk(ctx context.Context, text, domain string) (*Result, error) {
	req := Request{Text: text, Domain: domain, MaxConcepts: e.maxConcepts}

	var errs []error
	for _, s := range e.strategies {
		candidates, err := s.Extract(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("extraction strategy failed, falling back", "strategy", s.Kind(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Kind(), err))
			continue
		}

		concepts := e.validator.Filter(candidates, req.Domain)
		concepts = normalizeWeights(concepts)
		if len(concepts) > e.maxConcepts {
			concepts = concepts[:e.maxConcepts]
		}
		e.logger.Debug("extracted concepts", "strategy", s.Kind(), "candidates", len(candidates), "kept", len(concepts))
		return &Result{Concepts: concepts, Strategy: s.Kind()}, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, errors.Join(errs...))
}

// normalizeWeights scales weights so the strongest concept has weight 1.
func normalizeWeights(cs []Candidate) []Candidate {
	var best float64
	for _, c := range cs {
		best = max(best, c.Weight)
	}
	if best <= 0 {
		for i := range cs {
			cs[i].Weight = 1
		}
		return cs
	}
	for i := range cs {
		cs[i].Weight /= best
	}
	return cs
}

// Merge combines per-chunk concepts of one document. Weights of the same
// normalized name are summed and rescaled so the strongest concept has
// weight 1; the category comes from the heaviest single occurrence.
func Merge(chunks ...[]Candidate) []Candidate {
	type merged struct {
		c        Candidate
		heaviest float64
	}
	byName := make(map[string]*merged)
	var order []string
	for _, concepts := range chunks {
		for _, c := range concepts {
			key := core.NormalizeConceptName(c.Name)
			m, ok := byName[key]
			if !ok {
				byName[key] = &merged{c: c, heaviest: c.Weight}
				order = append(order, key)
				continue
			}
			m.c.Weight += c.Weight
			if c.Weight > m.heaviest {
				m.heaviest = c.Weight
				m.c.Category = c.Category
			}
		}
	}

	out := make([]Candidate, 0, len(order))
	for _, key := range order {
		out = append(out, byName[key].c)
	}
	out = normalizeWeights(out)
	sortCandidates(out)
	return out
}
