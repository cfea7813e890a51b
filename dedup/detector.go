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

// Package dedup decides whether an incoming document duplicates one already
// stored, first by exact fingerprint and then by title similarity.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
	"github.com/xrash/smetrics"
)

const (
	DefaultThreshold    = 0.9
	DefaultPrefixLength = 4
)

// Method names how a duplicate was found.
type Method string

const (
	MethodHash            Method = "hash"
	MethodTitleSimilarity Method = "title-similarity"
)

// Index is the part of the document store the detector reads.
type Index interface {
	FindByContentHash(ctx context.Context, hash string) (core.ID, error)
	FindByTitlePrefix(ctx context.Context, prefix string) ([]*core.Document, error)
}

// Result is the outcome of a duplicate check.
type Result struct {
	Duplicate   bool
	ExistingId  core.ID
	Method      Method
	Similarity  float64 // Title similarity, for MethodTitleSimilarity
	Fingerprint Fingerprint
}

// Detector checks documents against the index. It never writes.
type Detector struct {
	index        Index
	threshold    float64
	prefixLength int
	failOpen     bool
	logger       *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector) error

// WithThreshold sets the title similarity at or above which documents are duplicates.
func WithThreshold(t float64) Option {
	return func(d *Detector) error {
		if t <= 0 || t > 1 {
			return fmt.Errorf("similarity threshold must be in (0, 1], got %v", t)
		}
		d.threshold = t
		return nil
	}
}

// WithPrefixLength sets how many leading title characters select candidates.
func WithPrefixLength(n int) Option {
	return func(d *Detector) error {
		if n <= 0 {
			return fmt.Errorf("prefix length must be positive, got %d", n)
		}
		d.prefixLength = n
		return nil
	}
}

// WithFailOpen treats index lookup failures as "not a duplicate" instead of
// returning the error.
func WithFailOpen(failOpen bool) Option {
	return func(d *Detector) error {
		d.failOpen = failOpen
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) error {
		d.logger = logger
		return nil
	}
}

// NewDetector creates a Detector reading from index.
func NewDetector(index Index, opts ...Option) (*Detector, error) {
	d := &Detector{
		index:        index,
		threshold:    DefaultThreshold,
		prefixLength: DefaultPrefixLength,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.logger = d.logger.With("component", "dedup")
	return d, nil
}

// Check reports whether text with metadata duplicates a stored document.
// Empty text is a validation error.
func (d *Detector) Check(ctx context.Context, text string, metadata map[string]string) (*Result, error) {
	fp := Hash(text, metadata)
	if fp.Empty() {
		return nil, core.NewValidationError(core.ErrEmptyContent, "document text is empty")
	}
	result := &Result{Fingerprint: fp}

	id, err := d.index.FindByContentHash(ctx, fp.Key())
	switch {
	case err == nil:
		result.Duplicate = true
		result.ExistingId = id
		result.Method = MethodHash
		d.logger.Debug("duplicate by fingerprint", "existing", id)
		return result, nil
	case errors.Is(err, storage.ErrNotFound):
	default:
		return d.lookupFailed(result, err)
	}

	title := NormalizeTitle(metadata[core.MetadataTitle])
	if title == "" {
		return result, nil
	}
	candidates, err := d.index.FindByTitlePrefix(ctx, d.prefix(title))
	if err != nil {
		return d.lookupFailed(result, err)
	}

	for _, doc := range candidates {
		sim := TitleSimilarity(title, doc.TitleNormalized)
		if sim < d.threshold {
			continue
		}
		if sim > result.Similarity || (sim == result.Similarity && doc.Id < result.ExistingId) {
			result.Duplicate = true
			result.ExistingId = doc.Id
			result.Method = MethodTitleSimilarity
			result.Similarity = sim
		}
	}
	if result.Duplicate {
		d.logger.Debug("duplicate by title", "existing", result.ExistingId, "similarity", result.Similarity)
	}
	return result, nil
}

func (d *Detector) lookupFailed(result *Result, err error) (*Result, error) {
	if d.failOpen {
		d.logger.Warn("duplicate lookup failed, treating document as new", "err", err)
		return result, nil
	}
	return nil, fmt.Errorf("checking for duplicates: %w", err)
}

// TitleKey returns the title prefix under which documents are compared for
// title similarity, or "" when metadata carries no title. Documents with
// different keys are never title duplicates of each other.
func (d *Detector) TitleKey(metadata map[string]string) string {
	title := NormalizeTitle(metadata[core.MetadataTitle])
	if title == "" {
		return ""
	}
	return d.prefix(title)
}

func (d *Detector) prefix(title string) string {
	runes := []rune(title)
	if len(runes) <= d.prefixLength {
		return title
	}
	return string(runes[:d.prefixLength])
}

// TitleSimilarity scores two normalized titles in [0,1] as the larger of
// their normalized edit-distance similarity and their word overlap ratio.
func TitleSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return max(editSimilarity(a, b), tokenOverlap(a, b))
}

func editSimilarity(a, b string) float64 {
	longest := max(len(a), len(b))
	dist := smetrics.WagnerFischer(a, b, 1, 1, 1)
	return max(0, 1-float64(dist)/float64(longest))
}

func tokenOverlap(a, b string) float64 {
	setA := make(map[string]struct{})
	for _, w := range strings.Fields(a) {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{})
	for _, w := range strings.Fields(b) {
		setB[w] = struct{}{}
	}
	shared := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
