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

package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/extraction"
	"github.com/poiesic/lattice/storage"
)

const (
	// DefaultMaxGraphHops bounds graph traversal when the caller passes a negative hop count.
	DefaultMaxGraphHops = 2

	// DefaultVectorResults is used when the caller passes a non-positive result count.
	DefaultVectorResults = 10

	// DefaultCollection is the vector collection chunks are embedded into.
	DefaultCollection = "chunks"
)

// Retriever fuses vector similarity hits with concept graph traversal hits.
type Retriever struct {
	documents     storage.DocumentRepository
	graph         storage.GraphStore
	vectors       storage.VectorStore
	embedder      ai.Embedder
	collection    string
	maxHops       int
	vectorResults int
	minSimilarity float64
	logger        *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithCollection sets the vector collection to query.
func WithCollection(name string) Option {
	return func(r *Retriever) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: collection name is empty", ErrInvalidOption)
		}
		r.collection = name
		return nil
	}
}

// WithMaxGraphHops sets the hop bound used when Search is given a negative count.
func WithMaxGraphHops(hops int) Option {
	return func(r *Retriever) error {
		if hops < 0 {
			return fmt.Errorf("%w: max graph hops %d", ErrInvalidOption, hops)
		}
		r.maxHops = hops
		return nil
	}
}

// WithVectorResults sets the result count used when Search is given a non-positive count.
func WithVectorResults(n int) Option {
	return func(r *Retriever) error {
		if n <= 0 {
			return fmt.Errorf("%w: vector results %d", ErrInvalidOption, n)
		}
		r.vectorResults = n
		return nil
	}
}

// WithMinSimilarity drops vector hits scoring below min.
func WithMinSimilarity(min float64) Option {
	return func(r *Retriever) error {
		if min < -1 || min > 1 {
			return fmt.Errorf("%w: min similarity %v", ErrInvalidOption, min)
		}
		r.minSimilarity = min
		return nil
	}
}

// NewRetriever creates a new hybrid retriever.
func NewRetriever(
	documents storage.DocumentRepository,
	graph storage.GraphStore,
	vectors storage.VectorStore,
	embedder ai.Embedder,
	opts ...Option,
) (*Retriever, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if graph == nil {
		return nil, ErrGraphStoreRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Retriever{
		documents:     documents,
		graph:         graph,
		vectors:       vectors,
		embedder:      embedder,
		collection:    DefaultCollection,
		maxHops:       DefaultMaxGraphHops,
		vectorResults: DefaultVectorResults,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retriever")

	return r, nil
}

// Search returns chunks relevant to query. Up to nResults come from the
// vector index and up to nResults more from graph traversal of at most
// maxHops edges; a chunk found by both appears once.
func (r *Retriever) Search(ctx context.Context, query string, nResults, maxHops int) ([]*core.SearchResult, error) {
	return r.SearchWithMonitor(ctx, query, nResults, maxHops, nil)
}

type graphOutcome struct {
	concepts []*core.Concept
	paths    []core.Path
	hits     []*core.SearchResult
}

// SearchWithMonitor is Search with callbacks at each stage.
func (r *Retriever) SearchWithMonitor(ctx context.Context, query string, nResults, maxHops int, monitor SearchMonitor) ([]*core.SearchResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if nResults <= 0 {
		nResults = r.vectorResults
	}
	if maxHops < 0 {
		maxHops = r.maxHops
	}

	monitor.Start(query)

	var (
		matches             []storage.VectorMatch
		found               graphOutcome
		vectorErr, graphErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		matches, vectorErr = r.vectorSearch(ctx, query, nResults)
		return nil
	})
	g.Go(func() error {
		found, graphErr = r.graphSearch(ctx, query, nResults, maxHops)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case errors.Is(vectorErr, core.ErrDimensionMismatch):
		return nil, vectorErr
	case vectorErr != nil && graphErr != nil:
		return nil, errors.Join(vectorErr, graphErr)
	case vectorErr != nil:
		r.logger.Warn("vector search failed, returning graph results only", "err", vectorErr)
	case graphErr != nil:
		r.logger.Warn("graph search failed, returning vector results only", "err", graphErr)
	}

	monitor.AfterVectorSearch(matches)
	monitor.AfterQueryConceptMatch(found.concepts)
	monitor.AfterTraversal(found.paths)

	byChunk := make(map[core.ID]*core.SearchResult, len(matches)+len(found.hits))
	for _, m := range matches {
		result := &core.SearchResult{
			ChunkId:    m.Record.Id,
			DocumentId: m.Record.DocumentId,
			Text:       m.Record.Text,
			Score:      float64(m.Score),
			Source:     core.SourceVector,
		}
		byChunk[result.ChunkId] = result
		monitor.VectorHit(result)
	}
	for _, hit := range found.hits {
		monitor.GraphHit(hit)
		if existing, ok := byChunk[hit.ChunkId]; ok && existing.Score >= hit.Score {
			continue
		}
		byChunk[hit.ChunkId] = hit
	}

	results := make([]*core.SearchResult, 0, len(byChunk))
	for _, result := range byChunk {
		results = append(results, result)
	}
	sortResults(results)

	r.logger.Debug("search complete",
		"query", query,
		"vectorHits", len(matches),
		"graphHits", len(found.hits),
		"results", len(results))
	monitor.Finish(results)
	return results, nil
}

func (r *Retriever) vectorSearch(ctx context.Context, query string, n int) ([]storage.VectorMatch, error) {
	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("embedding query: %w", ai.ErrMalformedResponse)
	}

	matches, err := r.vectors.QueryVectors(ctx, r.collection, embeddings[0], n, nil)
	if errors.Is(err, storage.ErrNotFound) {
		// Nothing has been ingested yet.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	kept := matches[:0]
	for _, m := range matches {
		if float64(m.Score) >= r.minSimilarity {
			kept = append(kept, m)
		}
	}
	return kept, nil
}

// graphSearch matches query terms to concepts and walks outward from them.
// Chunks that mention a matched concept directly are left to the vector
// query; only chunks reached over at least one edge are graph hits.
func (r *Retriever) graphSearch(ctx context.Context, query string, n, maxHops int) (graphOutcome, error) {
	var out graphOutcome

	seen := make(map[core.ID]bool)
	var starts []core.ID
	for _, term := range extraction.QueryTerms(query) {
		concept, err := r.graph.FindConcept(ctx, term)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		if seen[concept.Id] {
			continue
		}
		seen[concept.Id] = true
		starts = append(starts, concept.Id)
		out.concepts = append(out.concepts, concept)
	}
	if len(starts) == 0 || maxHops == 0 {
		return out, nil
	}

	paths, err := r.graph.Traverse(ctx, starts, maxHops)
	if err != nil {
		return out, err
	}
	out.paths = paths

	type candidate struct {
		mention *core.Mention
		path    core.Path
		score   float64
	}
	best := make(map[core.ID]candidate)
	for _, path := range paths {
		if path.Hops() == 0 {
			continue
		}
		mentions, err := r.graph.ChunksMentioning(ctx, path.End())
		if err != nil {
			return out, err
		}
		for _, m := range mentions {
			score := path.Score()
			current, ok := best[m.ChunkId]
			if ok && (current.score > score || (current.score == score && current.path.Hops() <= path.Hops())) {
				continue
			}
			best[m.ChunkId] = candidate{mention: m, path: path, score: score}
		}
	}
	if len(best) == 0 {
		return out, nil
	}

	ranked := make([]candidate, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	slices.SortFunc(ranked, func(a, b candidate) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.mention.ChunkId, b.mention.ChunkId)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}

	ids := make([]core.ID, len(ranked))
	for i, c := range ranked {
		ids[i] = c.mention.ChunkId
	}
	chunks, err := r.documents.GetChunks(ctx, ids...)
	if err != nil {
		return out, err
	}
	byID := make(map[core.ID]*core.Chunk, len(chunks))
	for _, chunk := range chunks {
		byID[chunk.Id] = chunk
	}

	names := make(map[core.ID]string)
	for _, c := range ranked {
		chunk, ok := byID[c.mention.ChunkId]
		if !ok {
			r.logger.Debug("mention refers to missing chunk", "chunkID", c.mention.ChunkId)
			continue
		}
		chain, err := r.conceptChain(ctx, c.path, names)
		if err != nil {
			return out, err
		}
		out.hits = append(out.hits, &core.SearchResult{
			ChunkId:    chunk.Id,
			DocumentId: chunk.DocumentId,
			Text:       chunk.Text,
			Score:      c.score,
			Source:     core.SourceGraph,
			Path:       chain,
			Hops:       c.path.Hops(),
		})
	}
	return out, nil
}

func (r *Retriever) conceptChain(ctx context.Context, path core.Path, names map[core.ID]string) ([]string, error) {
	chain := make([]string, len(path.Concepts))
	for i, id := range path.Concepts {
		name, ok := names[id]
		if !ok {
			concept, err := r.graph.GetConcept(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("resolving concept %d: %w", id, err)
			}
			name = concept.Name
			names[id] = name
		}
		chain[i] = name
	}
	return chain, nil
}

var sourceRank = map[core.SearchSource]int{
	core.SourceVector: 0,
	core.SourceGraph:  1,
}

// sortResults orders by score descending, vector before graph, then chunk id.
func sortResults(results []*core.SearchResult) {
	slices.SortStableFunc(results, func(a, b *core.SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(sourceRank[a.Source], sourceRank[b.Source]); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkId, b.ChunkId)
	})
}
