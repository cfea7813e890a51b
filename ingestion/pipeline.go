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

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/chunking"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/dedup"
	"github.com/poiesic/lattice/extraction"
	"github.com/poiesic/lattice/relations"
	"github.com/poiesic/lattice/storage"
	"golang.org/x/sync/errgroup"
)

// DefaultCollection is the vector collection chunks are embedded into.
const DefaultCollection = "chunks"

// Pipeline orchestrates the ingestion of documents.
// It manages concurrent embedding and concept extraction of chunks, and
// serializes the writes of each document.
type Pipeline struct {
	documents     storage.DocumentRepository
	graph         storage.GraphStore
	vectors       storage.VectorStore
	embedder      ai.Embedder
	extractor     *extraction.Extractor
	detector      *dedup.Detector
	chunker       *chunking.Chunker
	relations     *relations.Builder
	embeddingPool *ants.Pool
	conceptPool   *ants.Pool
	embeddingProc processor
	conceptProc   processor
	collection    string
	domain        string
	storeTimeout  time.Duration
	locks         *documentLocks
	titleLocks    *documentLocks
	logger        *slog.Logger

	schemaMu    sync.Mutex
	schemaReady bool
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent chunk processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		// Release old pools
		p.releasePools()

		embeddingPool, err := ants.NewPool(size)
		if err != nil {
			return err
		}

		conceptPool, err := ants.NewPool(size)
		if err != nil {
			embeddingPool.Release()
			return err
		}

		p.embeddingPool = embeddingPool
		p.conceptPool = conceptPool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithChunker sets how documents are split.
func WithChunker(c *chunking.Chunker) Option {
	return func(p *Pipeline) error {
		p.chunker = c
		return nil
	}
}

// WithDetector sets the duplicate detector.
// Default is a fail-closed detector over the document repository.
func WithDetector(d *dedup.Detector) Option {
	return func(p *Pipeline) error {
		p.detector = d
		return nil
	}
}

// WithRelationBuilder sets the relationship builder.
// Default uses co-occurrence only.
func WithRelationBuilder(b *relations.Builder) Option {
	return func(p *Pipeline) error {
		p.relations = b
		return nil
	}
}

// WithCollection sets the vector collection name.
func WithCollection(name string) Option {
	return func(p *Pipeline) error {
		if name == "" {
			return errors.New("collection name cannot be empty")
		}
		p.collection = name
		return nil
	}
}

// WithDomain sets the domain hint passed to concept extraction.
func WithDomain(domain string) Option {
	return func(p *Pipeline) error {
		p.domain = domain
		return nil
	}
}

// WithStoreTimeout bounds the store writes of a single document.
// Zero means no bound beyond the caller's context.
func WithStoreTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d < 0 {
			return fmt.Errorf("store timeout cannot be negative, got %v", d)
		}
		p.storeTimeout = d
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	documents storage.DocumentRepository,
	graph storage.GraphStore,
	vectors storage.VectorStore,
	embedder ai.Embedder,
	extractor *extraction.Extractor,
	opts ...Option,
) (*Pipeline, error) {
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
	if extractor == nil {
		return nil, ErrExtractorRequired
	}

	p := &Pipeline{
		documents:  documents,
		graph:      graph,
		vectors:    vectors,
		embedder:   embedder,
		extractor:  extractor,
		collection: DefaultCollection,
		locks:      newDocumentLocks(),
		titleLocks: newDocumentLocks(),
		logger:     slog.Default(),
	}

	// Default pool size
	if err := WithPoolSize(runtime.NumCPU() / 2)(p); err != nil {
		return nil, err
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	if err := p.applyDefaults(); err != nil {
		p.Release()
		return nil, err
	}

	// Create processors after options are applied (so they get final config)
	embeddingProc, err := newEmbeddingProcessor(embedder, p.embeddingPool, p.logger)
	if err != nil {
		p.Release()
		return nil, err
	}
	conceptProc, err := newConceptProcessor(extractor, p.conceptPool, p.domain, p.logger)
	if err != nil {
		p.Release()
		return nil, err
	}
	p.embeddingProc = embeddingProc
	p.conceptProc = conceptProc

	return p, nil
}

func (p *Pipeline) applyDefaults() error {
	var err error
	if p.chunker == nil {
		if p.chunker, err = chunking.New(chunking.DefaultSize, chunking.DefaultOverlap); err != nil {
			return err
		}
	}
	if p.detector == nil {
		if p.detector, err = dedup.NewDetector(p.documents, dedup.WithLogger(p.logger)); err != nil {
			return err
		}
	}
	if p.relations == nil {
		if p.relations, err = relations.New(relations.WithLogger(p.logger)); err != nil {
			return err
		}
	}
	return nil
}

// Collection returns the vector collection the pipeline writes to.
func (p *Pipeline) Collection() string {
	return p.collection
}

// Result is the outcome of adding a document.
type Result struct {
	DocumentId      core.ID
	Duplicate       bool
	DuplicateMethod dedup.Method
	Similarity      float64
	Chunks          int
	Concepts        []string // Display names, heaviest merged weight first
	ConceptWeights  map[string]float64
	Relationships   int

	// Strategy is the furthest-down extraction strategy any chunk needed.
	Strategy extraction.StrategyKind
}

// AddDocument ingests text with its metadata. Nested metadata is flattened
// to scalar keys. A duplicate is a normal result, reported with the
// existing document's ID, and writes nothing.
func (p *Pipeline) AddDocument(ctx context.Context, text string, metadata map[string]any) (*Result, error) {
	flat, err := core.FlattenMetadata(metadata)
	if err != nil {
		return nil, err
	}
	doc := &core.Document{Text: text, Metadata: flat}
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}

	check, err := p.detector.Check(ctx, text, flat)
	if err != nil {
		return nil, err
	}
	if check.Duplicate {
		p.logger.Info("skipping duplicate document",
			"existing", check.ExistingId,
			"method", check.Method)
		return &Result{
			DocumentId:      check.ExistingId,
			Duplicate:       true,
			DuplicateMethod: check.Method,
			Similarity:      check.Similarity,
		}, nil
	}

	doc.ContentHash = check.Fingerprint.Key()
	doc.MetadataHash = check.Fingerprint.Metadata
	doc.TitleNormalized = dedup.NormalizeTitle(doc.Title())
	doc.Id = core.IDFromContent(doc.ContentHash)
	doc.ChunkSize = p.chunker.Size()
	doc.ChunkOverlap = p.chunker.Overlap()

	// Title locks are always taken before document locks.
	if key := p.detector.TitleKey(flat); key != "" {
		unlockTitle := p.titleLocks.lock(core.IDFromContent(key))
		defer unlockTitle()
	}
	unlock := p.locks.lock(doc.Id)
	defer unlock()

	// Another writer may have stored the same content or a similar title
	// while we waited.
	check, err = p.detector.Check(ctx, text, flat)
	if err != nil {
		return nil, err
	}
	if check.Duplicate {
		return &Result{
			DocumentId:      check.ExistingId,
			Duplicate:       true,
			DuplicateMethod: check.Method,
			Similarity:      check.Similarity,
		}, nil
	}

	result, err := p.index(ctx, doc, p.chunker, func(ctx context.Context) error {
		return p.documents.AddDocument(ctx, doc)
	}, func(ctx context.Context) error {
		return p.documents.DeleteDocument(ctx, doc.Id)
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("added document",
		"document", doc.Id,
		"chunks", result.Chunks,
		"concepts", len(result.Concepts),
		"relationships", result.Relationships,
		"strategy", result.Strategy)
	return result, nil
}

// Rechunk splits a stored document again with a new chunk size and
// overlap, replacing its chunks, vectors and mentions. Relationships
// asserted by the old chunks stay in the graph. A document already chunked
// with the requested settings is left alone.
func (p *Pipeline) Rechunk(ctx context.Context, docID core.ID, size, overlap int) (*Result, error) {
	chunker, err := chunking.New(size, overlap)
	if err != nil {
		return nil, core.NewValidationError(err, "")
	}

	unlock := p.locks.lock(docID)
	defer unlock()

	doc, err := p.documents.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.ChunkSize == size && doc.ChunkOverlap == overlap && doc.ChunkCount > 0 {
		return &Result{DocumentId: docID, Chunks: doc.ChunkCount}, nil
	}

	if err := p.removeChunks(ctx, docID); err != nil {
		return nil, fmt.Errorf("removing old chunks: %w", err)
	}
	doc.ChunkSize = size
	doc.ChunkOverlap = overlap

	result, err := p.index(ctx, doc, chunker, func(ctx context.Context) error {
		return p.documents.UpdateDocument(ctx, doc)
	}, nil)
	if err != nil {
		return nil, err
	}
	p.logger.Info("rechunked document", "document", docID, "chunks", result.Chunks, "size", size, "overlap", overlap)
	return result, nil
}

// DeleteDocument removes a document with its chunks, vectors and mentions.
func (p *Pipeline) DeleteDocument(ctx context.Context, docID core.ID) error {
	unlock := p.locks.lock(docID)
	defer unlock()

	if err := p.removeChunks(ctx, docID); err != nil {
		return err
	}
	return p.documents.DeleteDocument(ctx, docID)
}

// AddFile loads a file from source and adds it with the file name as its
// source and the loader's title.
func (p *Pipeline) AddFile(ctx context.Context, source FileSource, name string) (*Result, error) {
	data, err := source.Read(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	loaded, err := Load(name, data)
	if err != nil {
		return nil, err
	}
	return p.AddDocument(ctx, loaded.Text, map[string]any{
		core.MetadataTitle:  loaded.Title,
		core.MetadataSource: name,
	})
}

// index chunks, enriches and writes a document. commit stores the document
// record once chunks, vectors and mentions are written. Relationships go
// last, in one write, so a failed attempt never adds relationship evidence;
// if that write fails, rollback undoes commit. The caller holds the
// document lock.
func (p *Pipeline) index(ctx context.Context, doc *core.Document, chunker *chunking.Chunker, commit, rollback func(context.Context) error) (*Result, error) {
	pieces := chunker.Split(doc.Text)
	work := &documentWork{
		doc:       doc,
		chunks:    make([]*core.Chunk, len(pieces)),
		extracted: make([]*extraction.Result, len(pieces)),
	}
	for i, piece := range pieces {
		work.chunks[i] = &core.Chunk{
			Id:         core.ChunkID(doc.Id, piece.Sequence),
			DocumentId: doc.Id,
			Text:       piece.Text,
			Sequence:   piece.Sequence,
		}
	}
	doc.ChunkCount = len(work.chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.embeddingProc.process(gctx, work) })
	g.Go(func() error { return p.conceptProc.process(gctx, work) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	graph, err := p.assemble(ctx, work)
	if err != nil {
		return nil, err
	}

	writeCtx := ctx
	if p.storeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, p.storeTimeout)
		defer cancel()
	}
	if err := p.write(writeCtx, work, graph); err != nil {
		p.cleanup(context.WithoutCancel(ctx), doc.Id)
		return nil, storage.Unavailable(err)
	}
	if err := commit(writeCtx); err != nil {
		p.cleanup(context.WithoutCancel(ctx), doc.Id)
		return nil, storage.Unavailable(fmt.Errorf("storing document: %w", err))
	}
	if err := p.graph.UpsertRelationships(writeCtx, graph.relationships...); err != nil {
		cleanupCtx := context.WithoutCancel(ctx)
		p.cleanup(cleanupCtx, doc.Id)
		if rollback != nil {
			if rerr := rollback(cleanupCtx); rerr != nil {
				p.logger.Error("error rolling back document", "document", doc.Id, "err", rerr)
			}
		}
		return nil, storage.Unavailable(fmt.Errorf("storing relationships: %w", err))
	}

	return &Result{
		DocumentId:     doc.Id,
		Chunks:         len(work.chunks),
		Concepts:       graph.names,
		ConceptWeights: graph.weights,
		Relationships:  len(graph.relationships),
		Strategy:       graph.strategy,
	}, nil
}

// documentGraph is what a document adds to the graph.
type documentGraph struct {
	concepts      []*core.Concept
	names         []string
	weights       map[string]float64
	mentions      []*core.Mention
	relationships []*core.Relationship
	strategy      extraction.StrategyKind
}

var strategyRank = map[extraction.StrategyKind]int{
	extraction.StrategyLLM:   0,
	extraction.StrategyNLP:   1,
	extraction.StrategyRules: 2,
}

// assemble merges the per-chunk concepts into the document's concept list,
// attaches them to their chunks and builds the relationships of every chunk.
func (p *Pipeline) assemble(ctx context.Context, work *documentWork) (*documentGraph, error) {
	perChunk := make([][]extraction.Candidate, len(work.extracted))
	for i, extracted := range work.extracted {
		perChunk[i] = extracted.Concepts
	}
	merged := extraction.Merge(perChunk...)

	graph := &documentGraph{weights: make(map[string]float64, len(merged))}
	for _, c := range merged {
		graph.concepts = append(graph.concepts, &core.Concept{
			Id:         core.ConceptID(c.Name),
			Name:       c.Name,
			Normalized: core.NormalizeConceptName(c.Name),
			Category:   c.Category,
		})
		graph.names = append(graph.names, c.Name)
		graph.weights[c.Name] = c.Weight
	}

	for i, chunk := range work.chunks {
		extracted := work.extracted[i]
		if graph.strategy == "" || strategyRank[extracted.Strategy] > strategyRank[graph.strategy] {
			graph.strategy = extracted.Strategy
		}

		chunk.Concepts = make([]core.ConceptRef, 0, len(extracted.Concepts))
		for _, c := range extracted.Concepts {
			id := core.ConceptID(c.Name)
			chunk.Concepts = append(chunk.Concepts, core.ConceptRef{ConceptId: id, Weight: c.Weight})
			graph.mentions = append(graph.mentions, &core.Mention{
				ChunkId:    chunk.Id,
				DocumentId: chunk.DocumentId,
				ConceptId:  id,
				Weight:     c.Weight,
			})
		}

		rels, err := p.relations.Build(ctx, extracted.Concepts, chunk.Text)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			graph.relationships = append(graph.relationships, r.Relationship())
		}
	}
	return graph, nil
}

// write stores concepts, chunks, vectors and mentions.
func (p *Pipeline) write(ctx context.Context, work *documentWork, graph *documentGraph) error {
	if len(graph.concepts) > 0 {
		if _, err := p.graph.UpsertConcepts(ctx, graph.concepts...); err != nil {
			return fmt.Errorf("storing concepts: %w", err)
		}
	}
	if err := p.documents.AddChunks(ctx, work.chunks...); err != nil {
		return fmt.Errorf("storing chunks: %w", err)
	}

	records := make([]*core.VectorRecord, len(work.chunks))
	for i, chunk := range work.chunks {
		records[i] = &core.VectorRecord{
			Id:         chunk.Id,
			DocumentId: chunk.DocumentId,
			Vector:     chunk.Vector,
			Metadata:   work.doc.Metadata,
			Text:       chunk.Text,
		}
	}
	if len(records) > 0 {
		if err := p.ensureCollection(ctx, len(records[0].Vector)); err != nil {
			return err
		}
		if err := p.vectors.AddVectors(ctx, p.collection, records...); err != nil {
			return fmt.Errorf("storing vectors: %w", err)
		}
	}

	if err := p.graph.AddMentions(ctx, graph.mentions...); err != nil {
		return fmt.Errorf("storing mentions: %w", err)
	}
	return nil
}

// ensureCollection records the collection schema on first use. A stored
// schema with another dimension is a configuration error.
func (p *Pipeline) ensureCollection(ctx context.Context, dimension int) error {
	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()
	if p.schemaReady {
		return nil
	}
	err := p.vectors.EnsureCollection(ctx, core.CollectionSchema{
		Name:      p.collection,
		Model:     p.embedder.EmbeddingModel(),
		Dimension: dimension,
	})
	if err != nil {
		return fmt.Errorf("collection %q: %w", p.collection, err)
	}
	p.schemaReady = true
	return nil
}

func (p *Pipeline) removeChunks(ctx context.Context, docID core.ID) error {
	return errors.Join(
		p.graph.RemoveDocumentMentions(ctx, docID),
		p.vectors.DeleteByDocument(ctx, p.collection, docID),
		p.documents.DeleteDocumentChunks(ctx, docID),
	)
}

// cleanup removes the partial writes of a failed document.
func (p *Pipeline) cleanup(ctx context.Context, docID core.ID) {
	if err := p.removeChunks(ctx, docID); err != nil {
		p.logger.Error("error cleaning up partially written document", "document", docID, "err", err)
	}
}

// Release releases resources including worker pools.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.releasePools()
}

func (p *Pipeline) releasePools() {
	if p.embeddingPool != nil {
		p.embeddingPool.Release()
	}
	if p.conceptPool != nil {
		p.conceptPool.Release()
	}
}

// documentLocks hands out one mutex per document ID.
type documentLocks struct {
	mu    sync.Mutex
	locks map[core.ID]*documentLock
}

type documentLock struct {
	mu   sync.Mutex
	refs int
}

func newDocumentLocks() *documentLocks {
	return &documentLocks{locks: make(map[core.ID]*documentLock)}
}

// lock blocks until the caller is the only writer of id and returns the
// matching unlock function.
func (l *documentLocks) lock(id core.ID) func() {
	l.mu.Lock()
	dl, ok := l.locks[id]
	if !ok {
		dl = &documentLock{}
		l.locks[id] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
