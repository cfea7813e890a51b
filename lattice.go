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

// Package lattice is a knowledge base that stores documents as a concept
// graph alongside chunk embeddings and answers queries from both.
package lattice

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/ai/manager"
	"github.com/poiesic/lattice/ai/ollama"
	"github.com/poiesic/lattice/ai/openai"
	"github.com/poiesic/lattice/chunking"
	"github.com/poiesic/lattice/config"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/dedup"
	"github.com/poiesic/lattice/extraction"
	"github.com/poiesic/lattice/ingestion"
	"github.com/poiesic/lattice/jobs"
	"github.com/poiesic/lattice/reembed"
	"github.com/poiesic/lattice/relations"
	"github.com/poiesic/lattice/search"
	"github.com/poiesic/lattice/storage"
	badgerstore "github.com/poiesic/lattice/storage/badger"
	"github.com/poiesic/lattice/storage/pgvector"
	"github.com/poiesic/lattice/storage/sqlite"
)

var (
	// ErrConceptNotFound is returned by GetConcept for an unknown name.
	ErrConceptNotFound = errors.New("concept not found")

	// ErrNoEmbeddingProvider is returned when no configured provider can embed.
	ErrNoEmbeddingProvider = errors.New("no embedding provider configured")
)

// KnowledgeBase wires storage, providers, ingestion, retrieval and jobs
// together from one Config.
type KnowledgeBase struct {
	cfg       *config.Config
	stores    *badgerstore.Stores
	vectors   storage.VectorStore
	llm       *manager.Manager
	pipeline  *ingestion.Pipeline
	retriever *search.Retriever
	jobs      *jobs.Manager
	source    ingestion.FileSource
	closers   []io.Closer
	logger    *slog.Logger
}

// Option configures a KnowledgeBase.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	providers []ai.Provider
	source    ingestion.FileSource
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithProviders replaces the configured providers. Earlier providers are
// tried first.
func WithProviders(providers ...ai.Provider) Option {
	return func(o *options) {
		o.providers = providers
	}
}

// WithFileSource sets where files and folders are read from.
// Default is the local filesystem.
func WithFileSource(source ingestion.FileSource) Option {
	return func(o *options) {
		o.source = source
	}
}

// Open builds a knowledge base from cfg. Jobs left unfinished by a
// previous process are marked failed.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*KnowledgeBase, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.source == nil {
		o.source = ingestion.NewAFSSource()
	}

	kb := &KnowledgeBase{cfg: cfg, source: o.source, logger: o.logger}
	if err := kb.open(ctx, o); err != nil {
		kb.Close()
		return nil, err
	}
	return kb, nil
}

func (kb *KnowledgeBase) open(ctx context.Context, o *options) error {
	cfg := kb.cfg
	logger := o.logger

	stores, err := badgerstore.Open(cfg.Storage.Path, cfg.Storage.InMemory)
	if err != nil {
		return err
	}
	kb.stores = stores

	kb.vectors = stores.Vectors
	if cfg.Storage.VectorBackend == config.BackendPgvector {
		pg, err := pgvector.New(ctx, cfg.Storage.PostgresURL, pgvector.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("opening pgvector store: %w", err)
		}
		kb.closers = append(kb.closers, pg)
		kb.vectors = pg
	}

	var jobRepo storage.JobRepository = stores.Jobs
	if cfg.Jobs.Backend == config.BackendSQLite {
		repo, err := sqlite.NewJobRepository(cfg.SQLiteJobsPath())
		if err != nil {
			return fmt.Errorf("opening sqlite job store: %w", err)
		}
		kb.closers = append(kb.closers, repo)
		jobRepo = repo
	}

	if err := kb.openProviders(o); err != nil {
		return err
	}
	if len(kb.llm.Providers(ai.CapabilityEmbedding)) == 0 {
		return ErrNoEmbeddingProvider
	}
	canGenerate := len(kb.llm.Providers(ai.CapabilityGeneration)) > 0

	chunker, err := chunking.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return err
	}
	validator := extraction.NewValidator(cfg.Extraction.MinLength, cfg.Extraction.MaxLength)
	for domain, words := range cfg.Extraction.StopWords {
		validator.WithStopWords(domain, words...)
	}
	extractor, err := extraction.New(nil,
		extraction.WithStrategies(kb.strategies(canGenerate)...),
		extraction.WithValidator(validator),
		extraction.WithMaxConcepts(cfg.Extraction.MaxConcepts),
		extraction.WithChunker(chunker),
		extraction.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	relationOpts := []relations.Option{
		relations.WithNormalization(cfg.Relations.NormalizationConstant),
		relations.WithLLMWeight(cfg.Relations.LLMWeight),
		relations.WithMaxRelationships(cfg.Relations.MaxRelationships),
		relations.WithLogger(logger),
	}
	if cfg.Relations.UseLLM && canGenerate {
		relationOpts = append(relationOpts, relations.WithGenerator(kb.llm))
	}
	builder, err := relations.New(relationOpts...)
	if err != nil {
		return err
	}

	detector, err := dedup.NewDetector(stores.Documents,
		dedup.WithThreshold(cfg.Dedup.TitleSimilarityThreshold),
		dedup.WithPrefixLength(cfg.Dedup.PrefixLength),
		dedup.WithFailOpen(cfg.Dedup.FailOpen),
		dedup.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	kb.pipeline, err = ingestion.NewPipeline(stores.Documents, stores.Graph, kb.vectors, kb.llm, extractor,
		ingestion.WithChunker(chunker),
		ingestion.WithDetector(detector),
		ingestion.WithRelationBuilder(builder),
		ingestion.WithCollection(cfg.Storage.Collection),
		ingestion.WithDomain(cfg.Extraction.Domain),
		ingestion.WithStoreTimeout(time.Duration(cfg.Storage.StoreTimeout)),
		ingestion.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	kb.retriever, err = search.NewRetriever(stores.Documents, stores.Graph, kb.vectors, kb.llm,
		search.WithCollection(cfg.Storage.Collection),
		search.WithMaxGraphHops(cfg.Search.MaxGraphHops),
		search.WithVectorResults(cfg.Search.VectorResults),
		search.WithMinSimilarity(cfg.Search.MinSimilarity),
		search.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	kb.jobs, err = jobs.NewManager(jobRepo, kb.pipeline,
		jobs.WithWorkers(cfg.Jobs.Workers),
		jobs.WithMaxConsecutiveStoreFailures(cfg.Jobs.MaxConsecutiveStoreFailures),
		jobs.WithFileSource(kb.source),
		jobs.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if n, err := kb.jobs.Recover(ctx); err != nil {
		return err
	} else if n > 0 {
		logger.Warn("marked interrupted jobs as failed", "count", n)
	}
	return nil
}

func (kb *KnowledgeBase) openProviders(o *options) error {
	cfg := kb.cfg.AI
	managerOpts := []manager.Option{
		manager.WithTimeout(time.Duration(cfg.Timeout)),
		manager.WithMaxAttempts(cfg.MaxAttempts),
		manager.WithRetryBaseDelay(time.Duration(cfg.RetryBaseDelay)),
		manager.WithMaxConcurrent(cfg.MaxConcurrent),
		manager.WithLogger(o.logger),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		managerOpts = append(managerOpts, manager.WithRateLimit(cfg.RequestsPerSecond, burst))
	}
	llm, err := manager.New(managerOpts...)
	if err != nil {
		return err
	}
	kb.llm = llm

	if len(o.providers) > 0 {
		for i, p := range o.providers {
			llm.Register(p, i)
		}
		return nil
	}
	for _, pc := range cfg.Providers {
		var (
			p   ai.Provider
			err error
		)
		switch pc.Kind {
		case ai.KindOllama:
			p, err = ollama.NewProvider(pc.AI(), o.logger)
		default:
			p, err = openai.NewProvider(pc.AI(), o.logger)
		}
		if err != nil {
			return fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		llm.Register(p, pc.Priority)
	}
	return nil
}

// strategies builds the extraction chain in configured order. The LLM
// strategy is left out when no provider can generate.
func (kb *KnowledgeBase) strategies(canGenerate bool) []extraction.Strategy {
	dictionaries := make(map[string]extraction.Dictionary, len(kb.cfg.Extraction.Dictionaries))
	for domain, terms := range kb.cfg.Extraction.Dictionaries {
		dictionaries[domain] = extraction.Dictionary(terms)
	}

	var out []extraction.Strategy
	for _, name := range kb.cfg.Extraction.Strategies {
		switch extraction.StrategyKind(name) {
		case extraction.StrategyLLM:
			if canGenerate {
				out = append(out, extraction.NewLLMStrategy(kb.llm, kb.logger))
			}
		case extraction.StrategyNLP:
			out = append(out, extraction.NewNLPStrategy())
		case extraction.StrategyRules:
			out = append(out, extraction.NewRuleStrategy(dictionaries))
		}
	}
	if len(out) == 0 {
		out = append(out, extraction.NewNLPStrategy(), extraction.NewRuleStrategy(dictionaries))
	}
	return out
}

// Close stops running jobs and releases every resource.
func (kb *KnowledgeBase) Close() error {
	var errs []error
	if kb.jobs != nil {
		errs = append(errs, kb.jobs.Close())
	}
	if kb.pipeline != nil {
		kb.pipeline.Release()
	}
	if kb.llm != nil {
		if err := kb.llm.Close(); err != nil {
			kb.logger.Error("error closing providers", "err", err)
			errs = append(errs, err)
		}
	}
	for _, c := range slices.Backward(kb.closers) {
		errs = append(errs, c.Close())
	}
	if kb.stores != nil {
		if err := kb.stores.Close(); err != nil {
			kb.logger.Error("error closing stores", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the configuration the knowledge base was opened with.
func (kb *KnowledgeBase) Config() *config.Config {
	return kb.cfg
}

// AddDocument ingests text synchronously. A duplicate is reported in the
// result, not as an error.
func (kb *KnowledgeBase) AddDocument(ctx context.Context, text string, metadata map[string]any) (*ingestion.Result, error) {
	return kb.pipeline.AddDocument(ctx, text, metadata)
}

// AddDocumentAsync queues text for ingestion and returns the tracking job.
func (kb *KnowledgeBase) AddDocumentAsync(ctx context.Context, text string, metadata map[string]any) (*core.Job, error) {
	return kb.jobs.SubmitDocument(ctx, text, metadata)
}

// AddFile loads and ingests a single file.
func (kb *KnowledgeBase) AddFile(ctx context.Context, path string) (*ingestion.Result, error) {
	return kb.pipeline.AddFile(ctx, kb.source, path)
}

// AddFolder ingests every supported file below path as a folder-batch
// job. With async set it returns the pending job at once; otherwise it
// returns the finished job.
func (kb *KnowledgeBase) AddFolder(ctx context.Context, path string, async bool) (*core.Job, error) {
	if async {
		return kb.jobs.SubmitFolder(ctx, path)
	}
	return kb.jobs.RunFolder(ctx, path)
}

// GetDocument returns a stored document.
func (kb *KnowledgeBase) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	return kb.stores.Documents.GetDocument(ctx, id)
}

// DeleteDocument removes a document with its chunks, vectors and mentions.
func (kb *KnowledgeBase) DeleteDocument(ctx context.Context, id core.ID) error {
	return kb.pipeline.DeleteDocument(ctx, id)
}

// Rechunk re-splits a stored document with new chunk settings.
func (kb *KnowledgeBase) Rechunk(ctx context.Context, id core.ID, size, overlap int) (*ingestion.Result, error) {
	return kb.pipeline.Rechunk(ctx, id, size, overlap)
}

// Reembed writes fresh embeddings for every chunk into collection with the
// active embedding provider. An empty collection means the configured one.
func (kb *KnowledgeBase) Reembed(ctx context.Context, collection string, progress io.Writer) (*reembed.Summary, error) {
	rc := reembed.DefaultConfig()
	rc.Collection = cmp.Or(collection, kb.cfg.Storage.Collection)
	r, err := reembed.NewReembedder(kb.stores.Documents, kb.vectors, kb.llm, rc, progress)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}

// RechunkAll applies new chunk settings to every stored document.
func (kb *KnowledgeBase) RechunkAll(ctx context.Context, size, overlap int, progress io.Writer) (*reembed.Summary, error) {
	r, err := reembed.NewRechunker(kb.stores.Documents, kb.pipeline, nil, progress)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, size, overlap)
}

// Search runs a hybrid query. Non-positive nResults and negative maxHops
// fall back to the configured defaults.
func (kb *KnowledgeBase) Search(ctx context.Context, query string, nResults, maxHops int) ([]*core.SearchResult, error) {
	return kb.retriever.Search(ctx, query, nResults, maxHops)
}

// SearchWithMonitor is Search with stage callbacks.
func (kb *KnowledgeBase) SearchWithMonitor(ctx context.Context, query string, nResults, maxHops int, monitor search.SearchMonitor) ([]*core.SearchResult, error) {
	return kb.retriever.SearchWithMonitor(ctx, query, nResults, maxHops, monitor)
}

// RelatedConcept is a graph neighbour of a concept.
type RelatedConcept struct {
	Concept  *core.Concept
	Strength float64
	Evidence int
}

// ConceptInfo describes a concept, its neighbours by descending strength
// and the documents that mention it.
type ConceptInfo struct {
	Concept   *core.Concept
	Related   []RelatedConcept
	Documents []*core.Document
}

// GetConcept looks a concept up by name.
func (kb *KnowledgeBase) GetConcept(ctx context.Context, name string) (*ConceptInfo, error) {
	graph := kb.stores.Graph
	concept, err := graph.FindConcept(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrConceptNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	edges, err := graph.Neighbors(ctx, concept.Id)
	if err != nil {
		return nil, err
	}
	info := &ConceptInfo{Concept: concept}
	for _, edge := range edges {
		other := edge.To
		if other == concept.Id {
			other = edge.From
		}
		neighbour, err := graph.GetConcept(ctx, other)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		info.Related = append(info.Related, RelatedConcept{
			Concept:  neighbour,
			Strength: edge.Strength,
			Evidence: edge.Evidence,
		})
	}
	slices.SortFunc(info.Related, func(a, b RelatedConcept) int {
		if c := cmp.Compare(b.Strength, a.Strength); c != 0 {
			return c
		}
		return cmp.Compare(a.Concept.Normalized, b.Concept.Normalized)
	})

	docIDs, err := graph.DocumentsMentioning(ctx, concept.Id)
	if err != nil {
		return nil, err
	}
	if len(docIDs) > 0 {
		info.Documents, err = kb.stores.Documents.GetDocuments(ctx, docIDs...)
		if err != nil {
			return nil, err
		}
	}
	return info, nil
}

// GetJobStatus returns a job by ID.
func (kb *KnowledgeBase) GetJobStatus(ctx context.Context, id string) (*core.Job, error) {
	return kb.jobs.Get(ctx, id)
}

// ListJobs returns jobs matching filter, newest first.
func (kb *KnowledgeBase) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	return kb.jobs.List(ctx, filter)
}

// CancelJob cancels a pending job or asks a running one to stop.
func (kb *KnowledgeBase) CancelJob(ctx context.Context, id string) (*core.Job, error) {
	return kb.jobs.Cancel(ctx, id)
}

// WaitJob blocks until a job started by this process finishes.
func (kb *KnowledgeBase) WaitJob(ctx context.Context, id string) (*core.Job, error) {
	return kb.jobs.Wait(ctx, id)
}
