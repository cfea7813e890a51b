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

package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// Config holds configuration for a maintenance run.
type Config struct {
	// BatchSize is the number of documents listed per page and the number
	// of chunk texts sent per embedding call
	BatchSize int

	// MaxRetries is the maximum number of attempts for an embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Collection is the vector collection written by a Reembedder
	Collection string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:  DefaultBatchSize,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		Collection: "chunks",
	}
}

func (c *Config) validate() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be greater than 0", ErrInvalidConfig)
	case c.MaxRetries <= 0:
		return fmt.Errorf("%w: max retries must be greater than 0", ErrInvalidConfig)
	}
	return nil
}

// Summary reports what a run did.
type Summary struct {
	Documents int
	Chunks    int
	Elapsed   time.Duration
}

// Reembedder writes fresh embeddings for every stored chunk.
type Reembedder struct {
	documents storage.DocumentRepository
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *DocumentIterator
	logger    *slog.Logger
}

// NewReembedder creates a new reembedder. Progress is drawn on progress,
// typically os.Stderr; a nil writer disables it.
func NewReembedder(documents storage.DocumentRepository, vectors storage.VectorStore, embedder ai.Embedder,
	config *Config, progress io.Writer) (*Reembedder, error) {
	switch {
	case documents == nil:
		return nil, ErrDocumentRepositoryRequired
	case vectors == nil:
		return nil, ErrVectorStoreRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.Collection == "" {
		return nil, fmt.Errorf("%w: collection is required", ErrInvalidConfig)
	}

	return &Reembedder{
		documents: documents,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(documents, vectors, embedder, config.Collection,
			config.BatchSize, config.MaxRetries, config.RetryDelay),
		iterator: NewDocumentIterator(documents, config.BatchSize),
		logger:   slog.Default().With("component", "reembedder"),
	}, nil
}

// Run re-embeds every document. It stops at the first document that
// cannot be processed; documents before it keep their new vectors.
func (r *Reembedder) Run(ctx context.Context) (*Summary, error) {
	total, err := r.documents.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	summary := &Summary{}
	if total == 0 {
		r.logger.Info("no documents to reembed")
		return summary, nil
	}

	r.logger.Info("starting reembedding", "documents", total, "collection", r.config.Collection, "batch_size", r.config.BatchSize)
	start := time.Now()
	bar := newProgressBar(r.progress, total, "Reembedding documents")

	err = r.iterator.ForEach(ctx, func(ids []core.ID) error {
		for _, id := range ids {
			n, err := r.processor.Process(ctx, id)
			if err != nil {
				return fmt.Errorf("document %d: %w", id, err)
			}
			summary.Documents++
			summary.Chunks += n
			_ = bar.Add(1)
		}
		return nil
	})
	summary.Elapsed = time.Since(start)
	if err != nil {
		return summary, err
	}
	_ = bar.Finish()

	r.logger.Info("reembedding complete", "documents", summary.Documents, "chunks", summary.Chunks,
		"elapsed", summary.Elapsed.Round(time.Millisecond))
	return summary, nil
}
