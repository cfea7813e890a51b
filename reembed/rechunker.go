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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/ingestion"
	"github.com/poiesic/lattice/storage"
)

// Target re-splits a single stored document.
type Target interface {
	Rechunk(ctx context.Context, docID core.ID, size, overlap int) (*ingestion.Result, error)
}

var _ Target = (*ingestion.Pipeline)(nil)

// Rechunker applies new chunk settings to every stored document.
type Rechunker struct {
	documents storage.DocumentRepository
	target    Target
	config    *Config
	progress  io.Writer
	iterator  *DocumentIterator
	logger    *slog.Logger
}

// NewRechunker creates a rechunker. Only BatchSize is read from config.
func NewRechunker(documents storage.DocumentRepository, target Target, config *Config, progress io.Writer) (*Rechunker, error) {
	switch {
	case documents == nil:
		return nil, ErrDocumentRepositoryRequired
	case target == nil:
		return nil, ErrRechunkerRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Rechunker{
		documents: documents,
		target:    target,
		config:    config,
		progress:  progress,
		iterator:  NewDocumentIterator(documents, config.BatchSize),
		logger:    slog.Default().With("component", "rechunker"),
	}, nil
}

// Run re-splits every document with size and overlap. Documents already
// chunked that way are left untouched. Bad settings fail before any
// document is changed.
func (r *Rechunker) Run(ctx context.Context, size, overlap int) (*Summary, error) {
	total, err := r.documents.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	summary := &Summary{}
	if total == 0 {
		return summary, nil
	}

	start := time.Now()
	bar := newProgressBar(r.progress, total, "Rechunking documents")
	err = r.iterator.ForEach(ctx, func(ids []core.ID) error {
		for _, id := range ids {
			result, err := r.target.Rechunk(ctx, id, size, overlap)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("document %d: %w", id, err)
			}
			summary.Documents++
			summary.Chunks += result.Chunks
			_ = bar.Add(1)
		}
		return nil
	})
	summary.Elapsed = time.Since(start)
	if err != nil {
		return summary, err
	}
	_ = bar.Finish()

	r.logger.Info("rechunking complete", "documents", summary.Documents, "chunks", summary.Chunks, "size", size, "overlap", overlap)
	return summary, nil
}
