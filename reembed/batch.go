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
	"time"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// BatchProcessor re-embeds the chunks of one document at a time and
// replaces the document's vectors in the target collection.
type BatchProcessor struct {
	documents      storage.DocumentRepository
	vectors        storage.VectorStore
	embedder       ai.Embedder
	collection     string
	batchSize      int
	maxRetries     int
	retryBaseDelay time.Duration
	schemaReady    bool
}

// NewBatchProcessor creates a new batch processor. batchSize bounds the
// number of chunk texts sent in one embedding call.
func NewBatchProcessor(documents storage.DocumentRepository, vectors storage.VectorStore, embedder ai.Embedder,
	collection string, batchSize, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		documents:      documents,
		vectors:        vectors,
		embedder:       embedder,
		collection:     collection,
		batchSize:      batchSize,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process re-embeds a document and returns the number of chunks written.
// A document deleted since it was listed is skipped.
func (bp *BatchProcessor) Process(ctx context.Context, docID core.ID) (int, error) {
	doc, err := bp.documents.GetDocument(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	chunks, err := bp.documents.GetDocumentChunks(ctx, docID)
	if err != nil {
		return 0, err
	}

	records := make([]*core.VectorRecord, 0, len(chunks))
	for start := 0; start < len(chunks); start += bp.batchSize {
		batch := chunks[start:min(start+bp.batchSize, len(chunks))]
		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		var embeddings [][]float32
		err := ai.RetryWithBackoff(ctx, func() error {
			var err error
			embeddings, err = bp.embedder.Embed(ctx, texts)
			return err
		}, bp.maxRetries, bp.retryBaseDelay, retryable)
		if err != nil {
			return 0, fmt.Errorf("embedding document %d: %w", docID, err)
		}
		if len(embeddings) != len(batch) {
			return 0, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(batch), len(embeddings))
		}

		for i, chunk := range batch {
			records = append(records, &core.VectorRecord{
				Id:         chunk.Id,
				DocumentId: docID,
				Vector:     embeddings[i],
				Metadata:   doc.Metadata,
				Text:       chunk.Text,
			})
		}
	}

	if len(records) > 0 {
		if err := bp.ensureCollection(ctx, len(records[0].Vector)); err != nil {
			return 0, err
		}
	}
	if err := bp.vectors.DeleteByDocument(ctx, bp.collection, docID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("removing old vectors: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := bp.vectors.AddVectors(ctx, bp.collection, records...); err != nil {
		return 0, fmt.Errorf("storing vectors: %w", err)
	}
	return len(records), nil
}

// retryable rejects errors another attempt cannot fix.
func retryable(err error) bool {
	return !errors.Is(err, core.ErrValidation) && !errors.Is(err, core.ErrDimensionMismatch) &&
		!errors.Is(err, ai.ErrPermanent)
}

func (bp *BatchProcessor) ensureCollection(ctx context.Context, dimension int) error {
	if bp.schemaReady {
		return nil
	}
	err := bp.vectors.EnsureCollection(ctx, core.CollectionSchema{
		Name:      bp.collection,
		Model:     bp.embedder.EmbeddingModel(),
		Dimension: dimension,
	})
	if err != nil {
		return fmt.Errorf("collection %q: %w", bp.collection, err)
	}
	bp.schemaReady = true
	return nil
}
