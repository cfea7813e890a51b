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
	"fmt"
	"log/slog"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/lattice/ai"
)

// embeddingBatchSize is the number of chunk texts sent per Embed call.
const embeddingBatchSize = 16

// embeddingProcessor generates embeddings for chunks.
type embeddingProcessor struct {
	embedder ai.Embedder
	pool     *ants.Pool
	logger   *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

// newEmbeddingProcessor creates a new embedding processor.
func newEmbeddingProcessor(embedder ai.Embedder, pool *ants.Pool, logger *slog.Logger) (*embeddingProcessor, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &embeddingProcessor{
		embedder: embedder,
		pool:     pool,
		logger:   logger.With("processor", "embeddings"),
	}, nil
}

// process sets the Vector of every chunk, embedding batches concurrently.
func (ep *embeddingProcessor) process(ctx context.Context, work *documentWork) error {
	ep.logger.Debug("embedding chunks", "document", work.doc.Id, "chunks", len(work.chunks))

	var tasks []func(context.Context) error
	for start := 0; start < len(work.chunks); start += embeddingBatchSize {
		batch := work.chunks[start:min(start+embeddingBatchSize, len(work.chunks))]
		tasks = append(tasks, func(ctx context.Context) error {
			texts := make([]string, len(batch))
			for i, chunk := range batch {
				texts[i] = chunk.Text
			}
			vectors, err := ep.embedder.Embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("embedding chunks: %w", err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(batch), len(vectors))
			}
			for i, chunk := range batch {
				chunk.Vector = vectors[i]
			}
			return nil
		})
	}
	return runTasks(ctx, ep.pool, tasks)
}
