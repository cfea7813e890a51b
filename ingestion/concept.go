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
	"github.com/poiesic/lattice/extraction"
)

// conceptProcessor extracts concepts from every chunk independently.
type conceptProcessor struct {
	extractor *extraction.Extractor
	pool      *ants.Pool
	domain    string
	logger    *slog.Logger
}

var _ processor = (*conceptProcessor)(nil)

// newConceptProcessor creates a new concept processor.
func newConceptProcessor(extractor *extraction.Extractor, pool *ants.Pool, domain string, logger *slog.Logger) (*conceptProcessor, error) {
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &conceptProcessor{
		extractor: extractor,
		pool:      pool,
		domain:    domain,
		logger:    logger.With("processor", "concepts"),
	}, nil
}

// process fills work.extracted. Chunks are weighted on their own; the
// extractor's fallback chain means only a context error or the failure of
// every strategy ends up here.
func (cp *conceptProcessor) process(ctx context.Context, work *documentWork) error {
	cp.logger.Debug("extracting concepts", "document", work.doc.Id, "chunks", len(work.chunks))

	tasks := make([]func(context.Context) error, len(work.chunks))
	for i, chunk := range work.chunks {
		tasks[i] = func(ctx context.Context) error {
			result, err := cp.extractor.Extract(ctx, chunk.Text, true, cp.domain)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", chunk.Sequence, err)
			}
			work.extracted[i] = result
			return nil
		}
	}
	return runTasks(ctx, cp.pool, tasks)
}
