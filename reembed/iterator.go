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

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

const (
	// DefaultBatchSize is the default number of documents fetched per page
	DefaultBatchSize = 100
)

// DocumentIterator pages through every stored document ID.
type DocumentIterator struct {
	repo      storage.DocumentRepository
	batchSize int
}

// NewDocumentIterator creates a new document iterator. A non-positive
// batchSize uses DefaultBatchSize.
func NewDocumentIterator(repo storage.DocumentRepository, batchSize int) *DocumentIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &DocumentIterator{
		repo:      repo,
		batchSize: batchSize,
	}
}

// ForEach calls fn with each page of document IDs in ascending order.
// Iteration stops on the first error from fn. Context cancellation is
// checked between pages.
func (it *DocumentIterator) ForEach(ctx context.Context, fn func([]core.ID) error) error {
	var after core.ID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := it.repo.DocumentIDs(ctx, after, it.batchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := fn(ids); err != nil {
			return err
		}
		if len(ids) < it.batchSize {
			return nil
		}
		after = ids[len(ids)-1]
	}
}
