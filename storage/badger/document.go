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

package badger

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	return &DocumentRepository{
		backend: backend,
	}, nil
}

// Close releases resources. DocumentRepository has no resources to release.
func (r *DocumentRepository) Close() error {
	return nil
}

// AddDocument stores a document and its indexes.
func (r *DocumentRepository) AddDocument(ctx context.Context, doc *core.Document) error {
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		hashKey := makeDocumentHashKey(doc.ContentHash)
		if doc.ContentHash != "" {
			_, err := tx.Get(hashKey)
			if err == nil {
				return storage.ErrDuplicateKey
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}

		if doc.InsertedAt.IsZero() {
			doc.InsertedAt = time.Now().UTC()
		}
		doc.UpdatedAt = doc.InsertedAt

		if err := tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc)); err != nil {
			return err
		}
		if doc.ContentHash != "" {
			if err := tx.Set(hashKey, storage.MarshalID(doc.Id)); err != nil {
				return err
			}
		}
		if doc.TitleNormalized != "" {
			if err := tx.Set(makeDocumentTitleKey(doc.TitleNormalized, doc.Id), nil); err != nil {
				return err
			}
		}
		return nil
	})
	return storage.Unavailable(err)
}

// GetDocument retrieves a single document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	var result *core.Document
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		result, err = getValue(tx, makeDocumentKey(id), storage.UnmarshalDocument)
		return err
	})
	return result, storage.Unavailable(err)
}

// GetDocuments retrieves multiple documents by their IDs.
func (r *DocumentRepository) GetDocuments(ctx context.Context, ids ...core.ID) ([]*core.Document, error) {
	var results []*core.Document
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			doc, err := getValue(tx, makeDocumentKey(id), storage.UnmarshalDocument)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			results = append(results, doc)
		}
		return nil
	})
	return results, storage.Unavailable(err)
}

// FindByContentHash looks up a document ID from the fingerprint index.
func (r *DocumentRepository) FindByContentHash(ctx context.Context, hash string) (core.ID, error) {
	var id core.ID
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		found, err := getValue(tx, makeDocumentHashKey(hash), func(val []byte) (*core.ID, error) {
			id, err := storage.UnmarshalID(val)
			return &id, err
		})
		if err != nil {
			return err
		}
		id = *found
		return nil
	})
	return id, storage.Unavailable(err)
}

// FindByTitlePrefix scans the title index for documents whose normalized title
// starts with prefix.
func (r *DocumentRepository) FindByTitlePrefix(ctx context.Context, prefix string) ([]*core.Document, error) {
	if prefix == "" {
		return nil, nil
	}
	var results []*core.Document
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var ids []core.ID
		err := scanPrefix(tx, makePartialDocumentTitleKey(prefix), false, func(key, _ []byte) error {
			ids = append(ids, idAt(key, len(key)-8))
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			doc, err := getValue(tx, makeDocumentKey(id), storage.UnmarshalDocument)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			results = append(results, doc)
		}
		return nil
	})
	return results, storage.Unavailable(err)
}

// UpdateDocument rewrites an existing document and keeps its indexes in sync.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *core.Document) error {
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeDocumentKey(doc.Id)
		old, err := getValue(tx, key, storage.UnmarshalDocument)
		if err != nil {
			return err
		}

		doc.InsertedAt = old.InsertedAt
		doc.UpdatedAt = time.Now().UTC()
		if err := tx.Set(key, storage.MarshalDocument(doc)); err != nil {
			return err
		}

		if old.ContentHash != doc.ContentHash {
			if old.ContentHash != "" {
				if err := tx.Delete(makeDocumentHashKey(old.ContentHash)); err != nil {
					return err
				}
			}
			if doc.ContentHash != "" {
				if err := tx.Set(makeDocumentHashKey(doc.ContentHash), storage.MarshalID(doc.Id)); err != nil {
					return err
				}
			}
		}
		if old.TitleNormalized != doc.TitleNormalized {
			if old.TitleNormalized != "" {
				if err := tx.Delete(makeDocumentTitleKey(old.TitleNormalized, doc.Id)); err != nil {
					return err
				}
			}
			if doc.TitleNormalized != "" {
				if err := tx.Set(makeDocumentTitleKey(doc.TitleNormalized, doc.Id), nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return storage.Unavailable(err)
}

// DeleteDocument removes a document, its indexes and its chunks.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id core.ID) error {
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeDocumentKey(id)
		doc, err := getValue(tx, key, storage.UnmarshalDocument)
		if err != nil {
			return err
		}
		if doc.ContentHash != "" {
			if err := tx.Delete(makeDocumentHashKey(doc.ContentHash)); err != nil {
				return err
			}
		}
		if doc.TitleNormalized != "" {
			if err := tx.Delete(makeDocumentTitleKey(doc.TitleNormalized, id)); err != nil {
				return err
			}
		}
		if err := deleteChunks(tx, id); err != nil {
			return err
		}
		return tx.Delete(key)
	})
	return storage.Unavailable(err)
}

// AddChunks stores chunks and indexes them by document and sequence.
func (r *DocumentRepository) AddChunks(ctx context.Context, chunks ...*core.Chunk) error {
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			if err := tx.Set(makeChunkKey(chunk.Id), storage.MarshalChunk(chunk)); err != nil {
				return err
			}
			indexKey := makeDocumentChunkKey(chunk.DocumentId, chunk.Sequence)
			if err := tx.Set(indexKey, storage.MarshalID(chunk.Id)); err != nil {
				return err
			}
		}
		return nil
	})
	return storage.Unavailable(err)
}

// GetChunks retrieves multiple chunks by their IDs.
func (r *DocumentRepository) GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			chunk, err := getValue(tx, makeChunkKey(id), storage.UnmarshalChunk)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			results = append(results, chunk)
		}
		return nil
	})
	return results, storage.Unavailable(err)
}

// GetDocumentChunks returns a document's chunks in sequence order.
func (r *DocumentRepository) GetDocumentChunks(ctx context.Context, docID core.ID) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		ids, err := documentChunkIDs(tx, docID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			chunk, err := getValue(tx, makeChunkKey(id), storage.UnmarshalChunk)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			results = append(results, chunk)
		}
		return nil
	})
	slices.SortFunc(results, func(a, b *core.Chunk) int { return a.Sequence - b.Sequence })
	return results, storage.Unavailable(err)
}

// DeleteDocumentChunks removes all chunks of a document.
func (r *DocumentRepository) DeleteDocumentChunks(ctx context.Context, docID core.ID) error {
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		return deleteChunks(tx, docID)
	})
	return storage.Unavailable(err)
}

// CountDocuments counts document records.
func (r *DocumentRepository) CountDocuments(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(documentPrefix), false, func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, storage.Unavailable(err)
}

// DocumentIDs pages through document IDs in key order.
func (r *DocumentRepository) DocumentIDs(ctx context.Context, after core.ID, limit int) ([]core.ID, error) {
	var ids []core.ID
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(documentPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(makeDocumentKey(after)); iter.Valid(); iter.Next() {
			id := idAt(iter.Item().Key(), len(documentPrefix))
			if id <= after {
				continue
			}
			ids = append(ids, id)
			if limit > 0 && len(ids) == limit {
				break
			}
		}
		return nil
	})
	return ids, storage.Unavailable(err)
}

// Helper methods

func documentChunkIDs(tx *badger.Txn, docID core.ID) ([]core.ID, error) {
	var ids []core.ID
	err := scanPrefix(tx, makePartialDocumentChunkKey(docID), true, func(_, val []byte) error {
		id, err := storage.UnmarshalID(val)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

func deleteChunks(tx *badger.Txn, docID core.ID) error {
	ids, err := documentChunkIDs(tx, docID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := tx.Delete(makeChunkKey(id)); err != nil {
			return err
		}
	}
	return deletePrefix(tx, makePartialDocumentChunkKey(docID))
}
