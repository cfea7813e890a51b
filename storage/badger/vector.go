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
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// VectorStore implements storage.VectorStore for BadgerDB with a brute-force
// scan. Vectors are normalized on write so similarity is a dot product.
type VectorStore struct {
	backend *Backend
}

var _ storage.VectorStore = (*VectorStore)(nil)

// NewVectorStore creates a new VectorStore.
func NewVectorStore(backend *Backend) (*VectorStore, error) {
	return &VectorStore{
		backend: backend,
	}, nil
}

// Close releases resources. VectorStore has no resources to release.
func (v *VectorStore) Close() error {
	return nil
}

// EnsureCollection records the schema of a new collection or checks an
// existing one against it.
func (v *VectorStore) EnsureCollection(ctx context.Context, schema core.CollectionSchema) error {
	if schema.Name == "" || schema.Dimension <= 0 {
		return fmt.Errorf("%w: collection needs a name and a positive dimension", storage.ErrInvalidQuery)
	}
	err := v.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeVectorSchemaKey(schema.Name)
		existing, err := getValue(tx, key, storage.UnmarshalSchema)
		if err == nil {
			if existing.Dimension != schema.Dimension {
				return fmt.Errorf("%w: collection %q has dimension %d (model %q), embedder produces %d (model %q)",
					core.ErrDimensionMismatch, schema.Name, existing.Dimension, existing.Model, schema.Dimension, schema.Model)
			}
			if existing.Model != schema.Model {
				v.backend.logger.Warn("collection embedding model changed",
					"collection", schema.Name, "stored", existing.Model, "active", schema.Model)
			}
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		schema.CreatedAt = time.Now().UTC()
		return tx.Set(key, storage.MarshalSchema(&schema))
	})
	return storage.Unavailable(err)
}

// AddVectors normalizes and stores records.
func (v *VectorStore) AddVectors(ctx context.Context, collection string, records ...*core.VectorRecord) error {
	err := v.backend.Update(ctx, func(tx *badger.Txn) error {
		schema, err := collectionSchema(tx, collection)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if len(rec.Vector) != schema.Dimension {
				return fmt.Errorf("%w: record %d has dimension %d, collection %q expects %d",
					core.ErrDimensionMismatch, rec.Id, len(rec.Vector), collection, schema.Dimension)
			}
			stored := *rec
			stored.Vector = Normalize(rec.Vector)
			if err := tx.Set(makeVectorKey(collection, rec.Id), storage.MarshalVectorRecord(&stored)); err != nil {
				return err
			}
			if err := tx.Set(makeVectorDocumentKey(collection, rec.DocumentId, rec.Id), nil); err != nil {
				return err
			}
		}
		return nil
	})
	return storage.Unavailable(err)
}

// QueryVectors scans the collection and returns the topK most similar records.
// Equal scores are ordered by record ID.
func (v *VectorStore) QueryVectors(ctx context.Context, collection string, vector []float32, topK int, filter *storage.VectorFilter) ([]storage.VectorMatch, error) {
	if topK <= 0 {
		return nil, nil
	}
	query := Normalize(vector)
	var results []storage.VectorMatch

	err := v.backend.View(ctx, func(tx *badger.Txn) error {
		schema, err := collectionSchema(tx, collection)
		if err != nil {
			return err
		}
		if len(query) != schema.Dimension {
			return fmt.Errorf("%w: query has dimension %d, collection %q expects %d",
				core.ErrDimensionMismatch, len(query), collection, schema.Dimension)
		}

		return scanPrefix(tx, makePartialVectorKey(collection), true, func(_, val []byte) error {
			rec, err := storage.UnmarshalVectorRecord(val)
			if err != nil {
				return err
			}
			if !filter.Matches(rec) {
				return nil
			}
			results = append(results, storage.VectorMatch{
				Record: rec,
				Score:  dotProduct(query, rec.Vector),
			})
			return nil
		})
	})
	if err != nil {
		return nil, storage.Unavailable(err)
	}

	slices.SortFunc(results, func(a, b storage.VectorMatch) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Record.Id, b.Record.Id)
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// GetByID retrieves records by ID.
func (v *VectorStore) GetByID(ctx context.Context, collection string, ids ...core.ID) ([]*core.VectorRecord, error) {
	var results []*core.VectorRecord
	err := v.backend.View(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			rec, err := getValue(tx, makeVectorKey(collection, id), storage.UnmarshalVectorRecord)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			results = append(results, rec)
		}
		return nil
	})
	return results, storage.Unavailable(err)
}

// Count returns the number of records in a collection.
func (v *VectorStore) Count(ctx context.Context, collection string) (int, error) {
	count := 0
	err := v.backend.View(ctx, func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialVectorKey(collection), false, func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, storage.Unavailable(err)
}

// DeleteByDocument removes every record of a document from a collection.
func (v *VectorStore) DeleteByDocument(ctx context.Context, collection string, docID core.ID) error {
	err := v.backend.Update(ctx, func(tx *badger.Txn) error {
		prefix := makePartialVectorDocumentKey(collection, docID)
		var keys [][]byte
		err := scanPrefix(tx, prefix, false, func(key, _ []byte) error {
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := tx.Delete(makeVectorKey(collection, idAt(key, len(prefix)))); err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	return storage.Unavailable(err)
}

func collectionSchema(tx *badger.Txn, collection string) (*core.CollectionSchema, error) {
	schema, err := getValue(tx, makeVectorSchemaKey(collection), storage.UnmarshalSchema)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: collection %q", storage.ErrNotFound, collection)
	}
	return schema, err
}

// Normalize returns a unit-length copy of v. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := min(len(a), len(b))
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
