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
	"slices"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// GraphStore implements storage.GraphStore for BadgerDB.
//
// Concepts are stored under their content-derived ID. Each RELATED_TO edge is
// written twice, once under each endpoint, so neighbor lookups are a single
// prefix scan. MENTIONS edges are keyed by concept and indexed by document.
type GraphStore struct {
	backend *Backend
}

var _ storage.GraphStore = (*GraphStore)(nil)

// NewGraphStore creates a new GraphStore.
func NewGraphStore(backend *Backend) (*GraphStore, error) {
	return &GraphStore{
		backend: backend,
	}, nil
}

// Close releases resources. GraphStore has no resources to release.
func (g *GraphStore) Close() error {
	return nil
}

// UpsertConcepts creates concepts that don't exist yet.
func (g *GraphStore) UpsertConcepts(ctx context.Context, concepts ...*core.Concept) ([]*core.Concept, error) {
	var stored []*core.Concept
	err := g.backend.Update(ctx, func(tx *badger.Txn) error {
		stored = stored[:0]
		now := time.Now().UTC()
		for _, concept := range concepts {
			if err := core.ValidateConcept(concept); err != nil {
				return err
			}
			normalized := core.NormalizeConceptName(concept.Name)
			id := core.ConceptID(concept.Name)
			key := makeConceptKey(id)

			existing, err := getValue(tx, key, storage.UnmarshalConcept)
			if err == nil {
				if existing.Category == "" && concept.Category != "" {
					existing.Category = concept.Category
					existing.UpdatedAt = now
					if err := tx.Set(key, storage.MarshalConcept(existing)); err != nil {
						return err
					}
				}
				stored = append(stored, existing)
				continue
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return err
			}

			created := &core.Concept{
				Id:         id,
				Name:       concept.Name,
				Normalized: normalized,
				Category:   concept.Category,
				InsertedAt: now,
				UpdatedAt:  now,
			}
			if err := tx.Set(key, storage.MarshalConcept(created)); err != nil {
				return err
			}
			stored = append(stored, created)
		}
		return nil
	})
	if err != nil {
		return nil, storage.Unavailable(err)
	}
	return stored, nil
}

// GetConcept retrieves a single concept by ID.
func (g *GraphStore) GetConcept(ctx context.Context, id core.ID) (*core.Concept, error) {
	var result *core.Concept
	err := g.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		result, err = getValue(tx, makeConceptKey(id), storage.UnmarshalConcept)
		return err
	})
	return result, storage.Unavailable(err)
}

// FindConcept looks up a concept by name.
func (g *GraphStore) FindConcept(ctx context.Context, name string) (*core.Concept, error) {
	if core.NormalizeConceptName(name) == "" {
		return nil, storage.ErrNotFound
	}
	return g.GetConcept(ctx, core.ConceptID(name))
}

// UpsertRelationships merges edges into the graph. A new edge is stored as
// given; an existing edge takes the running average of all asserted strengths.
func (g *GraphStore) UpsertRelationships(ctx context.Context, rels ...*core.Relationship) error {
	err := g.backend.Update(ctx, func(tx *badger.Txn) error {
		now := time.Now().UTC()
		for _, rel := range rels {
			if err := core.ValidateRelationship(rel); err != nil {
				return err
			}
			edge := core.NewRelationship(rel.From, rel.To, rel.Strength)

			existing, err := getValue(tx, makeAdjacencyKey(edge.From, edge.To), storage.UnmarshalRelationship)
			switch {
			case err == nil:
				n := float64(existing.Evidence)
				edge.Strength = core.ClampStrength((existing.Strength*n + edge.Strength) / (n + 1))
				edge.Evidence = existing.Evidence + 1
			case !errors.Is(err, storage.ErrNotFound):
				return err
			}
			edge.UpdatedAt = now

			value := storage.MarshalRelationship(edge)
			if err := tx.Set(makeAdjacencyKey(edge.From, edge.To), value); err != nil {
				return err
			}
			if err := tx.Set(makeAdjacencyKey(edge.To, edge.From), value); err != nil {
				return err
			}
		}
		return nil
	})
	return storage.Unavailable(err)
}

// GetRelationship returns the edge between a and b.
func (g *GraphStore) GetRelationship(ctx context.Context, a, b core.ID) (*core.Relationship, error) {
	var result *core.Relationship
	err := g.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		result, err = getValue(tx, makeAdjacencyKey(a, b), storage.UnmarshalRelationship)
		return err
	})
	return result, storage.Unavailable(err)
}

// Neighbors returns the edges touching id, strongest first.
func (g *GraphStore) Neighbors(ctx context.Context, id core.ID) ([]*core.Relationship, error) {
	var results []*core.Relationship
	err := g.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		results, err = neighbors(tx, id)
		return err
	})
	return results, storage.Unavailable(err)
}

// AddMentions stores MENTIONS edges. Re-adding an existing edge overwrites its
// weight without counting it again.
func (g *GraphStore) AddMentions(ctx context.Context, mentions ...*core.Mention) error {
	err := g.backend.Update(ctx, func(tx *badger.Txn) error {
		added := make(map[core.ID]int)
		for _, m := range mentions {
			key := makeMentionKey(m.ConceptId, m.ChunkId)
			_, err := tx.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				added[m.ConceptId]++
			case err != nil:
				return err
			}
			if err := tx.Set(key, storage.MarshalMention(m)); err != nil {
				return err
			}
			if err := tx.Set(makeDocumentMentionKey(m.DocumentId, m.ChunkId, m.ConceptId), nil); err != nil {
				return err
			}
		}
		return adjustMentionCounts(tx, added)
	})
	return storage.Unavailable(err)
}

// ChunksMentioning returns the MENTIONS edges pointing at a concept.
func (g *GraphStore) ChunksMentioning(ctx context.Context, conceptID core.ID) ([]*core.Mention, error) {
	var results []*core.Mention
	err := g.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		results, err = mentionsOf(tx, conceptID)
		return err
	})
	return results, storage.Unavailable(err)
}

// DocumentsMentioning returns the distinct documents mentioning a concept.
func (g *GraphStore) DocumentsMentioning(ctx context.Context, conceptID core.ID) ([]core.ID, error) {
	mentions, err := g.ChunksMentioning(ctx, conceptID)
	if err != nil {
		return nil, err
	}
	var ids []core.ID
	for _, m := range mentions {
		if !slices.Contains(ids, m.DocumentId) {
			ids = append(ids, m.DocumentId)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// RemoveDocumentMentions deletes the MENTIONS edges of a document's chunks.
func (g *GraphStore) RemoveDocumentMentions(ctx context.Context, docID core.ID) error {
	err := g.backend.Update(ctx, func(tx *badger.Txn) error {
		prefix := makePartialDocumentMentionKey(docID)
		var keys [][]byte
		err := scanPrefix(tx, prefix, false, func(key, _ []byte) error {
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			return err
		}

		removed := make(map[core.ID]int)
		offset := len(prefix)
		for _, key := range keys {
			chunkID := idAt(key, offset)
			conceptID := idAt(key, offset+8)
			if err := tx.Delete(makeMentionKey(conceptID, chunkID)); err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
			removed[conceptID]--
		}
		return adjustMentionCounts(tx, removed)
	})
	return storage.Unavailable(err)
}

// Traverse finds, for every concept within maxHops RELATED_TO edges of a start
// concept, the path that maximizes strength product divided by hop count.
// Paths never revisit a concept. Results are ordered by that score, then by
// end concept ID.
func (g *GraphStore) Traverse(ctx context.Context, startIDs []core.ID, maxHops int) ([]core.Path, error) {
	best := make(map[core.ID]core.Path)
	err := g.backend.View(ctx, func(tx *badger.Txn) error {
		frontier := make(map[core.ID]core.Path)
		for _, id := range startIDs {
			if _, err := getValue(tx, makeConceptKey(id), storage.UnmarshalConcept); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			p := core.Path{Concepts: []core.ID{id}}
			best[id] = p
			frontier[id] = p
		}

		for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			next := make(map[core.ID]core.Path)
			for _, id := range sortedKeys(frontier) {
				p := frontier[id]
				edges, err := neighbors(tx, id)
				if err != nil {
					return err
				}
				for _, edge := range edges {
					other := edge.Other(id)
					if slices.Contains(p.Concepts, other) {
						continue
					}
					extended := core.Path{
						Concepts:  append(slices.Clone(p.Concepts), other),
						Strengths: append(slices.Clone(p.Strengths), edge.Strength),
					}
					if cur, ok := next[other]; !ok || extended.StrengthProduct() > cur.StrengthProduct() {
						next[other] = extended
					}
				}
			}
			for id, p := range next {
				if cur, ok := best[id]; !ok || p.Score() > cur.Score() {
					best[id] = p
				}
			}
			frontier = next
		}
		return nil
	})
	if err != nil {
		return nil, storage.Unavailable(err)
	}

	paths := make([]core.Path, 0, len(best))
	for _, p := range best {
		paths = append(paths, p)
	}
	slices.SortFunc(paths, func(a, b core.Path) int {
		if c := cmp.Compare(b.Score(), a.Score()); c != 0 {
			return c
		}
		return cmp.Compare(a.End(), b.End())
	})
	return paths, nil
}

// Query returns rows for Concept or Chunk nodes whose properties equal every
// value in pattern.Where.
//
// Concept rows carry id, name, normalized, category and mentions.
// Chunk rows carry id, document_id, sequence and text.
func (g *GraphStore) Query(ctx context.Context, pattern storage.Pattern) ([]storage.Row, error) {
	var prefix string
	var toRow func(val []byte) (storage.Row, error)
	switch pattern.Label {
	case storage.LabelConcept:
		prefix = conceptPrefix
		toRow = func(val []byte) (storage.Row, error) {
			c, err := storage.UnmarshalConcept(val)
			if err != nil {
				return nil, err
			}
			return storage.Row{
				"id":         strconv.FormatUint(uint64(c.Id), 10),
				"name":       c.Name,
				"normalized": c.Normalized,
				"category":   c.Category,
				"mentions":   strconv.Itoa(c.Mentions),
			}, nil
		}
	case storage.LabelChunk:
		prefix = chunkPrefix
		toRow = func(val []byte) (storage.Row, error) {
			c, err := storage.UnmarshalChunk(val)
			if err != nil {
				return nil, err
			}
			return storage.Row{
				"id":          strconv.FormatUint(uint64(c.Id), 10),
				"document_id": strconv.FormatUint(uint64(c.DocumentId), 10),
				"sequence":    strconv.Itoa(c.Sequence),
				"text":        c.Text,
			}, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown label %q", storage.ErrInvalidQuery, pattern.Label)
	}

	var rows []storage.Row
	errLimit := errors.New("limit reached")
	err := g.backend.View(ctx, func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(prefix), true, func(_, val []byte) error {
			row, err := toRow(val)
			if err != nil {
				return err
			}
			for k, v := range pattern.Where {
				if row[k] != v {
					return nil
				}
			}
			rows = append(rows, row)
			if pattern.Limit > 0 && len(rows) >= pattern.Limit {
				return errLimit
			}
			return nil
		})
	})
	if err != nil && !errors.Is(err, errLimit) {
		return nil, storage.Unavailable(err)
	}
	return rows, nil
}

// Helper methods

func neighbors(tx *badger.Txn, id core.ID) ([]*core.Relationship, error) {
	var results []*core.Relationship
	err := scanPrefix(tx, makePartialAdjacencyKey(id), true, func(_, val []byte) error {
		rel, err := storage.UnmarshalRelationship(val)
		if err != nil {
			return err
		}
		results = append(results, rel)
		return nil
	})
	slices.SortFunc(results, func(a, b *core.Relationship) int {
		if c := cmp.Compare(b.Strength, a.Strength); c != 0 {
			return c
		}
		return cmp.Compare(a.Other(id), b.Other(id))
	})
	return results, err
}

func mentionsOf(tx *badger.Txn, conceptID core.ID) ([]*core.Mention, error) {
	var results []*core.Mention
	err := scanPrefix(tx, makePartialMentionKey(conceptID), true, func(_, val []byte) error {
		m, err := storage.UnmarshalMention(val)
		if err != nil {
			return err
		}
		results = append(results, m)
		return nil
	})
	return results, err
}

// adjustMentionCounts applies per-concept deltas to Concept.Mentions.
func adjustMentionCounts(tx *badger.Txn, deltas map[core.ID]int) error {
	now := time.Now().UTC()
	for _, id := range sortedKeys(deltas) {
		delta := deltas[id]
		if delta == 0 {
			continue
		}
		key := makeConceptKey(id)
		concept, err := getValue(tx, key, storage.UnmarshalConcept)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		concept.Mentions = max(0, concept.Mentions+delta)
		concept.UpdatedAt = now
		if err := tx.Set(key, storage.MarshalConcept(concept)); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[core.ID]V) []core.ID {
	keys := make([]core.ID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
