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

package storage

import (
	"context"
	"slices"

	"github.com/poiesic/lattice/core"
)

// DocumentRepository persists documents and their chunks along with the
// fingerprint and title indexes used for duplicate detection.
type DocumentRepository interface {
	// AddDocument stores a document and indexes its content hash and normalized title.
	// Returns ErrDuplicateKey if a document with the same content hash exists.
	AddDocument(ctx context.Context, doc *core.Document) error

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id core.ID) (*core.Document, error)

	// GetDocuments retrieves multiple documents. Missing IDs are skipped.
	GetDocuments(ctx context.Context, ids ...core.ID) ([]*core.Document, error)

	// FindByContentHash returns the ID of the document with the given content hash.
	// Returns ErrNotFound if no document matches.
	FindByContentHash(ctx context.Context, hash string) (core.ID, error)

	// FindByTitlePrefix returns documents whose normalized title starts with prefix.
	// An empty prefix matches nothing.
	FindByTitlePrefix(ctx context.Context, prefix string) ([]*core.Document, error)

	// UpdateDocument rewrites the document record. Only metadata and hash fields
	// are expected to change.
	UpdateDocument(ctx context.Context, doc *core.Document) error

	// DeleteDocument removes the document record, its indexes and its chunks.
	DeleteDocument(ctx context.Context, id core.ID) error

	// AddChunks stores chunks and indexes them by document.
	AddChunks(ctx context.Context, chunks ...*core.Chunk) error

	// GetChunks retrieves chunks by ID. Missing IDs are skipped.
	GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error)

	// GetDocumentChunks returns a document's chunks ordered by sequence.
	GetDocumentChunks(ctx context.Context, docID core.ID) ([]*core.Chunk, error)

	// DeleteDocumentChunks removes all chunks of a document.
	DeleteDocumentChunks(ctx context.Context, docID core.ID) error

	// CountDocuments returns the number of stored documents.
	CountDocuments(ctx context.Context) (int, error)

	// DocumentIDs returns up to limit document IDs greater than after, in
	// ascending order. A non-positive limit returns all of them.
	DocumentIDs(ctx context.Context, after core.ID, limit int) ([]core.ID, error)

	Close() error
}

// Pattern selects graph nodes by label and exact property values.
type Pattern struct {
	Label string // "Concept" or "Chunk"
	Where map[string]string
	Limit int
}

// Node labels understood by GraphStore.Query.
const (
	LabelConcept = "Concept"
	LabelChunk   = "Chunk"
)

// Row is a single result of a pattern query.
type Row map[string]string

// GraphStore holds concepts, RELATED_TO edges between them, and MENTIONS
// edges from chunks to concepts.
type GraphStore interface {
	// UpsertConcepts creates missing concepts and returns the stored version of
	// each. Concepts are keyed by normalized name, so an existing concept keeps
	// its original display name.
	UpsertConcepts(ctx context.Context, concepts ...*core.Concept) ([]*core.Concept, error)

	// GetConcept retrieves a concept by ID.
	// Returns ErrNotFound if the concept doesn't exist.
	GetConcept(ctx context.Context, id core.ID) (*core.Concept, error)

	// FindConcept looks up a concept by name, case-insensitively.
	// Returns ErrNotFound if no concept matches.
	FindConcept(ctx context.Context, name string) (*core.Concept, error)

	// UpsertRelationships creates RELATED_TO edges or merges new evidence into
	// existing ones with a running average of strength.
	UpsertRelationships(ctx context.Context, rels ...*core.Relationship) error

	// GetRelationship returns the edge between two concepts in either order.
	// Returns ErrNotFound if no edge exists.
	GetRelationship(ctx context.Context, a, b core.ID) (*core.Relationship, error)

	// Neighbors returns the RELATED_TO edges touching a concept, strongest first.
	Neighbors(ctx context.Context, id core.ID) ([]*core.Relationship, error)

	// AddMentions stores MENTIONS edges and counts each new edge on its concept.
	AddMentions(ctx context.Context, mentions ...*core.Mention) error

	// ChunksMentioning returns the MENTIONS edges pointing at a concept.
	ChunksMentioning(ctx context.Context, conceptID core.ID) ([]*core.Mention, error)

	// DocumentsMentioning returns the IDs of documents with a chunk mentioning a concept.
	DocumentsMentioning(ctx context.Context, conceptID core.ID) ([]core.ID, error)

	// RemoveDocumentMentions deletes all MENTIONS edges from a document's chunks
	// and decrements the mention counts of the affected concepts.
	RemoveDocumentMentions(ctx context.Context, docID core.ID) error

	// Traverse walks RELATED_TO edges breadth-first from the start concepts, up to
	// maxHops edges, and returns the strongest path to every reached concept,
	// including zero-hop paths for the start concepts themselves.
	Traverse(ctx context.Context, startIDs []core.ID, maxHops int) ([]core.Path, error)

	// Query returns rows for nodes matching a pattern.
	Query(ctx context.Context, pattern Pattern) ([]Row, error)

	Close() error
}

// VectorFilter restricts a vector query.
type VectorFilter struct {
	DocumentIds []core.ID
	Metadata    map[string]string
}

// Matches reports whether rec passes the filter. A nil filter matches everything.
func (f *VectorFilter) Matches(rec *core.VectorRecord) bool {
	if f == nil {
		return true
	}
	if len(f.DocumentIds) > 0 && !slices.Contains(f.DocumentIds, rec.DocumentId) {
		return false
	}
	for k, v := range f.Metadata {
		if rec.Metadata[k] != v {
			return false
		}
	}
	return true
}

// VectorMatch is a scored vector query hit.
type VectorMatch struct {
	Record *core.VectorRecord
	Score  float32
}

// VectorStore holds chunk embeddings grouped by collection.
type VectorStore interface {
	// EnsureCollection creates the collection or verifies the recorded schema.
	// Returns core.ErrDimensionMismatch if an existing collection was created with
	// a different dimension.
	EnsureCollection(ctx context.Context, schema core.CollectionSchema) error

	// AddVectors stores embeddings. Records are matched to the collection dimension.
	AddVectors(ctx context.Context, collection string, records ...*core.VectorRecord) error

	// QueryVectors returns the topK records most similar to vector, best first.
	QueryVectors(ctx context.Context, collection string, vector []float32, topK int, filter *VectorFilter) ([]VectorMatch, error)

	// GetByID retrieves records by ID. Missing IDs are skipped.
	GetByID(ctx context.Context, collection string, ids ...core.ID) ([]*core.VectorRecord, error)

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// DeleteByDocument removes all records belonging to a document.
	DeleteByDocument(ctx context.Context, collection string, docID core.ID) error

	Close() error
}

// JobRepository persists job state so history survives a restart.
type JobRepository interface {
	// SaveJob inserts or replaces a job.
	SaveJob(ctx context.Context, job *core.Job) error

	// GetJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.Job, error)

	// ListJobs returns jobs matching the filter, newest first.
	ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error)

	Close() error
}
