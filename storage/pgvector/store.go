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

// Package pgvector provides a vector store on PostgreSQL with the pgvector
// extension. Similarity is cosine similarity computed by the database.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// VectorStore implements storage.VectorStore on PostgreSQL.
type VectorStore struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

var _ storage.VectorStore = (*VectorStore)(nil)

// Option configures a VectorStore.
type Option func(*VectorStore) error

// WithTable sets the vector table name. Collections table is named <table>_collections.
func WithTable(name string) Option {
	return func(v *VectorStore) error {
		if name == "" || strings.ContainsAny(name, " ;\"'") {
			return fmt.Errorf("%w: invalid table name %q", storage.ErrInvalidQuery, name)
		}
		v.table = name
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *VectorStore) error {
		v.logger = logger
		return nil
	}
}

// New connects to PostgreSQL and creates the tables if needed.
func New(ctx context.Context, connString string, opts ...Option) (*VectorStore, error) {
	v := &VectorStore{
		table:  "lattice_vectors",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	v.logger = v.logger.With("component", "pgvector")

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, storage.Unavailable(fmt.Errorf("connecting to database: %w", err))
	}
	v.pool = pool

	if err := v.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return v, nil
}

func (v *VectorStore) initialize(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s_collections (
				name       TEXT PRIMARY KEY,
				model      TEXT NOT NULL,
				dimension  INTEGER NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, v.table),
		// Dimension is enforced per collection, so the column is untyped.
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				collection  TEXT NOT NULL,
				id          BIGINT NOT NULL,
				document_id BIGINT NOT NULL,
				content     TEXT,
				metadata    JSONB,
				embedding   vector NOT NULL,
				PRIMARY KEY (collection, id)
			)`, v.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (collection, document_id)`, v.table, v.table),
	}
	for _, stmt := range statements {
		if _, err := v.pool.Exec(ctx, stmt); err != nil {
			return storage.Unavailable(fmt.Errorf("initializing schema: %w", err))
		}
	}
	return nil
}

// Close closes the connection pool.
func (v *VectorStore) Close() error {
	v.pool.Close()
	return nil
}

// EnsureCollection records a new collection or verifies an existing one.
func (v *VectorStore) EnsureCollection(ctx context.Context, schema core.CollectionSchema) error {
	if schema.Name == "" || schema.Dimension <= 0 {
		return fmt.Errorf("%w: collection needs a name and a positive dimension", storage.ErrInvalidQuery)
	}
	_, err := v.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s_collections (name, model, dimension)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING`, v.table),
		schema.Name, schema.Model, schema.Dimension)
	if err != nil {
		return storage.Unavailable(fmt.Errorf("creating collection: %w", err))
	}

	existing, err := v.schema(ctx, schema.Name)
	if err != nil {
		return err
	}
	if existing.Dimension != schema.Dimension {
		return fmt.Errorf("%w: collection %q has dimension %d (model %q), embedder produces %d (model %q)",
			core.ErrDimensionMismatch, schema.Name, existing.Dimension, existing.Model, schema.Dimension, schema.Model)
	}
	if existing.Model != schema.Model {
		v.logger.Warn("collection embedding model changed",
			"collection", schema.Name, "stored", existing.Model, "active", schema.Model)
	}
	return nil
}

func (v *VectorStore) schema(ctx context.Context, name string) (*core.CollectionSchema, error) {
	s := &core.CollectionSchema{Name: name}
	err := v.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT model, dimension, created_at FROM %s_collections WHERE name = $1`, v.table), name).
		Scan(&s.Model, &s.Dimension, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: collection %q", storage.ErrNotFound, name)
	}
	if err != nil {
		return nil, storage.Unavailable(err)
	}
	return s, nil
}

// AddVectors upserts records in one transaction.
func (v *VectorStore) AddVectors(ctx context.Context, collection string, records ...*core.VectorRecord) error {
	schema, err := v.schema(ctx, collection)
	if err != nil {
		return err
	}

	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return storage.Unavailable(fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (collection, id, document_id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (collection, id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, v.table)

	for _, rec := range records {
		if len(rec.Vector) != schema.Dimension {
			return fmt.Errorf("%w: record %d has dimension %d, collection %q expects %d",
				core.ErrDimensionMismatch, rec.Id, len(rec.Vector), collection, schema.Dimension)
		}
		metadata := rec.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		_, err := tx.Exec(ctx, stmt,
			collection,
			int64(rec.Id),
			int64(rec.DocumentId),
			rec.Text,
			metadata,
			pgvector.NewVector(rec.Vector),
		)
		if err != nil {
			return storage.Unavailable(fmt.Errorf("inserting vector %d: %w", rec.Id, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.Unavailable(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// QueryVectors returns the topK records closest to vector by cosine distance.
func (v *VectorStore) QueryVectors(ctx context.Context, collection string, vector []float32, topK int, filter *storage.VectorFilter) ([]storage.VectorMatch, error) {
	if topK <= 0 {
		return nil, nil
	}
	schema, err := v.schema(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != schema.Dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, collection %q expects %d",
			core.ErrDimensionMismatch, len(vector), collection, schema.Dimension)
	}

	args := []any{pgvector.NewVector(vector), collection}
	where := `collection = $2`
	if filter != nil && len(filter.DocumentIds) > 0 {
		ids := make([]int64, len(filter.DocumentIds))
		for i, id := range filter.DocumentIds {
			ids[i] = int64(id)
		}
		args = append(args, ids)
		where += fmt.Sprintf(` AND document_id = ANY($%d)`, len(args))
	}
	if filter != nil && len(filter.Metadata) > 0 {
		args = append(args, filter.Metadata)
		where += fmt.Sprintf(` AND metadata @> $%d`, len(args))
	}
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT id, document_id, content, metadata, embedding, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1, id
		LIMIT $%d`, v.table, where, len(args))

	rows, err := v.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable(fmt.Errorf("querying vectors: %w", err))
	}
	defer rows.Close()

	var matches []storage.VectorMatch
	for rows.Next() {
		rec, score, err := scanRecord(rows, true)
		if err != nil {
			return nil, err
		}
		matches = append(matches, storage.VectorMatch{Record: rec, Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable(err)
	}
	return matches, nil
}

// GetByID retrieves records by ID.
func (v *VectorStore) GetByID(ctx context.Context, collection string, ids ...core.ID) ([]*core.VectorRecord, error) {
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}
	rows, err := v.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, document_id, content, metadata, embedding
		FROM %s
		WHERE collection = $1 AND id = ANY($2)
		ORDER BY id`, v.table), collection, keys)
	if err != nil {
		return nil, storage.Unavailable(fmt.Errorf("getting vectors: %w", err))
	}
	defer rows.Close()

	var records []*core.VectorRecord
	for rows.Next() {
		rec, _, err := scanRecord(rows, false)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable(err)
	}
	return records, nil
}

// Count returns the number of records in a collection.
func (v *VectorStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := v.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s WHERE collection = $1`, v.table), collection).Scan(&n)
	if err != nil {
		return 0, storage.Unavailable(fmt.Errorf("counting vectors: %w", err))
	}
	return n, nil
}

// DeleteByDocument removes every record of a document from a collection.
func (v *VectorStore) DeleteByDocument(ctx context.Context, collection string, docID core.ID) error {
	_, err := v.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE collection = $1 AND document_id = $2`, v.table),
		collection, int64(docID))
	if err != nil {
		return storage.Unavailable(fmt.Errorf("deleting vectors: %w", err))
	}
	return nil
}

func scanRecord(rows pgx.Rows, withScore bool) (*core.VectorRecord, float64, error) {
	var (
		id, docID int64
		content   *string
		metadata  map[string]string
		embedding pgvector.Vector
		score     float64
	)
	dest := []any{&id, &docID, &content, &metadata, &embedding}
	if withScore {
		dest = append(dest, &score)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, 0, storage.Unavailable(fmt.Errorf("scanning vector: %w", err))
	}
	rec := &core.VectorRecord{
		Id:         core.ID(uint64(id)),
		DocumentId: core.ID(uint64(docID)),
		Vector:     embedding.Slice(),
		Metadata:   metadata,
	}
	if content != nil {
		rec.Text = *content
	}
	return rec, score, nil
}
