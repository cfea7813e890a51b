package pgvector

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a PostgreSQL server with the pgvector extension available.
func newTestStore(t *testing.T) (*VectorStore, string) {
	t.Helper()
	url := os.Getenv("LATTICE_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("LATTICE_TEST_POSTGRES_URL not set")
	}
	store, err := New(context.Background(), url)
	require.NoError(t, err)

	collection := "test_" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		store.pool.Exec(ctx, "DELETE FROM lattice_vectors WHERE collection = $1", collection)
		store.pool.Exec(ctx, "DELETE FROM lattice_vectors_collections WHERE name = $1", collection)
		store.Close()
	})
	return store, collection
}

func TestWithTable_RejectsInvalidNames(t *testing.T) {
	v := &VectorStore{}
	assert.Error(t, WithTable("bad name")(v))
	assert.Error(t, WithTable("x;drop")(v))
	assert.NoError(t, WithTable("kb_vectors")(v))
	assert.Equal(t, "kb_vectors", v.table)
}

func TestVectorStore_RoundTrip(t *testing.T) {
	store, collection := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureCollection(ctx, core.CollectionSchema{Name: collection, Model: "m", Dimension: 2}))
	err := store.EnsureCollection(ctx, core.CollectionSchema{Name: collection, Model: "m", Dimension: 3})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	require.NoError(t, store.AddVectors(ctx, collection,
		&core.VectorRecord{Id: 1, DocumentId: 10, Vector: []float32{1, 0}, Text: "east", Metadata: map[string]string{"lang": "en"}},
		&core.VectorRecord{Id: 2, DocumentId: 20, Vector: []float32{0, 1}, Text: "north"},
	))

	count, err := store.Count(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	matches, err := store.QueryVectors(ctx, collection, []float32{1, 0.1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "east", matches[0].Record.Text)

	matches, err = store.QueryVectors(ctx, collection, []float32{1, 0}, 5, &storage.VectorFilter{DocumentIds: []core.ID{20}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, core.ID(2), matches[0].Record.Id)

	recs, err := store.GetByID(ctx, collection, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "en", recs[0].Metadata["lang"])

	require.NoError(t, store.DeleteByDocument(ctx, collection, 10))
	count, err = store.Count(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
