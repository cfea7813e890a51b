package badger

import (
	"context"
	"slices"
	"testing"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStores(t *testing.T) *Stores {
	t.Helper()
	stores, err := NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return stores
}

func testDocument(text, title string) *core.Document {
	return &core.Document{
		Id:              core.IDFromContent(text),
		Text:            text,
		Metadata:        map[string]string{core.MetadataTitle: title},
		ContentHash:     "hash-" + text,
		TitleNormalized: title,
	}
}

func TestDocumentRepository_AddAndGet(t *testing.T) {
	repo := newTestStores(t).Documents
	ctx := context.Background()

	doc := testDocument("Neural networks are used in deep learning.", "neural networks")
	require.NoError(t, repo.AddDocument(ctx, doc))
	assert.False(t, doc.InsertedAt.IsZero())

	got, err := repo.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, doc.Text, got.Text)
	assert.Equal(t, "neural networks", got.Title())

	id, err := repo.FindByContentHash(ctx, doc.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, doc.Id, id)

	_, err = repo.FindByContentHash(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = repo.GetDocument(ctx, 12345)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	count, err := repo.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDocumentRepository_DuplicateHash(t *testing.T) {
	repo := newTestStores(t).Documents
	ctx := context.Background()

	doc := testDocument("same", "a")
	require.NoError(t, repo.AddDocument(ctx, doc))

	again := testDocument("same", "b")
	again.Id = 99
	assert.ErrorIs(t, repo.AddDocument(ctx, again), storage.ErrDuplicateKey)
}

func TestDocumentRepository_FindByTitlePrefix(t *testing.T) {
	repo := newTestStores(t).Documents
	ctx := context.Background()

	require.NoError(t, repo.AddDocument(ctx, testDocument("one", "neural networks")))
	require.NoError(t, repo.AddDocument(ctx, testDocument("two", "neural nets")))
	require.NoError(t, repo.AddDocument(ctx, testDocument("three", "graph theory")))

	docs, err := repo.FindByTitlePrefix(ctx, "neur")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = repo.FindByTitlePrefix(ctx, "graph")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "three", docs[0].Text)

	docs, err = repo.FindByTitlePrefix(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDocumentRepository_UpdateReindexes(t *testing.T) {
	repo := newTestStores(t).Documents
	ctx := context.Background()

	doc := testDocument("text", "old title")
	require.NoError(t, repo.AddDocument(ctx, doc))

	doc.TitleNormalized = "new title"
	doc.MetadataHash = "meta"
	require.NoError(t, repo.UpdateDocument(ctx, doc))

	docs, err := repo.FindByTitlePrefix(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = repo.FindByTitlePrefix(ctx, "new")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "meta", docs[0].MetadataHash)

	missing := testDocument("nope", "x")
	assert.ErrorIs(t, repo.UpdateDocument(ctx, missing), storage.ErrNotFound)
}

func TestDocumentRepository_Chunks(t *testing.T) {
	repo := newTestStores(t).Documents
	ctx := context.Background()

	doc := testDocument("doc", "t")
	require.NoError(t, repo.AddDocument(ctx, doc))

	var chunks []*core.Chunk
	for _, seq := range []int{2, 0, 1} {
		chunks = append(chunks, &core.Chunk{
			Id:         core.ChunkID(doc.Id, seq),
			DocumentId: doc.Id,
			Text:       "chunk",
			Sequence:   seq,
		})
	}
	require.NoError(t, repo.AddChunks(ctx, chunks...))

	got, err := repo.GetDocumentChunks(ctx, doc.Id)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, c := range got {
		assert.Equal(t, i, c.Sequence)
	}

	byID, err := repo.GetChunks(ctx, core.ChunkID(doc.Id, 1), 777)
	require.NoError(t, err)
	assert.Len(t, byID, 1)

	require.NoError(t, repo.DeleteDocumentChunks(ctx, doc.Id))
	got, err = repo.GetDocumentChunks(ctx, doc.Id)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDocumentRepository_Delete(t *testing.T) {
	repo := newTestStores(t).Documents
	ctx := context.Background()

	doc := testDocument("doc", "title")
	require.NoError(t, repo.AddDocument(ctx, doc))
	require.NoError(t, repo.AddChunks(ctx, &core.Chunk{Id: core.ChunkID(doc.Id, 0), DocumentId: doc.Id}))

	require.NoError(t, repo.DeleteDocument(ctx, doc.Id))

	_, err := repo.GetDocument(ctx, doc.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.FindByContentHash(ctx, doc.ContentHash)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	chunks, err := repo.GetDocumentChunks(ctx, doc.Id)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	// The hash is free again.
	require.NoError(t, repo.AddDocument(ctx, testDocument("doc", "title")))
}

func TestDocumentRepository_DocumentIDs(t *testing.T) {
	repo := newTestStores(t).Documents
	ctx := context.Background()

	var want []core.ID
	for _, text := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
		doc := testDocument(text, text)
		require.NoError(t, repo.AddDocument(ctx, doc))
		want = append(want, doc.Id)
	}
	slices.Sort(want)

	all, err := repo.DocumentIDs(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, want, all)

	page, err := repo.DocumentIDs(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, want[:2], page)

	page, err = repo.DocumentIDs(ctx, page[1], 2)
	require.NoError(t, err)
	assert.Equal(t, want[2:4], page)

	page, err = repo.DocumentIDs(ctx, want[4], 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}
