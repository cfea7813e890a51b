package search

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/ai/mock"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/extraction"
	"github.com/poiesic/lattice/ingestion"
	"github.com/poiesic/lattice/storage"
	badgerstore "github.com/poiesic/lattice/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fixedEmbedder) EmbeddingModel() string { return "fixed" }

var queryVector = []float32{1, 0, 0}

type corpus struct {
	stores   *badgerstore.Stores
	neural   *core.Chunk
	backprop *core.Chunk
	concepts map[string]*core.Concept
}

func setupTestStores(t *testing.T) *badgerstore.Stores {
	stores, err := badgerstore.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return stores
}

// setupCorpus stores two chunks. The first is close to queryVector and
// mentions "neural networks" and "deep learning"; the second points away
// from it and mentions "backpropagation", which is two edges from
// "neural networks" (0.8 then 0.7).
func setupCorpus(t *testing.T) *corpus {
	ctx := context.Background()
	stores := setupTestStores(t)

	concepts, err := stores.Graph.UpsertConcepts(ctx,
		&core.Concept{Name: "neural networks"},
		&core.Concept{Name: "deep learning"},
		&core.Concept{Name: "backpropagation"},
	)
	require.NoError(t, err)
	byName := make(map[string]*core.Concept)
	for _, c := range concepts {
		byName[c.Name] = c
	}

	docID := core.IDFromContent("doc")
	neural := &core.Chunk{
		Id:         core.ChunkID(docID, 0),
		DocumentId: docID,
		Text:       "Neural networks learn layered representations.",
		Sequence:   0,
		Vector:     []float32{0.92, 0.39192, 0},
	}
	backprop := &core.Chunk{
		Id:         core.ChunkID(docID, 1),
		DocumentId: docID,
		Text:       "Backpropagation pushes gradients through each layer.",
		Sequence:   1,
		Vector:     []float32{-0.2, 0, 0.9798},
	}
	require.NoError(t, stores.Documents.AddChunks(ctx, neural, backprop))

	require.NoError(t, stores.Vectors.EnsureCollection(ctx, core.CollectionSchema{
		Name: DefaultCollection, Model: "fixed", Dimension: 3,
	}))
	for _, chunk := range []*core.Chunk{neural, backprop} {
		require.NoError(t, stores.Vectors.AddVectors(ctx, DefaultCollection, &core.VectorRecord{
			Id:         chunk.Id,
			DocumentId: chunk.DocumentId,
			Vector:     chunk.Vector,
			Text:       chunk.Text,
		}))
	}

	require.NoError(t, stores.Graph.AddMentions(ctx,
		&core.Mention{ChunkId: neural.Id, DocumentId: docID, ConceptId: byName["neural networks"].Id, Weight: 1},
		&core.Mention{ChunkId: neural.Id, DocumentId: docID, ConceptId: byName["deep learning"].Id, Weight: 1},
		&core.Mention{ChunkId: backprop.Id, DocumentId: docID, ConceptId: byName["backpropagation"].Id, Weight: 1},
	))
	require.NoError(t, stores.Graph.UpsertRelationships(ctx,
		core.NewRelationship(byName["neural networks"].Id, byName["deep learning"].Id, 0.8),
		core.NewRelationship(byName["deep learning"].Id, byName["backpropagation"].Id, 0.7),
	))

	return &corpus{stores: stores, neural: neural, backprop: backprop, concepts: byName}
}

func setupTestRetriever(t *testing.T, c *corpus, embedder ai.Embedder, opts ...Option) *Retriever {
	if embedder == nil {
		embedder = &fixedEmbedder{vector: queryVector}
	}
	r, err := NewRetriever(c.stores.Documents, c.stores.Graph, c.stores.Vectors, embedder, opts...)
	require.NoError(t, err)
	return r
}

func TestNewRetriever_RequiresCollaborators(t *testing.T) {
	stores := setupTestStores(t)
	embedder := &fixedEmbedder{vector: queryVector}

	tests := []struct {
		name    string
		build   func() (*Retriever, error)
		wantErr error
	}{
		{"documents", func() (*Retriever, error) {
			return NewRetriever(nil, stores.Graph, stores.Vectors, embedder)
		}, ErrDocumentRepositoryRequired},
		{"graph", func() (*Retriever, error) {
			return NewRetriever(stores.Documents, nil, stores.Vectors, embedder)
		}, ErrGraphStoreRequired},
		{"vectors", func() (*Retriever, error) {
			return NewRetriever(stores.Documents, stores.Graph, nil, embedder)
		}, ErrVectorStoreRequired},
		{"embedder", func() (*Retriever, error) {
			return NewRetriever(stores.Documents, stores.Graph, stores.Vectors, nil)
		}, ErrEmbedderRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tt.build()
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, r)
		})
	}
}

func TestNewRetriever_InvalidOptions(t *testing.T) {
	stores := setupTestStores(t)
	embedder := &fixedEmbedder{vector: queryVector}

	for name, opt := range map[string]Option{
		"collection":     WithCollection(" "),
		"hops":           WithMaxGraphHops(-1),
		"vector results": WithVectorResults(0),
		"min similarity": WithMinSimilarity(1.5),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewRetriever(stores.Documents, stores.Graph, stores.Vectors, embedder, opt)
			assert.ErrorIs(t, err, ErrInvalidOption)
		})
	}
}

func TestSearch_VectorThenGraph(t *testing.T) {
	c := setupCorpus(t)
	r := setupTestRetriever(t, c, nil)

	results, err := r.Search(context.Background(), "neural networks", 5, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	first := results[0]
	assert.Equal(t, c.neural.Id, first.ChunkId)
	assert.Equal(t, core.SourceVector, first.Source)
	assert.InDelta(t, 0.92, first.Score, 1e-4)
	assert.Equal(t, c.neural.Text, first.Text)
	assert.Empty(t, first.Path)

	second := results[1]
	assert.Equal(t, c.backprop.Id, second.ChunkId)
	assert.Equal(t, c.backprop.DocumentId, second.DocumentId)
	assert.Equal(t, core.SourceGraph, second.Source)
	assert.InDelta(t, 0.8*0.7/2, second.Score, 1e-9)
	assert.Equal(t, 2, second.Hops)
	assert.Equal(t, []string{"neural networks", "deep learning", "backpropagation"}, second.Path)
	assert.Equal(t, c.backprop.Text, second.Text)
}

func TestSearch_GraphScoreIgnoresMentionWeight(t *testing.T) {
	c := setupCorpus(t)
	require.NoError(t, c.stores.Graph.AddMentions(context.Background(), &core.Mention{
		ChunkId:    c.backprop.Id,
		DocumentId: c.backprop.DocumentId,
		ConceptId:  c.concepts["backpropagation"].Id,
		Weight:     0.5,
	}))
	r := setupTestRetriever(t, c, nil)

	results, err := r.Search(context.Background(), "neural networks", 5, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, core.SourceGraph, results[1].Source)
	assert.InDelta(t, 0.28, results[1].Score, 1e-9)
}

func TestSearch_HopBound(t *testing.T) {
	c := setupCorpus(t)
	r := setupTestRetriever(t, c, nil)

	results, err := r.Search(context.Background(), "neural networks", 5, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, c.neural.Id, results[0].ChunkId)

	results, err = r.Search(context.Background(), "neural networks", 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.SourceVector, results[0].Source)
}

func TestSearch_DefaultHops(t *testing.T) {
	c := setupCorpus(t)
	r := setupTestRetriever(t, c, nil, WithMaxGraphHops(1))

	results, err := r.Search(context.Background(), "neural networks", 5, -1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearch_FoundByBothKeepsHigherScore(t *testing.T) {
	c := setupCorpus(t)

	// The query vector is only weakly similar to the backpropagation chunk.
	r := setupTestRetriever(t, c, &fixedEmbedder{vector: []float32{0, 0.995, 0.1}})

	results, err := r.Search(context.Background(), "neural networks", 5, 2)
	require.NoError(t, err)

	var hits []*core.SearchResult
	for _, result := range results {
		if result.ChunkId == c.backprop.Id {
			hits = append(hits, result)
		}
	}
	require.Len(t, hits, 1)
	assert.Equal(t, core.SourceGraph, hits[0].Source)
	assert.InDelta(t, 0.8*0.7/2, hits[0].Score, 1e-9)
}

func TestSearch_MinSimilarity(t *testing.T) {
	c := setupCorpus(t)
	r := setupTestRetriever(t, c, nil, WithMinSimilarity(0.95))

	results, err := r.Search(context.Background(), "unrelated words", 5, 2)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_EmptyQuery(t *testing.T) {
	c := setupCorpus(t)
	r := setupTestRetriever(t, c, nil)

	_, err := r.Search(context.Background(), "   ", 5, 2)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearch_EmptyStore(t *testing.T) {
	stores := setupTestStores(t)
	r, err := NewRetriever(stores.Documents, stores.Graph, stores.Vectors, &fixedEmbedder{vector: queryVector})
	require.NoError(t, err)

	results, err := r.Search(context.Background(), "neural networks", 5, 2)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_EmbedderFailureFallsBackToGraph(t *testing.T) {
	c := setupCorpus(t)
	r := setupTestRetriever(t, c, &fixedEmbedder{err: errors.New("connection refused")})

	results, err := r.Search(context.Background(), "neural networks", 5, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, core.SourceGraph, result.Source)
	}
	// deep learning is one hop away and mentioned by the neural chunk.
	assert.Equal(t, c.neural.Id, results[0].ChunkId)
	assert.InDelta(t, 0.8, results[0].Score, 1e-9)
}

func TestSearch_DimensionMismatch(t *testing.T) {
	c := setupCorpus(t)
	r := setupTestRetriever(t, c, &fixedEmbedder{vector: []float32{1, 0}})

	_, err := r.Search(context.Background(), "neural networks", 5, 2)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestSearch_Cancelled(t *testing.T) {
	c := setupCorpus(t)
	r := setupTestRetriever(t, c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Search(ctx, "neural networks", 5, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingMonitor struct {
	stages   []string
	concepts []string
	vector   int
	graph    int
	results  int
}

func (m *recordingMonitor) Start(string) { m.stages = append(m.stages, "start") }
func (m *recordingMonitor) AfterVectorSearch(matches []storage.VectorMatch) {
	m.stages = append(m.stages, "vector")
}
func (m *recordingMonitor) AfterQueryConceptMatch(concepts []*core.Concept) {
	m.stages = append(m.stages, "concepts")
	for _, c := range concepts {
		m.concepts = append(m.concepts, c.Name)
	}
}
func (m *recordingMonitor) AfterTraversal([]core.Path)   { m.stages = append(m.stages, "traversal") }
func (m *recordingMonitor) VectorHit(*core.SearchResult) { m.vector++ }
func (m *recordingMonitor) GraphHit(*core.SearchResult)  { m.graph++ }
func (m *recordingMonitor) Finish(r []*core.SearchResult) {
	m.stages = append(m.stages, "finish")
	m.results = len(r)
}

func TestSearchWithMonitor(t *testing.T) {
	c := setupCorpus(t)
	r := setupTestRetriever(t, c, nil)
	monitor := &recordingMonitor{}

	results, err := r.SearchWithMonitor(context.Background(), "neural networks", 5, 2, monitor)
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "vector", "concepts", "traversal", "finish"}, monitor.stages)
	assert.Contains(t, monitor.concepts, "neural networks")
	assert.Equal(t, 1, monitor.vector)
	// backpropagation (2 hops) and deep learning (1 hop, neural chunk)
	assert.Equal(t, 2, monitor.graph)
	assert.Equal(t, len(results), monitor.results)
}

func TestSortResults_TieBreak(t *testing.T) {
	results := []*core.SearchResult{
		{ChunkId: 9, Score: 0.5, Source: core.SourceGraph},
		{ChunkId: 3, Score: 0.5, Source: core.SourceGraph},
		{ChunkId: 7, Score: 0.5, Source: core.SourceVector},
		{ChunkId: 1, Score: 0.9, Source: core.SourceGraph},
		{ChunkId: 8, Score: 0.5, Source: core.SourceVector},
	}
	sortResults(results)

	var order []core.ID
	for _, r := range results {
		order = append(order, r.ChunkId)
	}
	assert.Equal(t, []core.ID{1, 7, 8, 3, 9}, order)
}

func TestSearch_AfterIngestion(t *testing.T) {
	ctx := context.Background()
	stores := setupTestStores(t)
	embedder := mock.NewMockProvider("embed")
	extractor, err := extraction.New(nil)
	require.NoError(t, err)

	pipeline, err := ingestion.NewPipeline(stores.Documents, stores.Graph, stores.Vectors, embedder, extractor)
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)

	text := "Neural networks are trained with backpropagation."
	added, err := pipeline.AddDocument(ctx, text, map[string]any{"title": "Training"})
	require.NoError(t, err)
	_, err = pipeline.AddDocument(ctx, "Sourdough bread needs a long fermentation.", map[string]any{"title": "Baking"})
	require.NoError(t, err)

	r, err := NewRetriever(stores.Documents, stores.Graph, stores.Vectors, embedder)
	require.NoError(t, err)

	results, err := r.Search(ctx, text, 5, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, added.DocumentId, results[0].DocumentId)
	assert.Equal(t, core.SourceVector, results[0].Source)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}
