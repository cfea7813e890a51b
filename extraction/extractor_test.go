package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/poiesic/lattice/ai/mock"
	"github.com/poiesic/lattice/chunking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStrategy struct {
	kind  StrategyKind
	calls int
}

func (f *failingStrategy) Kind() StrategyKind { return f.kind }

func (f *failingStrategy) Extract(ctx context.Context, req Request) ([]Candidate, error) {
	f.calls++
	return nil, errors.New("strategy broke")
}

func TestNew_DefaultChain(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, []StrategyKind{StrategyNLP, StrategyRules}, e.Strategies())

	e, err = New(mock.NewMockProvider("llm"))
	require.NoError(t, err)
	assert.Equal(t, []StrategyKind{StrategyLLM, StrategyNLP, StrategyRules}, e.Strategies())

	_, err = New(nil, WithStrategies())
	assert.Error(t, err)
	_, err = New(nil, WithMaxConcepts(0))
	assert.Error(t, err)
}

func TestExtractor_UsesLLMFirst(t *testing.T) {
	p := mock.NewMockProvider("llm")
	p.Response = `{"concepts": [{"name": "neural network", "category": "algorithm", "confidence": 0.8}, {"name": "deep learning", "category": "field_of_study", "confidence": 0.4}]}`
	e, err := New(p)
	require.NoError(t, err)

	res, err := e.Extract(context.Background(), "Neural networks are used in deep learning.", true, "")
	require.NoError(t, err)
	assert.Equal(t, StrategyLLM, res.Strategy)
	require.Len(t, res.Concepts, 2)
	assert.Equal(t, 1.0, res.Concepts[0].Weight, "weights are relative to the chunk")
	assert.Equal(t, 0.5, res.Concepts[1].Weight)
}

func TestExtractor_LLMTimeoutFallsBackToNLP(t *testing.T) {
	p := mock.NewMockProvider("llm").FailWith(context.DeadlineExceeded)
	e, err := New(p)
	require.NoError(t, err)

	res, err := e.Extract(context.Background(), "Neural networks are used in deep learning.", true, "")
	require.NoError(t, err)
	assert.Equal(t, StrategyNLP, res.Strategy)
	assert.Equal(t, []string{"deep learning", "neural networks"}, names(res.Concepts))
}

func TestExtractor_FallsThroughToRules(t *testing.T) {
	llm := &failingStrategy{kind: StrategyLLM}
	nlp := &failingStrategy{kind: StrategyNLP}
	e, err := New(nil, WithStrategies(llm, nlp, NewRuleStrategy(nil)))
	require.NoError(t, err)

	res, err := e.Extract(context.Background(), "Backpropagation trains neural networks.", true, "")
	require.NoError(t, err)
	assert.Equal(t, StrategyRules, res.Strategy)
	assert.ElementsMatch(t, []string{"backpropagation", "neural network"}, names(res.Concepts))
	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, 1, nlp.calls)
}

func TestExtractor_AllStrategiesFail(t *testing.T) {
	e, err := New(nil, WithStrategies(&failingStrategy{kind: StrategyLLM}, &failingStrategy{kind: StrategyNLP}))
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), "text", true, "")
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Contains(t, err.Error(), "llm: strategy broke")
}

func TestExtractor_CancelledContext(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Extract(ctx, "Neural networks are used in deep learning.", true, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractor_MaxConcepts(t *testing.T) {
	e, err := New(nil, WithMaxConcepts(2))
	require.NoError(t, err)

	res, err := e.Extract(context.Background(), "Alpha beta. Gamma delta. Epsilon zeta. Eta theta.", true, "")
	require.NoError(t, err)
	assert.Len(t, res.Concepts, 2)
}

func TestExtractor_WholeDocumentCoversEveryChunk(t *testing.T) {
	chunker, err := chunking.New(60, 0)
	require.NoError(t, err)
	e, err := New(nil, WithChunker(chunker))
	require.NoError(t, err)

	text := strings.Repeat("Graph databases are fast. ", 10) + "Quantum computing is new."
	res, err := e.Extract(context.Background(), text, false, "")
	require.NoError(t, err)
	assert.Equal(t, StrategyNLP, res.Strategy)
	assert.Contains(t, names(res.Concepts), "quantum computing")
	assert.Equal(t, "graph databases", res.Concepts[0].Name, "repeated concept is merged across chunks")
}

func TestMerge(t *testing.T) {
	got := Merge(
		[]Candidate{{Name: "Graph", Category: "abstract_concept", Weight: 1}, {Name: "vector", Weight: 0.5}},
		[]Candidate{{Name: "graph", Category: "technology", Weight: 0.5}, {Name: "tensor", Weight: 1}},
	)
	require.Len(t, got, 3)
	assert.Equal(t, "Graph", got[0].Name)
	assert.Equal(t, 1.0, got[0].Weight)
	assert.Equal(t, "abstract_concept", got[0].Category)
	assert.InDelta(t, 1.0/1.5, got[1].Weight, 1e-9)
	assert.Equal(t, "tensor", got[1].Name)
	assert.InDelta(t, 0.5/1.5, got[2].Weight, 1e-9)

	assert.Empty(t, Merge())
}

func TestExtractor_DomainStopWords(t *testing.T) {
	p := mock.NewMockProvider("llm")
	p.Response = `{"concepts": [{"name": "court", "category": "organization", "confidence": 0.9}, {"name": "tort", "category": "legal_concept", "confidence": 0.6}]}`
	e, err := New(p, WithValidator(NewValidator(0, 0).WithStopWords("law", "court")))
	require.NoError(t, err)

	res, err := e.Extract(context.Background(), "The court ruled on the tort.", true, "law")
	require.NoError(t, err)
	assert.Equal(t, []string{"tort"}, names(res.Concepts))

	res, err = e.Extract(context.Background(), "The court ruled on the tort.", true, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"court", "tort"}, names(res.Concepts))
}
