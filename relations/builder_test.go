package relations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/ai/mock"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/extraction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "Neural networks use backpropagation. Neural networks and backpropagation power deep learning. Deep learning is popular."

func candidates(names ...string) []extraction.Candidate {
	out := make([]extraction.Candidate, len(names))
	for i, n := range names {
		out[i] = extraction.Candidate{Name: n, Weight: 1}
	}
	return out
}

func find(t *testing.T, rs []Relation, a, b string) Relation {
	t.Helper()
	for _, r := range rs {
		if (r.Source == a && r.Target == b) || (r.Source == b && r.Target == a) {
			return r
		}
	}
	t.Fatalf("no relation between %q and %q", a, b)
	return Relation{}
}

func TestBuild_CoOccurrence(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	rs, err := b.Build(context.Background(), candidates("neural network", "backpropagation", "deep learning"), sample)
	require.NoError(t, err)
	require.Len(t, rs, 3)

	nb := find(t, rs, "neural network", "backpropagation")
	assert.Equal(t, 2, nb.CoOccurrences)
	assert.InDelta(t, 2.0/3.0, nb.Strength, 1e-9)
	assert.Equal(t, nb, rs[0], "strongest relation first")

	nd := find(t, rs, "neural network", "deep learning")
	assert.Equal(t, 1, nd.CoOccurrences)
	assert.InDelta(t, 1.0/3.0, nd.Strength, 1e-9)
	assert.False(t, nd.Scored)
}

func TestBuild_StrengthSaturates(t *testing.T) {
	b, err := New(WithNormalization(2))
	require.NoError(t, err)

	text := strings.Repeat("Graphs and vectors. ", 5)
	rs, err := b.Build(context.Background(), candidates("graph", "vector"), text)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, 5, rs[0].CoOccurrences)
	assert.Equal(t, 1.0, rs[0].Strength)
}

func TestBuild_PairsWithoutSharedSentence(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	rs, err := b.Build(context.Background(), candidates("tensor", "quantum"), "Tensors are arrays. Quantum is physics.")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, 1, rs[0].CoOccurrences)
}

func TestBuild_DegenerateInput(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	rs, err := b.Build(context.Background(), nil, sample)
	require.NoError(t, err)
	assert.Empty(t, rs)

	rs, err = b.Build(context.Background(), candidates("Neural Networks", "neural  networks"), sample)
	require.NoError(t, err)
	assert.Empty(t, rs, "casing variants are one concept")
}

func TestBuild_MaxRelationships(t *testing.T) {
	b, err := New(WithMaxRelationships(2))
	require.NoError(t, err)

	rs, err := b.Build(context.Background(), candidates("a1", "b2", "c3", "d4"), "a1 b2 c3 d4")
	require.NoError(t, err)
	assert.Len(t, rs, 2)
}

func TestBuild_StrengthAlwaysBounded(t *testing.T) {
	gen := mock.NewMockProvider("scorer")
	gen.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		return `{"relationships": [{"source": "graph", "target": "vector", "strength": 7.5}, {"source": "graph", "target": "index", "strength": -2}]}`, nil
	}
	b, err := New(WithGenerator(gen), WithNormalization(0.1))
	require.NoError(t, err)

	rs, err := b.Build(context.Background(), candidates("graph", "vector", "index"), "graph vector index. graph vector index.")
	require.NoError(t, err)
	for _, r := range rs {
		assert.GreaterOrEqual(t, r.Strength, 0.0)
		assert.LessOrEqual(t, r.Strength, 1.0)
		rel := r.Relationship()
		assert.NoError(t, core.ValidateRelationship(rel))
	}
}

func TestBuild_CombinesModelScore(t *testing.T) {
	gen := mock.NewMockProvider("scorer")
	gen.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		assert.True(t, opts.JSONMode)
		assert.Contains(t, prompt, "- neural network | backpropagation")
		return "```json\n" + `{"relationships": [{"source": "Backpropagation", "target": "Neural Network", "strength": 0.9}]}` + "\n```", nil
	}
	b, err := New(WithGenerator(gen))
	require.NoError(t, err)

	rs, err := b.Build(context.Background(), candidates("neural network", "backpropagation", "deep learning"), sample)
	require.NoError(t, err)

	nb := find(t, rs, "neural network", "backpropagation")
	assert.True(t, nb.Scored)
	assert.Equal(t, 0.9, nb.Semantic)
	assert.InDelta(t, 0.5*(2.0/3.0)+0.5*0.9, nb.Strength, 1e-9)

	nd := find(t, rs, "neural network", "deep learning")
	assert.False(t, nd.Scored, "unanswered pairs keep co-occurrence strength")
	assert.InDelta(t, 1.0/3.0, nd.Strength, 1e-9)
}

func TestBuild_ModelFailureFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{"provider error", "", fmt.Errorf("%w: timed out", ai.ErrAllProvidersFailed)},
		{"malformed", "no json here", nil},
		{"no usable pairs", `{"relationships": [{"source": "x", "target": "y", "strength": 1}]}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := mock.NewMockProvider("scorer")
			gen.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
				return tt.response, tt.err
			}
			b, err := New(WithGenerator(gen))
			require.NoError(t, err)

			rs, err := b.Build(context.Background(), candidates("neural network", "backpropagation"), sample)
			require.NoError(t, err)
			require.Len(t, rs, 1)
			assert.False(t, rs[0].Scored)
			assert.InDelta(t, 2.0/3.0, rs[0].Strength, 1e-9)
		})
	}
}

func TestBuild_CancelledContext(t *testing.T) {
	gen := mock.NewMockProvider("scorer")
	ctx, cancel := context.WithCancel(context.Background())
	gen.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		cancel()
		return "", errors.New("interrupted")
	}
	b, err := New(WithGenerator(gen))
	require.NoError(t, err)

	_, err = b.Build(ctx, candidates("graph", "vector"), "graph vector")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRelationship_SameEdgeEitherOrder(t *testing.T) {
	a := Relation{Source: "Graph", Target: "vector", Strength: 0.4}.Relationship()
	b := Relation{Source: "vector", Target: "graph", Strength: 0.4}.Relationship()
	assert.Equal(t, a.From, b.From)
	assert.Equal(t, a.To, b.To)
	assert.Equal(t, core.RelationRelatedTo, a.Type)
}

func TestNew_InvalidOptions(t *testing.T) {
	for _, opt := range []Option{WithNormalization(0), WithLLMWeight(1.5), WithMaxRelationships(0)} {
		_, err := New(opt)
		assert.Error(t, err)
	}
}
