package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/lattice/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashVector(t *testing.T) {
	a := HashVector("Neural networks learn", 32)
	b := HashVector("neural networks, learn!", 32)
	c := HashVector("tax law", 32)

	assert.Len(t, a, 32)
	assert.InDelta(t, 1.0, cosine(a, a), 1e-6)
	assert.InDelta(t, 1.0, cosine(a, b), 1e-6, "case and punctuation ignored")
	assert.Less(t, cosine(a, c), cosine(a, b))
	assert.InDelta(t, 1.0, cosine(HashVector("", 8), HashVector("", 8)), 1e-6)
}

func TestMockProvider_Defaults(t *testing.T) {
	p := NewMockProvider("m")
	ctx := context.Background()

	out, err := p.Generate(ctx, "hi", ai.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)

	vectors, err := p.Embed(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Len(t, vectors[0], DefaultDimension)

	assert.Equal(t, 1, p.GenerateCalls())
	assert.Equal(t, 1, p.EmbedCalls())
}

func TestMockProvider_FailureInjection(t *testing.T) {
	p := NewMockProvider("m").FailWith(errors.New("401 unauthorized"))
	_, err := p.Generate(context.Background(), "hi", ai.GenerateOptions{})
	assert.True(t, ai.IsPermanent(err))

	p.FailWith(nil)
	_, err = p.Generate(context.Background(), "hi", ai.GenerateOptions{})
	assert.NoError(t, err)

	p.WithDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ai.ErrTransient)

	p.Reset()
	assert.Zero(t, p.GenerateCalls())
}

func TestMockProvider_Capabilities(t *testing.T) {
	p := NewMockProvider("gen-only").WithCapabilities(ai.CapabilityGeneration)
	_, err := p.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ai.ErrUnsupported)
}
