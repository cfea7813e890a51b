package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	content  string
	err      error
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, opt := range options {
		opt(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.content == "" {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.content}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type fakeEmbedder struct {
	dim int
	err error
}

func (e *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, e.dim), e.err
}

func TestLangchainProvider_Generate(t *testing.T) {
	model := &fakeModel{content: "  {\"ok\": true}\n"}
	p := NewLangchainProvider("local", CapabilityGeneration, model, nil, "", nil)

	out, err := p.Generate(context.Background(), "hello", GenerateOptions{System: "be terse", JSONMode: true, MaxTokens: 50})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.True(t, model.opts.JSONMode)
	assert.Equal(t, 50, model.opts.MaxTokens)
}

func TestLangchainProvider_GenerateErrors(t *testing.T) {
	model := &fakeModel{err: errors.New("API returned unexpected status code: 401")}
	p := NewLangchainProvider("remote", CapabilityGeneration, model, nil, "", nil)
	_, err := p.Generate(context.Background(), "x", GenerateOptions{})
	assert.ErrorIs(t, err, ErrPermanent)

	empty := NewLangchainProvider("remote", CapabilityGeneration, &fakeModel{}, nil, "", nil)
	_, err = empty.Generate(context.Background(), "x", GenerateOptions{})
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestLangchainProvider_Embed(t *testing.T) {
	p := NewLangchainProvider("emb", CapabilityGeneration|CapabilityEmbedding, nil, &fakeEmbedder{dim: 3}, "nomic", nil)
	assert.Equal(t, CapabilityEmbedding, p.Capabilities(), "generation dropped without a model")
	assert.Equal(t, "nomic", p.EmbeddingModel())

	vectors, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 3)

	vectors, err = p.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)

	_, err = p.Generate(context.Background(), "x", GenerateOptions{})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, err, ErrPermanent)
}
