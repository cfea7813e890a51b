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

package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/poiesic/lattice/ai"
)

// DefaultDimension is the vector size produced by the default embedder.
const DefaultDimension = 64

// MockProvider is a test double for ai.Provider.
type MockProvider struct {
	name         string
	capabilities ai.Capability
	dimension    int
	model        string

	// GenerateFunc is called by Generate if set. Otherwise Generate returns Response.
	GenerateFunc func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error)

	// EmbedFunc is called by Embed if set. Otherwise texts are embedded with HashVector.
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

	// Response is the default generation output.
	Response string

	mu            sync.Mutex
	err           error
	delay         time.Duration
	generateCalls int
	embedCalls    int
}

var _ ai.Provider = (*MockProvider)(nil)

// NewMockProvider creates a provider with both capabilities.
// Returns the concrete type so tests can inject behavior and read call counts.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:         name,
		capabilities: ai.CapabilityGeneration | ai.CapabilityEmbedding,
		dimension:    DefaultDimension,
		model:        "mock-embedding",
		Response:     "{}",
	}
}

// WithCapabilities restricts what the provider offers.
func (m *MockProvider) WithCapabilities(caps ai.Capability) *MockProvider {
	m.capabilities = caps
	return m
}

// WithDimension sets the default vector size.
func (m *MockProvider) WithDimension(dim int) *MockProvider {
	m.dimension = dim
	return m
}

// WithEmbeddingModel sets the reported embedding model.
func (m *MockProvider) WithEmbeddingModel(model string) *MockProvider {
	m.model = model
	return m
}

// FailWith makes every following call return err. Pass nil to recover.
func (m *MockProvider) FailWith(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay makes every call wait d, or until the context is done.
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

func (m *MockProvider) Name() string                { return m.name }
func (m *MockProvider) Capabilities() ai.Capability { return m.capabilities }
func (m *MockProvider) EmbeddingModel() string      { return m.model }
func (m *MockProvider) Close() error                { return nil }

// Generate returns the injected response or error.
func (m *MockProvider) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.generateCalls++
	m.mu.Unlock()

	if !m.capabilities.Has(ai.CapabilityGeneration) {
		return "", ai.Classify(m.name, ai.ErrUnsupported)
	}
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, opts)
	}
	return m.Response, nil
}

// Embed returns deterministic vectors, or the injected error.
func (m *MockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.embedCalls++
	m.mu.Unlock()

	if !m.capabilities.Has(ai.CapabilityEmbedding) {
		return nil, ai.Classify(m.name, ai.ErrUnsupported)
	}
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = HashVector(text, m.dimension)
	}
	return vectors, nil
}

func (m *MockProvider) wait(ctx context.Context) error {
	m.mu.Lock()
	err, delay := m.err, m.delay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ai.Classify(m.name, ctx.Err())
		case <-timer.C:
		}
	}
	if err != nil {
		return ai.Classify(m.name, err)
	}
	return nil
}

// GenerateCalls returns the number of Generate calls.
func (m *MockProvider) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

// EmbedCalls returns the number of Embed calls.
func (m *MockProvider) EmbedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedCalls
}

// Reset clears call counts, injected functions and failures.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateCalls = 0
	m.embedCalls = 0
	m.err = nil
	m.delay = 0
	m.GenerateFunc = nil
	m.EmbedFunc = nil
}

// HashVector builds a unit vector by hashing each lowercased word of text
// into one of dim buckets. Texts sharing words get a positive cosine
// similarity; identical texts get 1.
func HashVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vector[h.Sum32()%uint32(dim)]++
	}
	if len(words) == 0 {
		vector[0] = 1
	}

	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	norm := float32(1 / math.Sqrt(sumSquares))
	for i := range vector {
		vector[i] *= norm
	}
	return vector
}
