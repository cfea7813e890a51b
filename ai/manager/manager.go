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

// Package manager provides ranked fallback across several ai.Providers.
//
// A Manager is constructed once and passed to the components that need a
// Generator or an Embedder. Every call is bounded by a timeout, a shared
// concurrency limit and an optional rate limit. Transient failures are
// retried with exponential backoff before the next provider is tried;
// permanent failures move to the next provider at once and are logged only
// the first time per provider.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/lattice/ai"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout        = 60 * time.Second
	DefaultMaxAttempts    = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultMaxConcurrent  = 4
)

type ranked struct {
	provider ai.Provider
	priority int
	order    int
}

// Manager routes generation and embedding calls to registered providers in
// priority order. It is safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	providers []ranked

	timeout       time.Duration
	maxAttempts   int
	baseDelay     time.Duration
	maxConcurrent int64
	limiter       *rate.Limiter
	sem           *semaphore.Weighted
	logger        *slog.Logger

	// provider names whose permanent failure was already logged
	reported sync.Map
}

var (
	_ ai.Generator = (*Manager)(nil)
	_ ai.Embedder  = (*Manager)(nil)
)

// Option configures a Manager.
type Option func(*Manager) error

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		m.timeout = d
		return nil
	}
}

// WithMaxAttempts sets how many times a transient failure is tried per provider.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return ai.ErrInvalidMaxAttempts
		}
		m.maxAttempts = n
		return nil
	}
}

// WithRetryBaseDelay sets the first backoff delay; it doubles on each retry.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(m *Manager) error {
		m.baseDelay = d
		return nil
	}
}

// WithMaxConcurrent caps in-flight provider calls across all callers.
func WithMaxConcurrent(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return fmt.Errorf("max concurrent must be positive, got %d", n)
		}
		m.maxConcurrent = int64(n)
		return nil
	}
}

// WithRateLimit limits provider calls to rps per second with the given burst.
// Zero rps disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(m *Manager) error {
		if rps <= 0 {
			m.limiter = nil
			return nil
		}
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}

// New creates a Manager with no providers.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		timeout:       DefaultTimeout,
		maxAttempts:   DefaultMaxAttempts,
		baseDelay:     DefaultRetryBaseDelay,
		maxConcurrent: DefaultMaxConcurrent,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.sem = semaphore.NewWeighted(m.maxConcurrent)
	m.logger = m.logger.With("component", "llm-manager")
	return m, nil
}

// Register adds a provider. Lower priority values are tried first; equal
// priorities keep registration order.
func (m *Manager) Register(p ai.Provider, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, ranked{provider: p, priority: priority, order: len(m.providers)})
	slices.SortStableFunc(m.providers, func(a, b ranked) int {
		if a.priority != b.priority {
			return a.priority - b.priority
		}
		return a.order - b.order
	})
	m.logger.Info("registered provider", "provider", p.Name(), "priority", priority, "capabilities", p.Capabilities().String())
}

// Providers returns the providers offering caps, in fallback order.
func (m *Manager) Providers(caps ai.Capability) []ai.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ai.Provider
	for _, r := range m.providers {
		if r.provider.Capabilities().Has(caps) {
			out = append(out, r.provider)
		}
	}
	return out
}

// EmbeddingModel returns the model of the primary embedding provider, or ""
// if there is none.
func (m *Manager) EmbeddingModel() string {
	providers := m.Providers(ai.CapabilityEmbedding)
	if len(providers) == 0 {
		return ""
	}
	return providers[0].EmbeddingModel()
}

// Generate runs prompt on the first provider that succeeds.
func (m *Manager) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	providers := m.Providers(ai.CapabilityGeneration)
	if len(providers) == 0 {
		return "", fmt.Errorf("%w: generation", ai.ErrNoProvider)
	}

	var errs []error
	for _, p := range providers {
		var out string
		err := m.retry(ctx, func() error {
			var err error
			out, err = invoke(ctx, m, p.Name(), func(ctx context.Context) (string, error) {
				return p.Generate(ctx, prompt, opts)
			})
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		m.report(p.Name(), err)
		errs = append(errs, err)
	}
	return "", fmt.Errorf("%w: %w", ai.ErrAllProvidersFailed, errors.Join(errs...))
}

// Embed embeds texts with the first embedding provider that succeeds. Only
// providers using the same model as the primary are eligible, since vectors
// from different models cannot share a collection.
func (m *Manager) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	providers := m.Providers(ai.CapabilityEmbedding)
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: embedding", ai.ErrNoProvider)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	model := providers[0].EmbeddingModel()
	var errs []error
	for _, p := range providers {
		if p.EmbeddingModel() != model {
			m.logger.Debug("skipping embedding fallback with different model",
				"provider", p.Name(), "model", p.EmbeddingModel(), "primary_model", model)
			continue
		}
		var vectors [][]float32
		err := m.retry(ctx, func() error {
			var err error
			vectors, err = invoke(ctx, m, p.Name(), func(ctx context.Context) ([][]float32, error) {
				return p.Embed(ctx, texts)
			})
			return err
		})
		if err == nil {
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.report(p.Name(), err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ai.ErrAllProvidersFailed, errors.Join(errs...))
}

// Close closes every registered provider.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, r := range m.providers {
		if err := r.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) retry(ctx context.Context, op func() error) error {
	return ai.RetryWithBackoff(ctx, op, m.maxAttempts, m.baseDelay, func(err error) bool {
		return !ai.IsPermanent(err)
	})
}

func (m *Manager) report(provider string, err error) {
	if ai.IsPermanent(err) {
		if _, seen := m.reported.LoadOrStore(provider, struct{}{}); !seen {
			m.logger.Error("provider failed permanently, falling back", "provider", provider, "err", err)
		} else {
			m.logger.Debug("skipping failed provider", "provider", provider)
		}
		return
	}
	m.logger.Warn("provider failed after retries, falling back", "provider", provider, "attempts", m.maxAttempts, "err", err)
}

type outcome[T any] struct {
	value T
	err   error
}

// invoke runs fn under the concurrency slot, the rate limiter and the call
// timeout. A call that overruns the timeout releases its slot even if fn
// ignores its context.
func invoke[T any](ctx context.Context, m *Manager, provider string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer m.sem.Release(1)

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, ai.Classify(provider, fmt.Errorf("%w: %w", ai.ErrTransient, err))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return zero, ai.Classify(provider, res.err)
		}
		return res.value, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, ai.Classify(provider, fmt.Errorf("call timed out after %s: %w", m.timeout, callCtx.Err()))
	}
}
