package manager

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithRetryBaseDelay(time.Millisecond)}, opts...)
	m, err := New(opts...)
	require.NoError(t, err)
	return m
}

func TestManager_PriorityOrder(t *testing.T) {
	m := newTestManager(t)
	secondary := mock.NewMockProvider("secondary")
	secondary.Response = "from secondary"
	primary := mock.NewMockProvider("primary")
	primary.Response = "from primary"

	m.Register(secondary, 2)
	m.Register(primary, 1)

	out, err := m.Generate(context.Background(), "q", ai.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from primary", out)
	assert.Zero(t, secondary.GenerateCalls())

	names := []string{}
	for _, p := range m.Providers(ai.CapabilityGeneration) {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"primary", "secondary"}, names)
}

func TestManager_PermanentFailureSkipsRetry(t *testing.T) {
	m := newTestManager(t)
	primary := mock.NewMockProvider("primary").FailWith(errors.New("401 unauthorized"))
	secondary := mock.NewMockProvider("secondary")
	secondary.Response = "ok"
	m.Register(primary, 1)
	m.Register(secondary, 2)

	out, err := m.Generate(context.Background(), "q", ai.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, primary.GenerateCalls(), "permanent errors are not retried")
}

func TestManager_TransientFailureRetriesThenFallsBack(t *testing.T) {
	m := newTestManager(t, WithMaxAttempts(3))
	primary := mock.NewMockProvider("primary").FailWith(errors.New("429 rate limit"))
	secondary := mock.NewMockProvider("secondary")
	m.Register(primary, 1)
	m.Register(secondary, 2)

	_, err := m.Generate(context.Background(), "q", ai.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, primary.GenerateCalls())
	assert.Equal(t, 1, secondary.GenerateCalls())
}

func TestManager_TransientRecovery(t *testing.T) {
	m := newTestManager(t)
	p := mock.NewMockProvider("flaky")
	var calls atomic.Int32
	p.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		if calls.Add(1) < 2 {
			return "", errors.New("503 overloaded")
		}
		return "recovered", nil
	}
	m.Register(p, 1)

	out, err := m.Generate(context.Background(), "q", ai.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
}

func TestManager_AllProvidersFail(t *testing.T) {
	m := newTestManager(t, WithMaxAttempts(1))
	m.Register(mock.NewMockProvider("a").FailWith(errors.New("403 forbidden")), 1)
	m.Register(mock.NewMockProvider("b").FailWith(errors.New("timeout")), 2)

	_, err := m.Generate(context.Background(), "q", ai.GenerateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrAllProvidersFailed)
	assert.ErrorIs(t, err, ai.ErrPermanent)
	assert.ErrorIs(t, err, ai.ErrTransient)
	assert.Contains(t, err.Error(), "provider a")
	assert.Contains(t, err.Error(), "provider b")
}

func TestManager_NoProvider(t *testing.T) {
	m := newTestManager(t)
	m.Register(mock.NewMockProvider("gen").WithCapabilities(ai.CapabilityGeneration), 1)

	_, err := m.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ai.ErrNoProvider)

	empty := newTestManager(t)
	_, err = empty.Generate(context.Background(), "q", ai.GenerateOptions{})
	assert.ErrorIs(t, err, ai.ErrNoProvider)
	assert.Equal(t, "", empty.EmbeddingModel())
}

func TestManager_TimeoutFreesSlot(t *testing.T) {
	m := newTestManager(t, WithTimeout(20*time.Millisecond), WithMaxAttempts(1), WithMaxConcurrent(1))
	slow := mock.NewMockProvider("slow")
	slow.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		// ignores ctx on purpose
		time.Sleep(500 * time.Millisecond)
		return "late", nil
	}
	fast := mock.NewMockProvider("fast")
	fast.Response = "fast"
	m.Register(slow, 1)
	m.Register(fast, 2)

	start := time.Now()
	out, err := m.Generate(context.Background(), "q", ai.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fast", out)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestManager_ConcurrencyLimit(t *testing.T) {
	m := newTestManager(t, WithMaxConcurrent(2))
	p := mock.NewMockProvider("p")
	var inFlight, peak atomic.Int32
	p.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	}
	m.Register(p, 1)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Generate(context.Background(), "q", ai.GenerateOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 10, p.GenerateCalls())
}

func TestManager_PermanentFailureLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	m := newTestManager(t, WithLogger(logger))
	m.Register(mock.NewMockProvider("broken").FailWith(errors.New("invalid api key")), 1)
	m.Register(mock.NewMockProvider("backup"), 2)

	for i := 0; i < 3; i++ {
		_, err := m.Generate(context.Background(), "q", ai.GenerateOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "failed permanently"))
}

func TestManager_EmbedFallbackRequiresSameModel(t *testing.T) {
	m := newTestManager(t, WithMaxAttempts(1))
	primary := mock.NewMockProvider("primary").WithEmbeddingModel("model-a").FailWith(errors.New("connection refused"))
	other := mock.NewMockProvider("other").WithEmbeddingModel("model-b")
	replica := mock.NewMockProvider("replica").WithEmbeddingModel("model-a")
	m.Register(primary, 1)
	m.Register(other, 2)
	m.Register(replica, 3)

	assert.Equal(t, "model-a", m.EmbeddingModel())

	vectors, err := m.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Zero(t, other.EmbedCalls())
	assert.Equal(t, 1, replica.EmbedCalls())

	vectors, err = m.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestManager_CancelledContext(t *testing.T) {
	m := newTestManager(t)
	m.Register(mock.NewMockProvider("p"), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, "q", ai.GenerateOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_RateLimit(t *testing.T) {
	m := newTestManager(t, WithRateLimit(50, 1))
	p := mock.NewMockProvider("p")
	m.Register(p, 1)

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := m.Generate(context.Background(), "q", ai.GenerateOptions{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(WithMaxAttempts(0))
	assert.ErrorIs(t, err, ai.ErrInvalidMaxAttempts)
	_, err = New(WithTimeout(0))
	assert.Error(t, err)
	_, err = New(WithMaxConcurrent(-1))
	assert.Error(t, err)
}
