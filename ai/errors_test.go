package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline", fmt.Errorf("calling model: %w", context.DeadlineExceeded), KindTransient},
		{"rate limit", errors.New("API returned unexpected status code: 429: Rate limit reached"), KindTransient},
		{"service unavailable", errors.New("status code: 503"), KindTransient},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, KindTransient},
		{"malformed", fmt.Errorf("%w: not json", ErrMalformedResponse), KindTransient},
		{"unauthorized", errors.New("API returned unexpected status code: 401: Incorrect API key provided"), KindPermanent},
		{"forbidden", errors.New("403 Forbidden"), KindPermanent},
		{"unknown model", errors.New(`model "nope" not found, try pulling it first`), KindPermanent},
		{"no such model", errors.New("no such model: nope"), KindPermanent},
		{"unsupported", ErrUnsupported, KindPermanent},
		{"unknown", errors.New("something odd"), KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Classify("p1", tt.err)
			require.NotNil(t, pe)
			assert.Equal(t, tt.want, pe.Kind)
			assert.Equal(t, "p1", pe.Provider)
			assert.ErrorIs(t, pe, tt.err)
		})
	}
}

func TestClassify_KeepsExistingClassification(t *testing.T) {
	orig := &ProviderError{Provider: "first", Kind: KindPermanent, Err: errors.New("x")}
	wrapped := fmt.Errorf("context: %w", orig)
	assert.Same(t, orig, Classify("second", wrapped))
	assert.Nil(t, Classify("p", nil))
}

func TestProviderError_Is(t *testing.T) {
	transient := &ProviderError{Provider: "p", Kind: KindTransient, Err: errors.New("slow")}
	permanent := &ProviderError{Provider: "p", Kind: KindPermanent, Err: errors.New("denied")}

	assert.ErrorIs(t, transient, ErrTransient)
	assert.NotErrorIs(t, transient, ErrPermanent)
	assert.ErrorIs(t, permanent, ErrPermanent)
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", permanent)))
	assert.True(t, transient.Transient())
	assert.Contains(t, permanent.Error(), "permanent")
}

func TestCapability(t *testing.T) {
	both := CapabilityGeneration | CapabilityEmbedding
	assert.True(t, both.Has(CapabilityEmbedding))
	assert.False(t, CapabilityGeneration.Has(CapabilityEmbedding))
	assert.Equal(t, "generation|embedding", both.String())
	assert.Equal(t, "none", Capability(0).String())
}
