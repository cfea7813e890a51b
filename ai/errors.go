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

package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrTransient matches provider errors worth retrying: timeouts, rate
	// limits, overloaded or unreachable servers.
	ErrTransient = errors.New("transient provider error")

	// ErrPermanent matches provider errors that will not go away on retry:
	// authentication failures, unknown models, bad configuration.
	ErrPermanent = errors.New("permanent provider error")

	// ErrUnsupported is returned when a provider is asked for a capability it lacks.
	ErrUnsupported = errors.New("capability not supported by provider")

	// ErrNoProvider is returned when no registered provider offers a capability.
	ErrNoProvider = errors.New("no provider available")

	// ErrAllProvidersFailed is returned when every provider in the fallback order failed.
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrMalformedResponse marks a response that could not be interpreted.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrInvalidMaxAttempts is returned by RetryWithBackoff for a non-positive attempt count.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")
)

// ErrorKind separates retryable from non-retryable provider failures.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindPermanent
)

func (k ErrorKind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// ProviderError is a classified failure of a single provider call.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransient or ErrPermanent according to Kind.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrPermanent:
		return e.Kind == KindPermanent
	}
	return false
}

// Transient reports whether the failure may succeed on retry.
func (e *ProviderError) Transient() bool {
	return e.Kind == KindTransient
}

var permanentMarkers = []string{
	"401", "403", "unauthorized", "forbidden",
	"invalid api key", "incorrect api key", "invalid_api_key",
	"authentication", "permission denied",
	"not found", "no such model", "does not exist",
}

var transientMarkers = []string{
	"429", "rate limit", "too many requests",
	"500", "502", "503", "504", "overloaded", "unavailable",
	"timeout", "timed out", "deadline exceeded",
	"connection refused", "connection reset", "broken pipe", "eof",
}

// Classify wraps err in a ProviderError for the named provider. Errors that
// are already classified are returned unchanged. Unrecognized failures are
// treated as transient so they get the bounded retry before fallback.
func Classify(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	kind := classifyKind(err)
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

func classifyKind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrUnsupported):
		return KindPermanent
	case errors.Is(err, ErrTransient), errors.Is(err, ErrMalformedResponse):
		return KindTransient
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return KindPermanent
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return KindTransient
		}
	}
	return KindTransient
}

// IsPermanent reports whether err is a permanent provider failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
