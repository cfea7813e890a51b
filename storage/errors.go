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

package storage

import (
	"context"
	"errors"

	"github.com/poiesic/lattice/core"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey indicates a duplicate key violation.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery indicates invalid query parameters.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")
)

// Unavailable wraps err as core.ErrStoreUnavailable unless it is a
// lookup miss, a duplicate or a schema error, which callers handle themselves.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, core.ErrDimensionMismatch) || errors.Is(err, core.ErrStoreUnavailable) ||
		core.IsValidation(err) {
		return err
	}
	return errors.Join(core.ErrStoreUnavailable, err)
}

// IsUnavailable reports whether err means a store could not be reached,
// including timeouts on store calls.
func IsUnavailable(err error) bool {
	return errors.Is(err, core.ErrStoreUnavailable) ||
		errors.Is(err, ErrStorageClosed) ||
		errors.Is(err, context.DeadlineExceeded)
}
