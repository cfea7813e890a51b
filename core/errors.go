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

package core

import (
	"errors"
	"fmt"
)

// Domain validation errors
var (
	// ErrValidation indicates malformed input. Validation errors are never retried.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidConcept indicates a Concept failed validation.
	ErrInvalidConcept = errors.New("invalid concept")

	// ErrEmptyContent indicates the document text is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidMetadata indicates metadata contains a value that cannot be flattened.
	ErrInvalidMetadata = errors.New("invalid metadata value")

	// ErrEmptyConceptName indicates the concept Name field is empty.
	ErrEmptyConceptName = errors.New("concept name cannot be empty")

	// ErrStrengthOutOfRange indicates a relationship strength outside [0,1].
	ErrStrengthOutOfRange = errors.New("relationship strength out of range")
)

var (
	// ErrStoreUnavailable indicates the graph or vector store could not be reached.
	// It fails the current unit of work.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDimensionMismatch indicates the active embedder does not match the
	// dimension recorded for a collection. It is a configuration error.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidJobTransition indicates a job state transition that is not allowed.
	ErrInvalidJobTransition = errors.New("invalid job state transition")

	// ErrJobCancelled is returned by job work that observed a cancellation request.
	ErrJobCancelled = errors.New("job cancelled")
)

// DuplicateDocumentError reports that a document already exists.
// It is a normal outcome, not a failure.
type DuplicateDocumentError struct {
	ExistingId ID
	Method     string // "hash" or "title-similarity"
}

func (e *DuplicateDocumentError) Error() string {
	return fmt.Sprintf("duplicate of document %d (%s)", e.ExistingId, e.Method)
}

// JobStateError reports an invalid job state transition.
type JobStateError struct {
	JobId string
	From  JobStatus
	Op    string
}

func (e *JobStateError) Error() string {
	return fmt.Sprintf("job %s: cannot %s from state %s", e.JobId, e.Op, e.From)
}

// Is makes JobStateError match ErrInvalidJobTransition.
func (e *JobStateError) Is(target error) bool {
	return target == ErrInvalidJobTransition
}

// NewValidationError wraps cause as a validation error.
func NewValidationError(cause error, detail string) error {
	if detail == "" {
		return fmt.Errorf("%w: %w", ErrValidation, cause)
	}
	return fmt.Errorf("%w: %w: %s", ErrValidation, cause, detail)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
