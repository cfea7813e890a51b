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

package jobs

import "errors"

var (
	// ErrJobRepositoryRequired is returned when a job repository is not provided.
	ErrJobRepositoryRequired = errors.New("job repository required")

	// ErrIngesterRequired is returned when an ingester is not provided.
	ErrIngesterRequired = errors.New("ingester required")

	// ErrJobNotFound is returned for an unknown job ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrManagerClosed is returned when work is submitted after Close.
	ErrManagerClosed = errors.New("job manager closed")

	// ErrStoreUnreachable fails a batch after too many consecutive storage failures.
	ErrStoreUnreachable = errors.New("store unreachable")

	// ErrInvalidOption is returned by options given out-of-range values.
	ErrInvalidOption = errors.New("invalid job manager option")
)

// interruptedMessage is recorded on jobs found unfinished at startup.
const interruptedMessage = "interrupted by restart"
