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

// Package jobs tracks long-running ingestion work.
//
// A Manager persists every job through a storage.JobRepository and enforces
// the lifecycle pending → running → completed, failed or cancelled. Work is
// executed on a bounded worker pool. A folder-batch job ingests one file at
// a time, records per-file failures without stopping, and checks for a
// cancellation request between files.
package jobs
