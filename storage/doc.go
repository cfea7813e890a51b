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

// Package storage provides the storage abstraction layer for lattice.
//
// This package defines the store interfaces that decouple the ingestion and
// retrieval logic from storage engines. Implementations live in subpackages:
//
//   - badger: documents, graph, vectors and jobs on an embedded BadgerDB
//   - sqlite: jobs on SQLite
//   - pgvector: vectors on PostgreSQL with the pgvector extension
//
// # Architecture
//
//   - DocumentRepository: documents, chunks, fingerprint and title indexes
//   - GraphStore: concepts, RELATED_TO and MENTIONS edges, traversal
//   - VectorStore: chunk embeddings per collection with a fixed dimension
//   - JobRepository: persisted job state
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	stores, err := badger.NewMemoryStores()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stores.Close()
//
// # Errors
//
// Lookups return ErrNotFound. Failures to reach a store are reported as
// core.ErrStoreUnavailable (see Unavailable), which the ingestion pipeline and
// job manager treat as a failed unit of work.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package storage
