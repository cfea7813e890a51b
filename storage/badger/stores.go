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

package badger

import "errors"

// Stores bundles the BadgerDB-backed stores sharing one database.
type Stores struct {
	Backend   *Backend
	Documents *DocumentRepository
	Graph     *GraphStore
	Vectors   *VectorStore
	Jobs      *JobRepository
}

// Open opens (or creates) a database at path and returns all stores on it.
func Open(path string, inMemory bool) (*Stores, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}
	docs, _ := NewDocumentRepository(backend)
	graph, _ := NewGraphStore(backend)
	vectors, _ := NewVectorStore(backend)
	jobs, _ := NewJobRepository(backend)
	return &Stores{
		Backend:   backend,
		Documents: docs,
		Graph:     graph,
		Vectors:   vectors,
		Jobs:      jobs,
	}, nil
}

// NewMemoryStores creates in-memory stores for testing.
// Caller must close the returned Stores when done.
func NewMemoryStores() (*Stores, error) {
	return Open("", true)
}

// Close closes every store and the underlying database.
func (s *Stores) Close() error {
	return errors.Join(
		s.Documents.Close(),
		s.Graph.Close(),
		s.Vectors.Close(),
		s.Jobs.Close(),
		s.Backend.Close(),
	)
}
