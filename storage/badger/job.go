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

import (
	"cmp"
	"context"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) (*JobRepository, error) {
	return &JobRepository{
		backend: backend,
	}, nil
}

// Close releases resources. JobRepository has no resources to release.
func (r *JobRepository) Close() error {
	return nil
}

// SaveJob inserts or replaces a job.
func (r *JobRepository) SaveJob(ctx context.Context, job *core.Job) error {
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeJobKey(job.Id), storage.MarshalJob(job))
	})
	return storage.Unavailable(err)
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.Job, error) {
	var result *core.Job
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		result, err = getValue(tx, makeJobKey(id), storage.UnmarshalJob)
		return err
	})
	return result, storage.Unavailable(err)
}

// ListJobs returns jobs matching the filter, newest first.
func (r *JobRepository) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	var results []*core.Job
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(jobPrefix), true, func(_, val []byte) error {
			job, err := storage.UnmarshalJob(val)
			if err != nil {
				return err
			}
			if filter.Matches(job) {
				results = append(results, job)
			}
			return nil
		})
	})
	if err != nil {
		return nil, storage.Unavailable(err)
	}
	SortJobs(results)
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

// SortJobs orders jobs newest first, breaking ties by ID.
func SortJobs(jobs []*core.Job) {
	slices.SortFunc(jobs, func(a, b *core.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Id, b.Id)
	})
}
