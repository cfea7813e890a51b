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

// Package sqlite provides a SQLite-backed job repository.
//
// Jobs are stored as MUS-encoded records with their type, status and creation
// time kept in indexed columns for filtering.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	record     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs(status);
CREATE INDEX IF NOT EXISTS jobs_created_idx ON jobs(created_at DESC);
`

// JobRepository implements storage.JobRepository on SQLite.
type JobRepository struct {
	db   *sql.DB
	path string
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository opens (or creates) the database at path.
// Use ":memory:" for a private in-memory database.
func NewJobRepository(path string) (*JobRepository, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		// WAL mode for concurrent readers while a job is being written
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &JobRepository{db: db, path: path}, nil
}

// Close closes the database connection.
func (r *JobRepository) Close() error {
	return r.db.Close()
}

// Path returns the database file path.
func (r *JobRepository) Path() string {
	return r.path
}

// SaveJob inserts or replaces a job.
func (r *JobRepository) SaveJob(ctx context.Context, job *core.Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, created_at, record)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			status = excluded.status,
			created_at = excluded.created_at,
			record = excluded.record
	`, job.Id, string(job.Type), string(job.Status), job.CreatedAt.UnixMicro(), storage.MarshalJob(job))
	if err != nil {
		return storage.Unavailable(fmt.Errorf("saving job %s: %w", job.Id, err))
	}
	return nil
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.Job, error) {
	var record []byte
	err := r.db.QueryRowContext(ctx, `SELECT record FROM jobs WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Unavailable(fmt.Errorf("getting job %s: %w", id, err))
	}
	return storage.UnmarshalJob(record)
}

// ListJobs returns jobs matching the filter, newest first.
func (r *JobRepository) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	query := `SELECT record FROM jobs WHERE 1 = 1`
	var args []any
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable(fmt.Errorf("listing jobs: %w", err))
	}
	defer rows.Close()

	var jobs []*core.Job
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, storage.Unavailable(fmt.Errorf("scanning job: %w", err))
		}
		job, err := storage.UnmarshalJob(record)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable(err)
	}
	return jobs, nil
}
