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

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/ingestion"
	"github.com/poiesic/lattice/storage"
)

const (
	// DefaultWorkers is the number of jobs run concurrently.
	DefaultWorkers = 4

	// DefaultMaxConsecutiveStoreFailures fails a batch after this many files
	// in a row could not be written because a store was unavailable.
	DefaultMaxConsecutiveStoreFailures = 3
)

// Ingester is the part of the ingestion pipeline that jobs drive.
type Ingester interface {
	AddDocument(ctx context.Context, text string, metadata map[string]any) (*ingestion.Result, error)
	AddFile(ctx context.Context, source ingestion.FileSource, name string) (*ingestion.Result, error)
}

var _ Ingester = (*ingestion.Pipeline)(nil)

// Manager creates, runs and tracks jobs.
type Manager struct {
	repo             storage.JobRepository
	ingester         Ingester
	source           ingestion.FileSource
	workers          int
	maxStoreFailures int
	pool             *ants.Pool
	logger           *slog.Logger

	// mu serializes every read-modify-write of a job record.
	mu        sync.Mutex
	cancelled map[string]bool
	done      map[string]chan struct{}

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// Option configures a Manager.
type Option func(*Manager) error

// WithWorkers sets how many jobs run at once.
func WithWorkers(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return fmt.Errorf("%w: workers %d", ErrInvalidOption, n)
		}
		m.workers = n
		return nil
	}
}

// WithMaxConsecutiveStoreFailures sets the systemic failure threshold for batches.
func WithMaxConsecutiveStoreFailures(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return fmt.Errorf("%w: max consecutive store failures %d", ErrInvalidOption, n)
		}
		m.maxStoreFailures = n
		return nil
	}
}

// WithFileSource sets where folder-batch jobs read files from.
// Default is the local filesystem.
func WithFileSource(source ingestion.FileSource) Option {
	return func(m *Manager) error {
		if source == nil {
			return fmt.Errorf("%w: file source is nil", ErrInvalidOption)
		}
		m.source = source
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// NewManager creates a job manager.
func NewManager(repo storage.JobRepository, ingester Ingester, opts ...Option) (*Manager, error) {
	if repo == nil {
		return nil, ErrJobRepositoryRequired
	}
	if ingester == nil {
		return nil, ErrIngesterRequired
	}

	m := &Manager{
		repo:             repo,
		ingester:         ingester,
		workers:          DefaultWorkers,
		maxStoreFailures: DefaultMaxConsecutiveStoreFailures,
		logger:           slog.Default(),
		cancelled:        make(map[string]bool),
		done:             make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.source == nil {
		m.source = ingestion.NewAFSSource()
	}
	m.logger = m.logger.With("component", "jobs")

	pool, err := ants.NewPool(m.workers)
	if err != nil {
		return nil, err
	}
	m.pool = pool
	m.ctx, m.stop = context.WithCancel(context.Background())
	return m, nil
}

// Close stops accepting work, interrupts running jobs at their next
// boundary and waits for them to finish.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stop()
	m.wg.Wait()
	m.pool.Release()
	return nil
}

// Create records a new pending job.
func (m *Manager) Create(ctx context.Context, jobType core.JobType, params map[string]string) (*core.Job, error) {
	job := &core.Job{
		Id:        uuid.NewString(),
		Type:      jobType,
		Params:    params,
		Status:    core.JobPending,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.repo.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	m.logger.Debug("job created", "jobID", job.Id, "type", jobType)
	return job.Clone(), nil
}

// Get returns a job by ID.
func (m *Manager) Get(ctx context.Context, id string) (*core.Job, error) {
	job, err := m.repo.GetJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

// List returns jobs matching filter, newest first.
func (m *Manager) List(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	return m.repo.ListJobs(ctx, filter)
}

// Start moves a pending job to running.
func (m *Manager) Start(ctx context.Context, id string) (*core.Job, error) {
	return m.transition(ctx, id, "start", []core.JobStatus{core.JobPending}, func(job *core.Job) {
		job.Status = core.JobRunning
		job.StartedAt = time.Now().UTC()
	})
}

// UpdateProgress records how many of total items a running job has processed.
func (m *Manager) UpdateProgress(ctx context.Context, id string, processed, total int) (*core.Job, error) {
	return m.transition(ctx, id, "update progress", []core.JobStatus{core.JobRunning}, func(job *core.Job) {
		job.Processed = processed
		job.Total = total
	})
}

// Complete finishes a running job successfully.
func (m *Manager) Complete(ctx context.Context, id string, result *core.JobResult) (*core.Job, error) {
	return m.finish(ctx, id, "complete", core.JobCompleted, result, "")
}

// Fail finishes a running job with an error.
func (m *Manager) Fail(ctx context.Context, id string, cause error) (*core.Job, error) {
	return m.fail(ctx, id, cause, nil)
}

func (m *Manager) fail(ctx context.Context, id string, cause error, result *core.JobResult) (*core.Job, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return m.finish(ctx, id, "fail", core.JobFailed, result, msg)
}

// finish moves a running job to a terminal status. A failed store write is
// retried once so the job does not stay running.
func (m *Manager) finish(ctx context.Context, id, op string, status core.JobStatus, result *core.JobResult, msg string) (*core.Job, error) {
	mutate := func(job *core.Job) {
		job.Status = status
		job.CompletedAt = time.Now().UTC()
		job.Error = msg
		if result != nil {
			job.Result = result
		}
	}
	from := []core.JobStatus{core.JobRunning}
	job, err := m.transition(ctx, id, op, from, mutate)
	if err != nil && storeError(err) {
		m.logger.Warn("job state write failed, retrying", "jobID", id, "status", status, "err", err)
		job, err = m.transition(ctx, id, op, from, mutate)
	}
	if err != nil {
		return nil, err
	}
	m.logger.Info("job finished", "jobID", id, "status", status, "processed", job.Processed, "total", job.Total)
	return job, nil
}

// storeError reports whether err came from the job repository rather than
// from the state machine.
func storeError(err error) bool {
	var stateErr *core.JobStateError
	return !errors.As(err, &stateErr) && !errors.Is(err, ErrJobNotFound)
}

// Cancel cancels a pending job immediately. A running job is flagged and
// moves to cancelled when it reaches its next unit-of-work boundary.
func (m *Manager) Cancel(ctx context.Context, id string) (*core.Job, error) {
	return m.transition(ctx, id, "cancel", []core.JobStatus{core.JobPending, core.JobRunning}, func(job *core.Job) {
		job.CancelRequested = true
		m.cancelled[id] = true
		if job.Status == core.JobPending {
			job.Status = core.JobCancelled
			job.CompletedAt = time.Now().UTC()
		}
	})
}

// cancelRequested reports whether Cancel was called for a job.
func (m *Manager) cancelRequested(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[id]
}

// acknowledgeCancel moves a running job that observed its cancellation flag
// to cancelled, keeping the work done so far.
func (m *Manager) acknowledgeCancel(ctx context.Context, id string, result *core.JobResult) (*core.Job, error) {
	return m.finish(ctx, id, "acknowledge cancel", core.JobCancelled, result, "")
}

func (m *Manager) transition(ctx context.Context, id, op string, from []core.JobStatus, mutate func(*core.Job)) (*core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.repo.GetJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if !slices.Contains(from, job.Status) {
		return nil, &core.JobStateError{JobId: id, From: job.Status, Op: op}
	}

	mutate(job)
	if err := m.repo.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		delete(m.cancelled, id)
	}
	return job.Clone(), nil
}

// Recover fails every job left pending or running by a previous process.
// It returns the number of jobs it changed.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []*core.Job
	for _, status := range []core.JobStatus{core.JobPending, core.JobRunning} {
		jobs, err := m.repo.ListJobs(ctx, core.JobFilter{Status: status})
		if err != nil {
			return 0, err
		}
		stale = append(stale, jobs...)
	}

	now := time.Now().UTC()
	for _, job := range stale {
		job.Status = core.JobFailed
		job.Error = interruptedMessage
		job.CompletedAt = now
		if err := m.repo.SaveJob(ctx, job); err != nil {
			return 0, err
		}
		m.logger.Warn("job interrupted by restart", "jobID", job.Id, "type", job.Type)
	}
	return len(stale), nil
}

// Wait blocks until a job submitted to this manager has finished running,
// then returns its final state.
func (m *Manager) Wait(ctx context.Context, id string) (*core.Job, error) {
	m.mu.Lock()
	done, ok := m.done[id]
	m.mu.Unlock()
	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.Get(ctx, id)
}

// submit queues run on the worker pool. The job stays pending until a
// worker picks it up.
func (m *Manager) submit(job *core.Job, run func(ctx context.Context, job *core.Job)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	done := make(chan struct{})
	m.done[job.Id] = done
	m.wg.Add(1)
	m.mu.Unlock()

	task := func() {
		defer m.wg.Done()
		defer m.release(job.Id, done)
		run(m.ctx, job)
	}
	go func() {
		if err := m.pool.Submit(task); err != nil {
			m.logger.Error("failed to schedule job", "jobID", job.Id, "err", err)
			ctx := context.WithoutCancel(m.ctx)
			if _, startErr := m.Start(ctx, job.Id); startErr == nil {
				m.Fail(ctx, job.Id, err)
			}
			m.release(job.Id, done)
			m.wg.Done()
		}
	}()
	return nil
}

func (m *Manager) release(id string, done chan struct{}) {
	m.mu.Lock()
	delete(m.done, id)
	m.mu.Unlock()
	close(done)
}
