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
	"fmt"
	"log/slog"
	"strconv"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/ingestion"
	"github.com/poiesic/lattice/storage"
)

// Job parameter keys.
const (
	ParamPath  = "path"
	ParamTitle = "title"
	ParamChars = "chars"
)

// SubmitFolder creates a folder-batch job for every file below root and
// queues it. It returns the pending job immediately.
func (m *Manager) SubmitFolder(ctx context.Context, root string) (*core.Job, error) {
	job, err := m.Create(ctx, core.JobFolderBatch, map[string]string{ParamPath: root})
	if err != nil {
		return nil, err
	}
	if err := m.submit(job, m.runFolder); err != nil {
		return nil, err
	}
	return job, nil
}

// RunFolder ingests every file below root as a folder-batch job and
// returns the job once it has finished.
func (m *Manager) RunFolder(ctx context.Context, root string) (*core.Job, error) {
	job, err := m.Create(ctx, core.JobFolderBatch, map[string]string{ParamPath: root})
	if err != nil {
		return nil, err
	}
	m.runFolder(ctx, job)
	return m.Get(context.WithoutCancel(ctx), job.Id)
}

// SubmitDocument creates a single-document job and queues it.
func (m *Manager) SubmitDocument(ctx context.Context, text string, metadata map[string]any) (*core.Job, error) {
	params := map[string]string{ParamChars: strconv.Itoa(len(text))}
	if title, ok := metadata[core.MetadataTitle].(string); ok {
		params[ParamTitle] = title
	}
	job, err := m.Create(ctx, core.JobSingleDocument, params)
	if err != nil {
		return nil, err
	}
	run := func(ctx context.Context, job *core.Job) {
		m.runDocument(ctx, job, text, metadata)
	}
	if err := m.submit(job, run); err != nil {
		return nil, err
	}
	return job, nil
}

func (m *Manager) runDocument(ctx context.Context, job *core.Job, text string, metadata map[string]any) {
	logger := m.logger.With("jobID", job.Id)
	if _, err := m.Start(ctx, job.Id); err != nil {
		logger.Debug("job not started", "err", err)
		return
	}
	// Job records must still be written while shutting down.
	bookkeeping := context.WithoutCancel(ctx)
	if m.cancelRequested(job.Id) {
		_, err := m.acknowledgeCancel(bookkeeping, job.Id, nil)
		recordOutcome(logger, core.JobCancelled, err)
		return
	}
	m.recordProgress(bookkeeping, logger, job.Id, 0, 1)

	res, err := m.ingester.AddDocument(ctx, text, metadata)
	if err != nil {
		logger.Error("document ingestion failed", "err", err)
		_, err = m.Fail(bookkeeping, job.Id, err)
		recordOutcome(logger, core.JobFailed, err)
		return
	}
	m.recordProgress(bookkeeping, logger, job.Id, 1, 1)

	item := job.Params[ParamTitle]
	if item == "" {
		item = "document"
	}
	_, err = m.Complete(bookkeeping, job.Id, &core.JobResult{
		Succeeded: []core.ItemResult{itemResult(item, res)},
	})
	recordOutcome(logger, core.JobCompleted, err)
}

// runFolder ingests files one at a time. A file that fails is recorded and
// the batch moves on; the batch itself fails only when the stores stop
// answering for several files in a row.
func (m *Manager) runFolder(ctx context.Context, job *core.Job) {
	logger := m.logger.With("jobID", job.Id)
	if _, err := m.Start(ctx, job.Id); err != nil {
		logger.Debug("job not started", "err", err)
		return
	}
	bookkeeping := context.WithoutCancel(ctx)
	root := job.Params[ParamPath]

	names, err := m.source.List(ctx, root)
	if err != nil {
		logger.Error("listing folder failed", "path", root, "err", err)
		_, err = m.Fail(bookkeeping, job.Id, fmt.Errorf("listing %s: %w", root, err))
		recordOutcome(logger, core.JobFailed, err)
		return
	}

	result := &core.JobResult{}
	var files []string
	for _, name := range names {
		if ingestion.Supported(name) {
			files = append(files, name)
			continue
		}
		result.Skipped++
		logger.Debug("skipping unsupported file", "file", name)
	}
	m.recordProgress(bookkeeping, logger, job.Id, 0, len(files))
	logger.Info("ingesting folder", "path", root, "files", len(files), "skipped", result.Skipped)

	consecutive := 0
	for i, name := range files {
		if m.cancelRequested(job.Id) {
			logger.Info("cancellation observed", "processed", i)
			_, err := m.acknowledgeCancel(bookkeeping, job.Id, result)
			recordOutcome(logger, core.JobCancelled, err)
			return
		}
		if err := ctx.Err(); err != nil {
			_, err = m.fail(bookkeeping, job.Id, fmt.Errorf("interrupted: %w", err), result)
			recordOutcome(logger, core.JobFailed, err)
			return
		}

		res, err := m.ingester.AddFile(ctx, m.source, name)
		if err != nil {
			logger.Warn("file ingestion failed", "file", name, "err", err)
			result.Failed = append(result.Failed, core.ItemFailure{Item: name, Error: err.Error()})
			if storage.IsUnavailable(err) {
				consecutive++
			} else {
				consecutive = 0
			}
			if consecutive >= m.maxStoreFailures {
				_, err = m.fail(bookkeeping, job.Id, fmt.Errorf("%w: %d consecutive files failed: %w",
					ErrStoreUnreachable, consecutive, err), result)
				recordOutcome(logger, core.JobFailed, err)
				return
			}
		} else {
			consecutive = 0
			result.Succeeded = append(result.Succeeded, itemResult(name, res))
		}
		m.recordProgress(bookkeeping, logger, job.Id, i+1, len(files))
	}

	if m.cancelRequested(job.Id) {
		_, err := m.acknowledgeCancel(bookkeeping, job.Id, result)
		recordOutcome(logger, core.JobCancelled, err)
		return
	}
	_, err = m.Complete(bookkeeping, job.Id, result)
	recordOutcome(logger, core.JobCompleted, err)
}

// recordOutcome logs a terminal state that could not be stored. The job
// stays running in the repository until Recover fails it.
func recordOutcome(logger *slog.Logger, status core.JobStatus, err error) {
	if err != nil {
		logger.Error("job outcome not recorded", "status", status, "err", err)
	}
}

func (m *Manager) recordProgress(ctx context.Context, logger *slog.Logger, id string, processed, total int) {
	if _, err := m.UpdateProgress(ctx, id, processed, total); err != nil {
		logger.Warn("job progress not recorded", "processed", processed, "total", total, "err", err)
	}
}

func itemResult(item string, res *ingestion.Result) core.ItemResult {
	return core.ItemResult{
		Item:          item,
		DocumentId:    res.DocumentId,
		Duplicate:     res.Duplicate,
		Concepts:      len(res.Concepts),
		Relationships: res.Relationships,
	}
}
