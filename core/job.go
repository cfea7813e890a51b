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

import "time"

// JobStatus is the state of a job in its lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobRunning, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// JobType identifies the kind of work a job performs.
type JobType string

const (
	JobSingleDocument JobType = "single-document"
	JobFolderBatch    JobType = "folder-batch"
)

// Job tracks a long-running ingestion operation.
type Job struct {
	Id              string
	Type            JobType
	Params          map[string]string
	Status          JobStatus
	Processed       int
	Total           int
	CreatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	Result          *JobResult
	Error           string
	CancelRequested bool
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Params != nil {
		c.Params = make(map[string]string, len(j.Params))
		for k, v := range j.Params {
			c.Params[k] = v
		}
	}
	if j.Result != nil {
		r := *j.Result
		r.Succeeded = append([]ItemResult(nil), j.Result.Succeeded...)
		r.Failed = append([]ItemFailure(nil), j.Result.Failed...)
		c.Result = &r
	}
	return &c
}

// JobResult summarizes the outcome of a job.
// Per-item failures are recorded without aborting the batch.
type JobResult struct {
	Succeeded []ItemResult
	Failed    []ItemFailure
	Skipped   int // Files with unsupported formats
}

// Duplicates returns the number of succeeded items reported as duplicates.
func (r *JobResult) Duplicates() int {
	n := 0
	for _, item := range r.Succeeded {
		if item.Duplicate {
			n++
		}
	}
	return n
}

// ItemResult records a successfully processed item.
type ItemResult struct {
	Item          string
	DocumentId    ID
	Duplicate     bool
	Concepts      int
	Relationships int
}

// ItemFailure records an item that failed to process.
type ItemFailure struct {
	Item  string
	Error string
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Type   JobType
	Status JobStatus
	Limit  int
}

// Matches reports whether the job satisfies the filter.
func (f JobFilter) Matches(job *Job) bool {
	if f.Type != "" && job.Type != f.Type {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	return true
}
