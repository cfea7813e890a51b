package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *JobRepository {
	t.Helper()
	repo, err := NewJobRepository(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestJobRepository_SaveAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := &core.Job{
		Id:        "job-1",
		Type:      core.JobFolderBatch,
		Params:    map[string]string{"path": "/docs"},
		Status:    core.JobPending,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.SaveJob(ctx, job))

	job.Status = core.JobCompleted
	job.Result = &core.JobResult{
		Succeeded: []core.ItemResult{{Item: "a.txt", DocumentId: 1}},
		Failed:    []core.ItemFailure{{Item: "b.pdf", Error: "corrupt"}},
	}
	require.NoError(t, repo.SaveJob(ctx, job))

	got, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, got.Status)
	assert.Equal(t, "/docs", got.Params["path"])
	require.NotNil(t, got.Result)
	assert.Len(t, got.Result.Failed, 1)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))

	_, err = repo.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobRepository_ListJobs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	jobs := []*core.Job{
		{Id: "a", Type: core.JobSingleDocument, Status: core.JobCompleted, CreatedAt: base},
		{Id: "b", Type: core.JobFolderBatch, Status: core.JobRunning, CreatedAt: base.Add(time.Minute)},
		{Id: "c", Type: core.JobFolderBatch, Status: core.JobCompleted, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, j := range jobs {
		require.NoError(t, repo.SaveJob(ctx, j))
	}

	tests := []struct {
		name   string
		filter core.JobFilter
		want   []string
	}{
		{"all newest first", core.JobFilter{}, []string{"c", "b", "a"}},
		{"by type", core.JobFilter{Type: core.JobFolderBatch}, []string{"c", "b"}},
		{"by status", core.JobFilter{Status: core.JobCompleted}, []string{"c", "a"}},
		{"limit", core.JobFilter{Limit: 1}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, j := range got {
				ids = append(ids, j.Id)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestJobRepository_InMemory(t *testing.T) {
	repo, err := NewJobRepository(":memory:")
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.SaveJob(context.Background(), &core.Job{Id: "x", Status: core.JobPending}))
	got, err := repo.GetJob(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, core.JobPending, got.Status)
}

func TestJobRepository_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	repo, err := NewJobRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.SaveJob(context.Background(), &core.Job{Id: "persisted", Status: core.JobRunning}))
	require.NoError(t, repo.Close())

	repo, err = NewJobRepository(path)
	require.NoError(t, err)
	defer repo.Close()
	got, err := repo.GetJob(context.Background(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, core.JobRunning, got.Status)
}
