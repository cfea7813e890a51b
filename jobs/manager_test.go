package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/ingestion"
	badgerstore "github.com/poiesic/lattice/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIngester records calls and fails or blocks on demand.
type fakeIngester struct {
	mu    sync.Mutex
	files []string
	docs  int

	fileErr func(name string) error
	docErr  error

	// started receives each file name as its ingestion begins.
	started chan string
	// gate, when set, blocks every call until it is closed.
	gate chan struct{}
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{started: make(chan string, 64)}
}

func (f *fakeIngester) AddFile(ctx context.Context, _ ingestion.FileSource, name string) (*ingestion.Result, error) {
	f.mu.Lock()
	f.files = append(f.files, name)
	f.mu.Unlock()

	f.started <- name
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fileErr != nil {
		if err := f.fileErr(name); err != nil {
			return nil, err
		}
	}
	return &ingestion.Result{
		DocumentId:    core.IDFromContent(name),
		Concepts:      []string{"alpha", "beta"},
		Relationships: 1,
	}, nil
}

func (f *fakeIngester) AddDocument(ctx context.Context, text string, _ map[string]any) (*ingestion.Result, error) {
	f.mu.Lock()
	f.docs++
	f.mu.Unlock()
	if f.docErr != nil {
		return nil, f.docErr
	}
	return &ingestion.Result{DocumentId: core.IDFromContent(text), Concepts: []string{"alpha"}}, nil
}

func (f *fakeIngester) processed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.files...)
}

func setupTestStores(t *testing.T) *badgerstore.Stores {
	stores, err := badgerstore.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return stores
}

func setupTestManager(t *testing.T, ingester Ingester, opts ...Option) (*Manager, *badgerstore.Stores) {
	stores := setupTestStores(t)
	m, err := NewManager(stores.Jobs, ingester, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, stores
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	stores := setupTestStores(t)

	_, err := NewManager(nil, newFakeIngester())
	assert.ErrorIs(t, err, ErrJobRepositoryRequired)

	_, err = NewManager(stores.Jobs, nil)
	assert.ErrorIs(t, err, ErrIngesterRequired)

	for name, opt := range map[string]Option{
		"workers":        WithWorkers(0),
		"store failures": WithMaxConsecutiveStoreFailures(-1),
		"source":         WithFileSource(nil),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewManager(stores.Jobs, newFakeIngester(), opt)
			assert.ErrorIs(t, err, ErrInvalidOption)
		})
	}
}

func TestManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m, _ := setupTestManager(t, newFakeIngester())

	job, err := m.Create(ctx, core.JobFolderBatch, map[string]string{ParamPath: "/docs"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.Id)
	assert.Equal(t, core.JobPending, job.Status)
	assert.False(t, job.CreatedAt.IsZero())

	stored, err := m.Get(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.JobPending, stored.Status)
	assert.Equal(t, "/docs", stored.Params[ParamPath])

	job, err = m.Start(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.JobRunning, job.Status)
	assert.False(t, job.StartedAt.IsZero())

	job, err = m.UpdateProgress(ctx, job.Id, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, job.Processed)
	assert.Equal(t, 10, job.Total)

	result := &core.JobResult{Succeeded: []core.ItemResult{{Item: "a.txt"}}}
	job, err = m.Complete(ctx, job.Id, result)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, job.Status)
	assert.False(t, job.CompletedAt.IsZero())
	require.NotNil(t, job.Result)
	assert.Len(t, job.Result.Succeeded, 1)
}

func TestManager_TerminalStatesRejectTransitions(t *testing.T) {
	ctx := context.Background()
	m, _ := setupTestManager(t, newFakeIngester())

	job, err := m.Create(ctx, core.JobSingleDocument, nil)
	require.NoError(t, err)
	_, err = m.Start(ctx, job.Id)
	require.NoError(t, err)
	_, err = m.Complete(ctx, job.Id, &core.JobResult{})
	require.NoError(t, err)

	tests := []struct {
		name string
		op   func() (*core.Job, error)
	}{
		{"complete twice", func() (*core.Job, error) { return m.Complete(ctx, job.Id, &core.JobResult{}) }},
		{"fail", func() (*core.Job, error) { return m.Fail(ctx, job.Id, errors.New("late")) }},
		{"cancel", func() (*core.Job, error) { return m.Cancel(ctx, job.Id) }},
		{"start", func() (*core.Job, error) { return m.Start(ctx, job.Id) }},
		{"progress", func() (*core.Job, error) { return m.UpdateProgress(ctx, job.Id, 1, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.op()
			require.ErrorIs(t, err, core.ErrInvalidJobTransition)
			var stateErr *core.JobStateError
			require.ErrorAs(t, err, &stateErr)
			assert.Equal(t, core.JobCompleted, stateErr.From)
			assert.Equal(t, job.Id, stateErr.JobId)
		})
	}

	stored, err := m.Get(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, stored.Status)
}

func TestManager_PendingRejectsRunningOperations(t *testing.T) {
	ctx := context.Background()
	m, _ := setupTestManager(t, newFakeIngester())

	job, err := m.Create(ctx, core.JobSingleDocument, nil)
	require.NoError(t, err)

	_, err = m.UpdateProgress(ctx, job.Id, 1, 2)
	assert.ErrorIs(t, err, core.ErrInvalidJobTransition)
	_, err = m.Complete(ctx, job.Id, nil)
	assert.ErrorIs(t, err, core.ErrInvalidJobTransition)
	_, err = m.Fail(ctx, job.Id, errors.New("x"))
	assert.ErrorIs(t, err, core.ErrInvalidJobTransition)
}

func TestManager_CancelPending(t *testing.T) {
	ctx := context.Background()
	m, _ := setupTestManager(t, newFakeIngester())

	job, err := m.Create(ctx, core.JobFolderBatch, nil)
	require.NoError(t, err)

	job, err = m.Cancel(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.JobCancelled, job.Status)
	assert.True(t, job.CancelRequested)
	assert.False(t, job.CompletedAt.IsZero())

	_, err = m.Start(ctx, job.Id)
	assert.ErrorIs(t, err, core.ErrInvalidJobTransition)
}

func TestManager_CancelRunningFlagsJob(t *testing.T) {
	ctx := context.Background()
	m, _ := setupTestManager(t, newFakeIngester())

	job, err := m.Create(ctx, core.JobFolderBatch, nil)
	require.NoError(t, err)
	_, err = m.Start(ctx, job.Id)
	require.NoError(t, err)

	job, err = m.Cancel(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.JobRunning, job.Status)
	assert.True(t, job.CancelRequested)
	assert.True(t, m.cancelRequested(job.Id))

	job, err = m.acknowledgeCancel(ctx, job.Id, nil)
	require.NoError(t, err)
	assert.Equal(t, core.JobCancelled, job.Status)
	assert.False(t, m.cancelRequested(job.Id))
}

func TestManager_Fail(t *testing.T) {
	ctx := context.Background()
	m, _ := setupTestManager(t, newFakeIngester())

	job, err := m.Create(ctx, core.JobSingleDocument, nil)
	require.NoError(t, err)
	_, err = m.Start(ctx, job.Id)
	require.NoError(t, err)

	job, err = m.Fail(ctx, job.Id, errors.New("embedding provider down"))
	require.NoError(t, err)
	assert.Equal(t, core.JobFailed, job.Status)
	assert.Equal(t, "embedding provider down", job.Error)
}

func TestManager_UnknownJob(t *testing.T) {
	ctx := context.Background()
	m, _ := setupTestManager(t, newFakeIngester())

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = m.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestManager_List(t *testing.T) {
	ctx := context.Background()
	m, _ := setupTestManager(t, newFakeIngester())

	folder, err := m.Create(ctx, core.JobFolderBatch, nil)
	require.NoError(t, err)
	_, err = m.Create(ctx, core.JobSingleDocument, nil)
	require.NoError(t, err)
	_, err = m.Cancel(ctx, folder.Id)
	require.NoError(t, err)

	all, err := m.List(ctx, core.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cancelled, err := m.List(ctx, core.JobFilter{Status: core.JobCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, folder.Id, cancelled[0].Id)

	docs, err := m.List(ctx, core.JobFilter{Type: core.JobSingleDocument})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestManager_Recover(t *testing.T) {
	ctx := context.Background()
	m, stores := setupTestManager(t, newFakeIngester())

	pending, err := m.Create(ctx, core.JobFolderBatch, nil)
	require.NoError(t, err)
	running, err := m.Create(ctx, core.JobFolderBatch, nil)
	require.NoError(t, err)
	_, err = m.Start(ctx, running.Id)
	require.NoError(t, err)
	done, err := m.Create(ctx, core.JobSingleDocument, nil)
	require.NoError(t, err)
	_, err = m.Start(ctx, done.Id)
	require.NoError(t, err)
	_, err = m.Complete(ctx, done.Id, &core.JobResult{})
	require.NoError(t, err)

	// A fresh manager over the same store plays the restarted process.
	restarted, err := NewManager(stores.Jobs, newFakeIngester())
	require.NoError(t, err)
	defer restarted.Close()

	n, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{pending.Id, running.Id} {
		job, err := restarted.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.JobFailed, job.Status)
		assert.Equal(t, interruptedMessage, job.Error)
	}
	job, err := restarted.Get(ctx, done.Id)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, job.Status)

	n, err = restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_ConcurrentTransitions(t *testing.T) {
	ctx := context.Background()
	m, _ := setupTestManager(t, newFakeIngester())

	job, err := m.Create(ctx, core.JobSingleDocument, nil)
	require.NoError(t, err)
	_, err = m.Start(ctx, job.Id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Complete(ctx, job.Id, &core.JobResult{}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestManager_ClosedRejectsWork(t *testing.T) {
	stores := setupTestStores(t)
	m, err := NewManager(stores.Jobs, newFakeIngester())
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.SubmitFolder(context.Background(), "/docs")
	assert.ErrorIs(t, err, ErrManagerClosed)
}
