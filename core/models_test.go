package core

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "same content produces same ID", content: "test content"},
		{name: "empty string", content: ""},
		{name: "long content", content: "This is a much longer piece of content that should still hash consistently"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)
			if id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	if IDFromContent("content1") == IDFromContent("content2") {
		t.Errorf("IDFromContent() produced same ID for different content")
	}
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, ChunkID(1, 0), ChunkID(1, 0))
	assert.NotEqual(t, ChunkID(1, 0), ChunkID(1, 1))
	assert.NotEqual(t, ChunkID(1, 0), ChunkID(2, 0))
}

func TestNormalizeConceptName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Neural Networks", "neural networks"},
		{"neural networks", "neural networks"},
		{"  Neural   Networks. ", "neural networks"},
		{"neural-networks", "neural networks"},
		{"machine_learning", "machine learning"},
		{"\"Backpropagation\"", "backpropagation"},
		{"C++", "c"},
		{"ＧＰＵ", "gpu"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeConceptName(tt.in))
		})
	}
}

func TestConceptID_CaseInsensitive(t *testing.T) {
	assert.Equal(t, ConceptID("Neural Networks"), ConceptID("neural networks"))
	assert.Equal(t, ConceptID("NEURAL  networks"), ConceptID("neural networks"))
	assert.NotEqual(t, ConceptID("neural networks"), ConceptID("neural network"))
}

func TestNewRelationship_CanonicalOrder(t *testing.T) {
	a := NewRelationship(10, 5, 0.4)
	b := NewRelationship(5, 10, 0.4)
	assert.Equal(t, a.From, b.From)
	assert.Equal(t, a.To, b.To)
	assert.Equal(t, ID(5), a.From)
	assert.Equal(t, RelationRelatedTo, a.Type)
	assert.Equal(t, 1, a.Evidence)
	assert.Equal(t, ID(10), a.Other(5))
	assert.Equal(t, ID(5), a.Other(10))
}

func TestClampStrength(t *testing.T) {
	assert.Equal(t, 0.0, ClampStrength(-0.5))
	assert.Equal(t, 1.0, ClampStrength(2))
	assert.Equal(t, 0.3, ClampStrength(0.3))
	assert.Equal(t, 0.0, ClampStrength(math.NaN()))
}

func TestPath(t *testing.T) {
	p := Path{Concepts: []ID{1, 2, 3}, Strengths: []float64{0.8, 0.7}}
	assert.Equal(t, 2, p.Hops())
	assert.Equal(t, ID(3), p.End())
	assert.InDelta(t, 0.56, p.StrengthProduct(), 1e-9)
	assert.InDelta(t, 0.28, p.Score(), 1e-9)

	one := Path{Concepts: []ID{1, 2}, Strengths: []float64{0.6}}
	assert.InDelta(t, 0.6, one.Score(), 1e-9)

	start := Path{Concepts: []ID{1}}
	assert.Equal(t, 0, start.Hops())
	assert.Equal(t, 1.0, start.StrengthProduct())
	assert.Equal(t, 1.0, start.Score())
}

func TestDocumentMetadataAccessors(t *testing.T) {
	doc := &Document{Metadata: map[string]string{MetadataTitle: "Intro", MetadataSource: "a.txt"}}
	assert.Equal(t, "Intro", doc.Title())
	assert.Equal(t, "a.txt", doc.Source())
	assert.Equal(t, "", (&Document{}).Title())
}

func TestJobStatus(t *testing.T) {
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.True(t, JobCancelled.Terminal())
	assert.True(t, JobRunning.Valid())
	assert.False(t, JobStatus("paused").Valid())
}

func TestJobClone(t *testing.T) {
	job := &Job{
		Id:     "j1",
		Params: map[string]string{"path": "/tmp"},
		Result: &JobResult{Succeeded: []ItemResult{{Item: "a"}}},
	}
	clone := job.Clone()
	clone.Params["path"] = "/other"
	clone.Result.Succeeded[0].Item = "b"

	assert.Equal(t, "/tmp", job.Params["path"])
	assert.Equal(t, "a", job.Result.Succeeded[0].Item)
	assert.Nil(t, (*Job)(nil).Clone())
}

func TestJobFilterMatches(t *testing.T) {
	job := &Job{Type: JobFolderBatch, Status: JobRunning}
	assert.True(t, JobFilter{}.Matches(job))
	assert.True(t, JobFilter{Type: JobFolderBatch}.Matches(job))
	assert.False(t, JobFilter{Type: JobSingleDocument}.Matches(job))
	assert.False(t, JobFilter{Status: JobCompleted}.Matches(job))
}

func TestJobResultDuplicates(t *testing.T) {
	r := &JobResult{Succeeded: []ItemResult{{Duplicate: true}, {}, {Duplicate: true}}}
	assert.Equal(t, 2, r.Duplicates())
}

func TestDocumentMUS_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	doc := Document{
		Id:              42,
		Text:            "Neural networks are used in deep learning.",
		Metadata:        map[string]string{"title": "NN", "source": "nn.txt"},
		ContentHash:     "abc",
		MetadataHash:    "def",
		TitleNormalized: "nn",
		ChunkSize:       1000,
		ChunkOverlap:    200,
		ChunkCount:      1,
		InsertedAt:      now,
		UpdatedAt:       now,
	}
	buf := make([]byte, DocumentMUS.Size(doc))
	n := DocumentMUS.Marshal(doc, buf)
	require.Equal(t, len(buf), n)

	got, read, err := DocumentMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, n, read)
	assert.Equal(t, doc, got)
}

func TestJobMUS_ResultAndZeroTimes(t *testing.T) {
	job := Job{
		Id:        "job-1",
		Type:      JobFolderBatch,
		Status:    JobCompleted,
		Processed: 2,
		Total:     2,
		Result: &JobResult{
			Succeeded: []ItemResult{{Item: "a.txt", DocumentId: 7, Concepts: 3, Relationships: 2}},
			Failed:    []ItemFailure{{Item: "b.pdf", Error: "corrupt"}},
			Skipped:   1,
		},
	}
	buf := make([]byte, JobMUS.Size(job))
	JobMUS.Marshal(job, buf)

	got, _, err := JobMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.True(t, got.StartedAt.IsZero())
	require.NotNil(t, got.Result)
	assert.Equal(t, job.Result, got.Result)
	assert.Equal(t, job.Status, got.Status)
}

func TestChunkMUS_Truncated(t *testing.T) {
	chunk := Chunk{Id: 1, DocumentId: 2, Text: "hello", Vector: []float32{0.5, -0.25}}
	buf := make([]byte, ChunkMUS.Size(chunk))
	ChunkMUS.Marshal(chunk, buf)

	got, _, err := ChunkMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, chunk.Vector, got.Vector)

	_, _, err = ChunkMUS.Unmarshal(buf[:len(buf)/2])
	assert.Error(t, err)
}
