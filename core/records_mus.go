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

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// Binary record serializers built on mus-go primitives. Field order is part of
// the on-disk format: append new fields at the end of a record only.

// ErrCorruptRecord is returned when a serialized record is malformed.
var ErrCorruptRecord = errors.New("corrupt record")

// RecordMUS serializes values of T using the MUS format.
type RecordMUS[T any] struct {
	write func(s musSink, v *T)
	read  func(r *musReader, v *T)
}

// Size returns the number of bytes needed to marshal v.
func (m RecordMUS[T]) Size(v T) int {
	var s musSizer
	m.write(&s, &v)
	return s.n
}

// Marshal writes v into bs and returns the number of bytes written.
// bs must be at least Size(v) bytes long.
func (m RecordMUS[T]) Marshal(v T, bs []byte) int {
	w := musWriter{bs: bs}
	m.write(&w, &v)
	return w.n
}

// Unmarshal reads a value from bs.
func (m RecordMUS[T]) Unmarshal(bs []byte) (v T, n int, err error) {
	r := musReader{bs: bs}
	m.read(&r, &v)
	return v, r.n, r.err
}

var (
	IDMUS = RecordMUS[ID]{
		write: func(s musSink, v *ID) { s.uint64(uint64(*v)) },
		read:  func(r *musReader, v *ID) { *v = ID(r.uint64()) },
	}
	DocumentMUS         = RecordMUS[Document]{write: writeDocument, read: readDocument}
	ChunkMUS            = RecordMUS[Chunk]{write: writeChunk, read: readChunk}
	ConceptMUS          = RecordMUS[Concept]{write: writeConcept, read: readConcept}
	RelationshipMUS     = RecordMUS[Relationship]{write: writeRelationship, read: readRelationship}
	MentionMUS          = RecordMUS[Mention]{write: writeMention, read: readMention}
	VectorRecordMUS     = RecordMUS[VectorRecord]{write: writeVectorRecord, read: readVectorRecord}
	CollectionSchemaMUS = RecordMUS[CollectionSchema]{write: writeSchema, read: readSchema}
	JobMUS              = RecordMUS[Job]{write: writeJob, read: readJob}
)

// VectorRecord is a stored embedding with its chunk text and metadata.
type VectorRecord struct {
	Id         ID
	DocumentId ID
	Vector     []float32
	Metadata   map[string]string
	Text       string
}

type musSink interface {
	uint64(v uint64)
	int64(v int64)
	string(v string)
}

type musSizer struct{ n int }

func (s *musSizer) uint64(v uint64) { s.n += varint.Uint64.Size(v) }
func (s *musSizer) int64(v int64)   { s.n += varint.Int64.Size(v) }
func (s *musSizer) string(v string) { s.n += ord.String.Size(v) }

type musWriter struct {
	bs []byte
	n  int
}

func (w *musWriter) uint64(v uint64) { w.n += varint.Uint64.Marshal(v, w.bs[w.n:]) }
func (w *musWriter) int64(v int64)   { w.n += varint.Int64.Marshal(v, w.bs[w.n:]) }
func (w *musWriter) string(v string) { w.n += ord.String.Marshal(v, w.bs[w.n:]) }

type musReader struct {
	bs  []byte
	n   int
	err error
}

func (r *musReader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) int64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) string() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

// Composite helpers

func putInt(s musSink, v int) { s.int64(int64(v)) }
func getInt(r *musReader) int { return int(r.int64()) }

// getCount reads a collection length. Every element takes at least one byte,
// so a count larger than the remaining input means the data is corrupt.
func getCount(r *musReader) int {
	n := getInt(r)
	if r.err != nil {
		return 0
	}
	if n < 0 || n > len(r.bs)-r.n {
		r.err = ErrCorruptRecord
		return 0
	}
	return n
}

func putBool(s musSink, v bool) {
	if v {
		s.uint64(1)
		return
	}
	s.uint64(0)
}
func getBool(r *musReader) bool { return r.uint64() == 1 }

func putFloat64(s musSink, v float64) { s.uint64(math.Float64bits(v)) }
func getFloat64(r *musReader) float64 { return math.Float64frombits(r.uint64()) }

// Times are stored as Unix microseconds; the zero time is stored as 0.
func putTime(s musSink, t time.Time) {
	if t.IsZero() {
		s.int64(0)
		return
	}
	s.int64(t.UnixMicro())
}

func getTime(r *musReader) time.Time {
	v := r.int64()
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func putVector(s musSink, v []float32) {
	putInt(s, len(v))
	for _, f := range v {
		s.uint64(uint64(math.Float32bits(f)))
	}
}

func getVector(r *musReader) []float32 {
	n := getCount(r)
	if n == 0 {
		return nil
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(uint32(r.uint64()))
	}
	return v
}

// Maps are written in key order so equal maps produce equal bytes.
func putStringMap(s musSink, m map[string]string) {
	putInt(s, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.string(k)
		s.string(m[k])
	}
}

func getStringMap(r *musReader) map[string]string {
	n := getCount(r)
	if n == 0 {
		return nil
	}
	m := make(map[string]string, n)
	for i := 0; i < n && r.err == nil; i++ {
		k := r.string()
		m[k] = r.string()
	}
	return m
}

// Records

func writeDocument(s musSink, d *Document) {
	s.uint64(uint64(d.Id))
	s.string(d.Text)
	putStringMap(s, d.Metadata)
	s.string(d.ContentHash)
	s.string(d.MetadataHash)
	s.string(d.TitleNormalized)
	putInt(s, d.ChunkSize)
	putInt(s, d.ChunkOverlap)
	putInt(s, d.ChunkCount)
	putTime(s, d.InsertedAt)
	putTime(s, d.UpdatedAt)
}

func readDocument(r *musReader, d *Document) {
	d.Id = ID(r.uint64())
	d.Text = r.string()
	d.Metadata = getStringMap(r)
	d.ContentHash = r.string()
	d.MetadataHash = r.string()
	d.TitleNormalized = r.string()
	d.ChunkSize = getInt(r)
	d.ChunkOverlap = getInt(r)
	d.ChunkCount = getInt(r)
	d.InsertedAt = getTime(r)
	d.UpdatedAt = getTime(r)
}

func writeChunk(s musSink, c *Chunk) {
	s.uint64(uint64(c.Id))
	s.uint64(uint64(c.DocumentId))
	s.string(c.Text)
	putInt(s, c.Sequence)
	putVector(s, c.Vector)
	putInt(s, len(c.Concepts))
	for _, ref := range c.Concepts {
		s.uint64(uint64(ref.ConceptId))
		putFloat64(s, ref.Weight)
	}
}

func readChunk(r *musReader, c *Chunk) {
	c.Id = ID(r.uint64())
	c.DocumentId = ID(r.uint64())
	c.Text = r.string()
	c.Sequence = getInt(r)
	c.Vector = getVector(r)
	n := getCount(r)
	if n == 0 {
		return
	}
	c.Concepts = make([]ConceptRef, n)
	for i := range c.Concepts {
		c.Concepts[i].ConceptId = ID(r.uint64())
		c.Concepts[i].Weight = getFloat64(r)
	}
}

func writeConcept(s musSink, c *Concept) {
	s.uint64(uint64(c.Id))
	s.string(c.Name)
	s.string(c.Normalized)
	s.string(c.Category)
	putInt(s, c.Mentions)
	putTime(s, c.InsertedAt)
	putTime(s, c.UpdatedAt)
}

func readConcept(r *musReader, c *Concept) {
	c.Id = ID(r.uint64())
	c.Name = r.string()
	c.Normalized = r.string()
	c.Category = r.string()
	c.Mentions = getInt(r)
	c.InsertedAt = getTime(r)
	c.UpdatedAt = getTime(r)
}

func writeRelationship(s musSink, rel *Relationship) {
	s.uint64(uint64(rel.From))
	s.uint64(uint64(rel.To))
	s.string(string(rel.Type))
	putFloat64(s, rel.Strength)
	putInt(s, rel.Evidence)
	putTime(s, rel.UpdatedAt)
}

func readRelationship(r *musReader, rel *Relationship) {
	rel.From = ID(r.uint64())
	rel.To = ID(r.uint64())
	rel.Type = RelationType(r.string())
	rel.Strength = getFloat64(r)
	rel.Evidence = getInt(r)
	rel.UpdatedAt = getTime(r)
}

func writeMention(s musSink, m *Mention) {
	s.uint64(uint64(m.ChunkId))
	s.uint64(uint64(m.DocumentId))
	s.uint64(uint64(m.ConceptId))
	putFloat64(s, m.Weight)
}

func readMention(r *musReader, m *Mention) {
	m.ChunkId = ID(r.uint64())
	m.DocumentId = ID(r.uint64())
	m.ConceptId = ID(r.uint64())
	m.Weight = getFloat64(r)
}

func writeVectorRecord(s musSink, v *VectorRecord) {
	s.uint64(uint64(v.Id))
	s.uint64(uint64(v.DocumentId))
	putVector(s, v.Vector)
	putStringMap(s, v.Metadata)
	s.string(v.Text)
}

func readVectorRecord(r *musReader, v *VectorRecord) {
	v.Id = ID(r.uint64())
	v.DocumentId = ID(r.uint64())
	v.Vector = getVector(r)
	v.Metadata = getStringMap(r)
	v.Text = r.string()
}

func writeSchema(s musSink, c *CollectionSchema) {
	s.string(c.Name)
	s.string(c.Model)
	putInt(s, c.Dimension)
	putTime(s, c.CreatedAt)
}

func readSchema(r *musReader, c *CollectionSchema) {
	c.Name = r.string()
	c.Model = r.string()
	c.Dimension = getInt(r)
	c.CreatedAt = getTime(r)
}

func writeJob(s musSink, j *Job) {
	s.string(j.Id)
	s.string(string(j.Type))
	putStringMap(s, j.Params)
	s.string(string(j.Status))
	putInt(s, j.Processed)
	putInt(s, j.Total)
	putTime(s, j.CreatedAt)
	putTime(s, j.StartedAt)
	putTime(s, j.CompletedAt)
	s.string(j.Error)
	putBool(s, j.CancelRequested)
	putBool(s, j.Result != nil)
	if j.Result == nil {
		return
	}
	putInt(s, j.Result.Skipped)
	putInt(s, len(j.Result.Succeeded))
	for _, item := range j.Result.Succeeded {
		s.string(item.Item)
		s.uint64(uint64(item.DocumentId))
		putBool(s, item.Duplicate)
		putInt(s, item.Concepts)
		putInt(s, item.Relationships)
	}
	putInt(s, len(j.Result.Failed))
	for _, item := range j.Result.Failed {
		s.string(item.Item)
		s.string(item.Error)
	}
}

func readJob(r *musReader, j *Job) {
	j.Id = r.string()
	j.Type = JobType(r.string())
	j.Params = getStringMap(r)
	j.Status = JobStatus(r.string())
	j.Processed = getInt(r)
	j.Total = getInt(r)
	j.CreatedAt = getTime(r)
	j.StartedAt = getTime(r)
	j.CompletedAt = getTime(r)
	j.Error = r.string()
	j.CancelRequested = getBool(r)
	if !getBool(r) || r.err != nil {
		return
	}
	res := &JobResult{Skipped: getInt(r)}
	n := getCount(r)
	for i := 0; i < n && r.err == nil; i++ {
		var item ItemResult
		item.Item = r.string()
		item.DocumentId = ID(r.uint64())
		item.Duplicate = getBool(r)
		item.Concepts = getInt(r)
		item.Relationships = getInt(r)
		res.Succeeded = append(res.Succeeded, item)
	}
	n = getCount(r)
	for i := 0; i < n && r.err == nil; i++ {
		var item ItemFailure
		item.Item = r.string()
		item.Error = r.string()
		res.Failed = append(res.Failed, item)
	}
	j.Result = res
}
