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

package storage

import (
	"fmt"

	"github.com/poiesic/lattice/core"
)

// marshal serializes v with the given MUS record serializer.
func marshal[T any](m core.RecordMUS[T], v T) []byte {
	buf := make([]byte, m.Size(v))
	m.Marshal(v, buf)
	return buf
}

// unmarshal deserializes a record and reports malformed data as ErrSerializationFailed.
func unmarshal[T any](m core.RecordMUS[T], data []byte) (*T, error) {
	v, _, err := m.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &v, nil
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	return marshal(core.IDMUS, id)
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, err := unmarshal(core.IDMUS, data)
	if err != nil {
		return 0, err
	}
	return *id, nil
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	return marshal(core.DocumentMUS, *doc)
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	return unmarshal(core.DocumentMUS, data)
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	return marshal(core.ChunkMUS, *chunk)
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	return unmarshal(core.ChunkMUS, data)
}

// MarshalConcept serializes a Concept to bytes.
func MarshalConcept(concept *core.Concept) []byte {
	return marshal(core.ConceptMUS, *concept)
}

// UnmarshalConcept deserializes a Concept from bytes.
func UnmarshalConcept(data []byte) (*core.Concept, error) {
	return unmarshal(core.ConceptMUS, data)
}

// MarshalRelationship serializes a Relationship to bytes.
func MarshalRelationship(rel *core.Relationship) []byte {
	return marshal(core.RelationshipMUS, *rel)
}

// UnmarshalRelationship deserializes a Relationship from bytes.
func UnmarshalRelationship(data []byte) (*core.Relationship, error) {
	return unmarshal(core.RelationshipMUS, data)
}

// MarshalMention serializes a Mention to bytes.
func MarshalMention(m *core.Mention) []byte {
	return marshal(core.MentionMUS, *m)
}

// UnmarshalMention deserializes a Mention from bytes.
func UnmarshalMention(data []byte) (*core.Mention, error) {
	return unmarshal(core.MentionMUS, data)
}

// MarshalVectorRecord serializes a VectorRecord to bytes.
func MarshalVectorRecord(rec *core.VectorRecord) []byte {
	return marshal(core.VectorRecordMUS, *rec)
}

// UnmarshalVectorRecord deserializes a VectorRecord from bytes.
func UnmarshalVectorRecord(data []byte) (*core.VectorRecord, error) {
	return unmarshal(core.VectorRecordMUS, data)
}

// MarshalSchema serializes a CollectionSchema to bytes.
func MarshalSchema(schema *core.CollectionSchema) []byte {
	return marshal(core.CollectionSchemaMUS, *schema)
}

// UnmarshalSchema deserializes a CollectionSchema from bytes.
func UnmarshalSchema(data []byte) (*core.CollectionSchema, error) {
	return unmarshal(core.CollectionSchemaMUS, data)
}

// MarshalJob serializes a Job to bytes.
func MarshalJob(job *core.Job) []byte {
	return marshal(core.JobMUS, *job)
}

// UnmarshalJob deserializes a Job from bytes.
func UnmarshalJob(data []byte) (*core.Job, error) {
	return unmarshal(core.JobMUS, data)
}
