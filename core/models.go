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
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// Documents, chunks and concepts all use content-derived IDs.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Document is a unit of ingested text.
// It is immutable once stored except for metadata enrichment.
type Document struct {
	Id              ID
	Text            string
	Metadata        map[string]string // Flattened scalar metadata
	ContentHash     string            // Fingerprint key: normalized text plus title and source
	MetadataHash    string            // Fingerprint over title and source
	TitleNormalized string
	ChunkSize       int // Chunk size the document was split with
	ChunkOverlap    int
	ChunkCount      int
	InsertedAt      time.Time
	UpdatedAt       time.Time
}

// Title returns the document title from metadata, if any.
func (d *Document) Title() string {
	return d.Metadata[MetadataTitle]
}

// Source returns the document source from metadata, if any.
func (d *Document) Source() string {
	return d.Metadata[MetadataSource]
}

// Well-known metadata keys.
const (
	MetadataTitle  = "title"
	MetadataSource = "source"
)

// Chunk is a bounded segment of a document, the unit of embedding and extraction.
type Chunk struct {
	Id         ID
	DocumentId ID // Back-reference, not ownership
	Text       string
	Sequence   int
	Vector     []float32
	Concepts   []ConceptRef
}

// ChunkID derives the ID of the chunk at position seq of a document.
func ChunkID(documentID ID, seq int) ID {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(documentID))
	binary.BigEndian.PutUint64(buf[8:], uint64(seq))
	return IDFromContent(string(buf[:]))
}

// Concept is a normalized topic deduplicated corpus-wide by its normalized name.
type Concept struct {
	Id         ID
	Name       string // Display name as first extracted
	Normalized string
	Category   string
	Mentions   int // Number of chunks mentioning the concept
	InsertedAt time.Time
	UpdatedAt  time.Time
}

// ConceptRef represents a reference to a concept with a chunk-local weight.
type ConceptRef struct {
	ConceptId ID
	Weight    float64 // Relevance within the chunk, 0-1
}

// Mention is a MENTIONS edge from a chunk to a concept.
type Mention struct {
	ChunkId    ID
	DocumentId ID
	ConceptId  ID
	Weight     float64
}

// RelationType names a graph edge type.
type RelationType string

const (
	RelationRelatedTo RelationType = "RELATED_TO"
	RelationMentions  RelationType = "MENTIONS"
)

// Relationship is an undirected RELATED_TO edge between two concepts.
// From is always the smaller ID so each pair has exactly one edge.
type Relationship struct {
	From      ID
	To        ID
	Type      RelationType
	Strength  float64 // In [0,1]
	Evidence  int     // Number of times the edge was asserted
	UpdatedAt time.Time
}

// NewRelationship builds a RELATED_TO edge with canonical endpoint order.
func NewRelationship(a, b ID, strength float64) *Relationship {
	if b < a {
		a, b = b, a
	}
	return &Relationship{
		From:     a,
		To:       b,
		Type:     RelationRelatedTo,
		Strength: ClampStrength(strength),
		Evidence: 1,
	}
}

// Other returns the endpoint of the relationship that is not id.
func (r *Relationship) Other(id ID) ID {
	if r.From == id {
		return r.To
	}
	return r.From
}

// ClampStrength bounds a strength to [0,1].
func ClampStrength(s float64) float64 {
	if s < 0 || s != s {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Path is a chain of concepts reached by graph traversal.
// Strengths[i] is the strength of the edge between Concepts[i] and Concepts[i+1].
type Path struct {
	Concepts  []ID
	Strengths []float64
}

// Hops returns the number of RELATED_TO edges in the path.
func (p Path) Hops() int {
	return len(p.Strengths)
}

// End returns the last concept of the path.
func (p Path) End() ID {
	return p.Concepts[len(p.Concepts)-1]
}

// StrengthProduct returns the product of the edge strengths along the path.
func (p Path) StrengthProduct() float64 {
	product := 1.0
	for _, s := range p.Strengths {
		product *= s
	}
	return product
}

// Score is the strength product divided by the hop distance. A start
// concept scores 1.
func (p Path) Score() float64 {
	if p.Hops() == 0 {
		return 1
	}
	return p.StrengthProduct() / float64(p.Hops())
}

// CollectionSchema records the embedding contract of a vector collection.
type CollectionSchema struct {
	Name      string
	Model     string
	Dimension int
	CreatedAt time.Time
}

// SearchSource identifies which retrieval path produced a result.
type SearchSource string

const (
	SourceVector SearchSource = "vector"
	SourceGraph  SearchSource = "graph"
)

// SearchResult is a ranked hybrid search hit.
type SearchResult struct {
	ChunkId    ID
	DocumentId ID
	Text       string
	Score      float64
	Source     SearchSource
	Path       []string // Concept chain for graph results
	Hops       int
}
