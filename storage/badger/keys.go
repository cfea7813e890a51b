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

package badger

import (
	"encoding/binary"

	"github.com/poiesic/lattice/core"
)

// Key prefixes for different data types
const (
	documentPrefix        = "doc:"
	documentHashPrefix    = "dochash:"
	documentTitlePrefix   = "doctitle:"
	chunkPrefix           = "chunk:"
	documentChunkPrefix   = "docchunk:"
	conceptPrefix         = "con:"
	adjacencyPrefix       = "adj:"
	mentionPrefix         = "men:"
	documentMentionPrefix = "docmen:"
	vectorPrefix          = "vec:"
	vectorSchemaPrefix    = "vecschema:"
	vectorDocumentPrefix  = "vecdoc:"
	jobPrefix             = "job:"
)

// Collection and title components are terminated with a NUL byte so that one
// name is never a prefix match for a longer one.
const componentTerminator = 0x00

// compositeKey builds prefix + parts, with IDs written in BigEndian order so
// lexicographic key order matches numeric order.
func compositeKey(prefix string, ids ...uint64) []byte {
	buf := make([]byte, len(prefix)+8*len(ids))
	offset := copy(buf, prefix)
	for _, id := range ids {
		binary.BigEndian.PutUint64(buf[offset:], id)
		offset += 8
	}
	return buf
}

// namedKey builds prefix + name + terminator + ids.
func namedKey(prefix, name string, ids ...uint64) []byte {
	buf := make([]byte, 0, len(prefix)+len(name)+1+8*len(ids))
	buf = append(buf, prefix...)
	buf = append(buf, name...)
	buf = append(buf, componentTerminator)
	for _, id := range ids {
		buf = binary.BigEndian.AppendUint64(buf, id)
	}
	return buf
}

// idAt decodes the BigEndian ID at offset in key.
func idAt(key []byte, offset int) core.ID {
	return core.ID(binary.BigEndian.Uint64(key[offset:]))
}

func makeDocumentKey(id core.ID) []byte {
	return compositeKey(documentPrefix, uint64(id))
}

func makeDocumentHashKey(hash string) []byte {
	return []byte(documentHashPrefix + hash)
}

// makeDocumentTitleKey generates a key for the title index. Scanning by a
// partial title finds every document whose title starts with it.
// Format: prefix:title\x00docID
func makeDocumentTitleKey(title string, id core.ID) []byte {
	return namedKey(documentTitlePrefix, title, uint64(id))
}

func makePartialDocumentTitleKey(titlePrefix string) []byte {
	return []byte(documentTitlePrefix + titlePrefix)
}

func makeChunkKey(id core.ID) []byte {
	return compositeKey(chunkPrefix, uint64(id))
}

// makeDocumentChunkKey generates a composite key for the chunk index.
// Format: prefix:docID:sequence
func makeDocumentChunkKey(docID core.ID, seq int) []byte {
	return compositeKey(documentChunkPrefix, uint64(docID), uint64(seq))
}

func makePartialDocumentChunkKey(docID core.ID) []byte {
	return compositeKey(documentChunkPrefix, uint64(docID))
}

func makeConceptKey(id core.ID) []byte {
	return compositeKey(conceptPrefix, uint64(id))
}

// makeAdjacencyKey generates a key for one direction of a RELATED_TO edge.
// Every edge is stored under both endpoints.
// Format: prefix:fromID:toID
func makeAdjacencyKey(from, to core.ID) []byte {
	return compositeKey(adjacencyPrefix, uint64(from), uint64(to))
}

func makePartialAdjacencyKey(from core.ID) []byte {
	return compositeKey(adjacencyPrefix, uint64(from))
}

// makeMentionKey generates a key for a MENTIONS edge.
// Format: prefix:conceptID:chunkID
func makeMentionKey(conceptID, chunkID core.ID) []byte {
	return compositeKey(mentionPrefix, uint64(conceptID), uint64(chunkID))
}

func makePartialMentionKey(conceptID core.ID) []byte {
	return compositeKey(mentionPrefix, uint64(conceptID))
}

// makeDocumentMentionKey indexes MENTIONS edges by document for removal.
// Format: prefix:docID:chunkID:conceptID
func makeDocumentMentionKey(docID, chunkID, conceptID core.ID) []byte {
	return compositeKey(documentMentionPrefix, uint64(docID), uint64(chunkID), uint64(conceptID))
}

func makePartialDocumentMentionKey(docID core.ID) []byte {
	return compositeKey(documentMentionPrefix, uint64(docID))
}

func makeVectorKey(collection string, id core.ID) []byte {
	return namedKey(vectorPrefix, collection, uint64(id))
}

func makePartialVectorKey(collection string) []byte {
	return namedKey(vectorPrefix, collection)
}

func makeVectorSchemaKey(collection string) []byte {
	return []byte(vectorSchemaPrefix + collection)
}

// makeVectorDocumentKey indexes vectors by document.
// Format: prefix:collection\x00docID:chunkID
func makeVectorDocumentKey(collection string, docID, id core.ID) []byte {
	return namedKey(vectorDocumentPrefix, collection, uint64(docID), uint64(id))
}

func makePartialVectorDocumentKey(collection string, docID core.ID) []byte {
	return namedKey(vectorDocumentPrefix, collection, uint64(docID))
}

func makeJobKey(id string) []byte {
	return []byte(jobPrefix + id)
}
