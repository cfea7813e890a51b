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

package dedup

import (
	"encoding/hex"
	"strings"

	"github.com/minio/highwayhash"
	"github.com/poiesic/lattice/core"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var key = []byte("lattice:content-fingerprint:v1..")

// EmptyFingerprint is returned for text with no content after normalization.
var EmptyFingerprint = Fingerprint{Content: "empty", Metadata: "empty"}

var folder = cases.Fold()

// Fingerprint identifies a document by its normalized text and by the
// metadata keys that name it (title and source).
type Fingerprint struct {
	Content  string
	Metadata string
}

// Key is the combined value stored in the fingerprint index.
func (f Fingerprint) Key() string {
	return f.Content + ":" + f.Metadata
}

// Empty reports whether f is the sentinel for empty text.
func (f Fingerprint) Empty() bool {
	return f == EmptyFingerprint
}

// Hash fingerprints text and metadata. It is deterministic: differences in
// case, Unicode form and whitespace do not change the result.
func Hash(text string, metadata map[string]string) Fingerprint {
	normalized := NormalizeText(text)
	if normalized == "" {
		return EmptyFingerprint
	}
	return Fingerprint{
		Content:  sum(normalized),
		Metadata: HashMetadata(metadata),
	}
}

// HashMetadata hashes the normalized title and source. Other keys are ignored.
func HashMetadata(metadata map[string]string) string {
	var b strings.Builder
	b.WriteString(core.MetadataTitle)
	b.WriteByte('=')
	b.WriteString(NormalizeText(metadata[core.MetadataTitle]))
	b.WriteByte(0)
	b.WriteString(core.MetadataSource)
	b.WriteByte('=')
	b.WriteString(NormalizeText(metadata[core.MetadataSource]))
	return sum(b.String())
}

// NormalizeText applies NFKC, folds case and collapses whitespace.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeTitle is the form titles are indexed and compared in.
func NormalizeTitle(title string) string {
	return core.NormalizeConceptName(title)
}

func sum(s string) string {
	h := highwayhash.Sum128([]byte(s), key)
	return hex.EncodeToString(h[:])
}
