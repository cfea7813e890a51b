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
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// NormalizeConceptName returns the canonical form of a concept name.
// Case is folded, Unicode is NFKC-normalized, underscores and hyphens become
// spaces, surrounding punctuation is trimmed and whitespace is collapsed.
func NormalizeConceptName(name string) string {
	s := norm.NFKC.String(name)
	s = folder.String(s)
	s = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return ' '
		}
		return r
	}, s)
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
	})
	return strings.Join(strings.Fields(s), " ")
}

// ConceptID returns the corpus-wide ID of a concept name.
// Names that differ only in case or spacing map to the same ID.
func ConceptID(name string) ID {
	return IDFromContent("concept:" + NormalizeConceptName(name))
}
