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

package extraction

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/lattice/core"
)

const (
	DefaultMinLength = 2
	DefaultMaxLength = 60
)

// Validator decides which candidate names are acceptable concepts.
type Validator struct {
	minLength int
	maxLength int

	// domainStopWords holds, per domain, words too generic to be concepts there.
	domainStopWords map[string]map[string]bool
}

// NewValidator creates a Validator accepting normalized names of
// minLength to maxLength characters. Non-positive values select the defaults.
func NewValidator(minLength, maxLength int) *Validator {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Validator{minLength: minLength, maxLength: maxLength}
}

// WithStopWords adds stop words that apply only when extracting for domain.
// An entry may be a phrase; it then rejects exactly that name.
func (v *Validator) WithStopWords(domain string, words ...string) *Validator {
	if v.domainStopWords == nil {
		v.domainStopWords = make(map[string]map[string]bool)
	}
	set := v.domainStopWords[domain]
	if set == nil {
		set = make(map[string]bool, len(words))
		v.domainStopWords[domain] = set
	}
	for _, w := range words {
		if w = core.NormalizeConceptName(w); w != "" {
			set[w] = true
		}
	}
	return v
}

// IsValidConcept rejects names that are too short or too long, that contain
// no letter, or that consist only of stop words. The stop words of domain
// apply on top of the common ones.
func (v *Validator) IsValidConcept(name, domain string) bool {
	normalized := core.NormalizeConceptName(name)
	n := utf8.RuneCountInString(normalized)
	if n < v.minLength || n > v.maxLength {
		return false
	}
	if !strings.ContainsFunc(normalized, unicode.IsLetter) {
		return false
	}
	domainWords := v.domainStopWords[domain]
	if domainWords[normalized] {
		return false
	}
	for _, w := range strings.Fields(normalized) {
		if !stopWords[w] && !domainWords[w] {
			return true
		}
	}
	return false
}

// Filter drops invalid candidates and, of names that differ only in case or
// spacing, keeps the one with the highest weight. Weights are clamped to
// [0,1] and the result is sorted by weight, then name.
func (v *Validator) Filter(candidates []Candidate, domain string) []Candidate {
	sorted := slices.Clone(candidates)
	sortCandidates(sorted)

	seen := make(map[string]bool, len(sorted))
	out := make([]Candidate, 0, len(sorted))
	for _, c := range sorted {
		if !v.IsValidConcept(c.Name, domain) {
			continue
		}
		key := core.NormalizeConceptName(c.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		c.Name = strings.TrimSpace(c.Name)
		c.Weight = core.ClampStrength(c.Weight)
		out = append(out, c)
	}
	return out
}

func sortCandidates(cs []Candidate) {
	slices.SortStableFunc(cs, func(a, b Candidate) int {
		if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
			return c
		}
		return cmp.Compare(core.NormalizeConceptName(a.Name), core.NormalizeConceptName(b.Name))
	})
}
