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
	"context"
	"strings"

	"github.com/poiesic/lattice/core"
)

// Dictionary maps normalized terms to their category.
type Dictionary map[string]string

// defaultDictionary is used when no dictionary is configured for a domain.
var defaultDictionary = Dictionary{
	"algorithm":                    "algorithm",
	"artificial intelligence":      "field_of_study",
	"backpropagation":              "algorithm",
	"computer vision":              "field_of_study",
	"convolutional neural network": "algorithm",
	"database":                     "software",
	"deep learning":                "field_of_study",
	"embedding":                    "method",
	"gradient descent":             "algorithm",
	"graph":                        "abstract_concept",
	"knowledge graph":              "technology",
	"language model":               "technology",
	"machine learning":             "field_of_study",
	"natural language processing":  "field_of_study",
	"neural network":               "algorithm",
	"reinforcement learning":       "field_of_study",
	"search engine":                "software",
	"transformer":                  "algorithm",
	"vector database":              "software",
}

// RuleStrategy matches the text against a keyword dictionary for the
// requested domain and picks out acronyms. It never fails, so it ends every
// fallback chain.
type RuleStrategy struct {
	dictionaries map[string]Dictionary
}

// NewRuleStrategy creates the strategy. dictionaries is keyed by domain;
// the "" entry, when present, replaces the built-in general dictionary.
func NewRuleStrategy(dictionaries map[string]Dictionary) *RuleStrategy {
	normalized := make(map[string]Dictionary, len(dictionaries))
	for domain, dict := range dictionaries {
		d := make(Dictionary, len(dict))
		for term, category := range dict {
			d[core.NormalizeConceptName(term)] = category
		}
		normalized[strings.ToLower(domain)] = d
	}
	return &RuleStrategy{dictionaries: normalized}
}

func (s *RuleStrategy) Kind() StrategyKind { return StrategyRules }

// Extract counts dictionary terms, matching whole words and tolerating a
// trailing plural "s", and adds acronyms at half weight.
func (s *RuleStrategy) Extract(ctx context.Context, req Request) ([]Candidate, error) {
	dict := s.dictionary(req.Domain)
	tokens := tokenize(req.Text)

	counts := make(map[string]int)
	var order []string
	add := func(term string) {
		if counts[term] == 0 {
			order = append(order, term)
		}
		counts[term]++
	}

	for i := 0; i < len(tokens); {
		matched := 1
		for n := maxPhraseWords + 1; n >= 1; n-- {
			if i+n > len(tokens) || tokens[i].sentence != tokens[i+n-1].sentence {
				continue
			}
			words := make([]string, n)
			for k, t := range tokens[i : i+n] {
				words[k] = t.lower
			}
			if term, ok := lookup(dict, strings.Join(words, " ")); ok {
				add(term)
				matched = n
				break
			}
		}
		i += matched
	}

	var best int
	for _, c := range counts {
		best = max(best, c)
	}
	candidates := make([]Candidate, 0, len(order))
	for _, term := range order {
		candidates = append(candidates, Candidate{
			Name:     term,
			Category: dict[term],
			Weight:   float64(counts[term]) / float64(best),
		})
	}

	seen := make(map[string]bool)
	for _, t := range tokens {
		if isAcronym(t.text) && !seen[t.text] {
			seen[t.text] = true
			candidates = append(candidates, Candidate{Name: t.text, Category: DefaultCategory, Weight: 0.5})
		}
	}
	return candidates, nil
}

// lookup finds phrase, or phrase without a plural "s", in dict.
func lookup(dict Dictionary, phrase string) (string, bool) {
	if _, ok := dict[phrase]; ok {
		return phrase, true
	}
	if singular := strings.TrimSuffix(phrase, "s"); singular != phrase {
		if _, ok := dict[singular]; ok {
			return singular, true
		}
	}
	return "", false
}

func (s *RuleStrategy) dictionary(domain string) Dictionary {
	if d, ok := s.dictionaries[strings.ToLower(domain)]; ok {
		return d
	}
	if d, ok := s.dictionaries[""]; ok {
		return d
	}
	return defaultDictionary
}
