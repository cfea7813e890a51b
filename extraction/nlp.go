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
	"errors"
	"strings"
	"unicode"
)

// ErrNothingToExtract is returned by NLPStrategy when the text has no words.
var ErrNothingToExtract = errors.New("no words to extract from")

// maxPhraseWords caps the length of a candidate phrase.
const maxPhraseWords = 3

// NLPStrategy finds key phrases statistically: candidate phrases are runs
// of non-stop words inside a sentence, and each phrase scores the sum of
// its words' degree-to-frequency ratios (the RAKE scheme). Capitalized
// phrases in mid-sentence are kept as proper nouns.
type NLPStrategy struct{}

// NewNLPStrategy creates the strategy.
func NewNLPStrategy() *NLPStrategy { return &NLPStrategy{} }

func (s *NLPStrategy) Kind() StrategyKind { return StrategyNLP }

// Extract returns phrases weighted relative to the best-scoring one.
func (s *NLPStrategy) Extract(ctx context.Context, req Request) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := tokenize(req.Text)
	if len(tokens) == 0 {
		return nil, ErrNothingToExtract
	}

	phrases := candidatePhrases(tokens)

	freq := make(map[string]float64)
	degree := make(map[string]float64)
	for _, p := range phrases {
		for _, t := range p {
			freq[t.lower]++
			degree[t.lower] += float64(len(p))
		}
	}

	type scored struct {
		name     string
		score    float64
		category string
	}
	byName := make(map[string]*scored)
	var order []string
	for _, p := range phrases {
		words := make([]string, len(p))
		var score float64
		for i, t := range p {
			words[i] = t.lower
			score += degree[t.lower] / freq[t.lower]
		}
		key := strings.Join(words, " ")
		if existing, ok := byName[key]; ok {
			existing.score += score
			continue
		}
		sc := &scored{name: key, score: score, category: DefaultCategory}
		if properNoun(p) {
			sc.name = joinOriginal(p)
			sc.category = "proper_noun"
		}
		byName[key] = sc
		order = append(order, key)
	}

	var best float64
	for _, sc := range byName {
		best = max(best, sc.score)
	}
	candidates := make([]Candidate, 0, len(order))
	for _, key := range order {
		sc := byName[key]
		candidates = append(candidates, Candidate{
			Name:     sc.name,
			Category: sc.category,
			Weight:   sc.score / best,
		})
	}
	return candidates, nil
}

// candidatePhrases splits the token stream at stop words and sentence
// ends. Runs longer than maxPhraseWords are cut into pieces.
func candidatePhrases(tokens []token) [][]token {
	var phrases [][]token
	var run []token
	flush := func() {
		for len(run) > 0 {
			n := min(len(run), maxPhraseWords)
			phrases = append(phrases, run[:n])
			run = run[n:]
		}
		run = nil
	}
	for i, t := range tokens {
		if i > 0 && tokens[i-1].sentence != t.sentence {
			flush()
		}
		if stopWords[t.lower] || !strings.ContainsFunc(t.text, unicode.IsLetter) {
			flush()
			continue
		}
		run = append(run, t)
	}
	flush()
	return phrases
}

// properNoun reports whether every word of the phrase starts with an upper
// case letter. A single word counts only if it is an acronym, since any
// word is capitalized at the start of a sentence.
func properNoun(p []token) bool {
	for _, t := range p {
		r := []rune(t.text)[0]
		if !unicode.IsUpper(r) {
			return false
		}
	}
	if len(p) == 1 {
		return isAcronym(p[0].text)
	}
	return true
}

func isAcronym(word string) bool {
	letters := 0
	for _, r := range word {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2 && len(word) <= 8
}

func joinOriginal(p []token) string {
	words := make([]string, len(p))
	for i, t := range p {
		words[i] = t.text
	}
	return strings.Join(words, " ")
}
