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
	"strings"
	"unicode"

	"github.com/poiesic/lattice/core"
)

// stopWords are connector words that never make a concept on their own.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "were": true, "to": true, "of": true, "and": true, "in": true,
	"that": true, "have": true, "has": true, "had": true, "it": true, "its": true,
	"for": true, "not": true, "on": true, "with": true, "as": true, "you": true,
	"do": true, "does": true, "at": true, "this": true, "these": true, "those": true,
	"but": true, "by": true, "from": true, "or": true, "if": true, "then": true,
	"than": true, "so": true, "such": true, "into": true, "onto": true, "about": true,
	"can": true, "could": true, "will": true, "would": true, "should": true,
	"may": true, "might": true, "must": true, "also": true, "which": true,
	"who": true, "whom": true, "what": true, "when": true, "where": true, "why": true,
	"how": true, "all": true, "any": true, "each": true, "some": true, "more": true,
	"most": true, "other": true, "very": true, "used": true, "use": true, "using": true,
	"there": true, "their": true, "they": true, "them": true, "we": true, "our": true,
	"he": true, "she": true, "his": true, "her": true, "i": true, "me": true, "my": true,
	"been": true, "being": true, "between": true, "over": true, "under": true,
	"both": true, "via": true, "per": true, "etc": true, "eg": true, "ie": true,
	"tell": true, "show": true, "find": true, "explain": true, "describe": true,
}

// IsStopWord reports whether the lowercased word is a stop word.
func IsStopWord(word string) bool {
	return stopWords[strings.ToLower(word)]
}

// token is a word with its original spelling and its position in the
// sentence. Tokens from different sentences never form one phrase.
type token struct {
	text     string
	lower    string
	sentence int
}

// tokenize splits text into words, trimming punctuation. A word ending in
// sentence punctuation closes the sentence.
func tokenize(text string) []token {
	var tokens []token
	sentence := 0
	for _, field := range strings.Fields(text) {
		endsSentence := strings.ContainsAny(field[len(field)-1:], ".!?;:")
		cleaned := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if cleaned != "" {
			tokens = append(tokens, token{text: cleaned, lower: strings.ToLower(cleaned), sentence: sentence})
		}
		if endsSentence {
			sentence++
		}
	}
	return tokens
}

// tokenizeAndFilter splits text into lowercased words with stop words removed.
func tokenizeAndFilter(text string) []string {
	tokens := tokenize(text)
	filtered := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !stopWords[t.lower] {
			filtered = append(filtered, t.lower)
		}
	}
	return filtered
}

// QueryTerms returns the candidate concept names of a search query: every
// run of one to three consecutive non-stop words, normalized, longest
// first. The retriever looks each of them up in the concept graph.
func QueryTerms(query string) []string {
	tokens := tokenize(query)
	seen := make(map[string]bool)
	var terms []string
	for n := 3; n >= 1; n-- {
		for i := 0; i+n <= len(tokens); i++ {
			window := tokens[i : i+n]
			if !phraseOK(window) {
				continue
			}
			words := make([]string, n)
			for k, t := range window {
				words[k] = t.text
			}
			term := core.NormalizeConceptName(strings.Join(words, " "))
			if term != "" && !seen[term] {
				seen[term] = true
				terms = append(terms, term)
			}
		}
	}
	return terms
}

// phraseOK accepts a window of tokens from one sentence that neither starts
// nor ends with a stop word.
func phraseOK(window []token) bool {
	first, last := window[0], window[len(window)-1]
	if first.sentence != last.sentence {
		return false
	}
	return !stopWords[first.lower] && !stopWords[last.lower]
}

// Sentences splits text into sentences of lowercased words.
func Sentences(text string) [][]string {
	var sentences [][]string
	current := -1
	for _, t := range tokenize(text) {
		if t.sentence != current {
			sentences = append(sentences, nil)
			current = t.sentence
		}
		last := len(sentences) - 1
		sentences[last] = append(sentences[last], t.lower)
	}
	return sentences
}
