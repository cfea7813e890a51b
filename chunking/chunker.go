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

// Package chunking splits document text into overlapping chunks that follow
// the structure of the text: paragraphs first, then sentences, and only as a
// last resort inside a sentence.
package chunking

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// ErrInvalidSize is returned for a non-positive size or an overlap that is
// negative or not smaller than the size.
var ErrInvalidSize = errors.New("invalid chunk size")

// Chunk is one piece of a document. Start and End are byte offsets into the
// original text, so consecutive chunks may overlap.
type Chunk struct {
	Text     string
	Start    int
	End      int
	Sequence int
}

// Chunker splits text into chunks of at most Size characters.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. Sizes are measured in characters (runes).
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidSize, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidSize, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the maximum chunk length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the maximum length carried into the next chunk.
func (c *Chunker) Overlap() int { return c.overlap }

// Split is shorthand for New(size, overlap) followed by Split.
func Split(text string, size, overlap int) ([]Chunk, error) {
	c, err := New(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}

// Split returns the chunks of text in order. Text with any non-space
// content yields at least one chunk; whitespace-only text yields none.
//
// Overlap is made of whole sentences from the end of the previous chunk,
// as many as fit in the overlap length while leaving room for new content.
func (c *Chunker) Split(text string) []Chunk {
	units, paraEnds := c.units(text)
	if len(units) == 0 {
		return nil
	}

	var chunks []Chunk
	i := 0
	carried := -1
	for {
		j := i
		for j+1 < len(units) {
			next := units[j+1]
			if runeLen(text, units[i].start, next.end) > c.size {
				break
			}
			// Start a paragraph that won't fit in a new chunk rather than
			// cutting it, once this chunk has content of its own.
			if j > carried && next.para != units[j].para &&
				runeLen(text, units[i].start, paraEnds[next.para]) > c.size {
				break
			}
			j++
		}

		chunks = append(chunks, Chunk{
			Text:     text[units[i].start:units[j].end],
			Start:    units[i].start,
			End:      units[j].end,
			Sequence: len(chunks),
		})
		if j == len(units)-1 {
			break
		}

		next := j + 1
		if c.overlap > 0 {
			for k := j; k > i; k-- {
				if runeLen(text, units[k].start, units[j].end) > c.overlap ||
					runeLen(text, units[k].start, units[j+1].end) > c.size {
					break
				}
				next = k
			}
		}
		carried = j
		i = next
	}
	return chunks
}

// span is a sentence, or a piece of an over-long sentence, within paragraph para.
type span struct {
	start, end int
	para       int
}

func (c *Chunker) units(text string) ([]span, []int) {
	var units []span
	var paraEnds []int
	for _, p := range paragraphs(text) {
		para := len(paraEnds)
		paraEnds = append(paraEnds, p[1])
		for _, s := range sentences(text, p[0], p[1]) {
			if runeLen(text, s[0], s[1]) <= c.size {
				units = append(units, span{start: s[0], end: s[1], para: para})
				continue
			}
			for _, piece := range c.hardSplit(text, s[0], s[1]) {
				units = append(units, span{start: piece[0], end: piece[1], para: para})
			}
		}
	}
	return units, paraEnds
}

// paragraphs returns the [start, end) offsets of text blocks separated by
// blank lines, trimmed of surrounding whitespace.
func paragraphs(text string) [][2]int {
	var out [][2]int
	start, contentEnd := -1, 0
	lineStart := 0
	for {
		nl := strings.IndexByte(text[lineStart:], '\n')
		lineEnd := len(text)
		if nl >= 0 {
			lineEnd = lineStart + nl
		}
		line := text[lineStart:lineEnd]
		if strings.TrimSpace(line) == "" {
			if start >= 0 {
				out = append(out, [2]int{start, contentEnd})
				start = -1
			}
		} else {
			if start < 0 {
				start = lineStart + len(line) - len(strings.TrimLeftFunc(line, unicode.IsSpace))
			}
			contentEnd = lineStart + len(strings.TrimRightFunc(line, unicode.IsSpace))
		}
		if nl < 0 {
			break
		}
		lineStart = lineEnd + 1
	}
	if start >= 0 {
		out = append(out, [2]int{start, contentEnd})
	}
	return out
}

const closers = ".!?\"')]”’"

// sentences splits text[ps:pe] after terminal punctuation followed by
// whitespace, and at line breaks.
func sentences(text string, ps, pe int) [][2]int {
	var out [][2]int
	start, i := ps, ps
	for i < pe {
		r, w := utf8.DecodeRuneInString(text[i:pe])
		switch r {
		case '\n':
			out = appendTrimmed(out, text, start, i)
			start = i + w
			i += w
		case '.', '!', '?':
			j := i + w
			for j < pe {
				r2, w2 := utf8.DecodeRuneInString(text[j:pe])
				if !strings.ContainsRune(closers, r2) {
					break
				}
				j += w2
			}
			if j < pe {
				if r2, _ := utf8.DecodeRuneInString(text[j:pe]); unicode.IsSpace(r2) {
					out = appendTrimmed(out, text, start, j)
					start = j
				}
			}
			i = j
		default:
			i += w
		}
	}
	return appendTrimmed(out, text, start, pe)
}

// hardSplit cuts an over-long sentence into pieces of at most size runes,
// at the last whitespace in the second half of the window when there is one.
func (c *Chunker) hardSplit(text string, start, end int) [][2]int {
	var out [][2]int
	for start < end {
		cut, n := start, 0
		for cut < end && n < c.size {
			_, w := utf8.DecodeRuneInString(text[cut:end])
			cut += w
			n++
		}
		if cut < end {
			if ws := strings.LastIndexFunc(text[start:cut], unicode.IsSpace); ws > 0 &&
				runeLen(text, start, start+ws) >= c.size/2 {
				cut = start + ws
			}
		}
		out = appendTrimmed(out, text, start, cut)
		start = cut
		for start < end {
			r, w := utf8.DecodeRuneInString(text[start:end])
			if !unicode.IsSpace(r) {
				break
			}
			start += w
		}
	}
	return out
}

func appendTrimmed(out [][2]int, text string, start, end int) [][2]int {
	s := text[start:end]
	trimmed := strings.TrimLeftFunc(s, unicode.IsSpace)
	start += len(s) - len(trimmed)
	trimmed = strings.TrimRightFunc(trimmed, unicode.IsSpace)
	if trimmed == "" {
		return out
	}
	return append(out, [2]int{start, start + len(trimmed)})
}

func runeLen(text string, start, end int) int {
	return utf8.RuneCountInString(text[start:end])
}
