package chunking

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := New(size, overlap)
	require.NoError(t, err)
	return c
}

func assertCovers(t *testing.T, text string, chunks []Chunk) {
	t.Helper()
	for _, ch := range chunks {
		assert.Equal(t, text[ch.Start:ch.End], ch.Text)
	}
	for i, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		covered := false
		for _, ch := range chunks {
			if ch.Start <= i && i < ch.End {
				covered = true
				break
			}
		}
		require.True(t, covered, "byte %d (%q) not in any chunk", i, r)
	}
}

func TestNew_Validation(t *testing.T) {
	for _, tt := range []struct{ size, overlap int }{{0, 0}, {-5, 0}, {10, -1}, {10, 10}, {10, 20}} {
		_, err := New(tt.size, tt.overlap)
		assert.ErrorIs(t, err, ErrInvalidSize, "size=%d overlap=%d", tt.size, tt.overlap)
	}
	c := mustChunker(t, DefaultSize, DefaultOverlap)
	assert.Equal(t, 1000, c.Size())
	assert.Equal(t, 200, c.Overlap())
}

func TestSplit_Empty(t *testing.T) {
	c := mustChunker(t, 100, 10)
	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split(" \n\n\t "))
}

func TestSplit_ShortText(t *testing.T) {
	chunks, err := Split("  Neural networks are used in deep learning.\n", 100, 20)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Neural networks are used in deep learning.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Sequence)
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	text := "Short one.\n\nTiny. This second sentence is long enough to overflow the chunk."
	chunks := mustChunker(t, 70, 0).Split(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Short one.", chunks[0].Text)
	assert.Equal(t, "Tiny. This second sentence is long enough to overflow the chunk.", chunks[1].Text)
	assertCovers(t, text, chunks)
}

func TestSplit_CombinesSmallParagraphs(t *testing.T) {
	text := "One.\n\nTwo.\n\nThree."
	chunks := mustChunker(t, 100, 0).Split(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
}

func TestSplit_NoParagraphBreaks(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("This is a sentence of moderate size. ")
	}
	text := b.String()

	chunks := mustChunker(t, 100, 0).Split(text)
	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 100)
		assert.True(t, strings.HasSuffix(ch.Text, "."), "chunk %d split mid-sentence: %q", i, ch.Text)
		assert.Equal(t, i, ch.Sequence)
	}
	assertCovers(t, text, chunks)
}

func TestSplit_HardSplitsLongSentence(t *testing.T) {
	text := strings.Repeat("word ", 60) + "end"
	chunks := mustChunker(t, 50, 0).Split(text)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 50)
		assert.False(t, strings.HasPrefix(ch.Text, " "))
	}
	assertCovers(t, text, chunks)

	unbroken := strings.Repeat("x", 125)
	chunks = mustChunker(t, 50, 0).Split(unbroken)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2].Text, 25)
}

func TestSplit_Overlap(t *testing.T) {
	sentences := []string{
		"Alpha sentence here.",
		"Bravo sentence here.",
		"Charlie sentence is.",
		"Delta sentence here.",
		"Echo sentence here!",
	}
	text := strings.Join(sentences, " ")
	chunks := mustChunker(t, 50, 25).Split(text)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		assert.Less(t, cur.Start, prev.End, "chunk %d should overlap chunk %d", i, i-1)
		assert.Greater(t, cur.End, prev.End, "chunk %d must add new content", i)
		tail := text[cur.Start:prev.End]
		assert.True(t, strings.HasSuffix(prev.Text, tail))
		assert.LessOrEqual(t, utf8.RuneCountInString(tail), 25)
	}
	assert.Equal(t, "Alpha sentence here. Bravo sentence here.", chunks[0].Text)
	assert.True(t, strings.HasPrefix(chunks[1].Text, "Bravo sentence here."))
	assertCovers(t, text, chunks)
}

func TestSplit_OverlapNeverStalls(t *testing.T) {
	text := strings.Repeat("Aa. ", 10) + strings.Repeat("b", 40) + ". Cc."
	chunks := mustChunker(t, 45, 40).Split(text)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].End, chunks[i-1].End)
	}
	assertCovers(t, text, chunks)
}

func TestSplit_CountsRunes(t *testing.T) {
	text := strings.Repeat("é", 30)
	chunks := mustChunker(t, 30, 0).Split(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
}

func TestSplit_LineBreaksAreSentenceBoundaries(t *testing.T) {
	text := "- first item\n- second item\n- third item"
	chunks := mustChunker(t, 26, 0).Split(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, "- first item\n- second item", chunks[0].Text)
	assert.Equal(t, "- third item", chunks[1].Text)
}
