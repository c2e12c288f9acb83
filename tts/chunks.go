package tts

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// A chunk may end at a clause boundary once it is this long.
	clauseLength = 40

	// Chunks are cut at the next word boundary past this length even
	// without punctuation.
	maxChunkLength = 200
)

// Chunk is a span of the input text, [Start, End) in bytes, that starts
// and ends on word boundaries.
type Chunk struct {
	Text  string
	Start int
	End   int
}

// Chunks splits text for incremental synthesis: at sentence ends, at
// clause punctuation once a chunk is long enough, and at any word once it
// is too long.
func Chunks(text string) []Chunk {
	var chunks []Chunk
	start, i := -1, 0

	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}

		j := i
		for j < len(text) {
			r, size := utf8.DecodeRuneInString(text[j:])
			if unicode.IsSpace(r) {
				break
			}
			j += size
		}

		if start < 0 {
			start = i
		}
		word := text[i:j]
		length := j - start

		if endsSentence(word) ||
			(length >= clauseLength && endsClause(word)) ||
			length >= maxChunkLength {
			chunks = append(chunks, Chunk{Text: text[start:j], Start: start, End: j})
			start = -1
		}
		i = j
	}

	if start >= 0 {
		end := len(strings.TrimRightFunc(text, unicode.IsSpace))
		chunks = append(chunks, Chunk{Text: text[start:end], Start: start, End: end})
	}
	return chunks
}

func endsSentence(word string) bool {
	word = strings.TrimRight(word, `"')]}»”’`)
	return strings.HasSuffix(word, ".") ||
		strings.HasSuffix(word, "!") ||
		strings.HasSuffix(word, "?") ||
		strings.HasSuffix(word, "…")
}

func endsClause(word string) bool {
	return strings.HasSuffix(word, ",") ||
		strings.HasSuffix(word, ";") ||
		strings.HasSuffix(word, ":")
}
