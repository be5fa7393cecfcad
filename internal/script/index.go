// Package script holds the plain-text representation of the active script
// and its word index.
//
// The script store (persistence, rich-text markup) lives outside this
// module; the engine only ever reads plain text from it. Whenever the script
// identity or content changes, callers build a fresh [Index] — rebuilding
// discards all derived state, so the coordinator resets its cursor at the
// same time.
package script

import (
	"unicode"
	"unicode/utf8"
)

// Word is a single script word with its character-offset range in the plain
// text. Offsets are byte offsets; CharEnd is exclusive.
type Word struct {
	Text      string
	CharStart int
	CharEnd   int
}

// Index is the ordered word sequence of a script text. Pure-whitespace and
// line-break tokens are excluded: it answers "which word is at this
// character offset" and nothing about layout.
//
// An Index is immutable after construction and safe for concurrent use.
type Index struct {
	text  string
	words []Word
}

// NewIndex scans text and builds its word index. A word is a maximal run of
// non-space runes; punctuation stays attached to the word it touches so
// character ranges always cover the original text.
func NewIndex(text string) *Index {
	idx := &Index{text: text}

	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				idx.words = append(idx.words, Word{Text: text[start:i], CharStart: start, CharEnd: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		idx.words = append(idx.words, Word{Text: text[start:], CharStart: start, CharEnd: len(text)})
	}
	return idx
}

// Text returns the underlying plain script text.
func (idx *Index) Text() string { return idx.text }

// Len returns the number of indexed words.
func (idx *Index) Len() int { return len(idx.words) }

// At returns the word at position i. It panics if i is out of range, like a
// slice access.
func (idx *Index) At(i int) Word { return idx.words[i] }

// Words returns a copy of the full word sequence.
func (idx *Index) Words() []Word {
	out := make([]Word, len(idx.words))
	copy(out, idx.words)
	return out
}

// WordAt returns the index of the word containing charOffset, or the nearest
// word starting at-or-before it. Returns 0 when the offset precedes the
// first word, and the last word when the offset is past the end. The second
// return is false only for an empty index.
func (idx *Index) WordAt(charOffset int) (int, bool) {
	if len(idx.words) == 0 {
		return 0, false
	}

	// Binary search for the last word with CharStart <= charOffset.
	lo, hi := 0, len(idx.words)-1
	if charOffset < idx.words[0].CharStart {
		return 0, true
	}
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if idx.words[mid].CharStart <= charOffset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, true
}

// WordsBefore returns how many words start strictly before charOffset.
func (idx *Index) WordsBefore(charOffset int) int {
	n, ok := idx.WordAt(charOffset)
	if !ok {
		return 0
	}
	if idx.words[n].CharStart < charOffset {
		n++
	}
	return n
}

// RuneLen reports the rune count of the script text. Exposed for layout
// estimation, which works in characters rather than bytes.
func (idx *Index) RuneLen() int {
	return utf8.RuneCountInString(idx.text)
}
