// Package chunk splits extracted document text into offset-bounded pieces
// sized for embedding and retrieval.
//
// The chunks form an exact partition of the input: byte offsets are
// contiguous, non-overlapping, and cover the whole text. That property lets
// callers store offsets into the persisted document content and reconstruct
// any chunk by slicing, so the chunk text column is derivable rather than
// authoritative.
package chunk

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Chunk is one offset-bounded slice of the source text.
// Start and End are byte offsets; Text == source[Start:End].
type Chunk struct {
	Index int    `json:"index"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Options controls chunk sizing.
type Options struct {
	// TargetRunes is the preferred chunk length in runes (default: 1200).
	TargetRunes int
	// MinRunes is the minimum tail length; a final fragment shorter than
	// this is merged into the previous chunk (default: 200).
	MinRunes int
}

func (o *Options) defaults() {
	if o.TargetRunes <= 0 {
		o.TargetRunes = 1200
	}
	if o.MinRunes <= 0 {
		o.MinRunes = 200
	}
	if o.MinRunes > o.TargetRunes {
		o.MinRunes = o.TargetRunes / 4
	}
}

// Split partitions text into chunks. Boundaries prefer sentence ends, then
// whitespace, and fall back to a hard cut at the target length. Splitting
// never lands inside a multi-byte rune. Empty or whitespace-only input
// yields no chunks.
func Split(text string, opts Options) []Chunk {
	opts.defaults()
	if len(text) == 0 || isBlank(text) {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := cutPoint(text, start, opts.TargetRunes)

		// Absorb a short tail into this chunk instead of emitting a
		// fragment below the minimum.
		if rest := text[end:]; rest != "" && utf8.RuneCountInString(rest) < opts.MinRunes {
			end = len(text)
		}

		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  text[start:end],
		})
		start = end
	}
	return chunks
}

// cutPoint returns the byte offset where the chunk starting at start should
// end: after targetRunes runes, snapped back to the nearest sentence or
// whitespace boundary within the second half of the chunk.
func cutPoint(text string, start, targetRunes int) int {
	// Advance targetRunes runes from start.
	hard := start
	for i := 0; i < targetRunes && hard < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[hard:])
		hard += size
	}
	if hard >= len(text) {
		return len(text)
	}

	// Only snap back as far as the midpoint; a boundary earlier than that
	// would produce badly undersized chunks.
	floor := start + (hard-start)/2

	if p := lastSentenceEnd(text, floor, hard); p > floor {
		return p
	}
	if p := lastSpace(text, floor, hard); p > floor {
		return p
	}
	return hard
}

// lastSentenceEnd finds the byte offset just past the last sentence
// terminator followed by whitespace in text[floor:limit], or 0.
func lastSentenceEnd(text string, floor, limit int) int {
	best := 0
	for i := floor; i < limit; {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			next := i + size
			if next >= limit {
				break
			}
			nr, _ := utf8.DecodeRuneInString(text[next:])
			if unicode.IsSpace(nr) || r == '\n' {
				best = next
			}
		}
		i += size
	}
	return best
}

// lastSpace finds the byte offset of the last whitespace rune in
// text[floor:limit] plus its width, or 0.
func lastSpace(text string, floor, limit int) int {
	best := 0
	for i := floor; i < limit; {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			best = i + size
		}
		i += size
	}
	return best
}

// Validate checks that chunks exactly partition text: indexes dense from 0,
// offsets contiguous, and every chunk's Text matching its span.
func Validate(text string, chunks []Chunk) error {
	if len(chunks) == 0 {
		if !isBlank(text) {
			return fmt.Errorf("chunk: no chunks for non-empty text")
		}
		return nil
	}
	prev := 0
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("chunk %d: index %d out of order", i, c.Index)
		}
		if c.Start != prev {
			return fmt.Errorf("chunk %d: start %d, want %d", i, c.Start, prev)
		}
		if c.End <= c.Start || c.End > len(text) {
			return fmt.Errorf("chunk %d: bad span [%d,%d)", i, c.Start, c.End)
		}
		if c.Text != text[c.Start:c.End] {
			return fmt.Errorf("chunk %d: text does not match span", i)
		}
		prev = c.End
	}
	if prev != len(text) {
		return fmt.Errorf("chunk: coverage ends at %d, text length %d", prev, len(text))
	}
	return nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
