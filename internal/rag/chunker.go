package rag

import (
	"strings"
	"unicode"
)

// Default chunking parameters.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// boundaryTiers lists split separators from the largest natural boundary
// down: paragraph, line, sentence, word. keepSep separators stay attached
// to the end of the segment they terminate.
var boundaryTiers = []struct {
	seps    []string
	keepSep bool
}{
	{seps: []string{"\n\n"}},
	{seps: []string{"\n"}},
	{seps: []string{". ", "! ", "? "}, keepSep: true},
	{seps: []string{" "}},
}

// Chunker splits raw text into overlapping bounded-size segments.
type Chunker struct {
	chunkSize int
	overlap   int
}

// NewChunker creates a chunker with the given rune budget and overlap.
// Invalid parameters fall back to the defaults; overlap is clamped below
// the chunk size.
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// Split divides text into ordered segments of at most chunkSize runes,
// cut at the largest natural boundary available, hard-cut when none fits.
// Each segment after the first is prefixed with the trailing overlap-sized
// slice of the text preceding it, preserving cross-boundary context.
// Deterministic for identical input; empty input yields no segments.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	type span struct{ start, end int }
	var spans []span

	start := 0
	for start < n {
		for start < n && unicode.IsSpace(runes[start]) {
			start++
		}
		if start >= n {
			break
		}
		if n-start <= c.chunkSize {
			spans = append(spans, span{start, n})
			break
		}
		segEnd, nextStart := c.cut(runes, start)
		spans = append(spans, span{start, segEnd})
		start = nextStart
	}

	segments := make([]string, 0, len(spans))
	for i, sp := range spans {
		from := sp.start
		if i > 0 && c.overlap > 0 {
			from = sp.start - c.overlap
			if from < spans[i-1].start {
				from = spans[i-1].start
			}
		}
		seg := strings.TrimSpace(string(runes[from:sp.end]))
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

// cut finds the best boundary within the chunk-size window starting at
// start, returning the segment end and the position the next segment
// begins at. Falls back to a hard cut when no boundary exists.
func (c *Chunker) cut(runes []rune, start int) (segEnd, nextStart int) {
	limit := start + c.chunkSize

	for _, tier := range boundaryTiers {
		best := -1
		bestSep := ""
		for _, sep := range tier.seps {
			sepLen := len([]rune(sep))
			// Scan backwards for the last boundary that keeps the
			// segment within the budget.
			for i := limit - 1; i > start; i-- {
				if tier.keepSep {
					// Segment keeps the punctuation; only the space after
					// it must begin at or before the window edge.
					if i+sepLen > len(runes) || i+1 > limit {
						continue
					}
				} else if i+sepLen > limit || i+sepLen > len(runes) {
					continue
				}
				if string(runes[i:i+sepLen]) == sep {
					if i > best {
						best = i
						bestSep = sep
					}
					break
				}
			}
		}
		if best > start {
			sepLen := len([]rune(bestSep))
			if tier.keepSep {
				// Keep the terminating punctuation with the sentence.
				return best + 1, best + sepLen
			}
			return best, best + sepLen
		}
	}

	// No natural boundary below the budget: hard cut.
	return limit, limit
}
