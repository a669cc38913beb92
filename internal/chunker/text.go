package chunker

import (
	"strings"
)

// TextChunker splits plain text with a sliding window of ChunkSize runes.
// Windows end on the best boundary available (paragraph, line, sentence,
// space) and fall back to a hard cut when the window has none.
type TextChunker struct {
	config Config
}

// NewTextChunker creates a sliding-window chunker.
func NewTextChunker(config Config) *TextChunker {
	return &TextChunker{config: config.withDefaults()}
}

func (s *TextChunker) Name() string {
	return "text"
}

func (s *TextChunker) Chunk(content, source string) ([]Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	windows := s.Split(content)
	chunks := make([]Chunk, 0, len(windows))
	for i, w := range windows {
		chunks = append(chunks, CreateChunk(w, Metadata{Source: source, ChunkID: i}))
	}
	return chunks, nil
}

// Split returns the raw windows without trimming, so that adjacent windows
// share exactly min(ChunkOverlap, len(previous)-1) runes.
func (s *TextChunker) Split(content string) []string {
	runes := []rune(content)
	size := s.config.ChunkSize

	var out []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		end = s.boundary(runes, start, end)
		out = append(out, string(runes[start:end]))

		overlap := s.config.ChunkOverlap
		if overlap > end-start-1 {
			overlap = end - start - 1
		}
		start = end - overlap
	}
	return out
}

// boundary returns the cut position for the window runes[start:end].
// The cut goes right after the last occurrence of the highest-priority
// separator that still leaves the chunk longer than the overlap.
func (s *TextChunker) boundary(runes []rune, start, end int) int {
	minCut := start + s.config.ChunkOverlap + 1
	for _, sep := range s.config.Separators {
		if sep == "" {
			continue
		}
		if cut := lastCut(runes, []rune(sep), minCut, end); cut > 0 {
			return cut
		}
	}
	return end
}

// lastCut finds the largest cut in [minCut, end] such that sep ends at cut.
// Returns -1 when there is none.
func lastCut(runes, sep []rune, minCut, end int) int {
	for cut := end; cut >= minCut && cut-len(sep) >= 0; cut-- {
		if hasRunesAt(runes, sep, cut-len(sep)) {
			return cut
		}
	}
	return -1
}

func hasRunesAt(runes, sep []rune, pos int) bool {
	if pos < 0 || pos+len(sep) > len(runes) {
		return false
	}
	for i, r := range sep {
		if runes[pos+i] != r {
			return false
		}
	}
	return true
}
