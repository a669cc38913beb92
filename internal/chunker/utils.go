package chunker

import (
	"fmt"
	"strings"
)

// CreateChunk builds a chunk. Text is kept as is; trimming would break the
// overlap between sliding windows.
func CreateChunk(text string, meta Metadata) Chunk {
	return Chunk{Text: text, Metadata: meta}
}

// ID is the stable identifier of a chunk inside one index.
func ID(c Chunk) string {
	return fmt.Sprintf("%s:%d", c.Metadata.Source, c.Metadata.ChunkID)
}

// Renumber assigns sequential chunk ids in slice order.
func Renumber(chunks []Chunk) {
	for i := range chunks {
		chunks[i].Metadata.ChunkID = i
	}
}

// nonEmpty drops chunks that contain only whitespace.
func nonEmpty(chunks []Chunk) []Chunk {
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) != "" {
			out = append(out, c)
		}
	}
	return out
}
