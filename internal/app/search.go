package app

import (
	"fmt"
	"strings"

	"rag_assistant/internal/chunker"
)

// citation names where a retrieved chunk came from.
func citation(ch chunker.Chunk) string {
	m := ch.Metadata
	switch {
	case m.HasArticle:
		return fmt.Sprintf("Статья %d (%s)", m.Article, m.Source)
	case m.Section != "":
		return fmt.Sprintf("%s (%s)", m.Section, m.Source)
	default:
		return fmt.Sprintf("фрагмент %d (%s)", m.ChunkID+1, m.Source)
	}
}

// GroupBySection lists the distinct citations of chunks in retrieval order
// with the number of chunks behind each.
func GroupBySection(chunks []chunker.Chunk) []string {
	var order []string
	counts := make(map[string]int)
	for _, ch := range chunks {
		c := citation(ch)
		if counts[c] == 0 {
			order = append(order, c)
		}
		counts[c]++
	}

	out := make([]string, len(order))
	for i, c := range order {
		if counts[c] > 1 {
			out[i] = fmt.Sprintf("%s ×%d", c, counts[c])
		} else {
			out[i] = c
		}
	}
	return out
}

func sourcesLine(chunks []chunker.Chunk) string {
	if len(chunks) == 0 {
		return "Источники: не найдены"
	}
	return "Источники: " + strings.Join(GroupBySection(chunks), "; ")
}
