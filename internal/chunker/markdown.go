package chunker

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownChunker splits markdown policies by headings. The heading level is
// chosen from the document structure; sections longer than ChunkSize are
// re-split with the sliding window.
type MarkdownChunker struct {
	config Config
	window *TextChunker
}

// NewMarkdownChunker creates a heading-aware chunker.
func NewMarkdownChunker(config Config) *MarkdownChunker {
	config = config.withDefaults()
	return &MarkdownChunker{config: config, window: NewTextChunker(config)}
}

func (m *MarkdownChunker) Name() string {
	return "markdown"
}

// DocumentStructure summarises the headings of a markdown document.
type DocumentStructure struct {
	HeadingCounts   map[int]int
	TotalParagraphs int
}

type section struct {
	title string
	body  strings.Builder
}

func (m *MarkdownChunker) Chunk(content, source string) ([]Chunk, error) {
	src := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	structure := m.analyzeStructure(doc)
	level, err := selectLevel(structure)
	if err != nil {
		return nil, fmt.Errorf("markdown chunker cannot process this content: %w", err)
	}

	var chunks []Chunk
	for _, sec := range m.sections(doc, src, level) {
		body := strings.TrimSpace(sec.body.String())
		if body == "" {
			continue
		}
		if len([]rune(body)) <= m.config.ChunkSize {
			chunks = append(chunks, CreateChunk(body, Metadata{Source: source, Section: sec.title}))
			continue
		}
		for _, w := range m.window.Split(body) {
			chunks = append(chunks, CreateChunk(w, Metadata{Source: source, Section: sec.title}))
		}
	}
	chunks = nonEmpty(chunks)
	Renumber(chunks)
	return chunks, nil
}

func (m *MarkdownChunker) analyzeStructure(doc ast.Node) DocumentStructure {
	structure := DocumentStructure{HeadingCounts: make(map[int]int)}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			structure.HeadingCounts[node.Level]++
		case *ast.Paragraph:
			structure.TotalParagraphs++
		}
		return ast.WalkContinue, nil
	})
	return structure
}

// selectLevel picks the shallowest heading level that occurs often enough to
// be a sectioning level.
func selectLevel(structure DocumentStructure) (int, error) {
	minHeadings := map[int]int{1: 3, 2: 3, 3: 5, 4: 10}
	for level := 1; level <= 4; level++ {
		if structure.HeadingCounts[level] >= minHeadings[level] {
			return level, nil
		}
	}
	return 0, fmt.Errorf("no suitable markdown structure found (headings: %v, paragraphs: %d)",
		structure.HeadingCounts, structure.TotalParagraphs)
}

func (m *MarkdownChunker) sections(doc ast.Node, src []byte, level int) []*section {
	current := &section{}
	sections := []*section{current}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Heading:
			if !entering {
				return ast.WalkContinue, nil
			}
			title := extractText(node, src)
			if node.Level <= level {
				current = &section{title: title}
				sections = append(sections, current)
			}
			current.body.WriteString(title)
			current.body.WriteString("\n\n")
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				current.body.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					current.body.WriteString("\n")
				}
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					current.body.Write(seg.Value(src))
				}
				current.body.WriteString("\n")
			}
		case *ast.Paragraph, *ast.ListItem:
			if !entering {
				current.body.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})
	return sections
}

// extractText collects the text of a node and its descendants.
func extractText(node ast.Node, src []byte) string {
	var buf strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := n.(*ast.Text); ok && entering {
			buf.Write(t.Segment.Value(src))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}
