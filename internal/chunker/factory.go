package chunker

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Chunking methods accepted by the factory.
const (
	MethodAuto     = "auto"
	MethodText     = "text"
	MethodArticle  = "article"
	MethodMarkdown = "markdown"
)

// Factory creates a chunker from the configured method and the shape of the
// source document.
type Factory struct {
	config Config
}

// NewFactory creates a new chunker factory.
func NewFactory(config Config) *Factory {
	return &Factory{config: config.withDefaults()}
}

// GetChunker returns the chunker for a document. An explicit method wins;
// "auto" picks the article splitter when the text has numbered article
// markers, the markdown splitter for .md files and the sliding window
// otherwise.
func (f *Factory) GetChunker(filePath, content, method string) (Chunker, error) {
	switch strings.ToLower(method) {
	case MethodAuto, "":
	default:
		return f.GetChunkerByMethod(method)
	}

	articles, err := NewArticleChunker(f.config)
	if err != nil {
		return nil, err
	}
	if articles.HasMarkers(content) {
		return articles, nil
	}

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".md", ".markdown":
		return NewMarkdownChunker(f.config), nil
	default:
		return NewTextChunker(f.config), nil
	}
}

// GetChunkerByMethod returns a chunker by method name.
func (f *Factory) GetChunkerByMethod(method string) (Chunker, error) {
	switch strings.ToLower(method) {
	case MethodMarkdown, "md":
		return NewMarkdownChunker(f.config), nil
	case MethodText, "simple", "txt":
		return NewTextChunker(f.config), nil
	case MethodArticle, "articles":
		return NewArticleChunker(f.config)
	default:
		return nil, fmt.Errorf("unknown chunking method: %s", method)
	}
}

// Fallback is the chunker used when a structured chunker rejects a document.
func (f *Factory) Fallback() Chunker {
	return NewTextChunker(f.config)
}
