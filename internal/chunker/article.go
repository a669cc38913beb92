package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ArticleChunker splits legally structured text right before every
// line-start occurrence of an article marker ("Статья N").
type ArticleChunker struct {
	keyword string
	marker  *regexp.Regexp
}

// ArticleResult is the outcome of a marker-delimited split.
type ArticleResult struct {
	Chunks []Chunk
	// Dropped counts segments that contain the keyword but no parseable
	// article number.
	Dropped int
}

var articleNumberRe = regexp.MustCompile(`^[ \t]*[№#]?[ \t]*(\d+)`)

// NewArticleChunker compiles the marker from config.Pattern, or from the
// keyword anchored at line start when no pattern is given.
func NewArticleChunker(config Config) (*ArticleChunker, error) {
	config = config.withDefaults()
	pattern := config.Pattern
	if pattern == "" {
		pattern = `(?m)^[ \t]*` + regexp.QuoteMeta(config.Keyword)
	}
	marker, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile article marker %q: %w", pattern, err)
	}
	return &ArticleChunker{keyword: config.Keyword, marker: marker}, nil
}

func (a *ArticleChunker) Name() string {
	return "article"
}

func (a *ArticleChunker) Chunk(content, source string) ([]Chunk, error) {
	return a.Split(content, source).Chunks, nil
}

// Split returns the articles in source order together with the number of
// dropped segments.
func (a *ArticleChunker) Split(content, source string) ArticleResult {
	var res ArticleResult
	for _, seg := range a.segments(content) {
		if strings.TrimSpace(seg) == "" || !strings.Contains(seg, a.keyword) {
			continue
		}
		num, ok := a.number(seg)
		if !ok {
			res.Dropped++
			continue
		}
		text := strings.TrimSpace(seg)
		res.Chunks = append(res.Chunks, CreateChunk(text, Metadata{
			Source:     source,
			ChunkID:    len(res.Chunks),
			Article:    num,
			HasArticle: true,
			Section:    firstLine(text),
		}))
	}
	return res
}

// HasMarkers reports whether content contains at least one parseable article.
func (a *ArticleChunker) HasMarkers(content string) bool {
	for _, loc := range a.marker.FindAllStringIndex(content, -1) {
		if _, ok := a.number(content[loc[0]:]); ok {
			return true
		}
	}
	return false
}

func (a *ArticleChunker) segments(content string) []string {
	locs := a.marker.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return []string{content}
	}
	segs := make([]string, 0, len(locs)+1)
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			segs = append(segs, content[prev:loc[0]])
		}
		prev = loc[0]
	}
	return append(segs, content[prev:])
}

// number parses the article number that follows the marker at the start of seg.
func (a *ArticleChunker) number(seg string) (int, bool) {
	loc := a.marker.FindStringIndex(seg)
	if loc == nil || strings.TrimSpace(seg[:loc[0]]) != "" {
		return 0, false
	}
	m := articleNumberRe.FindStringSubmatch(seg[loc[1]:])
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
