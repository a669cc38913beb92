package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

var (
	// ErrSourceMissing is returned when the configured source file does not exist.
	ErrSourceMissing = errors.New("source document not found")
	// ErrSourceEmpty is returned when the source yields no text.
	ErrSourceEmpty = errors.New("source document is empty")
)

// Document kinds.
const (
	KindText     = "text"
	KindMarkdown = "markdown"
	KindPDF      = "pdf"
	KindHTML     = "html"
)

// Document is the source corpus read into memory.
type Document struct {
	Path    string
	Name    string
	Kind    string
	Text    string
	ModTime time.Time
	Size    int64
}

// Supported reports whether the file extension can be loaded.
func Supported(path string) bool {
	_, ok := kindOf(path)
	return ok
}

func kindOf(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", "":
		return KindText, true
	case ".md", ".markdown":
		return KindMarkdown, true
	case ".pdf":
		return KindPDF, true
	case ".html", ".htm":
		return KindHTML, true
	default:
		return "", false
	}
}

// Load reads the document at path and extracts its plain text.
func Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	kind, ok := kindOf(path)
	if !ok {
		return nil, fmt.Errorf("unsupported format: %s", filepath.Ext(path))
	}

	var text string
	switch kind {
	case KindPDF:
		text, err = readPDF(path)
	case KindHTML:
		text, err = readHTML(path)
	default:
		var b []byte
		b, err = os.ReadFile(path)
		text = string(b)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s", ErrSourceEmpty, path)
	}

	return &Document{
		Path:    path,
		Name:    filepath.Base(path),
		Kind:    kind,
		Text:    text,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	}, nil
}

func readPDF(path string) (string, error) {
	f, rdr, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	b, err := rdr.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	if _, err := io.Copy(&buf, b); err != nil {
		return "", fmt.Errorf("read pdf buffer: %w", err)
	}
	return buf.String(), nil
}

var blankLinesRx = regexp.MustCompile(`[ \t]+\n`)

func readHTML(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	sel := doc.Find("main, article")
	if sel.Length() == 0 {
		sel = doc.Find("body")
	}

	var parts []string
	sel.Find("h1,h2,h3,h4,p,li,pre").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		parts = append(parts, strings.TrimSpace(sel.Text()))
	}
	return blankLinesRx.ReplaceAllString(strings.Join(parts, "\n"), "\n"), nil
}
