package loader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_Text(t *testing.T) {
	path := writeFile(t, "hr_policy.txt", "Статья 1\r\nОтпуск 28 дней.\r\n")
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Name != "hr_policy.txt" || doc.Kind != KindText {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Text != "Статья 1\nОтпуск 28 дней.\n" {
		t.Fatalf("line endings not normalised: %q", doc.Text)
	}
	if doc.Size == 0 || doc.ModTime.IsZero() {
		t.Fatalf("file info missing: %+v", doc)
	}
}

func TestLoad_MarkdownKeptRaw(t *testing.T) {
	doc, err := Load(writeFile(t, "policy.md", "# Отпуск\n\nТекст"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Kind != KindMarkdown || !strings.HasPrefix(doc.Text, "# Отпуск") {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestLoad_HTML(t *testing.T) {
	html := `<html><head><title>t</title><style>p{}</style></head>
<body><main><h1>Регламент</h1><p>Отпуск предоставляется ежегодно.</p>
<script>alert(1)</script><ul><li>28 дней</li></ul></main></body></html>`
	doc, err := Load(writeFile(t, "policy.html", html))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Регламент\nОтпуск предоставляется ежегодно.\n28 дней"
	if doc.Text != want {
		t.Fatalf("got %q want %q", doc.Text, want)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "absent.txt"))
	if !errors.Is(err, ErrSourceMissing) {
		t.Fatalf("expected ErrSourceMissing, got %v", err)
	}

	_, err = Load(writeFile(t, "blank.txt", " \n\t\n"))
	if !errors.Is(err, ErrSourceEmpty) {
		t.Fatalf("expected ErrSourceEmpty, got %v", err)
	}

	_, err = Load(writeFile(t, "sheet.xlsx", "x"))
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for directory")
	}
}

func TestSupported(t *testing.T) {
	for path, want := range map[string]bool{
		"a.txt": true, "a.MD": true, "a.pdf": true, "a.htm": true, "a.docx": false,
	} {
		if got := Supported(path); got != want {
			t.Fatalf("Supported(%q) = %v, want %v", path, got, want)
		}
	}
}
