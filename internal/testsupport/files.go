package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteTextDocument writes a form-feed separated text document, one entry per
// page, and returns its path.
func WriteTextDocument(t testing.TB, dir, name string, pages []string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(pages, "\f")), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// LongText returns a sentence repeated until it is at least n characters.
func LongText(sentence string, n int) string {
	if sentence == "" {
		sentence = "filler"
	}
	var b strings.Builder
	for b.Len() < n {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence)
	}
	return b.String()
}
