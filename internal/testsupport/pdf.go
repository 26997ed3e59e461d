package testsupport

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// PDFOption adjusts the file produced by WritePDF.
type PDFOption func(*pdfBuilder)

type pdfBuilder struct {
	misdirect int
}

// WithMisdirectedPage points the xref entry of the given 1-based page at the
// previous page's object, the shape of a PDF damaged by a bad incremental save.
// Resolving that page fails inside the PDF reader.
func WithMisdirectedPage(page int) PDFOption {
	return func(b *pdfBuilder) { b.misdirect = page }
}

// WritePDF writes a minimal PDF with one line of Helvetica text per page and
// returns its path.
func WritePDF(t testing.TB, dir, name string, pages []string, opts ...PDFOption) string {
	t.Helper()
	var cfg pdfBuilder
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.misdirect == 1 || cfg.misdirect > len(pages) {
		t.Fatalf("misdirected page %d needs a previous page", cfg.misdirect)
	}

	// 1 catalog, 2 page tree, 3 font, then a page/content pair per page.
	pageObj := func(i int) int { return 4 + 2*i }
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"", // page tree, filled below
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	kids := make([]string, len(pages))
	for i, text := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", pageObj(i))
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", escapePDFString(text))
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", pageObj(i)+1),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects)+1)
	for i, body := range objects {
		id := i + 1
		offsets[id] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", id, body)
	}
	if cfg.misdirect > 1 {
		offsets[pageObj(cfg.misdirect-1)] = offsets[pageObj(cfg.misdirect-2)]
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets))
	for _, off := range offsets[1:] {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets), xref)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func escapePDFString(s string) string {
	return strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(s)
}
