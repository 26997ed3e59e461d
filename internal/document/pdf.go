package document

import (
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
)

type pdfSource struct {
	file   *os.File
	reader *pdf.Reader
	pages  int
}

func openPDF(path string) (Source, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	pages, err := countPages(reader)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	return &pdfSource{file: file, reader: reader, pages: pages}, nil
}

// The reader resolves objects lazily and panics on a damaged xref, so every
// call that walks the object graph goes through recover.
func countPages(reader *pdf.Reader) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			count, err = 0, fmt.Errorf("read page tree: %v", r)
		}
	}()
	return reader.NumPage(), nil
}

func (s *pdfSource) PageCount() int {
	return s.pages
}

func (s *pdfSource) PageText(page int) (text string, err error) {
	if err := checkPage(page, s.pages); err != nil {
		return "", err
	}
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("extract page %d: %v", page, r)
		}
	}()
	p := s.reader.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	// Font resource names repeat across pages with different encodings, so
	// fonts are resolved per page (nil map).
	text, err = p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("extract page %d: %w", page, err)
	}
	return text, nil
}

func (s *pdfSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
