package document

import (
	"fmt"
	"os"
	"strings"
)

// textSource treats a plain text file as pages separated by form feeds.
type textSource struct {
	pages []string
}

func openText(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	return &textSource{pages: strings.Split(string(data), "\f")}, nil
}

func (s *textSource) PageCount() int {
	return len(s.pages)
}

func (s *textSource) PageText(page int) (string, error) {
	if err := checkPage(page, len(s.pages)); err != nil {
		return "", err
	}
	return s.pages[page-1], nil
}

func (s *textSource) Close() error {
	return nil
}
