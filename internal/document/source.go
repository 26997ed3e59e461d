package document

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"qforge/internal/services"
)

// ErrUnreadable reports a document that cannot be opened at all.
var ErrUnreadable = fmt.Errorf("%w: document unreadable", services.ErrConfiguration)

// Source provides 1-based page access to a document.
type Source interface {
	PageCount() int
	PageText(page int) (string, error)
	Close() error
}

// Opener opens a document path as a Source.
type Opener func(path string) (Source, error)

// Open selects a reader by file extension.
func Open(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrUnreadable, path)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnreadable, path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return openPDF(path)
	case ".txt", ".text":
		return openText(path)
	default:
		return nil, fmt.Errorf("%w: unsupported document type %q", ErrUnreadable, filepath.Ext(path))
	}
}

func checkPage(page, count int) error {
	if page < 1 || page > count {
		return fmt.Errorf("page %d out of range 1-%d", page, count)
	}
	return nil
}
