package supervisor

import (
	"fmt"
	"os"
	"strings"

	"qforge/internal/config"
	"qforge/internal/services"
)

// ResolveUnit looks up subject/chapter in the chapter map and checks that the
// mapped document is readable, so a bad request fails before anything is
// spawned.
func ResolveUnit(cfg *config.Config, subject, chapter string) (Unit, error) {
	if cfg == nil {
		return Unit{}, services.Wrap(services.ErrConfiguration, "supervisor", "resolve unit", "configuration unavailable", nil)
	}
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(chapter) == "" {
		return Unit{}, services.Wrap(services.ErrValidation, "supervisor", "resolve unit", "subject and chapter are required", nil)
	}
	entry, ok := cfg.FindChapter(subject, chapter)
	if !ok {
		return Unit{}, services.Wrap(services.ErrNotFound, "supervisor", "resolve unit",
			fmt.Sprintf("no chapter %q for subject %q in the chapter map", chapter, subject), nil)
	}
	info, err := os.Stat(entry.Document)
	if err != nil {
		return Unit{}, services.Wrap(services.ErrConfiguration, "supervisor", "resolve unit", "source document unavailable", err)
	}
	if info.IsDir() {
		return Unit{}, services.Wrap(services.ErrConfiguration, "supervisor", "resolve unit",
			fmt.Sprintf("source document %s is a directory", entry.Document), nil)
	}
	return Unit{
		Document:  entry.Document,
		Subject:   entry.Subject,
		Chapter:   entry.Chapter,
		StartPage: entry.StartPage,
		EndPage:   entry.EndPage,
	}, nil
}
