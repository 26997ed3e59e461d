package pipeline

import (
	"context"
	"log/slog"
	"time"

	"qforge/internal/document"
	"qforge/internal/metrics"
	"qforge/internal/store"
)

const (
	defaultMinPageChars      = 150
	defaultVariantsPerParent = 6
)

// Job is one unit of work: a page range of a document tagged with the subject
// and chapter its items belong to.
type Job struct {
	Document  string
	Subject   string
	Chapter   string
	StartPage int
	// EndPage 0 means the last page of the document.
	EndPage int
}

// Generator produces text for a prompt. *llm.Client satisfies it.
type Generator interface {
	Request(ctx context.Context, prompt string) (string, error)
}

// Store is the persistence the runner needs. *store.Store satisfies it.
type Store interface {
	HasCheckpoint(ctx context.Context, document string, page int) (bool, error)
	CommitPage(ctx context.Context, page store.PageResult) (store.PageCommit, error)
}

// Progress is reported after every page, including resumed ones.
type Progress struct {
	Document string
	Page     int
	Done     int
	Total    int
	Status   store.CheckpointStatus
	Resumed  bool
}

// Options configures a Runner.
type Options struct {
	MinPageChars      int
	VariantsPerParent int
	// DetectQuestionPages asks the model a YES/NO question before parsing
	// and checkpoints NO pages as no_questions_found.
	DetectQuestionPages bool
	RunID               string
	Opener              document.Opener
	Logger              *slog.Logger
	Metrics             *metrics.Collector
	Progress            func(Progress)
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	RunID    string
	Document string
	Pages    map[store.CheckpointStatus]int
	Skipped  int
	Parents  int
	Variants int
	APICalls int
	Duration time.Duration
}

// Processed returns the number of pages that received a checkpoint in this run.
func (s Summary) Processed() int {
	total := 0
	for _, count := range s.Pages {
		total += count
	}
	return total
}
