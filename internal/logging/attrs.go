package logging

import (
	"log/slog"
	"time"
)

// Attr is re-exported so call sites only import this package.
type Attr = slog.Attr

func String(key, value string) Attr { return slog.String(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

// Document tags a record with the source document being processed.
func Document(path string) Attr { return slog.String(FieldDocument, path) }

// Page tags a record with a 1-based document page number.
func Page(page int) Attr { return slog.Int(FieldPage, page) }

// Status tags a record with a checkpoint status or outcome label.
func Status(value string) Attr { return slog.String(FieldStatus, value) }

// RunID tags a record with the pipeline run it belongs to.
func RunID(id string) Attr { return slog.String(FieldRunID, id) }

// Error records err under the "error" key. A nil error is kept visible rather
// than dropped so a misplaced call is noticed in the log.
func Error(err error) Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.String(FieldError, err.Error())
}

// Args converts attributes into the variadic form slog's methods accept.
func Args(attrs ...Attr) []any {
	out := make([]any, len(attrs))
	for i, attr := range attrs {
		out[i] = attr
	}
	return out
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger scopes logger to a component. A nil logger yields a
// discarding one.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(slog.String(FieldComponent, component))
}
