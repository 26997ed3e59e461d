package logging

import (
	"context"
	"log/slog"

	"qforge/internal/services"
)

// Structured field keys shared by every qforge component.
const (
	FieldComponent = "component"
	// FieldRunID is also stored on checkpoint records.
	FieldRunID    = "run_id"
	FieldDocument = "document"
	// FieldPage is 1-based.
	FieldPage   = "page"
	FieldStatus = "status"
	FieldError  = "error"
	// FieldEventType classifies a record for log queries (e.g. page_committed).
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact states the user-facing consequence of a warning.
	FieldImpact    = "impact"
	FieldRequestID = "request_id"
)

// ContextFields lifts the run, document, page, and request identifiers stored
// by the services package into slog attributes.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, RunID(id))
	}
	if doc, ok := services.DocumentFromContext(ctx); ok {
		fields = append(fields, Document(doc))
	}
	if page, ok := services.PageFromContext(ctx); ok {
		fields = append(fields, Page(page))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRequestID, rid))
	}
	return fields
}

// WithContext returns logger extended with ContextFields(ctx).
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
