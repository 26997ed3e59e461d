package services

import "context"

type contextKey string

const (
	runIDKey     contextKey = "run_id"
	documentKey  contextKey = "document"
	pageKey      contextKey = "page"
	requestIDKey contextKey = "request_id"
)

// WithRunID annotates context with the pipeline run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the pipeline run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithDocument annotates context with the source document path.
func WithDocument(ctx context.Context, document string) context.Context {
	if document == "" {
		return ctx
	}
	return context.WithValue(ctx, documentKey, document)
}

// DocumentFromContext returns the source document path if present.
func DocumentFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(documentKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithPage annotates context with a 1-based page number.
func WithPage(ctx context.Context, page int) context.Context {
	if page <= 0 {
		return ctx
	}
	return context.WithValue(ctx, pageKey, page)
}

// PageFromContext returns the page number if present.
func PageFromContext(ctx context.Context) (int, bool) {
	if v, ok := ctx.Value(pageKey).(int); ok && v > 0 {
		return v, true
	}
	return 0, false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
