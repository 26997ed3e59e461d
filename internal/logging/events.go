package logging

import "log/slog"

const (
	defaultErrorHint = "check logs for details"
	defaultImpact    = "operation completed with warnings"
)

// WarnWithContext logs a warning that always carries event_type, error_hint,
// and impact. Missing fields get generic defaults so every WARN line states a
// cause, a consequence, and a next step.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withEventFields(attrs, eventType, true)
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext is WarnWithContext for errors; impact is left to the caller.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withEventFields(attrs, eventType, false)
	logger.Error(msg, Args(attrs...)...)
}

func withEventFields(attrs []Attr, eventType string, needImpact bool) []Attr {
	var hasEvent, hasHint, hasImpact bool
	for _, attr := range attrs {
		switch attr.Key {
		case FieldEventType:
			hasEvent = true
		case FieldErrorHint:
			hasHint = true
		case FieldImpact:
			hasImpact = true
		}
	}
	if !hasEvent {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if !hasHint {
		attrs = append(attrs, String(FieldErrorHint, defaultErrorHint))
	}
	if needImpact && !hasImpact {
		attrs = append(attrs, String(FieldImpact, defaultImpact))
	}
	return attrs
}
