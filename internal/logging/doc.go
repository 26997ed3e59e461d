// Package logging builds the slog loggers used by every qforge process.
//
// Two output formats exist. The console format prints one compact line per
// record and folds the document and page into a bracketed subject, which keeps
// the supervised pipeline log readable through `qforge status`. The JSON format
// emits one object per record with short keys for collectors. Pipeline code
// tags records with the run id, document, and page through WithContext, and
// warnings go through WarnWithContext so each carries a hint and an impact.
package logging
