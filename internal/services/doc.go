// Package services defines shared utilities consumed by the pipeline, the
// supervisor, and the API client.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, documents, pages, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can tell
//     configuration and store failures (fatal to a run) from per-page ones.
//
// Integrations with external services live in subpackages (llm).
package services
