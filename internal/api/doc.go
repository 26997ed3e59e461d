// Package api defines wire-format types and converters for the HTTP API
// served by `qforge serve` and the JSON output of the CLI. It translates
// store models into transport-friendly DTOs so a review dashboard can render
// them without coupling to internal types.
//
// # Key Types
//
// Variant / Parent: a generated question and the source question it came from.
//
// PipelineStatus: supervisor state plus the tail of the pipeline log.
//
// Stats: parent/variant totals, review counts, and page outcome counts.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Review and checkpoint statuses are exposed as
// their lowercase store values. Timestamps use RFC3339 with milliseconds and
// are omitted when unset.
package api
