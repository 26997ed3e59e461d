// Package pipeline runs the checkpointed augmentation pipeline over one
// document.
//
// Pages are visited in order. A page with a checkpoint is skipped without an
// API call. Otherwise its text is extracted and cleaned, items are parsed out
// through the API, variants are generated per item, and everything produced
// for the page is committed through a single store transaction together with
// the checkpoint. Every page ends in exactly one terminal status:
// skipped_no_text, failed_parsing, failed_json_decode, no_questions_found, or
// success.
//
// Page and item failures are recorded and skipped. A document that cannot be
// opened, an invalid page range, and any store error abort the run; whatever
// was committed before stays committed, so the next run resumes where this one
// stopped. Cancellation drops the in-flight page without writing it.
package pipeline
