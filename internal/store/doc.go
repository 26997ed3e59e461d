// Package store persists extracted parent items, generated variants, and the
// page checkpoint log in SQLite.
//
// The database runs in WAL mode so the review API can read while a pipeline
// process writes. Every page is committed through CommitPage in a single
// transaction: parents, their variants, and the checkpoint row become visible
// together or not at all. A page with a checkpoint row is never processed
// again until Reset truncates the store.
//
// The schema revision lives in PRAGMA user_version. A database written by a
// different revision is refused rather than migrated; delete it to start over.
package store
