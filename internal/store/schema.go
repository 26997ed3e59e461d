package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaRevision is stored in PRAGMA user_version. Bump it with any change to
// schema.sql.
const schemaRevision = 1

// ErrSchemaMismatch reports a database created by a different schema revision.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// initSchema creates the tables on a fresh database (user_version 0) and
// refuses any other revision than schemaRevision.
func (s *Store) initSchema(ctx context.Context) error {
	var revision int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&revision); err != nil {
		return fmt.Errorf("read schema revision: %w", err)
	}
	switch revision {
	case schemaRevision:
		return nil
	case 0:
	default:
		return fmt.Errorf("%w: database is at revision %d, this build expects %d; delete %s to recreate it",
			ErrSchemaMismatch, revision, schemaRevision, s.path)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	// user_version is transactional in SQLite, so a failed create leaves 0.
	for _, stmt := range []string{schemaSQL, fmt.Sprintf("PRAGMA user_version = %d", schemaRevision)} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
