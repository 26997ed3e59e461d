package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Stats returns item counts and per-status breakdowns.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Review: make(map[ReviewStatus]int),
		Pages:  make(map[CheckpointStatus]int),
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM parent_items`).Scan(&stats.Parents); err != nil {
		return stats, fmt.Errorf("count parents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT review_status, COUNT(1) FROM variant_items GROUP BY review_status`)
	if err != nil {
		return stats, fmt.Errorf("variant stats: %w", err)
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return stats, err
		}
		stats.Review[ReviewStatus(status)] = count
		stats.Variants += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM checkpoint_log GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("checkpoint stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.Pages[CheckpointStatus(status)] = count
	}
	return stats, rows.Err()
}

// Reset truncates every item and checkpoint table in one transaction and
// restarts identifier sequences.
func (s *Store) Reset(ctx context.Context) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin reset tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		statements := []string{
			`DELETE FROM variant_items`,
			`DELETE FROM parent_items`,
			`DELETE FROM checkpoint_log`,
			`DELETE FROM sqlite_sequence WHERE name IN ('variant_items', 'parent_items', 'checkpoint_log')`,
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("reset store: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit reset: %w", err)
		}
		return nil
	})
}

// CheckHealth returns diagnostic information about the database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "PRAGMA journal_mode").Scan(&health.JournalMode); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("journal mode: %w", err)
	}
	health.JournalMode = strings.ToLower(health.JournalMode)

	if err := s.db.QueryRowContext(connCtx, "PRAGMA user_version").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("schema version: %w", err)
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
