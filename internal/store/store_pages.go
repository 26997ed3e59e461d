package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// HasCheckpoint reports whether a page already has a checkpoint record.
func (s *Store) HasCheckpoint(ctx context.Context, document string, page int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM checkpoint_log WHERE source_doc = ? AND page_num = ?`,
		document, page,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check checkpoint: %w", err)
	}
	return count > 0, nil
}

// Checkpoints returns the recorded status of every checkpointed page of a document.
func (s *Store) Checkpoints(ctx context.Context, document string) (map[int]CheckpointStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_num, status FROM checkpoint_log WHERE source_doc = ?`,
		document,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	result := make(map[int]CheckpointStatus)
	for rows.Next() {
		var (
			page   int
			status string
		)
		if err := rows.Scan(&page, &status); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		result[page] = CheckpointStatus(status)
	}
	return result, rows.Err()
}

// CheckpointSummary lists checkpoint records ordered by document and page.
// An empty document lists every document.
func (s *Store) CheckpointSummary(ctx context.Context, document string) ([]CheckpointRecord, error) {
	query := `SELECT id, source_doc, page_num, status, run_id, timestamp FROM checkpoint_log`
	var args []any
	if strings.TrimSpace(document) != "" {
		query += ` WHERE source_doc = ?`
		args = append(args, document)
	}
	query += ` ORDER BY source_doc, page_num`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint summary: %w", err)
	}
	defer rows.Close()

	var records []CheckpointRecord
	for rows.Next() {
		var (
			rec    CheckpointRecord
			status string
			runID  sql.NullString
			ts     sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Document, &rec.Page, &status, &runID, &ts); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		rec.Status = CheckpointStatus(status)
		rec.RunID = runID.String
		rec.Timestamp = parseTime(ts)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CommitPage writes every parent, its variants, and the page checkpoint in one
// transaction. Either all of it becomes visible or none of it does. A page
// that already has a checkpoint fails with ErrCheckpointExists and nothing is
// written.
func (s *Store) CommitPage(ctx context.Context, page PageResult) (PageCommit, error) {
	ctx = ensureContext(ctx)
	if err := validatePage(page); err != nil {
		return PageCommit{}, err
	}

	var commit PageCommit
	err := retryOnBusy(ctx, func() error {
		var txErr error
		commit, txErr = s.commitPageOnce(ctx, page)
		return txErr
	})
	if err != nil {
		return PageCommit{}, err
	}
	return commit, nil
}

func validatePage(page PageResult) error {
	if strings.TrimSpace(page.Document) == "" {
		return errors.New("commit page: document required")
	}
	if page.Page <= 0 {
		return fmt.Errorf("commit page: invalid page number %d", page.Page)
	}
	if !page.Status.Valid() {
		return fmt.Errorf("commit page: invalid checkpoint status %q", page.Status)
	}
	if page.Status != CheckpointSuccess && len(page.Parents) > 0 {
		return fmt.Errorf("commit page: status %s cannot carry parents", page.Status)
	}
	return nil
}

func (s *Store) commitPageOnce(ctx context.Context, page PageResult) (PageCommit, error) {
	var commit PageCommit

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return commit, fmt.Errorf("begin page tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM checkpoint_log WHERE source_doc = ? AND page_num = ?`,
		page.Document, page.Page,
	).Scan(&existing); err != nil {
		return commit, fmt.Errorf("check checkpoint: %w", err)
	}
	if existing > 0 {
		return commit, fmt.Errorf("%w: %s page %d", ErrCheckpointExists, page.Document, page.Page)
	}

	timestamp := formatTime(time.Now())
	for _, pr := range page.Parents {
		parentID, err := insertParent(ctx, tx, page, pr.Parent, timestamp)
		if err != nil {
			return PageCommit{}, err
		}
		commit.ParentIDs = append(commit.ParentIDs, parentID)
		for _, variant := range pr.Variants {
			if err := insertVariant(ctx, tx, parentID, variant, timestamp); err != nil {
				return PageCommit{}, err
			}
			commit.Variants++
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoint_log (source_doc, page_num, status, run_id, timestamp) VALUES (?, ?, ?, ?, ?)`,
		page.Document, page.Page, string(page.Status), nullableString(page.RunID), timestamp,
	); err != nil {
		if isUniqueViolation(err) {
			return PageCommit{}, fmt.Errorf("%w: %s page %d", ErrCheckpointExists, page.Document, page.Page)
		}
		return PageCommit{}, fmt.Errorf("insert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return PageCommit{}, fmt.Errorf("commit page tx: %w", err)
	}
	return commit, nil
}

func insertParent(ctx context.Context, tx *sql.Tx, page PageResult, parent Parent, timestamp string) (int64, error) {
	options, err := encodeOptions(parent.Options)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO parent_items (text, options, answer, subject, chapter, source_doc, source_page, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		parent.Text,
		options,
		nullableString(parent.Answer),
		parent.Subject,
		parent.Chapter,
		page.Document,
		page.Page,
		timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("insert parent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func insertVariant(ctx context.Context, tx *sql.Tx, parentID int64, variant Variant, timestamp string) error {
	options, err := encodeOptions(variant.Options)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO variant_items (parent_id, text, options, correct_answer, explanation, difficulty, diagram_markup, review_status, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		parentID,
		variant.Text,
		options,
		variant.CorrectAnswer,
		variant.Explanation,
		strings.ToLower(strings.TrimSpace(variant.Difficulty)),
		nullableString(variant.DiagramMarkup),
		string(ReviewPending),
		timestamp,
	); err != nil {
		return fmt.Errorf("insert variant: %w", err)
	}
	return nil
}

func encodeOptions(options []string) (string, error) {
	if options == nil {
		options = []string{}
	}
	data, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}
	return string(data), nil
}

func decodeOptions(raw string) []string {
	var options []string
	if strings.TrimSpace(raw) == "" {
		return options
	}
	if err := json.Unmarshal([]byte(raw), &options); err != nil {
		return []string{raw}
	}
	return options
}
