package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const parentColumns = "id, text, options, answer, subject, chapter, source_doc, source_page, created_at"

const variantColumns = "v.id, v.parent_id, v.text, v.options, v.correct_answer, v.explanation, v.difficulty, v.diagram_markup, v.review_status, v.reviewed_at, v.created_at"

type rowScanner interface{ Scan(dest ...any) error }

func scanParent(scanner rowScanner) (*Parent, error) {
	var (
		p       Parent
		options string
		answer  sql.NullString
		created sql.NullString
	)
	if err := scanner.Scan(&p.ID, &p.Text, &options, &answer, &p.Subject, &p.Chapter, &p.SourceDoc, &p.SourcePage, &created); err != nil {
		return nil, err
	}
	p.Options = decodeOptions(options)
	p.Answer = answer.String
	p.CreatedAt = parseTime(created)
	return &p, nil
}

func scanVariant(scanner rowScanner) (*Variant, error) {
	var (
		v        Variant
		options  string
		diagram  sql.NullString
		status   string
		reviewed sql.NullString
		created  sql.NullString
	)
	if err := scanner.Scan(&v.ID, &v.ParentID, &v.Text, &options, &v.CorrectAnswer, &v.Explanation, &v.Difficulty, &diagram, &status, &reviewed, &created); err != nil {
		return nil, err
	}
	v.Options = decodeOptions(options)
	v.DiagramMarkup = diagram.String
	v.ReviewStatus = ReviewStatus(status)
	v.ReviewedAt = parseTime(reviewed)
	v.CreatedAt = parseTime(created)
	return &v, nil
}

// GetParent fetches a parent item by identifier. It returns nil when absent.
func (s *Store) GetParent(ctx context.Context, id int64) (*Parent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+parentColumns+` FROM parent_items WHERE id = ?`, id)
	parent, err := scanParent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get parent: %w", err)
	}
	return parent, nil
}

// GetVariant fetches a variant by identifier. It returns nil when absent.
func (s *Store) GetVariant(ctx context.Context, id int64) (*Variant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+variantColumns+` FROM variant_items v WHERE v.id = ?`, id)
	variant, err := scanVariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get variant: %w", err)
	}
	return variant, nil
}

// ListVariants returns variants matching filter ordered by id.
func (s *Store) ListVariants(ctx context.Context, filter VariantFilter) ([]Variant, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "v.review_status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ParentID > 0 {
		clauses = append(clauses, "v.parent_id = ?")
		args = append(args, filter.ParentID)
	}
	if subject := strings.TrimSpace(filter.Subject); subject != "" {
		clauses = append(clauses, "p.subject = ? COLLATE NOCASE")
		args = append(args, subject)
	}
	if chapter := strings.TrimSpace(filter.Chapter); chapter != "" {
		clauses = append(clauses, "p.chapter = ? COLLATE NOCASE")
		args = append(args, chapter)
	}

	query := `SELECT ` + variantColumns + ` FROM variant_items v JOIN parent_items p ON p.id = v.parent_id`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY v.id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		variant, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		variants = append(variants, *variant)
	}
	return variants, rows.Err()
}

// NextPending returns the oldest variant awaiting review together with its
// parent. Both are nil when the review queue is empty.
func (s *Store) NextPending(ctx context.Context) (*Variant, *Parent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM variant_items v WHERE v.review_status = ? ORDER BY v.id LIMIT 1`,
		string(ReviewPending),
	)
	variant, err := scanVariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("next pending: %w", err)
	}
	parent, err := s.GetParent(ctx, variant.ParentID)
	if err != nil {
		return nil, nil, err
	}
	return variant, parent, nil
}

// SetReviewStatus records a reviewer decision. Only approved and rejected are
// accepted; rejected_duplicate is reserved for the deduplication job.
func (s *Store) SetReviewStatus(ctx context.Context, id int64, status ReviewStatus) error {
	if status != ReviewApproved && status != ReviewRejected {
		return fmt.Errorf("%w: got %q", ErrInvalidReviewStatus, status)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE variant_items SET review_status = ?, reviewed_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set review status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: variant %d", ErrNotFound, id)
	}
	return nil
}

// ApproveAllPending approves every variant still awaiting review and returns
// how many rows changed.
func (s *Store) ApproveAllPending(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE variant_items SET review_status = ?, reviewed_at = ? WHERE review_status = ?`,
		string(ReviewApproved), formatTime(time.Now()), string(ReviewPending),
	)
	if err != nil {
		return 0, fmt.Errorf("approve pending: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}
