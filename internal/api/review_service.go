package api

import (
	"context"

	"qforge/internal/store"
)

// ReviewStore abstracts the store operations the review surface needs.
type ReviewStore interface {
	Stats(ctx context.Context) (store.Stats, error)
	ListVariants(ctx context.Context, filter store.VariantFilter) ([]store.Variant, error)
	NextPending(ctx context.Context) (*store.Variant, *store.Parent, error)
	GetVariant(ctx context.Context, id int64) (*store.Variant, error)
	SetReviewStatus(ctx context.Context, id int64, status store.ReviewStatus) error
	CheckpointSummary(ctx context.Context, document string) ([]store.CheckpointRecord, error)
}

// ReviewService exposes store queries and review decisions as API DTOs.
type ReviewService struct {
	store ReviewStore
}

// NewReviewService constructs a ReviewService around the provided store.
func NewReviewService(st ReviewStore) *ReviewService {
	if st == nil {
		return nil
	}
	return &ReviewService{store: st}
}

// Stats returns store totals.
func (s *ReviewService) Stats(ctx context.Context) (Stats, error) {
	if s == nil {
		return FromStats(store.Stats{}), nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return FromStats(stats), nil
}

// Variants lists variants matching filter.
func (s *ReviewService) Variants(ctx context.Context, filter store.VariantFilter) ([]Variant, error) {
	if s == nil {
		return nil, nil
	}
	variants, err := s.store.ListVariants(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromVariants(variants), nil
}

// NextPending returns the oldest pending variant with its parent.
func (s *ReviewService) NextPending(ctx context.Context) (NextPendingResponse, error) {
	if s == nil {
		return NextPendingResponse{}, nil
	}
	variant, parent, err := s.store.NextPending(ctx)
	if err != nil || variant == nil {
		return NextPendingResponse{}, err
	}
	v := FromVariant(variant)
	resp := NextPendingResponse{Variant: &v}
	if parent != nil {
		p := FromParent(parent)
		resp.Parent = &p
	}
	return resp, nil
}

// Review applies a decision and returns the updated variant.
func (s *ReviewService) Review(ctx context.Context, id int64, status string) (Variant, error) {
	if s == nil {
		return Variant{}, store.ErrNotFound
	}
	parsed, ok := store.ParseReviewStatus(status)
	if !ok {
		return Variant{}, store.ErrInvalidReviewStatus
	}
	if err := s.store.SetReviewStatus(ctx, id, parsed); err != nil {
		return Variant{}, err
	}
	variant, err := s.store.GetVariant(ctx, id)
	if err != nil {
		return Variant{}, err
	}
	if variant == nil {
		return Variant{}, store.ErrNotFound
	}
	return FromVariant(variant), nil
}

// Checkpoints returns the checkpoint log for document, or all documents when
// document is empty.
func (s *ReviewService) Checkpoints(ctx context.Context, document string) ([]Checkpoint, error) {
	if s == nil {
		return nil, nil
	}
	records, err := s.store.CheckpointSummary(ctx, document)
	if err != nil {
		return nil, err
	}
	return FromCheckpoints(records), nil
}
