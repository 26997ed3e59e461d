package store

import (
	"fmt"

	"qforge/internal/services"
)

var (
	// ErrCheckpointExists aborts a page commit when the page already has a checkpoint.
	ErrCheckpointExists = fmt.Errorf("%w: checkpoint already recorded", services.ErrStore)
	// ErrNotFound reports a missing parent or variant.
	ErrNotFound = fmt.Errorf("%w: item", services.ErrNotFound)
	// ErrInvalidReviewStatus rejects review statuses operators may not assign.
	ErrInvalidReviewStatus = fmt.Errorf("%w: review status must be approved or rejected", services.ErrValidation)
)
