package api

import (
	"testing"
	"time"

	"qforge/internal/store"
)

func TestFromVariantFormatsOptionalFields(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	v := FromVariant(&store.Variant{
		ID:           7,
		ParentID:     2,
		Text:         "q",
		ReviewStatus: store.ReviewPending,
		CreatedAt:    created,
	})
	if v.CreatedAt != "2026-03-01T11:00:00.000Z" {
		t.Fatalf("unexpected created timestamp %q", v.CreatedAt)
	}
	if v.ReviewedAt != "" {
		t.Fatalf("expected empty reviewedAt, got %q", v.ReviewedAt)
	}
	if v.Options == nil {
		t.Fatal("expected options encoded as an empty list")
	}
	if FromVariant(nil).ID != 0 {
		t.Fatal("expected zero value for nil")
	}
}
