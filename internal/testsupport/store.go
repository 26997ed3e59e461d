package testsupport

import (
	"context"
	"testing"

	"qforge/internal/config"
	"qforge/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustCommitPage commits a page result and fails the test on error.
func MustCommitPage(t testing.TB, st *store.Store, page store.PageResult) store.PageCommit {
	t.Helper()

	commit, err := st.CommitPage(context.Background(), page)
	if err != nil {
		t.Fatalf("store.CommitPage: %v", err)
	}
	return commit
}

// SampleParent builds a success page result with one parent and n variants.
func SampleParent(document string, page, n int) store.PageResult {
	variants := make([]store.Variant, n)
	for i := range variants {
		variants[i] = store.Variant{
			Text:          "variant question",
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: "A",
			Explanation:   "because",
			Difficulty:    "medium",
		}
	}
	return store.PageResult{
		Document: document,
		Page:     page,
		Status:   store.CheckpointSuccess,
		RunID:    "test-run",
		Parents: []store.ParentResult{{
			Parent: store.Parent{
				Text:    "parent question",
				Options: []string{"A", "B", "C", "D"},
				Answer:  "A",
				Subject: "Physics",
				Chapter: "Kinematics",
			},
			Variants: variants,
		}},
	}
}
