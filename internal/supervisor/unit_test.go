package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"qforge/internal/config"
	"qforge/internal/services"
)

func TestResolveUnit(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "physics.txt")
	if err := os.WriteFile(doc, []byte("page"), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	cfg := config.Default()
	cfg.Chapters = []config.Chapter{
		{Subject: "Physics", Chapter: "Kinematics", Document: doc, StartPage: 2, EndPage: 5},
		{Subject: "Physics", Chapter: "Optics", Document: filepath.Join(dir, "missing.pdf")},
	}

	got, err := ResolveUnit(&cfg, "physics", "kinematics")
	if err != nil {
		t.Fatalf("ResolveUnit: %v", err)
	}
	want := Unit{Document: doc, Subject: "Physics", Chapter: "Kinematics", StartPage: 2, EndPage: 5}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}

	if _, err := ResolveUnit(&cfg, "Physics", "Waves"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := ResolveUnit(&cfg, "Physics", "Optics"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing document, got %v", err)
	}
	if _, err := ResolveUnit(&cfg, "", "Optics"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
