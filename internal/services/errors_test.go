package services_test

import (
	"errors"
	"strings"
	"testing"

	"qforge/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternal, "pipeline", "parse", "request failed", base)
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	for _, fragment := range []string{"pipeline", "parse", "request failed"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in error string %q", fragment, err.Error())
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestIsFatalAndExitCode(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		fatal bool
		code  int
	}{
		{"nil", nil, false, 0},
		{"configuration", services.Wrap(services.ErrConfiguration, "llm", "init", "no keys", nil), true, 2},
		{"store", services.Wrap(services.ErrStore, "store", "commit", "", errors.New("disk full")), true, 1},
		{"external", services.Wrap(services.ErrExternal, "llm", "request", "", nil), false, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.IsFatal(tc.err); got != tc.fatal {
				t.Fatalf("IsFatal = %v, want %v", got, tc.fatal)
			}
			if got := services.ExitCode(tc.err); got != tc.code {
				t.Fatalf("ExitCode = %d, want %d", got, tc.code)
			}
		})
	}
}
