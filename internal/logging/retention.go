package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget names a directory and glob whose files are subject to
// pruning. Paths in Exclude are never removed.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs deletes files selected by targets whose modification time is
// more than retentionDays old. retentionDays <= 0 disables pruning.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) {
	if retentionDays <= 0 {
		return
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, target := range targets {
		pruneTarget(logger, target, cutoff)
	}
}

func pruneTarget(logger *slog.Logger, target RetentionTarget, cutoff time.Time) {
	dir := strings.TrimSpace(target.Dir)
	if dir == "" {
		return
	}
	pattern := strings.TrimSpace(target.Pattern)
	if pattern == "" {
		pattern = "*"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return
	}
	keep := make(map[string]bool, len(target.Exclude))
	for _, path := range target.Exclude {
		keep[absPath(path)] = true
	}

	for _, match := range matches {
		path := absPath(match)
		if keep[path] {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log retention remove failed", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check file permissions on paths.log_dir"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		logger.Info("log pruned", String("path", path), String(FieldEventType, "log_pruned"))
	}
}

func absPath(path string) string {
	path = strings.TrimSpace(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// RotateIfLarger moves path aside to <stem>-<UTC timestamp><ext> once it
// exceeds maxBytes and returns the archive name ("" when nothing moved).
func RotateIfLarger(path string, maxBytes int64, now time.Time) (string, error) {
	if maxBytes <= 0 {
		return "", nil
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("stat log file: %w", err)
	case info.Size() <= maxBytes:
		return "", nil
	}
	ext := filepath.Ext(path)
	archive := strings.TrimSuffix(path, ext) + "-" + now.UTC().Format("20060102-150405") + ext
	if err := os.Rename(path, archive); err != nil {
		return "", fmt.Errorf("rotate log file: %w", err)
	}
	return archive, nil
}
