package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// readLock returns the group id stored at path. exists is false when there is
// no lock file; pgid is 0 when the file exists but does not hold a valid id.
func readLock(path string) (pgid int, exists bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read lock file: %w", err)
	}
	value, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if convErr != nil || value <= 0 {
		return 0, true, nil
	}
	return value, true, nil
}

// writeLock replaces path with pgid through a rename so readers never observe
// a partial file.
func writeLock(path string, pgid int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create lock file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(strconv.Itoa(pgid) + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close lock file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("install lock file: %w", err)
	}
	return nil
}

func removeLock(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// removeLockIf deletes the lock only while it still names pgid.
func removeLockIf(path string, pgid int) (bool, error) {
	current, exists, err := readLock(path)
	if err != nil || !exists || current != pgid {
		return false, err
	}
	return true, removeLock(path)
}

// ReleaseOwnLock removes lockPath when it names the calling process's group.
// A supervised pipeline calls it on the way out so a clean exit never leaves
// a lock behind, even when the supervisor that spawned it is gone.
func ReleaseOwnLock(lockPath string) error {
	if strings.TrimSpace(lockPath) == "" {
		return nil
	}
	_, err := removeLockIf(lockPath, unix.Getpgrp())
	return err
}

// groupAlive reports whether any process in group pgid still exists.
func groupAlive(pgid int) bool {
	if pgid <= 0 {
		return false
	}
	err := unix.Kill(-pgid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
