package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func shell(script string) CommandBuilder {
	return func(Unit) (string, []string, error) {
		return "/bin/sh", []string{"-c", script}, nil
	}
}

func newSupervisor(t *testing.T, dir string, cmd CommandBuilder) *Supervisor {
	t.Helper()
	sup, err := New(Options{
		LockPath:    filepath.Join(dir, "process.pid"),
		LogPath:     filepath.Join(dir, "logs", "pipeline.log"),
		Command:     cmd,
		GracePeriod: 2 * time.Second,
		TailLines:   10,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		_, _ = sup.Stop(context.Background())
	})
	return sup
}

var unit = Unit{Document: "/books/physics.pdf", Subject: "Physics", Chapter: "Kinematics"}

func readLog(t *testing.T, sup *Supervisor) string {
	t.Helper()
	data, err := os.ReadFile(sup.LogPath())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(data)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func lockExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// deadGroup returns the id of a process group that has already exited.
func deadGroup(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Run(); err != nil {
		t.Fatalf("run short-lived process: %v", err)
	}
	return cmd.Process.Pid
}

func TestStartStopLifecycle(t *testing.T) {
	sup := newSupervisor(t, t.TempDir(), shell("echo pipeline-running; exec sleep 30"))
	ctx := context.Background()

	started, err := sup.Start(ctx, unit)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	pgid, exists, err := readLock(sup.LockPath())
	if err != nil || !exists || pgid != started.PGID {
		t.Fatalf("expected lock naming pgid %d, got %d exists=%v err=%v", started.PGID, pgid, exists, err)
	}
	if pgid == unix.Getpgrp() {
		t.Fatal("child must run in its own process group")
	}
	sid, err := unix.Getsid(started.PGID)
	if err != nil {
		t.Fatalf("Getsid: %v", err)
	}
	if own, _ := unix.Getsid(0); sid != started.PGID || sid == own {
		t.Fatalf("child should lead a new session: sid=%d pgid=%d caller sid=%d", sid, started.PGID, own)
	}

	if _, err := sup.Start(ctx, unit); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	waitFor(t, "child output", func() bool {
		data, _ := os.ReadFile(sup.LogPath())
		return strings.Contains(string(data), "pipeline-running")
	})
	status, err := sup.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.PGID != started.PGID {
		t.Fatalf("expected running status, got %+v", status)
	}
	if len(status.LogTail) == 0 || status.LogTail[0] != "Starting augmentation for: Physics - Kinematics" {
		t.Fatalf("unexpected log tail %#v", status.LogTail)
	}

	stopped, err := sup.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stopped.Signalled || stopped.Forced || stopped.PGID != started.PGID {
		t.Fatalf("unexpected stop result %+v", stopped)
	}
	if lockExists(sup.LockPath()) {
		t.Fatal("lock must be removed after stop")
	}
	if groupAlive(started.PGID) {
		t.Fatal("process group still alive after stop")
	}
	if !strings.HasSuffix(readLog(t, sup), "--- PROCESS MANUALLY TERMINATED BY USER ---\n") {
		t.Fatalf("expected termination marker, log:\n%s", readLog(t, sup))
	}

	status, err = sup.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running {
		t.Fatalf("expected not running, got %+v", status)
	}
}

func TestStopReachesWholeGroup(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "grandchild.pid")
	sup := newSupervisor(t, dir, shell("sleep 30 & echo $! > "+pidFile+"; wait"))

	if _, err := sup.Start(context.Background(), unit); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var grandchild int
	waitFor(t, "grandchild pid", func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		grandchild, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil && grandchild > 0
	})

	if _, err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitFor(t, "grandchild exit", func() bool {
		return errors.Is(unix.Kill(grandchild, 0), unix.ESRCH)
	})
}

func TestStopEscalatesToKill(t *testing.T) {
	dir := t.TempDir()
	sup, err := New(Options{
		LockPath:    filepath.Join(dir, "process.pid"),
		LogPath:     filepath.Join(dir, "pipeline.log"),
		Command:     shell(`trap "" TERM; echo armed; sleep 30`),
		GracePeriod: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	started, err := sup.Start(context.Background(), unit)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "trap installed", func() bool {
		data, _ := os.ReadFile(sup.LogPath())
		return strings.Contains(string(data), "armed")
	})

	result, err := sup.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !result.Signalled || !result.Forced {
		t.Fatalf("expected forced stop, got %+v", result)
	}
	if groupAlive(started.PGID) || lockExists(sup.LockPath()) {
		t.Fatal("expected group gone and lock removed")
	}
}

func TestReaperRemovesLockOnExit(t *testing.T) {
	sup := newSupervisor(t, t.TempDir(), shell("echo finished"))
	if _, err := sup.Start(context.Background(), unit); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "lock removal", func() bool { return !lockExists(sup.LockPath()) })

	waitFor(t, "handle release", func() bool {
		_, err := sup.Start(context.Background(), unit)
		return err == nil
	})
}

func TestStopFromAnotherSupervisorUsesLockFile(t *testing.T) {
	dir := t.TempDir()
	owner := newSupervisor(t, dir, shell("exec sleep 30"))
	started, err := owner.Start(context.Background(), unit)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A fresh supervisor has no in-memory handle, as after a CLI restart.
	other := newSupervisor(t, dir, shell("true"))
	status, err := other.Status(context.Background())
	if err != nil || !status.Running {
		t.Fatalf("expected running via lock file, got %+v err=%v", status, err)
	}
	if _, err := other.Start(context.Background(), unit); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning from second supervisor, got %v", err)
	}

	result, err := other.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !result.Signalled || result.PGID != started.PGID {
		t.Fatalf("unexpected stop result %+v", result)
	}
	waitFor(t, "owner handle release", func() bool {
		owner.mu.Lock()
		defer owner.mu.Unlock()
		return owner.proc == nil
	})
}

func TestStopIsIdempotent(t *testing.T) {
	sup := newSupervisor(t, t.TempDir(), shell("true"))
	for i := 0; i < 2; i++ {
		result, err := sup.Stop(context.Background())
		if err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
		if result.Signalled || result.HadLock {
			t.Fatalf("expected no-op stop, got %+v", result)
		}
	}
	if _, err := os.Stat(sup.LogPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no-op stop must not write the log, stat err=%v", err)
	}
}

func TestStaleLockIsReaped(t *testing.T) {
	sup := newSupervisor(t, t.TempDir(), shell("exec sleep 30"))
	if err := writeLock(sup.LockPath(), deadGroup(t)); err != nil {
		t.Fatalf("writeLock: %v", err)
	}

	status, err := sup.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running || !status.Reaped {
		t.Fatalf("expected stale lock reaped, got %+v", status)
	}

	if err := writeLock(sup.LockPath(), deadGroup(t)); err != nil {
		t.Fatalf("writeLock: %v", err)
	}
	if _, err := sup.Start(context.Background(), unit); err != nil {
		t.Fatalf("Start over stale lock: %v", err)
	}
}

func TestStopRemovesStaleLockWithoutSignal(t *testing.T) {
	sup := newSupervisor(t, t.TempDir(), shell("true"))
	if err := writeLock(sup.LockPath(), deadGroup(t)); err != nil {
		t.Fatalf("writeLock: %v", err)
	}
	result, err := sup.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !result.HadLock || result.Signalled {
		t.Fatalf("unexpected result %+v", result)
	}
	if lockExists(sup.LockPath()) {
		t.Fatal("lock must be removed")
	}
}

func TestRecoverRemovesAnyLock(t *testing.T) {
	sup := newSupervisor(t, t.TempDir(), shell("true"))
	removed, err := sup.Recover()
	if err != nil || removed {
		t.Fatalf("expected nothing to recover, removed=%v err=%v", removed, err)
	}
	if err := os.WriteFile(sup.LockPath(), []byte("not-a-pgid"), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	removed, err = sup.Recover()
	if err != nil || !removed {
		t.Fatalf("expected lock removed, removed=%v err=%v", removed, err)
	}
	if lockExists(sup.LockPath()) {
		t.Fatal("lock still present")
	}
}

func TestStopRefusesOwnGroup(t *testing.T) {
	sup := newSupervisor(t, t.TempDir(), shell("true"))
	if err := writeLock(sup.LockPath(), unix.Getpgrp()); err != nil {
		t.Fatalf("writeLock: %v", err)
	}
	t.Cleanup(func() { _ = removeLock(sup.LockPath()) })
	if _, err := sup.Stop(context.Background()); !errors.Is(err, ErrOwnGroup) {
		t.Fatalf("expected ErrOwnGroup, got %v", err)
	}
}

func TestReleaseOwnLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "process.pid")
	if err := writeLock(path, unix.Getpgrp()+1); err != nil {
		t.Fatalf("writeLock: %v", err)
	}
	if err := ReleaseOwnLock(path); err != nil {
		t.Fatalf("ReleaseOwnLock: %v", err)
	}
	if !lockExists(path) {
		t.Fatal("lock naming another group must survive")
	}
	if err := writeLock(path, unix.Getpgrp()); err != nil {
		t.Fatalf("writeLock: %v", err)
	}
	if err := ReleaseOwnLock(path); err != nil {
		t.Fatalf("ReleaseOwnLock: %v", err)
	}
	if lockExists(path) {
		t.Fatal("own lock must be removed")
	}
}

type recordingTruncater struct {
	calls    atomic.Int32
	lockSeen atomic.Bool
	lockPath string
	err      error
}

func (r *recordingTruncater) Reset(context.Context) error {
	r.calls.Add(1)
	r.lockSeen.Store(lockExists(r.lockPath))
	return r.err
}

func (r *recordingTruncater) ApproveAllPending(context.Context) (int64, error) {
	r.calls.Add(1)
	r.lockSeen.Store(lockExists(r.lockPath))
	if r.err != nil {
		return 0, r.err
	}
	return 4, nil
}

func TestResetStoreStopsFirst(t *testing.T) {
	sup := newSupervisor(t, t.TempDir(), shell("exec sleep 30"))
	started, err := sup.Start(context.Background(), unit)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	trunc := &recordingTruncater{lockPath: sup.LockPath()}
	if err := sup.ResetStore(context.Background(), trunc); err != nil {
		t.Fatalf("ResetStore: %v", err)
	}
	if trunc.calls.Load() != 1 || trunc.lockSeen.Load() {
		t.Fatalf("expected one reset with no lock present, calls=%d lock=%v", trunc.calls.Load(), trunc.lockSeen.Load())
	}
	if groupAlive(started.PGID) {
		t.Fatal("pipeline must be stopped before reset")
	}

	failing := &recordingTruncater{lockPath: sup.LockPath(), err: errors.New("disk full")}
	if err := sup.ResetStore(context.Background(), failing); err == nil {
		t.Fatal("expected reset error")
	}
}

func TestApprovePendingStopsRunningPipelineFirst(t *testing.T) {
	sup := newSupervisor(t, t.TempDir(), shell("exec sleep 30"))
	started, err := sup.Start(context.Background(), unit)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	approver := &recordingTruncater{lockPath: sup.LockPath()}
	stopped, approved, err := sup.ApprovePending(context.Background(), approver)
	if err != nil {
		t.Fatalf("ApprovePending: %v", err)
	}
	if !stopped.Signalled || stopped.PGID != started.PGID {
		t.Fatalf("expected the running group to be signalled, got %+v", stopped)
	}
	if approved != 4 || approver.calls.Load() != 1 || approver.lockSeen.Load() {
		t.Fatalf("expected one approval pass with no lock present, approved=%d calls=%d lock=%v",
			approved, approver.calls.Load(), approver.lockSeen.Load())
	}
	if groupAlive(started.PGID) {
		t.Fatal("pipeline must be stopped before approval")
	}

	idle, _, err := sup.ApprovePending(context.Background(), approver)
	if err != nil || idle.Signalled {
		t.Fatalf("idle approval should not signal anything, got %+v %v", idle, err)
	}

	failing := &recordingTruncater{lockPath: sup.LockPath(), err: errors.New("disk full")}
	if _, _, err := sup.ApprovePending(context.Background(), failing); err == nil {
		t.Fatal("expected approval error")
	}
}

func TestStartReportsCommandErrors(t *testing.T) {
	sup := newSupervisor(t, t.TempDir(), func(Unit) (string, []string, error) {
		return "", nil, errors.New("unknown chapter")
	})
	if _, err := sup.Start(context.Background(), unit); err == nil {
		t.Fatal("expected builder error")
	}
	if lockExists(sup.LockPath()) {
		t.Fatal("failed start must not leave a lock")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{LogPath: "/tmp/x.log", Command: shell("true")}); err == nil {
		t.Fatal("expected error without lock path")
	}
	if _, err := New(Options{LockPath: "/tmp/x.pid", LogPath: "/tmp/x.log"}); err == nil {
		t.Fatal("expected error without command")
	}
}
