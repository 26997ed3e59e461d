package daemon_test

import (
	"context"
	"os"
	"testing"

	"qforge/internal/config"
	"qforge/internal/daemon"
	"qforge/internal/supervisor"
	"qforge/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	sup, err := supervisor.New(supervisor.Options{
		LockPath: cfg.LockPath(),
		LogPath:  cfg.PipelineLogPath(),
		Command: func(supervisor.Unit) (string, []string, error) {
			return "/bin/sh", []string{"-c", "exec sleep 30"}, nil
		},
		GracePeriod: cfg.StopGracePeriod(),
	})
	if err != nil {
		t.Fatalf("supervisor.New: %v", err)
	}
	d, err := daemon.New(cfg, st, sup, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		_, _ = sup.Stop(context.Background())
		d.Stop()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.Running() || d.Addr() == "" {
		t.Fatalf("expected running daemon with bound address, addr=%q", d.Addr())
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	// A second host on the same data directory must be refused.
	other := newDaemon(t, cfg)
	if err := other.Start(ctx); err == nil {
		t.Fatal("expected host lock to reject a second instance")
	}

	d.Stop()
	if d.Running() {
		t.Fatal("expected daemon to be stopped")
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("expected lock released after stop: %v", err)
	}
}

func TestDaemonStartClearsStaleProcessLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if err := os.WriteFile(cfg.LockPath(), []byte("424242\n"), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := os.Stat(cfg.LockPath()); !os.IsNotExist(err) {
		t.Fatalf("expected stale lock removed at startup, stat err=%v", err)
	}
	status, err := d.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running {
		t.Fatal("expected not running")
	}
}
