package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"

	"qforge/internal/api"
	"qforge/internal/config"
	"qforge/internal/logging"
	"qforge/internal/store"
	"qforge/internal/supervisor"
)

// Daemon owns the supervisor and review store for the lifetime of `qforge serve`.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	supervisor *supervisor.Supervisor
	review     *api.ReviewService

	lockPath string
	lock     *flock.Flock
	server   *apiServer

	running atomic.Bool
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, sup *supervisor.Supervisor, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || sup == nil {
		return nil, errors.New("daemon requires config, store, and supervisor")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.HostLockPath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      st,
		supervisor: sup,
		review:     api.NewReviewService(st),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.server = newAPIServer(cfg.Supervisor.APIBind, cfg.Supervisor.APIToken, d, logger)
	return d, nil
}

// Start acquires the host lock, clears stale process locks, and starts the
// HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another qforge serve instance is already running")
	}

	if removed, err := d.supervisor.Recover(); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("recover process lock: %w", err)
	} else if removed {
		d.logger.Info("cleared process lock left by a previous host",
			logging.String(logging.FieldEventType, "startup_lock_recovered"),
		)
	}

	if err := d.server.start(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("qforge host started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.server.addr()),
	)
	return nil
}

// Stop shuts down the HTTP API and releases the host lock. A running pipeline
// is left alone; it keeps its own lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.server.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("qforge host stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
	)
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the host is serving.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Addr returns the bound API address once started.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Status returns the pipeline status with the log tail.
func (d *Daemon) Status(ctx context.Context) (api.PipelineStatus, error) {
	status, err := d.supervisor.Status(ctx)
	if err != nil {
		return api.PipelineStatus{}, err
	}
	return api.FromSupervisorStatus(status), nil
}

// Augment starts a supervised run for a mapped chapter.
func (d *Daemon) Augment(ctx context.Context, subject, chapter string) (supervisor.StartResult, error) {
	unit, err := supervisor.ResolveUnit(d.cfg, subject, chapter)
	if err != nil {
		return supervisor.StartResult{}, err
	}
	return d.supervisor.Start(ctx, unit)
}

// StopPipeline terminates the supervised run, if any.
func (d *Daemon) StopPipeline(ctx context.Context) (supervisor.StopResult, error) {
	return d.supervisor.Stop(ctx)
}

// ResetStore stops the pipeline and truncates the store.
func (d *Daemon) ResetStore(ctx context.Context) error {
	return d.supervisor.ResetStore(ctx, d.store)
}

// ApprovePending stops the pipeline and approves the whole review queue.
func (d *Daemon) ApprovePending(ctx context.Context) (supervisor.StopResult, int64, error) {
	return d.supervisor.ApprovePending(ctx, d.store)
}
