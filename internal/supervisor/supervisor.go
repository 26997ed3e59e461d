package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"qforge/internal/logging"
	"qforge/internal/logs"
	"qforge/internal/services"
)

const (
	defaultGracePeriod  = 5 * time.Second
	defaultTailLines    = 40
	defaultMaxLogBytes  = 10 << 20
	controlRetryDelay   = 100 * time.Millisecond
	controlLockTimeout  = 10 * time.Second
	groupPollInterval   = 50 * time.Millisecond
	killSettleTimeout   = 2 * time.Second
	terminationMarker   = "\n\n--- PROCESS MANUALLY TERMINATED BY USER ---\n"
	startHeaderTemplate = "Starting augmentation for: %s - %s\n"
)

var (
	// ErrAlreadyRunning is returned by Start while a pipeline is running.
	ErrAlreadyRunning = errors.New("a pipeline is already running")
	// ErrStillRunning is returned by ResetStore and ApprovePending when the
	// pipeline survived Stop.
	ErrStillRunning = errors.New("pipeline still running after stop")
	// ErrOwnGroup guards against a lock file naming the caller's own process group.
	ErrOwnGroup = errors.New("refusing to signal own process group")
	// ErrControlBusy is returned when another process holds the control lock too long.
	ErrControlBusy = errors.New("another qforge control operation is in progress")
)

// Unit is one logical unit of work: a document page range for a chapter.
type Unit struct {
	Document  string
	Subject   string
	Chapter   string
	StartPage int
	EndPage   int
}

// CommandBuilder turns a unit into the command line that runs the pipeline.
type CommandBuilder func(Unit) (name string, args []string, err error)

// Truncater is the destructive store reset invoked by ResetStore.
type Truncater interface {
	Reset(ctx context.Context) error
}

// PendingApprover bulk-approves the review queue for ApprovePending.
type PendingApprover interface {
	ApproveAllPending(ctx context.Context) (int64, error)
}

// Options configures a Supervisor.
type Options struct {
	LockPath      string
	LogPath       string
	Command       CommandBuilder
	GracePeriod   time.Duration
	TailLines     int
	MaxLogBytes   int64
	RetentionDays int
	Logger        *slog.Logger
}

// StartResult describes a freshly spawned pipeline.
type StartResult struct {
	PGID     int
	LockPath string
	LogPath  string
}

// StopResult describes what Stop did.
type StopResult struct {
	PGID      int
	Signalled bool
	Forced    bool
	HadLock   bool
}

// Status is the supervisor's view of the pipeline.
type Status struct {
	Running  bool
	PGID     int
	Reaped   bool
	LockPath string
	LogPath  string
	LogTail  []string
}

// Supervisor starts, stops, and reports on the pipeline process group.
type Supervisor struct {
	opts    Options
	logger  *slog.Logger
	control *flock.Flock
	// sem serializes control operations inside this process; flock alone is
	// reentrant for a single Flock value.
	sem chan struct{}

	mu   sync.Mutex
	proc *child
}

type child struct {
	cmd  *exec.Cmd
	pgid int
	done chan struct{}
}

// New validates opts and constructs a Supervisor.
func New(opts Options) (*Supervisor, error) {
	opts.LockPath = strings.TrimSpace(opts.LockPath)
	opts.LogPath = strings.TrimSpace(opts.LogPath)
	if opts.LockPath == "" || opts.LogPath == "" {
		return nil, services.Wrap(services.ErrConfiguration, "supervisor", "init", "lock and log paths are required", nil)
	}
	if opts.Command == nil {
		return nil, services.Wrap(services.ErrConfiguration, "supervisor", "init", "command builder is required", nil)
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	if opts.TailLines <= 0 {
		opts.TailLines = defaultTailLines
	}
	if opts.MaxLogBytes == 0 {
		opts.MaxLogBytes = defaultMaxLogBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Supervisor{
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "supervisor"),
		control: flock.New(opts.LockPath + ".flock"),
		sem:     make(chan struct{}, 1),
	}, nil
}

// LockPath returns the process lock location.
func (s *Supervisor) LockPath() string { return s.opts.LockPath }

// LogPath returns the append-only log sink.
func (s *Supervisor) LogPath() string { return s.opts.LogPath }

// Recover deletes any process lock left by a previous host. It reports
// whether a lock was present.
func (s *Supervisor) Recover() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), controlLockTimeout)
	defer cancel()

	var removed bool
	err := s.withControl(ctx, func() error {
		_, exists, err := readLock(s.opts.LockPath)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		removed = true
		return removeLock(s.opts.LockPath)
	})
	if err == nil && removed {
		s.logger.Info("removed stale process lock at startup",
			logging.String(logging.FieldEventType, "stale_lock_removed"),
			logging.String("lock_path", s.opts.LockPath),
		)
	}
	return removed, err
}

// Start spawns the pipeline for unit in its own process group and returns
// without waiting for it.
func (s *Supervisor) Start(ctx context.Context, unit Unit) (StartResult, error) {
	var result StartResult
	err := s.withControl(ctx, func() error {
		var err error
		result, err = s.startLocked(unit)
		return err
	})
	return result, err
}

func (s *Supervisor) startLocked(unit Unit) (StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return StartResult{}, ErrAlreadyRunning
	}
	if _, err := s.reapStale(); err != nil {
		return StartResult{}, err
	}
	if _, exists, err := readLock(s.opts.LockPath); err != nil {
		return StartResult{}, err
	} else if exists {
		return StartResult{}, ErrAlreadyRunning
	}

	name, args, err := s.opts.Command(unit)
	if err != nil {
		return StartResult{}, fmt.Errorf("build pipeline command: %w", err)
	}

	sink, err := s.openLogSink()
	if err != nil {
		return StartResult{}, err
	}
	defer sink.Close()
	if _, err := fmt.Fprintf(sink, startHeaderTemplate, unit.Subject, unit.Chapter); err != nil {
		return StartResult{}, fmt.Errorf("write log header: %w", err)
	}

	cmd := exec.Command(name, args...)
	cmd.Stdout = sink
	cmd.Stderr = sink
	// A new session detaches the pipeline from the caller's terminal, so a
	// hangup of the shell that ran `qforge augment` does not reach it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return StartResult{}, services.Wrap(services.ErrExternal, "supervisor", "spawn", name, err)
	}

	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		// A session leader also leads its own group.
		pgid = cmd.Process.Pid
	}
	if err := writeLock(s.opts.LockPath, pgid); err != nil {
		_ = unix.Kill(-pgid, unix.SIGKILL)
		_ = cmd.Wait()
		return StartResult{}, err
	}

	c := &child{cmd: cmd, pgid: pgid, done: make(chan struct{})}
	s.proc = c
	go s.reap(c)

	s.logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "pipeline_started"),
		logging.Int("pgid", pgid),
		logging.String("subject", unit.Subject),
		logging.String("chapter", unit.Chapter),
		logging.Document(unit.Document),
	)
	return StartResult{PGID: pgid, LockPath: s.opts.LockPath, LogPath: s.opts.LogPath}, nil
}

func (s *Supervisor) openLogSink() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(s.opts.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	archive, err := logging.RotateIfLarger(s.opts.LogPath, s.opts.MaxLogBytes, time.Now())
	if err != nil {
		logging.WarnWithContext(s.logger, "pipeline log rotation failed", "log_rotation_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on paths.log_dir"),
			logging.String(logging.FieldImpact, "pipeline log keeps growing"),
		)
	} else if archive != "" {
		ext := filepath.Ext(s.opts.LogPath)
		stem := strings.TrimSuffix(filepath.Base(s.opts.LogPath), ext)
		logging.CleanupOldLogs(s.logger, s.opts.RetentionDays, logging.RetentionTarget{
			Dir:     filepath.Dir(s.opts.LogPath),
			Pattern: stem + "-*" + ext,
		})
	}
	file, err := os.OpenFile(s.opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pipeline log: %w", err)
	}
	return file, nil
}

func (s *Supervisor) reap(c *child) {
	err := c.cmd.Wait()

	s.mu.Lock()
	if s.proc == c {
		s.proc = nil
	}
	s.mu.Unlock()
	close(c.done)

	removed, lockErr := removeLockIf(s.opts.LockPath, c.pgid)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "pipeline_exited"),
		logging.Int("pgid", c.pgid),
		logging.Bool("lock_removed", removed),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	s.logger.Info("pipeline exited", logging.Args(attrs...)...)
	if lockErr != nil {
		logging.WarnWithContext(s.logger, "failed to remove process lock after exit", "lock_cleanup_failed",
			logging.Error(lockErr),
			logging.String(logging.FieldErrorHint, "run `qforge stop` to clear the lock"),
			logging.String(logging.FieldImpact, "status keeps reporting running"),
		)
	}
}

// Stop terminates the pipeline process group, if any, and guarantees the
// process lock is absent afterwards. Calling it with nothing running is a
// no-op apart from removing a leftover lock.
func (s *Supervisor) Stop(ctx context.Context) (StopResult, error) {
	var result StopResult
	err := s.withControl(ctx, func() error {
		var err error
		result, err = s.stopLocked(ctx)
		return err
	})
	return result, err
}

func (s *Supervisor) stopLocked(ctx context.Context) (StopResult, error) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	lockPGID, hadLock, err := readLock(s.opts.LockPath)
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{HadLock: hadLock, PGID: lockPGID}
	if proc != nil {
		result.PGID = proc.pgid
	}

	if result.PGID > 0 && result.PGID == unix.Getpgrp() {
		return result, ErrOwnGroup
	}

	if groupAlive(result.PGID) {
		result.Signalled = true
		if err := unix.Kill(-result.PGID, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			return result, fmt.Errorf("signal process group %d: %w", result.PGID, err)
		}
		s.logger.Info("sent SIGTERM to pipeline group",
			logging.String(logging.FieldEventType, "pipeline_terminating"),
			logging.Int("pgid", result.PGID),
		)
		if !waitGroupExit(ctx, result.PGID, proc, s.opts.GracePeriod) {
			result.Forced = true
			if err := unix.Kill(-result.PGID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				return result, fmt.Errorf("kill process group %d: %w", result.PGID, err)
			}
			logging.WarnWithContext(s.logger, "pipeline ignored SIGTERM; killed", "pipeline_killed",
				logging.Int("pgid", result.PGID),
				logging.Duration("grace_period", s.opts.GracePeriod),
				logging.String(logging.FieldErrorHint, "the current page is reprocessed on the next run"),
				logging.String(logging.FieldImpact, "uncommitted page results discarded"),
			)
			waitGroupExit(ctx, result.PGID, proc, killSettleTimeout)
		}
	}

	if err := removeLock(s.opts.LockPath); err != nil {
		return result, err
	}
	if result.Signalled {
		s.appendLog(terminationMarker)
		s.logger.Info("pipeline stopped",
			logging.String(logging.FieldEventType, "pipeline_stopped"),
			logging.Int("pgid", result.PGID),
			logging.Bool("forced", result.Forced),
		)
	}
	return result, nil
}

// waitGroupExit polls until the group is gone or timeout elapses. When the
// leader is our own child, its reaper must have run first or the zombie
// keeps the group visible.
func waitGroupExit(ctx context.Context, pgid int, proc *child, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(groupPollInterval)
	defer ticker.Stop()
	for {
		leaderDone := proc == nil || proc.pgid != pgid
		if !leaderDone {
			select {
			case <-proc.done:
				leaderDone = true
			default:
			}
		}
		if leaderDone && !groupAlive(pgid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) appendLog(text string) {
	file, err := os.OpenFile(s.opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Warn("append pipeline log failed", logging.Error(err))
		return
	}
	defer file.Close()
	if _, err := file.WriteString(text); err != nil {
		s.logger.Warn("append pipeline log failed", logging.Error(err))
	}
}

// Status reports whether a pipeline is running. A lock whose process group
// no longer exists is removed first, so Running always equals "lock exists".
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	status := Status{LockPath: s.opts.LockPath, LogPath: s.opts.LogPath}

	// Reaping is skipped while another control operation owns the lock;
	// that operation leaves the lock consistent itself.
	select {
	case s.sem <- struct{}{}:
		reaped, err := s.tryReap()
		<-s.sem
		if err != nil {
			return status, err
		}
		status.Reaped = reaped
	default:
	}

	pgid, exists, err := readLock(s.opts.LockPath)
	if err != nil {
		return status, err
	}
	status.Running = exists
	status.PGID = pgid

	tail, err := logs.Tail(ctx, s.opts.LogPath, logs.TailOptions{Offset: -1, Limit: s.opts.TailLines})
	if err != nil {
		return status, fmt.Errorf("read pipeline log: %w", err)
	}
	status.LogTail = tail.Lines
	return status, nil
}

func (s *Supervisor) tryReap() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(s.opts.LockPath), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	locked, err := s.control.TryLock()
	if err != nil || !locked {
		return false, nil
	}
	defer s.control.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reapStale()
}

// reapStale removes a lock whose group has died. Callers hold the control
// lock and s.mu.
func (s *Supervisor) reapStale() (bool, error) {
	pgid, exists, err := readLock(s.opts.LockPath)
	if err != nil || !exists {
		return false, err
	}
	if s.proc != nil && s.proc.pgid == pgid {
		return false, nil
	}
	if groupAlive(pgid) {
		return false, nil
	}
	if err := removeLock(s.opts.LockPath); err != nil {
		return false, err
	}
	logging.WarnWithContext(s.logger, "removed lock of a pipeline that is no longer running", "stale_lock_reaped",
		logging.Int("pgid", pgid),
		logging.String(logging.FieldErrorHint, "the pipeline was killed without cleanup; rerun to resume"),
		logging.String(logging.FieldImpact, "status now reports not running"),
	)
	return true, nil
}

// ResetStore stops any running pipeline, confirms nothing is running, and
// then truncates the store. The control lock is held throughout so no new
// run can start in between.
func (s *Supervisor) ResetStore(ctx context.Context, t Truncater) error {
	if t == nil {
		return services.Wrap(services.ErrConfiguration, "supervisor", "reset store", "store is required", nil)
	}
	return s.withControl(ctx, func() error {
		if _, err := s.quiesceLocked(ctx); err != nil {
			return fmt.Errorf("stop before reset: %w", err)
		}
		if err := t.Reset(ctx); err != nil {
			return services.Wrap(services.ErrStore, "supervisor", "reset store", "", err)
		}
		s.logger.Info("store reset",
			logging.String(logging.FieldEventType, "store_reset"),
		)
		return nil
	})
}

// ApprovePending stops any running pipeline and then marks every pending
// variant approved while holding the control lock, so no new run can add
// pending rows between the two steps.
func (s *Supervisor) ApprovePending(ctx context.Context, a PendingApprover) (StopResult, int64, error) {
	if a == nil {
		return StopResult{}, 0, services.Wrap(services.ErrConfiguration, "supervisor", "approve pending", "store is required", nil)
	}
	var (
		stopped  StopResult
		approved int64
	)
	err := s.withControl(ctx, func() error {
		var err error
		if stopped, err = s.quiesceLocked(ctx); err != nil {
			return fmt.Errorf("stop before bulk approval: %w", err)
		}
		if approved, err = a.ApproveAllPending(ctx); err != nil {
			return services.Wrap(services.ErrStore, "supervisor", "approve pending", "", err)
		}
		s.logger.Info("pending variants approved",
			logging.String(logging.FieldEventType, "bulk_approved"),
			logging.Int("approved", int(approved)),
			logging.Bool("pipeline_stopped", stopped.Signalled),
		)
		return nil
	})
	return stopped, approved, err
}

// quiesceLocked stops the pipeline and confirms nothing is left running.
// Callers hold the control lock.
func (s *Supervisor) quiesceLocked(ctx context.Context) (StopResult, error) {
	result, err := s.stopLocked(ctx)
	if err != nil {
		return result, err
	}
	s.mu.Lock()
	running := s.proc != nil
	s.mu.Unlock()
	if _, exists, err := readLock(s.opts.LockPath); err != nil {
		return result, err
	} else if exists || running {
		return result, ErrStillRunning
	}
	return result, nil
}

func (s *Supervisor) withControl(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.opts.LockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ErrControlBusy
	}
	defer func() { <-s.sem }()

	locked, err := s.control.TryLockContext(ctx, controlRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return ErrControlBusy
		}
		return fmt.Errorf("acquire control lock: %w", err)
	}
	if !locked {
		return ErrControlBusy
	}
	defer func() {
		if err := s.control.Unlock(); err != nil {
			s.logger.Warn("release control lock failed", logging.Error(err))
		}
	}()
	return fn()
}
