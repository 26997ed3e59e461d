package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"qforge/internal/config"
	"qforge/internal/logging"
	"qforge/internal/services"
	"qforge/internal/store"
	"qforge/internal/supervisor"
)

// pipelineExecutable resolves the binary the supervisor re-executes for
// `qforge run`. Tests replace it with a stub.
var pipelineExecutable = os.Executable

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "cli", "load config", "", err)
			return
		}
		if err := cfg.LoadEnvFile(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "cli", "load env file", "", err)
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "cli", "ensure directories", "", err)
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) openStore() (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "cli", "open store", "", err)
	}
	return st, nil
}

// withStore opens the store for the duration of fn.
func (c *commandContext) withStore(fn func(*store.Store) error) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func (c *commandContext) newSupervisor(logger *slog.Logger) (*supervisor.Supervisor, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	configPath := ""
	if c.configExists {
		configPath = c.configPath
	}
	return supervisor.New(supervisor.Options{
		LockPath:      cfg.LockPath(),
		LogPath:       cfg.PipelineLogPath(),
		Command:       pipelineCommand(cfg.LockPath(), configPath),
		GracePeriod:   cfg.StopGracePeriod(),
		TailLines:     cfg.Supervisor.LogTailLines,
		RetentionDays: cfg.Logging.RetentionDays,
		Logger:        logger,
	})
}

// pipelineCommand re-executes this binary as `qforge run` for one unit.
func pipelineCommand(lockPath, configPath string) supervisor.CommandBuilder {
	return func(unit supervisor.Unit) (string, []string, error) {
		exe, err := pipelineExecutable()
		if err != nil {
			return "", nil, fmt.Errorf("resolve qforge executable: %w", err)
		}
		args := []string{
			"run",
			"--document", unit.Document,
			"--subject", unit.Subject,
			"--chapter", unit.Chapter,
			"--lock-file", lockPath,
		}
		if unit.StartPage > 0 {
			args = append(args, "--start-page", strconv.Itoa(unit.StartPage))
		}
		if unit.EndPage > 0 {
			args = append(args, "--end-page", strconv.Itoa(unit.EndPage))
		}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		return exe, args, nil
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
