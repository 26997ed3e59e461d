package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"qforge/internal/daemon"
	"qforge/internal/logging"
	"qforge/internal/services"
	"qforge/internal/store"
)

const hostLogMaxBytes = 10 * 1024 * 1024

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline controls and review queue over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if bind != "" {
				cfg.Supervisor.APIBind = bind
			}
			if cfg.Supervisor.APIBind == "" {
				return services.Wrap(services.ErrConfiguration, "serve", "start", "supervisor.api_bind is empty", nil)
			}

			// Rotate before the logger opens qforge.log for appending.
			if _, err := logging.RotateIfLarger(filepath.Join(cfg.Paths.LogDir, "qforge.log"), hostLogMaxBytes, time.Now()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warn: unable to rotate host log: %v\n", err)
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
				logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "qforge-*.log"},
			)

			st, err := store.Open(cfg)
			if err != nil {
				logger.Error("open store", logging.Error(err))
				return services.Wrap(services.ErrStore, "serve", "open store", "", err)
			}

			sup, err := ctx.newSupervisor(logger)
			if err != nil {
				st.Close()
				return err
			}

			d, err := daemon.New(cfg, st, sup, logger)
			if err != nil {
				st.Close()
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close() // also closes the store

			if err := d.Start(signalCtx); err != nil {
				return err
			}
			logger.Info("qforge host ready", logging.String("addr", d.Addr()))

			<-signalCtx.Done()
			logger.Info("qforge host shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Override supervisor.api_bind")
	return cmd
}
