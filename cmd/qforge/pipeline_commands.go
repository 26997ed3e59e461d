package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"qforge/internal/api"
	"qforge/internal/logs"
	"qforge/internal/store"
	"qforge/internal/supervisor"
)

func newPipelineCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newAugmentCommand(ctx),
		newStopCommand(ctx),
		newStatusCommand(ctx),
		newResetStoreCommand(ctx),
		newLogsCommand(ctx),
	}
}

func newAugmentCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "augment <subject> <chapter>",
		Short: "Start the augmentation pipeline for a mapped chapter",
		Long: "Start the augmentation pipeline for a chapter from the chapter map.\n" +
			"The pipeline runs detached in its own process group; use `qforge status`\n" +
			"and `qforge stop` to follow and terminate it.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			unit, err := supervisor.ResolveUnit(cfg, args[0], args[1])
			if err != nil {
				return err
			}
			sup, err := ctx.newSupervisor(nil)
			if err != nil {
				return err
			}
			result, err := sup.Start(cmd.Context(), unit)
			if err != nil {
				if errors.Is(err, supervisor.ErrAlreadyRunning) {
					return fmt.Errorf("%w; run `qforge stop` first", err)
				}
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Started augmentation for %s - %s (pgid %d)\n", unit.Subject, unit.Chapter, result.PGID)
			fmt.Fprintf(out, "Log: %s\n", result.LogPath)
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Terminate the running pipeline process group",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := ctx.newSupervisor(nil)
			if err != nil {
				return err
			}
			result, err := sup.Stop(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case result.Forced:
				fmt.Fprintf(out, "Pipeline killed after grace period (pgid %d)\n", result.PGID)
			case result.Signalled:
				fmt.Fprintf(out, "Pipeline stopped (pgid %d)\n", result.PGID)
			case result.HadLock:
				fmt.Fprintln(out, "Removed stale process lock; no pipeline was running")
			default:
				fmt.Fprintln(out, "No pipeline running")
			}
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var lines int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status and recent log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sup, err := ctx.newSupervisor(nil)
			if err != nil {
				return err
			}
			status, err := sup.Status(cmd.Context())
			if err != nil {
				return err
			}
			if lines > 0 && lines != cfg.Supervisor.LogTailLines {
				tail, tailErr := logs.Last(status.LogPath, lines)
				if tailErr != nil {
					return tailErr
				}
				status.LogTail = tail
			}
			if asJSON {
				return writeJSON(cmd, api.FromSupervisorStatus(status))
			}
			out := cmd.OutOrStdout()
			for _, line := range renderPipelineStatus(status, shouldColorize(out)) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().IntVarP(&lines, "lines", "n", 0, "Number of log lines to include (defaults to supervisor.log_tail_lines)")
	return cmd
}

func newResetStoreCommand(ctx *commandContext) *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "reset-store",
		Short: "Stop the pipeline and delete every stored question and checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !assumeYes {
				confirmed, err := confirm(cmd, "This deletes all parents, variants, and checkpoints. Continue? [y/N] ")
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}
			sup, err := ctx.newSupervisor(nil)
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				if err := sup.ResetStore(cmd.Context(), st); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Store reset; all pages will be reprocessed on the next run")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the pipeline log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.PipelineLogPath()
			out := cmd.OutOrStdout()

			result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: lines})
			if err != nil {
				return err
			}
			for _, line := range result.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}

			followCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			offset := result.Offset
			for {
				result, err = logs.Tail(followCtx, path, logs.TailOptions{Offset: offset, Follow: true, Wait: 2 * time.Second})
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				for _, line := range result.Lines {
					fmt.Fprintln(out, line)
				}
				offset = result.Offset
				if followCtx.Err() != nil {
					return nil
				}
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 40, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines as they are written")
	return cmd
}

func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	answer, err := reader.ReadString('\n')
	if err != nil && answer == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
