package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"qforge/internal/api"
	"qforge/internal/store"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize stored questions, review progress, and page outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				stats, err := api.NewReviewService(st).Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Parents:  %d\n", stats.Parents)
				fmt.Fprintf(out, "Variants: %d\n\n", stats.Variants)

				reviewLabels := make([]string, 0, len(store.ReviewStatuses))
				for _, status := range store.ReviewStatuses {
					reviewLabels = append(reviewLabels, string(status))
				}
				fmt.Fprintln(out, renderTable([]string{"Review", "Variants"}, countRows(reviewLabels, stats.Review), []columnAlignment{alignLeft, alignRight}))

				pageLabels := make([]string, 0, len(store.CheckpointStatuses))
				for _, status := range store.CheckpointStatuses {
					pageLabels = append(pageLabels, string(status))
				}
				fmt.Fprintln(out, renderTable([]string{"Page outcome", "Pages"}, countRows(pageLabels, stats.Pages), []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newCheckpointsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "checkpoints [document]",
		Short: "List recorded page outcomes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			document := ""
			if len(args) == 1 {
				document = args[0]
				if abs, err := filepath.Abs(document); err == nil {
					document = abs
				}
			}
			return ctx.withStore(func(st *store.Store) error {
				checkpoints, err := api.NewReviewService(st).Checkpoints(cmd.Context(), document)
				if err != nil {
					return err
				}
				if asJSON {
					if checkpoints == nil {
						checkpoints = []api.Checkpoint{}
					}
					return writeJSON(cmd, checkpoints)
				}
				out := cmd.OutOrStdout()
				if len(checkpoints) == 0 {
					fmt.Fprintln(out, "No checkpoints recorded")
					return nil
				}
				rows := make([][]string, 0, len(checkpoints))
				for _, cp := range checkpoints {
					rows = append(rows, []string{
						filepath.Base(cp.Document),
						strconv.Itoa(cp.Page),
						cp.Status,
						cp.RunID,
						cp.Timestamp,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Document", "Page", "Status", "Run", "Recorded"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the question store database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				health, err := st.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Store", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Database", statusInfo, health.DBPath, colorize))
				fmt.Fprintln(out, renderStatusLine("Readable", healthKind(health.DatabaseReadable), yesNo(health.DatabaseReadable), colorize))
				fmt.Fprintln(out, renderStatusLine("Journal", healthKind(health.JournalMode == "wal"), health.JournalMode, colorize))
				fmt.Fprintln(out, renderStatusLine("Schema", statusInfo, fmt.Sprintf("version %d", health.SchemaVersion), colorize))
				fmt.Fprintln(out, renderStatusLine("Integrity", healthKind(health.IntegrityCheck), yesNo(health.IntegrityCheck), colorize))
				if health.Error != "" {
					fmt.Fprintln(out, renderStatusLine("Error", statusError, health.Error, colorize))
				}
				return nil
			})
		},
	}
}

func healthKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}
