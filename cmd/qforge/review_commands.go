package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"qforge/internal/api"
	"qforge/internal/services"
	"qforge/internal/store"
)

func newVariantsCommand(ctx *commandContext) *cobra.Command {
	variantsCmd := &cobra.Command{
		Use:   "variants",
		Short: "Inspect generated variants",
	}
	variantsCmd.AddCommand(newVariantsListCommand(ctx))
	return variantsCmd
}

func newVariantsListCommand(ctx *commandContext) *cobra.Command {
	var (
		status   string
		subject  string
		chapter  string
		parentID int64
		limit    int
		offset   int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generated variants",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.VariantFilter{
				Subject:  subject,
				Chapter:  chapter,
				ParentID: parentID,
				Limit:    limit,
				Offset:   offset,
			}
			if strings.TrimSpace(status) != "" {
				parsed, ok := store.ParseReviewStatus(status)
				if !ok {
					return services.Wrap(services.ErrValidation, "cli", "list variants",
						fmt.Sprintf("unknown review status %q", status), nil)
				}
				filter.Status = parsed
			}
			return ctx.withStore(func(st *store.Store) error {
				variants, err := api.NewReviewService(st).Variants(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					if variants == nil {
						variants = []api.Variant{}
					}
					return writeJSON(cmd, api.VariantListResponse{Items: variants})
				}
				out := cmd.OutOrStdout()
				if len(variants) == 0 {
					fmt.Fprintln(out, "No variants found")
					return nil
				}
				rows := make([][]string, 0, len(variants))
				for _, v := range variants {
					rows = append(rows, []string{
						strconv.FormatInt(v.ID, 10),
						strconv.FormatInt(v.ParentID, 10),
						v.Difficulty,
						v.ReviewStatus,
						truncate(v.Text, 60),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Parent", "Difficulty", "Review", "Question"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&status, "status", "", "Filter by review status (pending, approved, rejected, rejected_duplicate)")
	flags.StringVar(&subject, "subject", "", "Filter by subject")
	flags.StringVar(&chapter, "chapter", "", "Filter by chapter")
	flags.Int64Var(&parentID, "parent", 0, "Filter by parent question id")
	flags.IntVar(&limit, "limit", 50, "Maximum variants to list")
	flags.IntVar(&offset, "offset", 0, "Variants to skip")
	flags.BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newReviewCommand(ctx *commandContext) *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Review generated variants",
	}
	reviewCmd.AddCommand(newReviewNextCommand(ctx))
	reviewCmd.AddCommand(newReviewDecisionCommand(ctx, "approve", store.ReviewApproved))
	reviewCmd.AddCommand(newReviewDecisionCommand(ctx, "reject", store.ReviewRejected))
	return reviewCmd
}

func newReviewNextCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the oldest variant awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				next, err := api.NewReviewService(st).NextPending(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, next)
				}
				out := cmd.OutOrStdout()
				if next.Variant == nil {
					fmt.Fprintln(out, "Review queue is empty")
					return nil
				}
				if next.Parent != nil {
					fmt.Fprintf(out, "Source: %s p%d (%s - %s)\n",
						filepath.Base(next.Parent.SourceDoc), next.Parent.SourcePage, next.Parent.Subject, next.Parent.Chapter)
					fmt.Fprintf(out, "Original: %s\n\n", next.Parent.Text)
				}
				writeVariant(out, *next.Variant)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newReviewDecisionCommand(ctx *commandContext, verb string, status store.ReviewStatus) *cobra.Command {
	var (
		allPending bool
		assumeYes  bool
	)

	cmd := &cobra.Command{
		Use:   verb + " <id>...",
		Short: fmt.Sprintf("Mark variants as %s", status),
		Args: func(cmd *cobra.Command, args []string) error {
			if allPending {
				if len(args) > 0 {
					return services.Wrap(services.ErrValidation, "cli", "review",
						"--all-pending does not take variant ids", nil)
				}
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if allPending {
				return approveAllPending(cmd, ctx, assumeYes)
			}
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
				if err != nil || id <= 0 {
					return services.Wrap(services.ErrValidation, "cli", "review",
						fmt.Sprintf("invalid variant id %q", arg), nil)
				}
				ids = append(ids, id)
			}
			return ctx.withStore(func(st *store.Store) error {
				service := api.NewReviewService(st)
				out := cmd.OutOrStdout()
				for _, id := range ids {
					variant, err := service.Review(cmd.Context(), id, string(status))
					if err != nil {
						if errors.Is(err, store.ErrNotFound) {
							return services.Wrap(services.ErrNotFound, "cli", "review",
								fmt.Sprintf("variant %d not found", id), err)
						}
						return err
					}
					fmt.Fprintf(out, "Variant %d marked %s\n", variant.ID, variant.ReviewStatus)
				}
				return nil
			})
		},
	}

	if status == store.ReviewApproved {
		cmd.Flags().BoolVar(&allPending, "all-pending", false, "Stop the pipeline and approve every pending variant")
		cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation (with --all-pending)")
	}
	return cmd
}

// approveAllPending is the bulk escape hatch for a review queue that fell
// too far behind: it stops the pipeline first so nothing new lands mid-update.
func approveAllPending(cmd *cobra.Command, ctx *commandContext, assumeYes bool) error {
	if !assumeYes {
		confirmed, err := confirm(cmd, "This stops the pipeline and approves every pending variant. Continue? [y/N] ")
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
		stopped, approved, err := sup.ApprovePending(cmd.Context(), st)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if stopped.Signalled {
			fmt.Fprintf(out, "Stopped pipeline (pgid %d); rerun augment to resume\n", stopped.PGID)
		}
		fmt.Fprintf(out, "Approved %d pending variants\n", approved)
		return nil
	})
}

func newChaptersCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "chapters",
		Short: "List the configured chapter map",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			chapters := make([]api.Chapter, 0, len(cfg.Chapters))
			for _, entry := range cfg.Chapters {
				chapters = append(chapters, api.Chapter{
					Subject:   entry.Subject,
					Chapter:   entry.Chapter,
					Document:  entry.Document,
					StartPage: entry.StartPage,
					EndPage:   entry.EndPage,
				})
			}
			if asJSON {
				return writeJSON(cmd, chapters)
			}
			out := cmd.OutOrStdout()
			if len(chapters) == 0 {
				fmt.Fprintln(out, "No chapters configured; add [[chapters]] entries to the config file")
				return nil
			}
			rows := make([][]string, 0, len(chapters))
			for _, ch := range chapters {
				rows = append(rows, []string{ch.Subject, ch.Chapter, ch.Document, pageSpan(ch.StartPage, ch.EndPage)})
			}
			fmt.Fprintln(out, renderTable([]string{"Subject", "Chapter", "Document", "Pages"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func writeVariant(out io.Writer, v api.Variant) {
	fmt.Fprintf(out, "Variant %d (%s, %s)\n", v.ID, v.Difficulty, v.ReviewStatus)
	fmt.Fprintln(out, v.Text)
	for _, option := range v.Options {
		fmt.Fprintf(out, "  %s\n", option)
	}
	fmt.Fprintf(out, "Answer: %s\n", v.CorrectAnswer)
	if v.Explanation != "" {
		fmt.Fprintf(out, "Explanation: %s\n", v.Explanation)
	}
	if v.DiagramMarkup != "" {
		fmt.Fprintf(out, "Diagram:\n%s\n", v.DiagramMarkup)
	}
}

func pageSpan(start, end int) string {
	switch {
	case start <= 0 && end <= 0:
		return "all"
	case end <= 0:
		return fmt.Sprintf("%d-end", start)
	case start <= 0:
		return fmt.Sprintf("1-%d", end)
	default:
		return fmt.Sprintf("%d-%d", start, end)
	}
}
