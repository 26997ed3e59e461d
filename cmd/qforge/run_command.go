package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"qforge/internal/config"
	"qforge/internal/logging"
	"qforge/internal/metrics"
	"qforge/internal/pipeline"
	"qforge/internal/services"
	"qforge/internal/services/llm"
	"qforge/internal/store"
	"qforge/internal/supervisor"
)

type runOptions struct {
	job        pipeline.Job
	lockFile   string
	runID      string
	noProgress bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the augmentation pipeline in the foreground",
		Long: "Run the augmentation pipeline in the foreground for one document.\n" +
			"Pass --document directly, or --subject and --chapter to use the chapter map.\n" +
			"Pages already checkpointed are skipped, so an interrupted run resumes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.job.Document, "document", "", "Source document (PDF or form-feed separated text)")
	flags.StringVar(&opts.job.Subject, "subject", "", "Subject recorded on extracted questions")
	flags.StringVar(&opts.job.Chapter, "chapter", "", "Chapter recorded on extracted questions")
	flags.IntVar(&opts.job.StartPage, "start-page", 0, "First page to process (1-based)")
	flags.IntVar(&opts.job.EndPage, "end-page", 0, "Last page to process (0 means the last page)")
	flags.StringVar(&opts.lockFile, "lock-file", "", "Process lock to release on exit when it names this process group")
	flags.StringVar(&opts.runID, "run-id", "", "Run identifier recorded on checkpoints")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "Disable the terminal progress bar")
	_ = flags.MarkHidden("lock-file")
	return cmd
}

func runPipeline(cmd *cobra.Command, ctx *commandContext, opts runOptions) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.lockFile != "" {
		defer func() {
			_ = supervisor.ReleaseOwnLock(opts.lockFile)
		}()
	}

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	job, err := resolveJob(cfg, opts.job)
	if err != nil {
		return err
	}

	logger, err := logging.NewPipelineLogger(cfg)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "pipeline", "init logger", "", err)
	}

	collector := metrics.NewCollector()
	if bind := strings.TrimSpace(cfg.Pipeline.MetricsBind); bind != "" {
		stopMetrics, err := serveMetrics(bind, collector.Handler(), logger)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "pipeline", "serve metrics", bind, err)
		}
		defer stopMetrics()
	}

	client, err := newAPIClient(cfg, logger, collector)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return services.Wrap(services.ErrStore, "pipeline", "open store", "", err)
	}
	defer st.Close()

	var bar *progressReporter
	if !opts.noProgress && shouldColorize(os.Stdout) {
		bar = &progressReporter{}
	}

	runner, err := pipeline.New(st, client, pipeline.Options{
		MinPageChars:        cfg.Pipeline.MinPageChars,
		VariantsPerParent:   cfg.Pipeline.VariantsPerParent,
		DetectQuestionPages: cfg.Pipeline.DetectQuestionPages,
		RunID:               opts.runID,
		Logger:              logger,
		Metrics:             collector,
		Progress:            bar.update,
	})
	if err != nil {
		return err
	}

	logger.Info("pipeline process ready",
		logging.String(logging.FieldRunID, runner.RunID()),
		logging.Document(job.Document),
		logging.String("subject", job.Subject),
		logging.String("chapter", job.Chapter),
		logging.Int("api_keys", client.Keys()),
	)

	summary, runErr := runner.Run(signalCtx, job)
	bar.finish()
	writeRunSummary(cmd.OutOrStdout(), summary)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Info("pipeline stopped before completion", logging.String(logging.FieldRunID, summary.RunID))
			return nil
		}
		return runErr
	}
	return nil
}

// resolveJob fills in a job from the chapter map when no document was given.
func resolveJob(cfg *config.Config, job pipeline.Job) (pipeline.Job, error) {
	if strings.TrimSpace(job.Document) != "" {
		expanded, err := config.ExpandPath(strings.TrimSpace(job.Document))
		if err != nil {
			return job, services.Wrap(services.ErrValidation, "pipeline", "resolve document", "", err)
		}
		job.Document = expanded
		return job, nil
	}
	if job.Subject == "" || job.Chapter == "" {
		return job, services.Wrap(services.ErrValidation, "pipeline", "resolve job",
			"either --document or both --subject and --chapter are required", nil)
	}
	unit, err := supervisor.ResolveUnit(cfg, job.Subject, job.Chapter)
	if err != nil {
		return job, err
	}
	resolved := pipeline.Job{
		Document:  unit.Document,
		Subject:   unit.Subject,
		Chapter:   unit.Chapter,
		StartPage: unit.StartPage,
		EndPage:   unit.EndPage,
	}
	if job.StartPage > 0 {
		resolved.StartPage = job.StartPage
	}
	if job.EndPage > 0 {
		resolved.EndPage = job.EndPage
	}
	return resolved, nil
}

func newAPIClient(cfg *config.Config, logger *slog.Logger, collector *metrics.Collector) (*llm.Client, error) {
	keys := llm.LoadCredentials(cfg.API.Keys, cfg.API.KeyEnvPrefix)
	client, err := llm.NewClient(llm.Config{
		BaseURL:          cfg.API.BaseURL,
		Model:            cfg.API.Model,
		Cooldown:         cfg.Cooldown(),
		MaxRetriesPerKey: cfg.API.MaxRetriesPerKey,
		InitialBackoff:   cfg.InitialBackoff(),
		TimeoutSeconds:   cfg.API.TimeoutSeconds,
	}, keys, llm.WithLogger(logger), llm.WithMetrics(collector))
	if err != nil {
		if errors.Is(err, llm.ErrNoCredentials) {
			return nil, fmt.Errorf("%w (set api.keys or export %s1, %s2, ...)", err, cfg.API.KeyEnvPrefix, cfg.API.KeyEnvPrefix)
		}
		return nil, err
	}
	return client, nil
}

// serveMetrics exposes the collector on bind until the returned stop func runs.
func serveMetrics(bind string, handler http.Handler, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", logging.Error(err))
		}
	}()
	logger.Info("metrics endpoint listening", logging.String("addr", listener.Addr().String()))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

// progressReporter drives a terminal progress bar from runner progress
// callbacks. A nil reporter ignores updates.
type progressReporter struct {
	bar *progressbar.ProgressBar
}

func (p *progressReporter) update(progress pipeline.Progress) {
	if p == nil {
		return
	}
	if p.bar == nil {
		p.bar = progressbar.Default(int64(progress.Total), "pages")
	}
	_ = p.bar.Set(progress.Done)
}

func (p *progressReporter) finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(os.Stdout)
}

func writeRunSummary(out io.Writer, summary pipeline.Summary) {
	if summary.RunID == "" {
		return
	}
	fmt.Fprintf(out, "Run %s: %d pages processed, %d already done, %d parents, %d variants, %d API calls in %s\n",
		summary.RunID,
		summary.Processed(),
		summary.Skipped,
		summary.Parents,
		summary.Variants,
		summary.APICalls,
		summary.Duration.Round(time.Millisecond),
	)
	if summary.Processed() == 0 {
		return
	}
	labels := make([]string, 0, len(store.CheckpointStatuses))
	counts := make(map[string]int, len(summary.Pages))
	for _, status := range store.CheckpointStatuses {
		if n := summary.Pages[status]; n > 0 {
			labels = append(labels, string(status))
			counts[string(status)] = n
		}
	}
	fmt.Fprintln(out, renderTable([]string{"Outcome", "Pages"}, countRows(labels, counts), []columnAlignment{alignLeft, alignRight}))
}
