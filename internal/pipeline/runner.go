package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"qforge/internal/document"
	"qforge/internal/logging"
	"qforge/internal/metrics"
	"qforge/internal/services"
	"qforge/internal/store"
)

// Runner executes jobs against a store and a generator. Runners are not safe
// for concurrent use; the pipeline is a single sequential task.
type Runner struct {
	store     Store
	generator Generator
	opener    document.Opener
	logger    *slog.Logger
	metrics   *metrics.Collector
	progress  func(Progress)
	sampler   *logging.ProgressSampler

	minPageChars int
	variants     int
	detectPages  bool
	runID        string

	apiCalls int
}

// New constructs a Runner. RunID defaults to a fresh UUID.
func New(st Store, gen Generator, opts Options) (*Runner, error) {
	if st == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if gen == nil {
		return nil, errors.New("pipeline: generator is required")
	}
	r := &Runner{
		store:        st,
		generator:    gen,
		opener:       opts.Opener,
		metrics:      opts.Metrics,
		progress:     opts.Progress,
		sampler:      logging.NewProgressSampler(10),
		minPageChars: opts.MinPageChars,
		variants:     opts.VariantsPerParent,
		detectPages:  opts.DetectQuestionPages,
		runID:        strings.TrimSpace(opts.RunID),
	}
	if r.opener == nil {
		r.opener = document.Open
	}
	if r.minPageChars <= 0 {
		r.minPageChars = defaultMinPageChars
	}
	if r.variants <= 0 {
		r.variants = defaultVariantsPerParent
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	r.logger = logging.NewComponentLogger(logger, "pipeline")
	return r, nil
}

// RunID returns the identifier stamped on checkpoints written by this runner.
func (r *Runner) RunID() string {
	return r.runID
}

// Run processes job's page range. The returned Summary is valid even when an
// error is returned.
func (r *Runner) Run(ctx context.Context, job Job) (Summary, error) {
	started := time.Now()
	r.apiCalls = 0
	summary := Summary{
		RunID:    r.runID,
		Document: job.Document,
		Pages:    make(map[store.CheckpointStatus]int),
	}
	finish := func(err error) (Summary, error) {
		summary.APICalls = r.apiCalls
		summary.Duration = time.Since(started)
		return summary, err
	}

	if strings.TrimSpace(job.Document) == "" {
		return finish(services.Wrap(services.ErrValidation, "pipeline", "run", "document required", nil))
	}

	ctx = services.WithRunID(ctx, r.runID)
	ctx = services.WithDocument(ctx, job.Document)
	logger := logging.WithContext(ctx, r.logger)

	src, err := r.opener(job.Document)
	if err != nil {
		logging.ErrorWithContext(logger, "document unreadable", "document_open_failed",
			logging.String(logging.FieldErrorHint, "check the document path and format"),
			logging.String(logging.FieldImpact, "run aborted; no pages processed"),
			logging.Error(err),
		)
		return finish(err)
	}
	defer src.Close()

	first, last, err := pageRange(job, src.PageCount())
	if err != nil {
		return finish(err)
	}
	total := last - first + 1
	r.sampler.Reset()

	logger.Info("augmentation started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("subject", job.Subject),
		logging.String("chapter", job.Chapter),
		logging.Int("start_page", first),
		logging.Int("end_page", last),
		logging.Int("document_pages", src.PageCount()),
	)

	for page := first; page <= last; page++ {
		if err := ctx.Err(); err != nil {
			return finish(r.cancelled(logger, summary, err))
		}
		pageCtx := services.WithPage(ctx, page)
		pageLogger := logging.WithContext(pageCtx, r.logger)
		done := page - first + 1

		exists, err := r.store.HasCheckpoint(pageCtx, job.Document, page)
		if err != nil {
			return finish(r.storeFailure(pageLogger, "check checkpoint", err))
		}
		if exists {
			summary.Skipped++
			pageLogger.Debug("page already checkpointed, skipping")
			r.report(pageLogger, Progress{Document: job.Document, Page: page, Done: done, Total: total, Resumed: true})
			continue
		}

		result, err := r.processPage(pageCtx, pageLogger, src, job, page)
		if err != nil {
			return finish(r.cancelled(pageLogger, summary, err))
		}

		commit, err := r.store.CommitPage(pageCtx, result)
		if err != nil {
			return finish(r.storeFailure(pageLogger, "commit page", err))
		}

		summary.Pages[result.Status]++
		summary.Parents += len(commit.ParentIDs)
		summary.Variants += commit.Variants
		r.metrics.RecordPage(string(result.Status), len(commit.ParentIDs), commit.Variants)
		pageLogger.Info("page committed",
			logging.String(logging.FieldEventType, "page_committed"),
			logging.Status(string(result.Status)),
			logging.Int("parents", len(commit.ParentIDs)),
			logging.Int("variants", commit.Variants),
		)
		r.report(pageLogger, Progress{Document: job.Document, Page: page, Done: done, Total: total, Status: result.Status})
	}

	summary.APICalls = r.apiCalls
	summary.Duration = time.Since(started)
	logger.Info("augmentation complete",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("pages_processed", summary.Processed()),
		logging.Int("pages_resumed", summary.Skipped),
		logging.Int("parents", summary.Parents),
		logging.Int("variants", summary.Variants),
		logging.Int("api_calls", summary.APICalls),
		logging.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// processPage computes the page outcome without touching the store. A non-nil
// error is only returned for cancellation.
func (r *Runner) processPage(ctx context.Context, logger *slog.Logger, src document.Source, job Job, page int) (store.PageResult, error) {
	result := store.PageResult{
		Document: job.Document,
		Page:     page,
		RunID:    r.runID,
	}

	raw, err := src.PageText(page)
	if err != nil {
		logger.Warn("page text extraction failed",
			logging.String(logging.FieldEventType, "page_extract_failed"),
			logging.String(logging.FieldErrorHint, "page is recorded as having no text"),
			logging.Error(err),
		)
	}
	text := document.Clean(raw)
	if chars := utf8.RuneCountInString(text); chars < r.minPageChars {
		logger.Info("skipping page with too little text", logging.Int("chars", chars), logging.Int("min_chars", r.minPageChars))
		result.Status = store.CheckpointSkippedNoText
		return result, nil
	}

	if r.detectPages {
		verdict, err := r.request(ctx, DetectPrompt(text))
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logging.WarnWithContext(logger, "question page check failed", "page_detect_failed",
				logging.String(logging.FieldErrorHint, "page will not be retried until the store is reset"),
				logging.Error(err),
			)
			result.Status = store.CheckpointFailedParsing
			return result, nil
		}
		if !strings.Contains(strings.ToUpper(verdict), "YES") {
			logger.Info("model reports no questions on page")
			result.Status = store.CheckpointNoQuestions
			return result, nil
		}
	}

	response, err := r.request(ctx, ParsePrompt(job.Subject, job.Chapter, text))
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		logging.WarnWithContext(logger, "parse request failed", "page_parse_failed",
			logging.String(logging.FieldErrorHint, "page will not be retried until the store is reset"),
			logging.Error(err),
		)
		result.Status = store.CheckpointFailedParsing
		return result, nil
	}

	parents, err := decodeParents(response, job)
	if err != nil {
		logging.WarnWithContext(logger, "parse response was not a json list", "page_decode_failed",
			logging.String(logging.FieldErrorHint, "model returned malformed output"),
			logging.Error(err),
		)
		result.Status = store.CheckpointFailedJSONDecode
		return result, nil
	}
	if len(parents) == 0 {
		logger.Info("no questions found on page")
		result.Status = store.CheckpointNoQuestions
		return result, nil
	}

	logger.Info("questions extracted", logging.Int("parents", len(parents)))
	for i, parent := range parents {
		variants, err := r.augment(ctx, job, parent)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logging.WarnWithContext(logger, "variant generation failed", "parent_augment_failed",
				logging.Int("parent_index", i),
				logging.String(logging.FieldErrorHint, "parent is stored without variants"),
				logging.Error(err),
			)
		} else if len(variants) < r.variants {
			logger.Info("fewer variants than requested",
				logging.Int("parent_index", i),
				logging.Int("variants", len(variants)),
				logging.Int("requested", r.variants),
			)
		}
		result.Parents = append(result.Parents, store.ParentResult{Parent: parent, Variants: variants})
	}

	result.Status = store.CheckpointSuccess
	return result, nil
}

func (r *Runner) augment(ctx context.Context, job Job, parent store.Parent) ([]store.Variant, error) {
	response, err := r.request(ctx, AugmentPrompt(job.Subject, job.Chapter, parent, r.variants))
	if err != nil {
		return nil, err
	}
	variants, err := decodeVariants(response, r.variants)
	if err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	return variants, nil
}

func (r *Runner) request(ctx context.Context, prompt string) (string, error) {
	r.apiCalls++
	return r.generator.Request(ctx, prompt)
}

func (r *Runner) report(logger *slog.Logger, p Progress) {
	if r.progress != nil {
		r.progress(p)
	}
	if r.sampler.ShouldLog(p.Document, p.Done, p.Total) {
		logger.Info("progress",
			logging.Int("done", p.Done),
			logging.Int("total", p.Total),
		)
	}
}

func (r *Runner) storeFailure(logger *slog.Logger, op string, err error) error {
	logging.ErrorWithContext(logger, "store write failed", "store_failure",
		logging.String("operation", op),
		logging.String(logging.FieldErrorHint, "check disk space and database locks, then rerun to resume"),
		logging.String(logging.FieldImpact, "run aborted; committed pages are kept"),
		logging.Error(err),
	)
	return services.Wrap(services.ErrStore, "pipeline", op, "", err)
}

func (r *Runner) cancelled(logger *slog.Logger, summary Summary, err error) error {
	logger.Info("augmentation cancelled",
		logging.String(logging.FieldEventType, "run_cancelled"),
		logging.Int("pages_processed", summary.Processed()),
	)
	return err
}

// pageRange resolves the inclusive range to process. An end page past the
// document is clamped.
func pageRange(job Job, count int) (int, int, error) {
	if count <= 0 {
		return 0, 0, services.Wrap(services.ErrValidation, "pipeline", "page range", "document has no pages", nil)
	}
	first := job.StartPage
	if first <= 0 {
		first = 1
	}
	last := job.EndPage
	if last <= 0 || last > count {
		last = count
	}
	if first > last {
		return 0, 0, services.Wrap(services.ErrValidation, "pipeline", "page range",
			fmt.Sprintf("start page %d is after end page %d (document has %d pages)", first, last, count), nil)
	}
	return first, last, nil
}
