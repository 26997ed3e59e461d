package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"qforge/internal/document"
	"qforge/internal/pipeline"
	"qforge/internal/services"
	"qforge/internal/store"
	"qforge/internal/testsupport"
)

// scriptedGenerator answers parse prompts through parse, augmentation
// prompts through augment and question-page checks through detect, counting
// every call.
type scriptedGenerator struct {
	mu      sync.Mutex
	calls   int
	parse   func(prompt string) (string, error)
	augment func(prompt string, n int) (string, error)
	detect  func(prompt string) (string, error)
}

func (g *scriptedGenerator) Request(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if strings.Contains(prompt, "YES or NO") {
		if g.detect == nil {
			return "YES", nil
		}
		return g.detect(prompt)
	}
	if strings.Contains(prompt, "ORIGINAL QUESTION:") {
		if g.augment == nil {
			return variantsJSON(6), nil
		}
		return g.augment(prompt, n)
	}
	return g.parse(prompt)
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func parentsJSON(texts ...string) string {
	items := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		items = append(items, map[string]any{
			"question_text": text,
			"options":       []string{"1 m/s", "2 m/s", "3 m/s", "4 m/s"},
			"answer":        "2 m/s",
		})
	}
	data, _ := json.Marshal(items)
	return "Here is what I found:\n" + string(data)
}

func variantsJSON(n int) string {
	difficulties := []string{"easy", "medium", "hard"}
	items := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]any{
			"question":       fmt.Sprintf("variant %d", i+1),
			"options":        []string{"a", "b", "c", "d"},
			"correct_answer": "a",
			"explanation":    "worked solution",
			"difficulty":     difficulties[i%3],
			"diagram_tikz":   nil,
		})
	}
	data, _ := json.Marshal(items)
	return "```json\n" + string(data) + "\n```"
}

var errUpstream = errors.New("upstream unavailable")

// threePageDocument writes the reference document: page 1 holds two
// questions, page 2 is too short, and page 3 fails to parse.
func threePageDocument(t *testing.T) string {
	t.Helper()
	return testsupport.WriteTextDocument(t, t.TempDir(), "chapter.txt", []string{
		"PAGE-ONE " + testsupport.LongText("A ball is thrown upward with speed u.", 300),
		"12",
		"PAGE-THREE " + testsupport.LongText("A block slides down a smooth incline.", 300),
	})
}

func scenarioGenerator() *scriptedGenerator {
	return &scriptedGenerator{
		parse: func(prompt string) (string, error) {
			switch {
			case strings.Contains(prompt, "PAGE-ONE"):
				return parentsJSON("Find the maximum height.", "Find the time of flight."), nil
			case strings.Contains(prompt, "PAGE-THREE"):
				return "", errUpstream
			default:
				return "[]", nil
			}
		},
	}
}

func newRunner(t *testing.T, st pipeline.Store, gen pipeline.Generator) *pipeline.Runner {
	t.Helper()
	runner, err := pipeline.New(st, gen, pipeline.Options{RunID: "run-test"})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return runner
}

func job(path string) pipeline.Job {
	return pipeline.Job{Document: path, Subject: "Physics", Chapter: "Kinematics"}
}

func assertScenarioEndState(t *testing.T, st *store.Store, path string) {
	t.Helper()
	ctx := context.Background()

	checkpoints, err := st.Checkpoints(ctx, path)
	if err != nil {
		t.Fatalf("Checkpoints: %v", err)
	}
	want := map[int]store.CheckpointStatus{
		1: store.CheckpointSuccess,
		2: store.CheckpointSkippedNoText,
		3: store.CheckpointFailedParsing,
	}
	if len(checkpoints) != len(want) {
		t.Fatalf("expected %d checkpoints, got %+v", len(want), checkpoints)
	}
	for page, status := range want {
		if checkpoints[page] != status {
			t.Fatalf("page %d: expected %s, got %s", page, status, checkpoints[page])
		}
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Parents != 2 || stats.Variants != 12 {
		t.Fatalf("expected 2 parents and 12 variants, got %+v", stats)
	}
	if stats.Review[store.ReviewPending] != 12 {
		t.Fatalf("expected every variant pending, got %+v", stats.Review)
	}
}

func TestRunThreePageScenario(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	path := threePageDocument(t)
	gen := scenarioGenerator()

	var progress []pipeline.Progress
	runner, err := pipeline.New(st, gen, pipeline.Options{
		RunID:    "run-test",
		Progress: func(p pipeline.Progress) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	summary, err := runner.Run(context.Background(), job(path))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	assertScenarioEndState(t, st, path)

	// One parse call for page 1, one augmentation per parent, one parse for page 3.
	if gen.Calls() != 4 || summary.APICalls != 4 {
		t.Fatalf("expected 4 api calls, got generator=%d summary=%d", gen.Calls(), summary.APICalls)
	}
	if summary.Parents != 2 || summary.Variants != 12 || summary.Processed() != 3 || summary.RunID != "run-test" {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(progress) != 3 || progress[2].Done != 3 || progress[2].Total != 3 {
		t.Fatalf("unexpected progress reports %+v", progress)
	}

	records, err := st.CheckpointSummary(context.Background(), path)
	if err != nil {
		t.Fatalf("CheckpointSummary: %v", err)
	}
	for _, rec := range records {
		if rec.RunID != "run-test" {
			t.Fatalf("expected run id on checkpoint, got %+v", rec)
		}
	}
}

func TestRunIsIdempotentOnResume(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	path := threePageDocument(t)

	if _, err := newRunner(t, st, scenarioGenerator()).Run(context.Background(), job(path)); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := scenarioGenerator()
	summary, err := newRunner(t, st, second).Run(context.Background(), job(path))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Calls() != 0 {
		t.Fatalf("resume must not call the api, got %d calls", second.Calls())
	}
	if summary.Skipped != 3 || summary.Processed() != 0 {
		t.Fatalf("expected all pages resumed, got %+v", summary)
	}
	assertScenarioEndState(t, st, path)
}

func TestDamagedPDFPageIsCheckpointedNotFatal(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	// Page 2's xref entry is damaged; page 3 sits behind it in the page tree.
	path := testsupport.WritePDF(t, t.TempDir(), "damaged.pdf", []string{
		"PAGE-ONE " + testsupport.LongText("A ball is thrown upward with speed u.", 300),
		"PAGE-TWO " + testsupport.LongText("A block slides down a smooth incline.", 300),
		"PAGE-THREE " + testsupport.LongText("A car brakes uniformly to rest.", 300),
	}, testsupport.WithMisdirectedPage(2))

	summary, err := newRunner(t, st, scenarioGenerator()).Run(context.Background(), job(path))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Processed() != 3 {
		t.Fatalf("expected every page checkpointed, got %+v", summary)
	}

	checkpoints, err := st.Checkpoints(context.Background(), path)
	if err != nil {
		t.Fatalf("Checkpoints: %v", err)
	}
	want := map[int]store.CheckpointStatus{
		1: store.CheckpointSuccess,
		2: store.CheckpointSkippedNoText,
		3: store.CheckpointSkippedNoText,
	}
	for page, status := range want {
		if checkpoints[page] != status {
			t.Fatalf("page %d: expected %s, got %+v", page, status, checkpoints)
		}
	}

	resumed := scenarioGenerator()
	again, err := newRunner(t, st, resumed).Run(context.Background(), job(path))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Calls() != 0 || again.Skipped != 3 {
		t.Fatalf("resume should skip every page without api calls, calls=%d summary=%+v", resumed.Calls(), again)
	}
}

func TestCancelledPageIsReprocessedFromScratch(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	path := threePageDocument(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupted := scenarioGenerator()
	augments := 0
	interrupted.augment = func(string, int) (string, error) {
		augments++
		if augments == 2 {
			// The first parent's variants are already buffered when the
			// process is told to stop.
			cancel()
			return "", ctx.Err()
		}
		return variantsJSON(6), nil
	}

	_, err := newRunner(t, st, interrupted).Run(ctx, job(path))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	stats, err := st.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Parents != 0 || stats.Variants != 0 || len(stats.Pages) != 0 {
		t.Fatalf("interrupted page must leave no rows, got %+v", stats)
	}

	if _, err := newRunner(t, st, scenarioGenerator()).Run(context.Background(), job(path)); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	assertScenarioEndState(t, st, path)
}

func TestQuestionPageDetectionGatesExtraction(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	path := testsupport.WriteTextDocument(t, t.TempDir(), "chapter.txt", []string{
		"PAGE-ONE " + testsupport.LongText("A ball is thrown upward with speed u.", 300),
		"PAGE-TWO " + testsupport.LongText("Velocity is the rate of change of position.", 300),
		"PAGE-THREE " + testsupport.LongText("A block slides down a smooth incline.", 300),
	})

	var parsed []string
	gen := &scriptedGenerator{
		detect: func(prompt string) (string, error) {
			switch {
			case strings.Contains(prompt, "PAGE-ONE"):
				return " yes.", nil
			case strings.Contains(prompt, "PAGE-TWO"):
				return "NO", nil
			default:
				return "", errUpstream
			}
		},
		parse: func(prompt string) (string, error) {
			parsed = append(parsed, prompt)
			return parentsJSON("Find the maximum height."), nil
		},
	}
	runner, err := pipeline.New(st, gen, pipeline.Options{RunID: "run-test", DetectQuestionPages: true})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	summary, err := runner.Run(context.Background(), job(path))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	checkpoints, err := st.Checkpoints(context.Background(), path)
	if err != nil {
		t.Fatalf("Checkpoints: %v", err)
	}
	want := map[int]store.CheckpointStatus{
		1: store.CheckpointSuccess,
		2: store.CheckpointNoQuestions,
		3: store.CheckpointFailedParsing,
	}
	for page, status := range want {
		if checkpoints[page] != status {
			t.Fatalf("page %d: expected %s, got %s", page, status, checkpoints[page])
		}
	}
	if len(parsed) != 1 || !strings.Contains(parsed[0], "PAGE-ONE") {
		t.Fatalf("only the YES page should be parsed, got %d parse calls", len(parsed))
	}
	// Three checks, one parse and one augmentation.
	if gen.Calls() != 5 || summary.APICalls != 5 {
		t.Fatalf("expected 5 api calls, got generator=%d summary=%d", gen.Calls(), summary.APICalls)
	}
}

func TestDetectPromptCapsPageText(t *testing.T) {
	prompt := pipeline.DetectPrompt(strings.Repeat("x", 5000) + "TAIL")
	if strings.Contains(prompt, "TAIL") || !strings.Contains(prompt, strings.Repeat("x", 2000)) ||
		strings.Contains(prompt, strings.Repeat("x", 2001)) {
		t.Fatal("expected page text capped at 2000 runes")
	}
	if !strings.HasSuffix(prompt, "YES or NO.") {
		t.Fatalf("prompt must end with the answer instruction: %q", prompt[len(prompt)-40:])
	}
}

func TestAugmentFailureKeepsParentWithoutVariants(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	path := threePageDocument(t)

	gen := scenarioGenerator()
	first := true
	gen.augment = func(string, int) (string, error) {
		if first {
			first = false
			return "", errUpstream
		}
		return variantsJSON(6), nil
	}

	summary, err := newRunner(t, st, gen).Run(context.Background(), job(path))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Pages[store.CheckpointSuccess] != 1 {
		t.Fatalf("expected page 1 to succeed, got %+v", summary.Pages)
	}
	if summary.Parents != 2 || summary.Variants != 6 {
		t.Fatalf("expected 2 parents and 6 variants, got %+v", summary)
	}
}

func TestVariantBatchIsCapped(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	path := threePageDocument(t)

	gen := scenarioGenerator()
	gen.augment = func(string, int) (string, error) { return variantsJSON(9), nil }

	summary, err := newRunner(t, st, gen).Run(context.Background(), job(path))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Variants != 12 {
		t.Fatalf("expected variants capped at 6 per parent, got %d", summary.Variants)
	}
}

func TestDecodeOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     store.CheckpointStatus
	}{
		{"prose only", "I could not find any questions on this page.", store.CheckpointFailedJSONDecode},
		{"malformed list", `[{"question_text": "unterminated}]`, store.CheckpointFailedJSONDecode},
		{"empty list", "Result: []", store.CheckpointNoQuestions},
		{"blank items", `[{"question_text": "  "}]`, store.CheckpointNoQuestions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
			path := testsupport.WriteTextDocument(t, t.TempDir(), "one.txt", []string{
				testsupport.LongText("Some prose about vectors.", 200),
			})
			gen := &scriptedGenerator{parse: func(string) (string, error) { return tc.response, nil }}
			summary, err := newRunner(t, st, gen).Run(context.Background(), job(path))
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if summary.Pages[tc.want] != 1 {
				t.Fatalf("expected %s, got %+v", tc.want, summary.Pages)
			}
		})
	}
}

type failingStore struct {
	commits int
}

func (f *failingStore) HasCheckpoint(context.Context, string, int) (bool, error) {
	return false, nil
}

func (f *failingStore) CommitPage(context.Context, store.PageResult) (store.PageCommit, error) {
	f.commits++
	return store.PageCommit{}, errors.New("disk I/O error")
}

func TestStoreErrorAbortsRun(t *testing.T) {
	path := threePageDocument(t)
	gen := scenarioGenerator()
	fs := &failingStore{}

	summary, err := newRunner(t, fs, gen).Run(context.Background(), job(path))
	if !errors.Is(err, services.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if !services.IsFatal(err) {
		t.Fatalf("store errors must be fatal: %v", err)
	}
	if fs.commits != 1 {
		t.Fatalf("expected the run to stop after the first failed commit, got %d commits", fs.commits)
	}
	if gen.Calls() != 3 {
		t.Fatalf("expected no api calls after the failure, got %d", gen.Calls())
	}
	if summary.Processed() != 0 {
		t.Fatalf("expected no committed pages, got %+v", summary)
	}
}

func TestUnreadableDocumentIsFatal(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	gen := scenarioGenerator()

	_, err := newRunner(t, st, gen).Run(context.Background(), job("/nonexistent/book.pdf"))
	if !errors.Is(err, document.ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
	if gen.Calls() != 0 {
		t.Fatalf("expected no api calls, got %d", gen.Calls())
	}
}

func TestPageRange(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	path := threePageDocument(t)

	gen := scenarioGenerator()
	j := job(path)
	j.StartPage, j.EndPage = 2, 3
	summary, err := newRunner(t, st, gen).Run(context.Background(), j)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Processed() != 2 || gen.Calls() != 1 {
		t.Fatalf("expected pages 2-3 only, got %+v calls=%d", summary, gen.Calls())
	}

	j.StartPage, j.EndPage = 5, 0
	if _, err := newRunner(t, st, gen).Run(context.Background(), j); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for start past end, got %v", err)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := pipeline.New(nil, scenarioGenerator(), pipeline.Options{}); err == nil {
		t.Fatal("expected error without store")
	}
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	if _, err := pipeline.New(st, nil, pipeline.Options{}); err == nil {
		t.Fatal("expected error without generator")
	}
	runner, err := pipeline.New(st, scenarioGenerator(), pipeline.Options{})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	if runner.RunID() == "" {
		t.Fatal("expected generated run id")
	}
}
