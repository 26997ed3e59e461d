package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"qforge/internal/logging"
	"qforge/internal/metrics"
)

const (
	defaultBaseURL          = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel            = "gemini-1.5-flash"
	defaultHTTPTimeout      = 120 * time.Second
	defaultCooldown         = 13 * time.Second
	defaultInitialBackoff   = 5 * time.Second
	defaultMaxRetriesPerKey = 3
)

// Config captures the runtime settings required to talk to the API.
type Config struct {
	BaseURL          string
	Model            string
	Cooldown         time.Duration
	MaxRetriesPerKey int
	InitialBackoff   time.Duration
	TimeoutSeconds   int
}

// Client wraps the generateContent endpoint with a credential pool, a global
// cooldown shared by every credential, and per-credential backoff.
//
// A Client is meant to be constructed once per process and shared.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
	sleeper    func(context.Context, time.Duration) error
	logger     *slog.Logger
	metrics    *metrics.Collector

	mu       sync.Mutex
	keys     []string
	cursor   int
	lastCall time.Time
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock overrides the time source used by the cooldown clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleeper overrides how cooldown and backoff waits are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleeper != nil {
			c.sleeper = sleeper
		}
	}
}

// WithLogger attaches a logger for attempt and rotation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records attempts, waits, and exhaustion on the collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// NewClient constructs a client over the supplied credential pool. Blank keys
// are dropped; an empty pool fails with ErrNoCredentials.
func NewClient(cfg Config, keys []string, opts ...Option) (*Client, error) {
	pool := make([]string, 0, len(keys))
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			pool = append(pool, key)
		}
	}
	if len(pool) == 0 {
		return nil, ErrNoCredentials
	}

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.InitialBackoff < 0 {
		cfg.InitialBackoff = 0
	}
	if cfg.MaxRetriesPerKey <= 0 {
		cfg.MaxRetriesPerKey = defaultMaxRetriesPerKey
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
		sleeper:    sleepContext,
		logger:     logging.NewNop(),
		keys:       pool,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// DefaultConfig returns the pacing used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:          defaultBaseURL,
		Model:            defaultModel,
		Cooldown:         defaultCooldown,
		MaxRetriesPerKey: defaultMaxRetriesPerKey,
		InitialBackoff:   defaultInitialBackoff,
	}
}

// Keys reports the size of the credential pool.
func (c *Client) Keys() int {
	return len(c.keys)
}

// Cursor reports the rotation index the next request will start from.
func (c *Client) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Request sends prompt and returns the generated text.
//
// Each credential is tried at most once per call, starting at the rotation
// cursor. Transient failures retry the same credential with exponential
// backoff; blocked or empty responses and permanent failures move on to the
// next credential. When every credential has been given up on the error
// matches ErrAllKeysExhausted. Context errors are returned unchanged.
func (c *Client) Request(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("llm request: prompt required")
	}

	var lastErr error
	for tried := 0; tried < len(c.keys); tried++ {
		index, key := c.currentKey()
		text, sent, err := c.requestWithKey(ctx, index, key, prompt)
		if sent {
			c.advance()
		}
		if err == nil {
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		lastErr = err
		c.logger.Info("api key abandoned, rotating",
			logging.Int("key_index", index),
			logging.String("reason", classify(err).String()),
			logging.Error(err),
		)
	}

	c.metrics.IncrementExhausted()
	exhausted := &ExhaustedError{Attempts: len(c.keys), Last: lastErr}
	logging.WarnWithContext(c.logger, "all api keys exhausted", "api_keys_exhausted",
		logging.Int("keys", len(c.keys)),
		logging.String(logging.FieldErrorHint, "check quota and key validity"),
		logging.String(logging.FieldImpact, "unit of work recorded as failed"),
		logging.Error(lastErr),
	)
	return "", exhausted
}

// requestWithKey runs the per-credential retry loop and returns the final
// outcome for that credential. sent reports whether any attempt was
// dispatched; a context cancelled during the first cooldown wait leaves it
// false so the rotation cursor stays put.
func (c *Client) requestWithKey(ctx context.Context, index int, key, prompt string) (text string, sent bool, err error) {
	attempts := c.cfg.MaxRetriesPerKey
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.waitForCooldown(ctx); err != nil {
			return "", sent, err
		}
		sent = true

		c.logger.Debug("api attempt",
			logging.Int("key_index", index),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
		)
		started := time.Now()
		text, err := c.generateOnce(ctx, key, prompt)
		kind := classify(err)
		c.metrics.RecordAPIAttempt(kind.String(), time.Since(started))
		if err == nil {
			return text, true, nil
		}
		if kind != outcomeTransient || attempt >= attempts {
			return "", true, err
		}

		delay := c.backoffDelay(attempt, err)
		c.logger.Info("transient api failure, backing off",
			logging.Int("key_index", index),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		c.metrics.IncrementBackoff()
		if err := c.sleeper(ctx, delay); err != nil {
			return "", true, err
		}
		c.stamp()
	}
	return "", sent, errors.New("llm request: retry loop exited without outcome")
}

// waitForCooldown blocks until the cooldown has elapsed since the last
// dispatch on any credential, then stamps the clock for this dispatch.
func (c *Client) waitForCooldown(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		now := c.now()
		wait := time.Duration(0)
		if !c.lastCall.IsZero() {
			wait = c.cfg.Cooldown - now.Sub(c.lastCall)
		}
		if wait <= 0 {
			c.lastCall = now
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		c.logger.Debug("cooldown active", logging.Duration("wait", wait))
		c.metrics.RecordCooldownWait(wait)
		if err := c.sleeper(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *Client) stamp() {
	c.mu.Lock()
	c.lastCall = c.now()
	c.mu.Unlock()
}

func (c *Client) currentKey() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor, c.keys[c.cursor]
}

func (c *Client) advance() {
	c.mu.Lock()
	c.cursor = (c.cursor + 1) % len(c.keys)
	c.mu.Unlock()
}

// backoffDelay returns InitialBackoff * 2^(attempt-1), replaced by a larger
// Retry-After hint when the server sent one.
func (c *Client) backoffDelay(attempt int, err error) time.Duration {
	delay := c.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > delay {
		delay = statusErr.RetryAfter
	}
	return delay
}

type generateRequest struct {
	Contents       []content       `json:"contents"`
	SafetySettings []safetySetting `json:"safetySettings,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Content filtering happens through the Blocked classification instead.
var permissiveSafety = []safetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
}

var blockingFinishReasons = map[string]struct{}{
	"SAFETY":             {},
	"RECITATION":         {},
	"PROHIBITED_CONTENT": {},
	"BLOCKLIST":          {},
	"SPII":               {},
}

func (c *Client) generateOnce(ctx context.Context, key, prompt string) (string, error) {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "models", c.cfg.Model+":generateContent")
	if err != nil {
		return "", fmt.Errorf("llm request: build url: %w", err)
	}
	encoded, err := json.Marshal(generateRequest{
		Contents:       []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		SafetySettings: permissiveSafety,
	})
	if err != nil {
		return "", fmt.Errorf("llm request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: http error (timeout=%s): %w", c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return "", &StatusError{
			StatusCode: resp.StatusCode,
			Body:       snippet(string(body)),
			RetryAfter: retryAfter,
		}
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm request: decode response: %w (snippet: %s)", err, snippet(string(body)))
	}
	return extractText(parsed)
}

func extractText(resp generateResponse) (string, error) {
	if resp.PromptFeedback != nil && strings.TrimSpace(resp.PromptFeedback.BlockReason) != "" {
		return "", &BlockedError{BlockReason: strings.TrimSpace(resp.PromptFeedback.BlockReason)}
	}
	if len(resp.Candidates) == 0 {
		return "", &BlockedError{}
	}
	candidate := resp.Candidates[0]
	finish := strings.ToUpper(strings.TrimSpace(candidate.FinishReason))
	if _, blocked := blockingFinishReasons[finish]; blocked {
		return "", &BlockedError{FinishReason: finish}
	}
	var b strings.Builder
	for _, p := range candidate.Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", &BlockedError{FinishReason: finish}
	}
	return text, nil
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeBlocked
	outcomeTransient
	outcomePermanent
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeBlocked:
		return "blocked"
	case outcomeTransient:
		return "transient"
	default:
		return "permanent"
	}
}

func classify(err error) outcome {
	if err == nil {
		return outcomeSuccess
	}
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return outcomeBlocked
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return outcomePermanent
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return outcomeTransient
		default:
			return outcomePermanent
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return outcomeTransient
	}
	return outcomePermanent
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := when.Sub(now)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
