package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"qforge/internal/services"
)

var (
	// ErrNoCredentials is returned by NewClient when the credential pool is empty.
	ErrNoCredentials = fmt.Errorf("%w: no api credentials configured", services.ErrConfiguration)
	// ErrAllKeysExhausted matches the error returned when every credential failed.
	ErrAllKeysExhausted = fmt.Errorf("%w: all api keys exhausted", services.ErrExternal)
	// ErrNoJSONList is returned by DecodeJSONList when no bracketed list is present.
	ErrNoJSONList = errors.New("no json list in response")
)

// ExhaustedError reports a request that was given up on by every credential.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("llm request: all %d api keys exhausted", e.Attempts)
	}
	return fmt.Sprintf("llm request: all %d api keys exhausted: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAllKeysExhausted}
	}
	return []error{ErrAllKeysExhausted, e.Last}
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// BlockedError is a 200 response that carried no usable text, typically
// because a safety filter stopped generation.
type BlockedError struct {
	FinishReason string
	BlockReason  string
}

func (e *BlockedError) Error() string {
	switch {
	case e.BlockReason != "":
		return fmt.Sprintf("llm request: prompt blocked (block_reason=%s)", e.BlockReason)
	case e.FinishReason != "":
		return fmt.Sprintf("llm request: empty content (finish_reason=%s)", e.FinishReason)
	default:
		return "llm request: empty content"
	}
}
