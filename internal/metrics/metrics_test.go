package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecordsPagesAndAttempts(t *testing.T) {
	c := NewCollector()
	c.RecordPage("success", 2, 12)
	c.RecordPage("skipped_no_text", 0, 0)
	c.RecordAPIAttempt("success", 150*time.Millisecond)
	c.RecordAPIAttempt("transient", time.Second)
	c.IncrementBackoff()
	c.IncrementExhausted()
	c.RecordCooldownWait(2 * time.Second)

	if got := testutil.ToFloat64(c.pages.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected 1 success page, got %v", got)
	}
	if got := testutil.ToFloat64(c.parents); got != 2 {
		t.Fatalf("expected 2 parents, got %v", got)
	}
	if got := testutil.ToFloat64(c.variants); got != 12 {
		t.Fatalf("expected 12 variants, got %v", got)
	}
	if got := testutil.ToFloat64(c.apiAttempts.WithLabelValues("transient")); got != 1 {
		t.Fatalf("expected 1 transient attempt, got %v", got)
	}
	if got := testutil.ToFloat64(c.backoffs); got != 1 {
		t.Fatalf("expected 1 backoff, got %v", got)
	}
	if got := testutil.CollectAndCount(c.cooldownWait); got != 1 {
		t.Fatalf("expected cooldown histogram to be collected, got %d", got)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordPage("success", 1, 1)
	c.RecordAPIAttempt("success", time.Second)
	c.IncrementBackoff()
	c.IncrementExhausted()
	c.RecordCooldownWait(time.Second)
	if c.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	c := NewCollector()
	c.RecordPage("failed_parsing", 0, 0)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `qforge_pages_total{status="failed_parsing"} 1`) {
		t.Fatalf("expected page counter in output:\n%s", body)
	}
}
