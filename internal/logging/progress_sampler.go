package logging

import "strings"

// ProgressSampler thins per-page progress logging to the first report for a
// document plus one report each time completion crosses a bucket boundary.
type ProgressSampler struct {
	step   float64
	key    string
	bucket int
}

// NewProgressSampler returns a sampler with buckets step percent wide
// (10 when step <= 0).
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 10
	}
	return &ProgressSampler{step: step, bucket: -1}
}

// ShouldLog reports whether done/total for key deserves a log line. A total
// <= 0 is unknown; only key changes emit then. A nil sampler always logs.
func (s *ProgressSampler) ShouldLog(key string, done, total int) bool {
	if s == nil {
		return true
	}
	bucket := -1
	if total > 0 {
		ratio := min(float64(done)/float64(total), 1)
		bucket = int(ratio * 100 / s.step)
	}
	if key = strings.TrimSpace(key); key != s.key {
		s.key, s.bucket = key, bucket
		return true
	}
	if bucket > s.bucket {
		s.bucket = bucket
		return true
	}
	return false
}

// Reset forgets the last document so the next report always logs.
func (s *ProgressSampler) Reset() {
	if s != nil {
		s.key, s.bucket = "", -1
	}
}
