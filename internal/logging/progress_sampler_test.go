package logging

import "testing"

func TestProgressSampler(t *testing.T) {
	t.Run("nil logs everything", func(t *testing.T) {
		var s *ProgressSampler
		if !s.ShouldLog("doc", 1, 10) {
			t.Fatal("nil sampler should always log")
		}
		s.Reset()
	})

	t.Run("default step", func(t *testing.T) {
		if s := NewProgressSampler(0); s.step != 10 || s.bucket != -1 {
			t.Fatalf("unexpected defaults: %+v", s)
		}
	})

	t.Run("quarter buckets", func(t *testing.T) {
		s := NewProgressSampler(25)
		emitted := 0
		for done := 1; done <= 20; done++ {
			if s.ShouldLog("physics.pdf", done, 20) {
				emitted++
			}
		}
		// first report, then 25/50/75/100 percent
		if emitted != 5 {
			t.Fatalf("emitted %d progress logs, want 5", emitted)
		}
		if !s.ShouldLog("chemistry.pdf", 1, 20) {
			t.Fatal("document change should log")
		}
	})

	t.Run("unknown total", func(t *testing.T) {
		s := NewProgressSampler(10)
		if !s.ShouldLog("doc", 1, 0) {
			t.Fatal("first call should log")
		}
		if s.ShouldLog("doc", 2, 0) {
			t.Fatal("unknown total should not log without key change")
		}
	})

	t.Run("reset", func(t *testing.T) {
		s := NewProgressSampler(50)
		s.ShouldLog("doc", 1, 2)
		s.Reset()
		if !s.ShouldLog("doc", 1, 2) {
			t.Fatal("report after Reset should log")
		}
	})
}
