package api

import (
	"time"

	"qforge/internal/store"
	"qforge/internal/supervisor"
)

// FromParent converts a store parent to its API representation.
func FromParent(p *store.Parent) Parent {
	if p == nil {
		return Parent{}
	}
	return Parent{
		ID:         p.ID,
		Text:       p.Text,
		Options:    nonNil(p.Options),
		Answer:     p.Answer,
		Subject:    p.Subject,
		Chapter:    p.Chapter,
		SourceDoc:  p.SourceDoc,
		SourcePage: p.SourcePage,
		CreatedAt:  formatTime(p.CreatedAt),
	}
}

// FromVariant converts a store variant to its API representation.
func FromVariant(v *store.Variant) Variant {
	if v == nil {
		return Variant{}
	}
	return Variant{
		ID:            v.ID,
		ParentID:      v.ParentID,
		Text:          v.Text,
		Options:       nonNil(v.Options),
		CorrectAnswer: v.CorrectAnswer,
		Explanation:   v.Explanation,
		Difficulty:    v.Difficulty,
		DiagramMarkup: v.DiagramMarkup,
		ReviewStatus:  string(v.ReviewStatus),
		ReviewedAt:    formatTime(v.ReviewedAt),
		CreatedAt:     formatTime(v.CreatedAt),
	}
}

// FromVariants converts a slice, preserving order.
func FromVariants(variants []store.Variant) []Variant {
	out := make([]Variant, 0, len(variants))
	for i := range variants {
		out = append(out, FromVariant(&variants[i]))
	}
	return out
}

// FromCheckpoints converts checkpoint log rows.
func FromCheckpoints(records []store.CheckpointRecord) []Checkpoint {
	out := make([]Checkpoint, 0, len(records))
	for _, rec := range records {
		out = append(out, Checkpoint{
			Document:  rec.Document,
			Page:      rec.Page,
			Status:    string(rec.Status),
			RunID:     rec.RunID,
			Timestamp: formatTime(rec.Timestamp),
		})
	}
	return out
}

// FromStats flattens store stats, listing every known status so consumers
// see explicit zeros.
func FromStats(stats store.Stats) Stats {
	out := Stats{
		Parents:  stats.Parents,
		Variants: stats.Variants,
		Review:   make(map[string]int, len(store.ReviewStatuses)),
		Pages:    make(map[string]int, len(store.CheckpointStatuses)),
	}
	for _, status := range store.ReviewStatuses {
		out.Review[string(status)] = stats.Review[status]
	}
	for _, status := range store.CheckpointStatuses {
		out.Pages[string(status)] = stats.Pages[status]
	}
	return out
}

// FromSupervisorStatus converts the supervisor's view of the pipeline.
func FromSupervisorStatus(status supervisor.Status) PipelineStatus {
	return PipelineStatus{
		Running:  status.Running,
		PGID:     status.PGID,
		LockPath: status.LockPath,
		LogPath:  status.LogPath,
		Output:   nonNil(status.LogTail),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
