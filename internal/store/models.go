package store

import (
	"strings"
	"time"
)

// CheckpointStatus is the terminal outcome recorded for a page.
type CheckpointStatus string

const (
	CheckpointSkippedNoText    CheckpointStatus = "skipped_no_text"
	CheckpointFailedParsing    CheckpointStatus = "failed_parsing"
	CheckpointFailedJSONDecode CheckpointStatus = "failed_json_decode"
	CheckpointNoQuestions      CheckpointStatus = "no_questions_found"
	CheckpointSuccess          CheckpointStatus = "success"
)

// CheckpointStatuses lists every checkpoint status in display order.
var CheckpointStatuses = []CheckpointStatus{
	CheckpointSuccess,
	CheckpointSkippedNoText,
	CheckpointFailedParsing,
	CheckpointFailedJSONDecode,
	CheckpointNoQuestions,
}

// Valid reports whether s is a known checkpoint status.
func (s CheckpointStatus) Valid() bool {
	for _, known := range CheckpointStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ReviewStatus tracks a variant through human review.
type ReviewStatus string

const (
	ReviewPending           ReviewStatus = "pending"
	ReviewApproved          ReviewStatus = "approved"
	ReviewRejected          ReviewStatus = "rejected"
	ReviewRejectedDuplicate ReviewStatus = "rejected_duplicate"
)

// ReviewStatuses lists every review status in display order.
var ReviewStatuses = []ReviewStatus{
	ReviewPending,
	ReviewApproved,
	ReviewRejected,
	ReviewRejectedDuplicate,
}

// ParseReviewStatus normalizes user input into a ReviewStatus.
func ParseReviewStatus(value string) (ReviewStatus, bool) {
	normalized := ReviewStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range ReviewStatuses {
		if normalized == known {
			return known, true
		}
	}
	return "", false
}

// Parent is a question extracted from a source page.
type Parent struct {
	ID         int64
	Text       string
	Options    []string
	Answer     string
	Subject    string
	Chapter    string
	SourceDoc  string
	SourcePage int
	CreatedAt  time.Time
}

// Variant is a generated question derived from a Parent.
type Variant struct {
	ID            int64
	ParentID      int64
	Text          string
	Options       []string
	CorrectAnswer string
	Explanation   string
	Difficulty    string
	DiagramMarkup string
	ReviewStatus  ReviewStatus
	ReviewedAt    time.Time
	CreatedAt     time.Time
}

// ParentResult couples a parent with the variants generated for it.
type ParentResult struct {
	Parent   Parent
	Variants []Variant
}

// PageResult is everything produced for one page, committed atomically.
type PageResult struct {
	Document string
	Page     int
	Status   CheckpointStatus
	RunID    string
	Parents  []ParentResult
}

// PageCommit reports what CommitPage wrote.
type PageCommit struct {
	ParentIDs []int64
	Variants  int
}

// CheckpointRecord is one row of the checkpoint log.
type CheckpointRecord struct {
	ID        int64
	Document  string
	Page      int
	Status    CheckpointStatus
	RunID     string
	Timestamp time.Time
}

// Stats aggregates store contents for dashboards and the CLI.
type Stats struct {
	Parents  int
	Variants int
	Review   map[ReviewStatus]int
	Pages    map[CheckpointStatus]int
}

// VariantFilter narrows ListVariants.
type VariantFilter struct {
	Status   ReviewStatus
	Subject  string
	Chapter  string
	ParentID int64
	Limit    int
	Offset   int
}

// DatabaseHealth captures diagnostic information about the database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	JournalMode      string
	SchemaVersion    int
	IntegrityCheck   bool
	Error            string
}
