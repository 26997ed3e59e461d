package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Parent describes a source question.
type Parent struct {
	ID         int64    `json:"id"`
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Answer     string   `json:"answer,omitempty"`
	Subject    string   `json:"subject"`
	Chapter    string   `json:"chapter"`
	SourceDoc  string   `json:"sourceDoc"`
	SourcePage int      `json:"sourcePage"`
	CreatedAt  string   `json:"createdAt,omitempty"`
}

// Variant describes a generated question awaiting or past review.
type Variant struct {
	ID            int64    `json:"id"`
	ParentID      int64    `json:"parentId"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation,omitempty"`
	Difficulty    string   `json:"difficulty"`
	DiagramMarkup string   `json:"diagramMarkup,omitempty"`
	ReviewStatus  string   `json:"reviewStatus"`
	ReviewedAt    string   `json:"reviewedAt,omitempty"`
	CreatedAt     string   `json:"createdAt,omitempty"`
}

// Checkpoint is one page outcome.
type Checkpoint struct {
	Document  string `json:"document"`
	Page      int    `json:"page"`
	Status    string `json:"status"`
	RunID     string `json:"runId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Stats summarizes store contents.
type Stats struct {
	Parents  int            `json:"parents"`
	Variants int            `json:"variants"`
	Review   map[string]int `json:"review"`
	Pages    map[string]int `json:"pages"`
}

// PipelineStatus is the supervisor's view of the pipeline.
type PipelineStatus struct {
	Running  bool     `json:"running"`
	PGID     int      `json:"pgid,omitempty"`
	LockPath string   `json:"lockPath"`
	LogPath  string   `json:"logPath"`
	Output   []string `json:"output"`
}

// AugmentRequest asks the host to start a run for a mapped chapter.
type AugmentRequest struct {
	Subject string `json:"subject"`
	Chapter string `json:"chapter"`
}

// AugmentResponse reports a started run.
type AugmentResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	PGID    int    `json:"pgid,omitempty"`
}

// ReviewRequest records a review decision.
type ReviewRequest struct {
	Status string `json:"status"`
}

// MessageResponse is the generic acknowledgement payload.
type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// VariantListResponse wraps a page of variants.
type VariantListResponse struct {
	Items []Variant `json:"items"`
}

// NextPendingResponse carries the next variant to review with its parent.
// Both are nil when the review queue is empty.
type NextPendingResponse struct {
	Variant *Variant `json:"variant"`
	Parent  *Parent  `json:"parent"`
}

// Chapter is one chapter map entry.
type Chapter struct {
	Subject   string `json:"subject"`
	Chapter   string `json:"chapter"`
	Document  string `json:"document"`
	StartPage int    `json:"startPage,omitempty"`
	EndPage   int    `json:"endPage,omitempty"`
}
