package domain

import "time"

// Artifacts are the outputs of one successful pipeline run.
type Artifacts struct {
	TranscriptURL string `json:"transcript_url"`
	FullTextURL   string `json:"full_text_url"`
	Summary       string `json:"summary"`
}

// ProcessedRecord caches the pipeline result for a link. It is created once,
// by the first recipient whose item ran the pipeline successfully.
type ProcessedRecord struct {
	Link       string    `json:"link"`
	Title      string    `json:"title"`
	SourceName string    `json:"source_name"`
	Artifacts  Artifacts `json:"artifacts"`
	OwnerID    int64     `json:"owner_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecipientItem is one entry in a recipient's history. The owner gets one
// when the record is created, everyone else when the link reaches them.
type RecipientItem struct {
	UserID    int64     `json:"user_id"`
	Link      string    `json:"link"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is one line of a recipient's history. Owned is set when the
// record was produced for this recipient.
type HistoryEntry struct {
	Link      string    `json:"link"`
	Title     string    `json:"title"`
	Owned     bool      `json:"owned"`
	CreatedAt time.Time `json:"created_at"`
}
