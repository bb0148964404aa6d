package crawler

import (
	"net/http"
	"time"
)

// DateLayout is the canonical form of an edition date (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// RunState represents the lifecycle state of a per-source crawl tracker.
type RunState string

// Run states reported by the status tracker.
const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// RenderMode selects how a page is fetched.
type RenderMode string

// Supported render modes.
const (
	RenderPlain    RenderMode = "plain"
	RenderHeadless RenderMode = "headless"
	RenderAuto     RenderMode = "auto"
)

// Candidate is one listing entry produced by a source extractor.
type Candidate struct {
	Section string `json:"section"`
	Title   string `json:"title"`
	Link    string `json:"link"`
	// Preview is optional body text captured during discovery.
	Preview string `json:"preview,omitempty"`
}

// Listing is a candidate ready for persistence.
type Listing struct {
	Source          string
	Section         string
	Title           string
	TranslatedTitle string
	Link            string
	ContentPreview  string
}

// Article is the persisted record of one discovered article.
type Article struct {
	ID              int64     `json:"id"`
	Source          string    `json:"source"`
	SourceKey       string    `json:"source_key"`
	Section         string    `json:"section"`
	Title           string    `json:"title"`
	TranslatedTitle string    `json:"translated_title"`
	Link            string    `json:"link"`
	ContentPreview  string    `json:"content_preview"`
	Date            string    `json:"date"`
	CreatedAt       time.Time `json:"created_at"`
	LastUpdated     time.Time `json:"last_updated"`
}

// ArticleBody is the full text of an article fetched on demand.
type ArticleBody struct {
	Link                 string    `json:"link"`
	Title                string    `json:"title"`
	ContentHTML          string    `json:"content_html"`
	Paragraphs           []string  `json:"paragraphs"`
	TranslatedParagraphs []string  `json:"translated_paragraphs"`
	Method               string    `json:"method"`
	FetchedAt            time.Time `json:"fetched_at"`
	BlobURI              string    `json:"blob_uri,omitempty"`
}

// ArticleQuery filters Query results. Empty fields match everything.
type ArticleQuery struct {
	SourceKey string
	Date      string
}

// UpsertResult counts the outcome of a batch upsert.
type UpsertResult struct {
	Saved  int `json:"saved"`
	Errors int `json:"errors"`
}

// StoreStats summarizes the article store.
type StoreStats struct {
	Total    int64            `json:"total"`
	BySource map[string]int64 `json:"by_source"`
	Latest   string           `json:"latest_date,omitempty"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL  string
	Mode RenderMode
	// TextOnly asks the headless renderer for visible body text instead of markup.
	TextOnly bool
	Headers  http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	Redirects    int
}

// RunResult describes one finished crawl run.
type RunResult struct {
	RunID     string    `json:"run_id"`
	SourceKey string    `json:"source_key"`
	Date      string    `json:"date"`
	State     RunState  `json:"state"`
	Articles  int       `json:"articles"`
	Errors    int       `json:"errors"`
	Started   time.Time `json:"started_at"`
	Finished  time.Time `json:"finished_at"`
	Err       error     `json:"-"`
}

// RunNotice is the completion message published after every run.
type RunNotice struct {
	RunID     string    `json:"run_id"`
	SourceKey string    `json:"source_key"`
	Date      string    `json:"date"`
	State     RunState  `json:"state"`
	Articles  int       `json:"articles"`
	Errors    int       `json:"errors"`
	Finished  time.Time `json:"finished_at"`
	Error     string    `json:"error,omitempty"`
}

// Attributes returns the routing attributes attached to a published notice.
func (n RunNotice) Attributes() map[string]string {
	return map[string]string{
		"source_key": n.SourceKey,
		"date":       n.Date,
		"state":      string(n.State),
	}
}
