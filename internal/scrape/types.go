// Package scrape defines core types shared across subsystems.
package scrape

import (
	"fmt"
	"strings"
	"time"
)

// RunStatus represents the lifecycle state of a scrape run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// SearchRequest captures the parameters defining one scrape run. It is
// supplied by the caller and immutable for the duration of the run.
type SearchRequest struct {
	State      string `json:"state"`
	County     string `json:"county"`
	StartDate string `json:"start_date"` // MM/DD/YYYY, as the site expects
	EndDate   string `json:"end_date"`   // MM/DD/YYYY

	// RecordType labels the run for downstream consumers. The site's search
	// form has no record-type field, so it is carried with the run metadata
	// and the completion event but is never submitted to the site.
	RecordType string `json:"record_type,omitempty"`
}

// Key derives the storage key prefix for this request.
func (r SearchRequest) Key() string {
	sanitize := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "/", "-")
	}
	return fmt.Sprintf("%s/%s/%s_to_%s",
		sanitize(r.State), sanitize(r.County), sanitize(r.StartDate), sanitize(r.EndDate))
}

// Validate enforces the fields a run cannot proceed without.
func (r SearchRequest) Validate() error {
	if strings.TrimSpace(r.State) == "" {
		return fmt.Errorf("state is required")
	}
	if strings.TrimSpace(r.County) == "" {
		return fmt.Errorf("county is required")
	}
	if strings.TrimSpace(r.StartDate) == "" || strings.TrimSpace(r.EndDate) == "" {
		return fmt.Errorf("start and end dates are required")
	}
	return nil
}

// Challenge is a visual verification puzzle issued by the target site.
// A Challenge is immutable once fetched; a rejected guess supersedes it
// with a fresh fetch rather than mutating it.
type Challenge struct {
	Image    []byte
	Token    string
	IssuedAt time.Time
}

// Candidate is one recognizer's text guess for a Challenge.
type Candidate struct {
	Text       string
	Strategy   string
	Confidence float64
}

// Resolution is a guess submitted against a specific Challenge. Attempt is
// monotonically increasing within one solve session and resets only when a
// new Challenge is fetched.
type Resolution struct {
	Token   string
	Guess   string
	Attempt int
}

// RawResultPayload is the unparsed page content returned after a successful
// search submission, handed off by value to persistence. Pages counts the
// result pages merged into Body; SolveAttempts is the attempt number the site
// accepted.
type RawResultPayload struct {
	Body          []byte
	Request       SearchRequest
	FetchedAt     time.Time
	Pages         int
	SolveAttempts int
}

// Run is the metadata persisted for each submitted scrape run.
type Run struct {
	ID        string        `json:"id"`
	Status    RunStatus     `json:"status"`
	Request   SearchRequest `json:"request"`
	Submitted time.Time     `json:"submitted_at"`
	Started   *time.Time    `json:"started_at,omitempty"`
	Finished  *time.Time    `json:"finished_at,omitempty"`
	ErrorText string        `json:"error_text,omitempty"`
	Counters  RunCounters   `json:"counters"`
}

// RunCounters tracks solve and fetch stats per run.
type RunCounters struct {
	SolveAttempts int `json:"solve_attempts"`
	PagesFetched  int `json:"pages_fetched"`
	PayloadBytes  int `json:"payload_bytes"`
}

// PayloadRecord is persisted for each stored result payload.
type PayloadRecord struct {
	RunID       string        `json:"run_id"`
	Request     SearchRequest `json:"request"`
	FetchedAt   time.Time     `json:"fetched_at"`
	ContentHash string        `json:"content_hash"`
	BlobURI     string        `json:"blob_uri"`
	SizeBytes   int           `json:"size_bytes"`
}
