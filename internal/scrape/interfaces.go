package scrape

import (
	"context"
	"io"
	"time"
)

// Recognizer produces zero or more candidate guesses for a challenge image.
// A strategy that errors or times out contributes zero candidates.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) ([]Candidate, error)
}

// Selector reduces ensemble output to a single usable guess.
type Selector interface {
	Select(candidates []Candidate) (Candidate, error)
}

// Gate abstracts the site's CAPTCHA endpoints: fetch a fresh challenge and
// submit a guess for it. Implemented by the navigator's session.
type Gate interface {
	FetchChallenge(ctx context.Context) (Challenge, error)
	SubmitResolution(ctx context.Context, res Resolution) (accepted bool, err error)
}

// Solver drives the challenge-solve loop until accepted or exhausted.
type Solver interface {
	Solve(ctx context.Context, gate Gate) (Resolution, error)
}

// Navigator executes a full search run against the target site.
type Navigator interface {
	Run(ctx context.Context, req SearchRequest) (RawResultPayload, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RunStore persists run and payload metadata.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	RecordPayload(ctx context.Context, rec PayloadRecord) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// Publisher pushes run-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for blob keys and integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
