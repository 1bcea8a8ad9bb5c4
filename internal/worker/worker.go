// Package worker executes scrape runs: navigate the site, persist the raw
// payload, record the run outcome, and announce completion.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/metrics"
	"github.com/parcelpipe/salecrawler/internal/scrape"
)

// Config controls Worker behavior.
type Config struct {
	ContentType   string
	BlobPrefix    string
	Topic         string
	InterRunDelay time.Duration
	QueueSize     int
}

// RunCompletedEvent is published after a successful run.
type RunCompletedEvent struct {
	RunID       string               `json:"run_id"`
	Request     scrape.SearchRequest `json:"request"`
	BlobURI     string               `json:"blob_uri"`
	ContentHash string               `json:"content_hash"`
	SizeBytes   int                  `json:"size_bytes"`
	Pages       int                  `json:"pages"`
	FetchedAt   time.Time            `json:"fetched_at"`
}

type queuedRun struct {
	runID string
	req   scrape.SearchRequest
}

// Worker runs search requests strictly one at a time with an enforced delay
// between runs. Nothing is persisted for a run that fails before a payload
// exists; the run row records the failure instead.
type Worker struct {
	navigator scrape.Navigator
	runStore  scrape.RunStore
	blobStore scrape.BlobStore
	publisher scrape.Publisher
	hasher    scrape.Hasher
	clock     scrape.Clock
	ids       scrape.IDGenerator
	cfg       Config
	logger    *zap.Logger

	queue chan queuedRun
}

// New constructs a Worker. The publisher may be nil when event publishing is
// not configured.
func New(
	navigator scrape.Navigator,
	runStore scrape.RunStore,
	blobStore scrape.BlobStore,
	publisher scrape.Publisher,
	hasher scrape.Hasher,
	clock scrape.Clock,
	ids scrape.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Worker{
		navigator: navigator,
		runStore:  runStore,
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
		queue:     make(chan queuedRun, cfg.QueueSize),
	}
}

// Submit validates and enqueues a request, returning the new run's ID.
func (w *Worker) Submit(ctx context.Context, req scrape.SearchRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}
	runID, err := w.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	run := scrape.Run{
		ID:        runID,
		Status:    scrape.RunStatusQueued,
		Request:   req,
		Submitted: w.clock.Now(),
	}
	if err := w.runStore.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	select {
	case w.queue <- queuedRun{runID: runID, req: req}:
	default:
		_ = w.runStore.UpdateRunStatus(ctx, runID, scrape.RunStatusFailed, "run queue is full", scrape.RunCounters{})
		return "", fmt.Errorf("run queue is full")
	}
	metrics.ObserveRun(string(scrape.RunStatusQueued))
	return runID, nil
}

// Run consumes the queue until the context finishes. Runs never overlap: the
// next dequeue happens only after the previous run completed and the
// inter-run delay elapsed.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-w.queue:
			w.process(ctx, item.runID, item.req)
			if err := pauseFor(ctx, w.cfg.InterRunDelay); err != nil {
				return
			}
		}
	}
}

// Execute performs one request synchronously, creating its own run record.
// The CLI uses this path.
func (w *Worker) Execute(ctx context.Context, req scrape.SearchRequest) (scrape.Run, error) {
	if err := req.Validate(); err != nil {
		return scrape.Run{}, fmt.Errorf("invalid request: %w", err)
	}
	runID, err := w.ids.NewID()
	if err != nil {
		return scrape.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := scrape.Run{
		ID:        runID,
		Status:    scrape.RunStatusQueued,
		Request:   req,
		Submitted: w.clock.Now(),
	}
	if err := w.runStore.CreateRun(ctx, run); err != nil {
		return scrape.Run{}, fmt.Errorf("create run: %w", err)
	}
	w.process(ctx, runID, req)
	return w.runStore.GetRun(ctx, runID)
}

func (w *Worker) process(ctx context.Context, runID string, req scrape.SearchRequest) {
	logger := w.logger.With(
		zap.String("run_id", runID),
		zap.String("county", req.County),
		zap.String("range", req.StartDate+".."+req.EndDate),
	)

	if err := w.runStore.UpdateRunStatus(ctx, runID, scrape.RunStatusRunning, "", scrape.RunCounters{}); err != nil {
		logger.Error("mark run running failed", zap.Error(err))
		return
	}

	payload, err := w.navigator.Run(ctx, req)
	if err != nil {
		w.finishFailed(ctx, logger, runID, err)
		return
	}
	counters := scrape.RunCounters{
		SolveAttempts: payload.SolveAttempts,
		PagesFetched:  payload.Pages,
		PayloadBytes:  len(payload.Body),
	}

	hash, err := w.hasher.Hash(payload.Body)
	if err != nil {
		w.finishFailed(ctx, logger, runID, fmt.Errorf("hash payload: %w", err))
		return
	}

	uri, err := w.blobStore.PutObject(ctx, w.blobPath(req, hash), w.cfg.ContentType, bytes.NewReader(payload.Body))
	if err != nil {
		w.finishFailed(ctx, logger, runID, fmt.Errorf("store payload: %w", err))
		return
	}

	rec := scrape.PayloadRecord{
		RunID:       runID,
		Request:     req,
		FetchedAt:   payload.FetchedAt,
		ContentHash: hash,
		BlobURI:     uri,
		SizeBytes:   len(payload.Body),
	}
	if err := w.runStore.RecordPayload(ctx, rec); err != nil {
		w.finishFailed(ctx, logger, runID, fmt.Errorf("record payload: %w", err))
		return
	}

	if err := w.runStore.UpdateRunStatus(ctx, runID, scrape.RunStatusSucceeded, "", counters); err != nil {
		logger.Error("mark run succeeded failed", zap.Error(err))
		return
	}
	metrics.ObserveRun(string(scrape.RunStatusSucceeded))
	logger.Info("run succeeded",
		zap.String("blob_uri", uri),
		zap.Int("payload_bytes", counters.PayloadBytes),
		zap.Int("pages", counters.PagesFetched),
	)

	w.announce(ctx, logger, RunCompletedEvent{
		RunID:       runID,
		Request:     req,
		BlobURI:     uri,
		ContentHash: hash,
		SizeBytes:   len(payload.Body),
		Pages:       payload.Pages,
		FetchedAt:   payload.FetchedAt,
	})
}

func (w *Worker) finishFailed(ctx context.Context, logger *zap.Logger, runID string, runErr error) {
	status := scrape.RunStatusFailed
	if ctx.Err() != nil {
		status = scrape.RunStatusCanceled
	}
	if err := w.runStore.UpdateRunStatus(ctx, runID, status, runErr.Error(), scrape.RunCounters{}); err != nil {
		logger.Error("mark run failed failed", zap.Error(err))
	}
	metrics.ObserveRun(string(status))
	logger.Warn("run failed", zap.Error(runErr))
}

func (w *Worker) announce(ctx context.Context, logger *zap.Logger, event RunCompletedEvent) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		// The payload is already persisted; a missed event is recoverable.
		logger.Warn("publish run event failed", zap.Error(err))
		return
	}
	logger.Debug("run event published", zap.String("message_id", id))
}

func (w *Worker) blobPath(req scrape.SearchRequest, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	path := fmt.Sprintf("%s/%s.html", req.Key(), hash)
	if prefix == "" {
		return path
	}
	return prefix + "/" + path
}

func pauseFor(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
