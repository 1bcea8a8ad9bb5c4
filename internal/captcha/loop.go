// Package captcha drives the challenge-solve loop: fetch a fresh challenge,
// recognize it, submit the chosen guess, and retry with backoff until the
// site accepts or the attempt budget runs out.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/metrics"
	"github.com/parcelpipe/salecrawler/internal/scrape"
)

// Config bounds the solve loop.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Loop implements scrape.Solver over a recognizer and selector.
type Loop struct {
	recognizer  scrape.Recognizer
	selector    scrape.Selector
	backoff     *BackoffPolicy
	pauser      pauseController
	maxAttempts int
	logger      *zap.Logger
}

// NewLoop builds the solve loop. MaxAttempts defaults to 3.
func NewLoop(recognizer scrape.Recognizer, selector scrape.Selector, cfg Config, logger *zap.Logger) (*Loop, error) {
	if recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}
	if selector == nil {
		return nil, fmt.Errorf("selector is required")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Loop{
		recognizer:  recognizer,
		selector:    selector,
		backoff:     NewBackoffPolicy(cfg.BackoffBase, cfg.BackoffMax),
		pauser:      &timerPauseController{},
		maxAttempts: maxAttempts,
		logger:      logger,
	}, nil
}

// Solve runs up to MaxAttempts full attempts against the gate. Every attempt
// starts from a freshly fetched challenge; a stale token is never reused
// after a rejection. A failed recognition consumes the attempt without a
// submission. The returned error is an ExhaustedError once the budget is
// spent, or the context error when the caller gives up mid-loop.
func (l *Loop) Solve(ctx context.Context, gate scrape.Gate) (scrape.Resolution, error) {
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return scrape.Resolution{}, err
		}
		if attempt > 1 {
			delay := l.backoff.Delay(attempt - 1)
			metrics.ObserveBackoff(delay)
			l.pauser.Pause(ctx, delay)
			if err := ctx.Err(); err != nil {
				return scrape.Resolution{}, err
			}
		}

		challenge, err := gate.FetchChallenge(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return scrape.Resolution{}, ctx.Err()
			}
			// A broken or missing search page is a site condition, not a
			// bad guess. Another attempt cannot help.
			if errors.Is(err, scrape.ErrNavigationFailed) {
				return scrape.Resolution{}, err
			}
			metrics.ObserveSolveAttempt("fetch_error")
			l.logger.Warn("challenge fetch failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		guess, ok := l.recognizeOne(ctx, challenge, attempt)
		if ctx.Err() != nil {
			return scrape.Resolution{}, ctx.Err()
		}
		if !ok {
			// Attempt consumed. Nothing is submitted for this token.
			continue
		}

		res := scrape.Resolution{
			Token:   challenge.Token,
			Guess:   guess,
			Attempt: attempt,
		}
		accepted, err := gate.SubmitResolution(ctx, res)
		if err != nil {
			if ctx.Err() != nil {
				return scrape.Resolution{}, ctx.Err()
			}
			// Invalid search parameters and unusable response pages cannot
			// be fixed by another guess.
			if errors.Is(err, scrape.ErrSearchRejected) || errors.Is(err, scrape.ErrNavigationFailed) {
				return scrape.Resolution{}, err
			}
			metrics.ObserveSolveAttempt("submit_error")
			l.logger.Warn("challenge submission failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		if accepted {
			metrics.ObserveSolveAttempt("accepted")
			l.logger.Info("challenge accepted",
				zap.Int("attempt", attempt),
				zap.Int("guess_len", len(guess)),
			)
			return res, nil
		}

		metrics.ObserveSolveAttempt("rejected")
		l.logger.Info("challenge rejected",
			zap.Int("attempt", attempt),
			zap.Int("guess_len", len(guess)),
		)
	}
	return scrape.Resolution{}, &scrape.ExhaustedError{Attempts: l.maxAttempts}
}

// recognizeOne runs the ensemble and selector for a single challenge. It
// reports whether a usable guess came out; recognition failures are logged
// and swallowed so the loop charges the attempt and moves on.
func (l *Loop) recognizeOne(ctx context.Context, challenge scrape.Challenge, attempt int) (string, bool) {
	candidates, err := l.recognizer.Recognize(ctx, challenge.Image)
	if err != nil {
		if !errors.Is(err, scrape.ErrNoCandidates) {
			l.logger.Warn("recognition failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		metrics.ObserveSolveAttempt("no_candidates")
		return "", false
	}

	chosen, err := l.selector.Select(candidates)
	if err != nil {
		metrics.ObserveSolveAttempt("no_usable_candidate")
		l.logger.Info("no usable candidate",
			zap.Int("attempt", attempt),
			zap.Int("candidates", len(candidates)),
		)
		return "", false
	}
	return chosen.Text, true
}
