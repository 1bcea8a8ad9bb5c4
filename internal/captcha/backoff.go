package captcha

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffPolicy produces jittered exponential delays between solve attempts.
// Jitter keeps repeated rejections from hammering the challenge endpoint on a
// fixed cadence.
type BackoffPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewBackoffPolicy builds a policy. Zero values fall back to defaults.
func NewBackoffPolicy(baseDelay, maxDelay time.Duration) *BackoffPolicy {
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = 5 * time.Second
	}
	return &BackoffPolicy{baseDelay: baseDelay, maxDelay: maxDelay}
}

// Delay returns the wait before the next attempt. Attempts are 1-based; the
// delay after attempt n doubles up to the cap, with half the span random.
func (p *BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// pauseController abstracts how the loop waits between attempts.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
