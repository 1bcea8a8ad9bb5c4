package captcha

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/scrape"
)

// scriptedGate issues a numbered token per fetch and accepts a configured
// guess, recording every submission.
type scriptedGate struct {
	fetches     int
	accepts     string
	fetchErr    error
	submitErr   error
	submissions []scrape.Resolution
}

func (g *scriptedGate) FetchChallenge(_ context.Context) (scrape.Challenge, error) {
	if g.fetchErr != nil {
		return scrape.Challenge{}, g.fetchErr
	}
	g.fetches++
	return scrape.Challenge{
		Image:    []byte("image"),
		Token:    fmt.Sprintf("token-%d", g.fetches),
		IssuedAt: time.Now(),
	}, nil
}

func (g *scriptedGate) SubmitResolution(_ context.Context, res scrape.Resolution) (bool, error) {
	if g.submitErr != nil {
		return false, g.submitErr
	}
	g.submissions = append(g.submissions, res)
	return res.Guess == g.accepts, nil
}

type queueRecognizer struct {
	guesses []string
	calls   int
}

func (r *queueRecognizer) Recognize(_ context.Context, _ []byte) ([]scrape.Candidate, error) {
	if r.calls >= len(r.guesses) {
		return nil, scrape.ErrNoCandidates
	}
	guess := r.guesses[r.calls]
	r.calls++
	if guess == "" {
		return nil, scrape.ErrNoCandidates
	}
	return []scrape.Candidate{{Text: guess, Strategy: "vision", Confidence: 0.9}}, nil
}

type passthroughSelector struct{}

func (passthroughSelector) Select(candidates []scrape.Candidate) (scrape.Candidate, error) {
	if len(candidates) == 0 {
		return scrape.Candidate{}, scrape.ErrNoUsableCandidate
	}
	return candidates[0], nil
}

func newTestLoop(t *testing.T, rec scrape.Recognizer, maxAttempts int) *Loop {
	t.Helper()
	loop, err := NewLoop(rec, passthroughSelector{}, Config{
		MaxAttempts: maxAttempts,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return loop
}

func TestSolveAcceptedFirstAttempt(t *testing.T) {
	t.Parallel()

	gate := &scriptedGate{accepts: "A7K9"}
	loop := newTestLoop(t, &queueRecognizer{guesses: []string{"A7K9"}}, 3)

	res, err := loop.Solve(context.Background(), gate)
	require.NoError(t, err)
	require.Equal(t, "A7K9", res.Guess)
	require.Equal(t, "token-1", res.Token)
	require.Equal(t, 1, res.Attempt)
	require.Len(t, gate.submissions, 1)
}

func TestSolveFreshChallengeAfterRejection(t *testing.T) {
	t.Parallel()

	gate := &scriptedGate{accepts: "GOOD1"}
	loop := newTestLoop(t, &queueRecognizer{guesses: []string{"BAD11", "GOOD1"}}, 3)

	res, err := loop.Solve(context.Background(), gate)
	require.NoError(t, err)
	require.Equal(t, 2, res.Attempt)
	require.Equal(t, 2, gate.fetches)

	// The rejected token is never reused.
	require.Len(t, gate.submissions, 2)
	require.Equal(t, "token-1", gate.submissions[0].Token)
	require.Equal(t, "token-2", gate.submissions[1].Token)
}

func TestSolveExhaustsAttemptBudget(t *testing.T) {
	t.Parallel()

	gate := &scriptedGate{accepts: "NEVER"}
	loop := newTestLoop(t, &queueRecognizer{guesses: []string{"AAA1", "BBB2", "CCC3"}}, 3)

	_, err := loop.Solve(context.Background(), gate)
	require.ErrorIs(t, err, scrape.ErrCaptchaExhausted)

	var exhausted *scrape.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.Len(t, gate.submissions, 3)
	require.Equal(t, 3, gate.fetches)
}

func TestSolveRecognitionFailureConsumesAttemptWithoutSubmission(t *testing.T) {
	t.Parallel()

	gate := &scriptedGate{accepts: "GOOD1"}
	// First attempt yields nothing usable, second succeeds.
	loop := newTestLoop(t, &queueRecognizer{guesses: []string{"", "GOOD1"}}, 3)

	res, err := loop.Solve(context.Background(), gate)
	require.NoError(t, err)
	require.Equal(t, 2, res.Attempt)
	require.Len(t, gate.submissions, 1)
	require.Equal(t, "token-2", gate.submissions[0].Token)
}

func TestSolveAllRecognitionFailuresExhaust(t *testing.T) {
	t.Parallel()

	gate := &scriptedGate{accepts: "GOOD1"}
	loop := newTestLoop(t, &queueRecognizer{}, 2)

	_, err := loop.Solve(context.Background(), gate)
	require.ErrorIs(t, err, scrape.ErrCaptchaExhausted)
	require.Empty(t, gate.submissions)
}

func TestSolveHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gate := &scriptedGate{accepts: "GOOD1"}
	loop := newTestLoop(t, &queueRecognizer{guesses: []string{"GOOD1"}}, 3)

	_, err := loop.Solve(ctx, gate)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, gate.submissions)
}

func TestSolveSearchRejectionIsTerminal(t *testing.T) {
	t.Parallel()

	gate := &scriptedGate{submitErr: fmt.Errorf("county not served: %w", scrape.ErrSearchRejected)}
	loop := newTestLoop(t, &queueRecognizer{guesses: []string{"AAA1", "BBB2"}}, 3)

	_, err := loop.Solve(context.Background(), gate)
	require.ErrorIs(t, err, scrape.ErrSearchRejected)
	// No second attempt is made against invalid parameters.
	require.Equal(t, 1, gate.fetches)
}

func TestSolveNavigationFailureOnSubmitIsTerminal(t *testing.T) {
	t.Parallel()

	gate := &scriptedGate{submitErr: fmt.Errorf("%w: response has neither results nor a form error", scrape.ErrNavigationFailed)}
	loop := newTestLoop(t, &queueRecognizer{guesses: []string{"AAA1", "BBB2", "CCC3"}}, 3)

	_, err := loop.Solve(context.Background(), gate)
	require.ErrorIs(t, err, scrape.ErrNavigationFailed)
	require.NotErrorIs(t, err, scrape.ErrCaptchaExhausted)
	// A broken site never burns the remaining attempt budget.
	require.Equal(t, 1, gate.fetches)
}

func TestSolveNavigationFailureOnFetchIsTerminal(t *testing.T) {
	t.Parallel()

	gate := &scriptedGate{fetchErr: fmt.Errorf("%w: no challenge image on search page", scrape.ErrNavigationFailed)}
	loop := newTestLoop(t, &queueRecognizer{guesses: []string{"GOOD1"}}, 3)

	_, err := loop.Solve(context.Background(), gate)
	require.ErrorIs(t, err, scrape.ErrNavigationFailed)
	require.NotErrorIs(t, err, scrape.ErrCaptchaExhausted)
}

func TestSolveToleratesFetchErrors(t *testing.T) {
	t.Parallel()

	gate := &scriptedGate{fetchErr: errors.New("http 503")}
	loop := newTestLoop(t, &queueRecognizer{guesses: []string{"GOOD1"}}, 2)

	_, err := loop.Solve(context.Background(), gate)
	require.ErrorIs(t, err, scrape.ErrCaptchaExhausted)
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()

	policy := NewBackoffPolicy(100*time.Millisecond, time.Second)
	for attempt := 1; attempt <= 8; attempt++ {
		d := policy.Delay(attempt)
		require.Positive(t, d)
		require.LessOrEqual(t, d, time.Second)
	}
	// The floor of the first delay is half the base.
	require.GreaterOrEqual(t, policy.Delay(1), 50*time.Millisecond)
}
