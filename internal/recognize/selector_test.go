package recognize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parcelpipe/salecrawler/internal/scrape"
)

func TestSelectorPrefersVision(t *testing.T) {
	t.Parallel()

	sel := NewShapeSelector(4, 8)
	got, err := sel.Select([]scrape.Candidate{
		{Text: "4319", Strategy: StrategyOCR, Confidence: 0.5},
		{Text: "A7K9", Strategy: StrategyVision, Confidence: 0.9},
	})
	require.NoError(t, err)
	require.Equal(t, "A7K9", got.Text)
	require.Equal(t, StrategyVision, got.Strategy)
}

func TestSelectorFallsBackToOCR(t *testing.T) {
	t.Parallel()

	sel := NewShapeSelector(4, 8)
	got, err := sel.Select([]scrape.Candidate{
		{Text: "", Strategy: StrategyVision},
		{Text: "B3X1", Strategy: StrategyOCR, Confidence: 0.5},
	})
	require.NoError(t, err)
	require.Equal(t, "B3X1", got.Text)
	require.Equal(t, StrategyOCR, got.Strategy)
}

func TestSelectorRejectsBadShapes(t *testing.T) {
	t.Parallel()

	sel := NewShapeSelector(4, 8)

	_, err := sel.Select(nil)
	require.ErrorIs(t, err, scrape.ErrNoUsableCandidate)

	_, err = sel.Select([]scrape.Candidate{
		{Text: "ab", Strategy: StrategyVision},           // too short
		{Text: "abcdefghijk", Strategy: StrategyOCR},     // too long
		{Text: "ab c1", Strategy: StrategyVision},        // whitespace
		{Text: "ab-c1", Strategy: StrategyOCR},           // punctuation
		{Text: "doyoka", Strategy: "unknown-recognizer"}, // unknown strategy never trusted
	})
	require.ErrorIs(t, err, scrape.ErrNoUsableCandidate)
}

func TestSelectorCorrectsOCRMisreads(t *testing.T) {
	t.Parallel()

	// "rn" is a split misread of "m": the raw guess is one character too
	// long, the corrected reading fits.
	sel := NewShapeSelector(4, 4)
	got, err := sel.Select([]scrape.Candidate{
		{Text: "brn7a", Strategy: StrategyOCR, Confidence: 0.5},
	})
	require.NoError(t, err)
	require.Equal(t, "bm7a", got.Text)
	require.Equal(t, StrategyOCR, got.Strategy)

	// "cl" misread of "d", case preserved around the fix.
	got, err = sel.Select([]scrape.Candidate{
		{Text: "Xcl9Z", Strategy: StrategyOCR, Confidence: 0.5},
	})
	require.NoError(t, err)
	require.Equal(t, "Xd9Z", got.Text)
}

func TestSelectorNeverCorrectsVisionGuesses(t *testing.T) {
	t.Parallel()

	// The split-glyph confusions are OCR artifacts; an oversized vision
	// guess stays rejected and the valid OCR candidate wins.
	sel := NewShapeSelector(4, 4)
	got, err := sel.Select([]scrape.Candidate{
		{Text: "Arn19", Strategy: StrategyVision, Confidence: 0.9},
		{Text: "b3x1", Strategy: StrategyOCR, Confidence: 0.5},
	})
	require.NoError(t, err)
	require.Equal(t, "b3x1", got.Text)
	require.Equal(t, StrategyOCR, got.Strategy)
}

func TestSelectorSkipsMalformedVisionGuess(t *testing.T) {
	t.Parallel()

	sel := NewShapeSelector(4, 8)
	got, err := sel.Select([]scrape.Candidate{
		{Text: "a b", Strategy: StrategyVision},
		{Text: "kemon3w", Strategy: StrategyOCR},
	})
	require.NoError(t, err)
	require.Equal(t, "kemon3w", got.Text)
}
