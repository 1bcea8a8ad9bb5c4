package recognize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/scrape"
)

type fakeRecognizer struct {
	candidates []scrape.Candidate
	err        error
	delay      time.Duration
}

func (f *fakeRecognizer) Recognize(ctx context.Context, _ []byte) ([]scrape.Candidate, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.candidates, f.err
}

func TestEnsembleJoinsAllStrategies(t *testing.T) {
	t.Parallel()

	ens, err := NewEnsemble(zap.NewNop(),
		Strategy{Name: StrategyVision, Recognizer: &fakeRecognizer{
			candidates: []scrape.Candidate{{Text: "A7K9", Strategy: StrategyVision}},
		}},
		Strategy{Name: StrategyOCR, Recognizer: &fakeRecognizer{
			candidates: []scrape.Candidate{{Text: "4319", Strategy: StrategyOCR}},
		}},
	)
	require.NoError(t, err)

	got, err := ens.Recognize(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestEnsembleToleratesStrategyFailure(t *testing.T) {
	t.Parallel()

	ens, err := NewEnsemble(zap.NewNop(),
		Strategy{Name: StrategyVision, Recognizer: &fakeRecognizer{err: errors.New("model unavailable")}},
		Strategy{Name: StrategyOCR, Recognizer: &fakeRecognizer{
			candidates: []scrape.Candidate{{Text: "B3X1", Strategy: StrategyOCR}},
		}},
	)
	require.NoError(t, err)

	got, err := ens.Recognize(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "B3X1", got[0].Text)
}

func TestEnsembleAllEmpty(t *testing.T) {
	t.Parallel()

	ens, err := NewEnsemble(zap.NewNop(),
		Strategy{Name: StrategyVision, Recognizer: &fakeRecognizer{}},
		Strategy{Name: StrategyOCR, Recognizer: &fakeRecognizer{err: errors.New("engine down")}},
	)
	require.NoError(t, err)

	_, err = ens.Recognize(context.Background(), []byte("img"))
	require.ErrorIs(t, err, scrape.ErrNoCandidates)
}

func TestEnsembleEnforcesPerStrategyTimeout(t *testing.T) {
	t.Parallel()

	ens, err := NewEnsemble(zap.NewNop(),
		Strategy{Name: StrategyVision, Timeout: 20 * time.Millisecond, Recognizer: &fakeRecognizer{
			delay:      time.Second,
			candidates: []scrape.Candidate{{Text: "NEVER", Strategy: StrategyVision}},
		}},
		Strategy{Name: StrategyOCR, Recognizer: &fakeRecognizer{
			candidates: []scrape.Candidate{{Text: "B3X1", Strategy: StrategyOCR}},
		}},
	)
	require.NoError(t, err)

	start := time.Now()
	got, err := ens.Recognize(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "B3X1", got[0].Text)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestEnsembleRequiresStrategies(t *testing.T) {
	t.Parallel()

	_, err := NewEnsemble(zap.NewNop())
	require.Error(t, err)
}
