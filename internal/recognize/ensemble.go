package recognize

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/metrics"
	"github.com/parcelpipe/salecrawler/internal/scrape"
)

// Strategy pairs a recognizer with its name and independent timeout.
type Strategy struct {
	Name       string
	Timeout    time.Duration
	Recognizer scrape.Recognizer
}

// Ensemble fans a challenge image out to every strategy concurrently and
// joins the candidates before selection. A strategy that errors or times out
// contributes zero candidates and never aborts the others.
type Ensemble struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewEnsemble builds an ensemble over the provided strategies.
func NewEnsemble(logger *zap.Logger, strategies ...Strategy) (*Ensemble, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("at least one strategy is required")
	}
	return &Ensemble{strategies: strategies, logger: logger}, nil
}

// Recognize runs all strategies against the image. It returns
// scrape.ErrNoCandidates when every strategy came back empty.
func (e *Ensemble) Recognize(ctx context.Context, image []byte) ([]scrape.Candidate, error) {
	results := make([][]scrape.Candidate, len(e.strategies))
	var wg sync.WaitGroup

	for i, strat := range e.strategies {
		wg.Add(1)
		go func(i int, strat Strategy) {
			defer wg.Done()

			callCtx := ctx
			if strat.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, strat.Timeout)
				defer cancel()
			}

			start := time.Now()
			candidates, err := strat.Recognizer.Recognize(callCtx, image)
			if err != nil {
				metrics.ObserveRecognizer(strat.Name, "error", time.Since(start))
				e.logger.Warn("recognizer strategy failed",
					zap.String("strategy", strat.Name),
					zap.Error(err),
				)
				return
			}
			if len(candidates) == 0 {
				metrics.ObserveRecognizer(strat.Name, "empty", time.Since(start))
				return
			}
			metrics.ObserveRecognizer(strat.Name, "candidate", time.Since(start))
			results[i] = candidates
		}(i, strat)
	}
	wg.Wait()

	// Join point: the selector never sees partial ensemble output.
	var joined []scrape.Candidate
	for _, candidates := range results {
		joined = append(joined, candidates...)
	}
	if len(joined) == 0 {
		return nil, scrape.ErrNoCandidates
	}
	return joined, nil
}
