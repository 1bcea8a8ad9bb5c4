package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/parcelpipe/salecrawler/internal/scrape"
)

// RunStore keeps run and payload rows in maps, for development and tests
// and for running without a database.
type RunStore struct {
	mu       sync.RWMutex
	runs     map[string]scrape.Run
	payloads map[string][]scrape.PayloadRecord
	clock    scrape.Clock
}

// NewRunStore creates an empty in-memory run store.
func NewRunStore(clock scrape.Clock) *RunStore {
	return &RunStore{
		runs:     make(map[string]scrape.Run),
		payloads: make(map[string][]scrape.PayloadRecord),
		clock:    clock,
	}
}

// CreateRun stores the run in its initial state.
func (s *RunStore) CreateRun(_ context.Context, run scrape.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus moves the run through its lifecycle.
func (s *RunStore) UpdateRunStatus(_ context.Context, runID string, status scrape.RunStatus, errText string, counters scrape.RunCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	now := s.clock.Now().UTC()
	run.Status = status
	switch status {
	case scrape.RunStatusRunning:
		run.Started = &now
	case scrape.RunStatusSucceeded, scrape.RunStatusFailed, scrape.RunStatusCanceled:
		run.Finished = &now
		run.ErrorText = errText
		run.Counters = counters
	}
	s.runs[runID] = run
	return nil
}

// RecordPayload appends a payload record for the run.
func (s *RunStore) RecordPayload(_ context.Context, rec scrape.PayloadRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[rec.RunID] = append(s.payloads[rec.RunID], rec)
	return nil
}

// GetRun returns the run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (scrape.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return scrape.Run{}, fmt.Errorf("run %s not found", runID)
	}
	return run, nil
}

// Payloads returns the payload records stored for a run.
func (s *RunStore) Payloads(runID string) []scrape.PayloadRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scrape.PayloadRecord(nil), s.payloads[runID]...)
}
