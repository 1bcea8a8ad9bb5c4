package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/hash/sha256"
	"github.com/parcelpipe/salecrawler/internal/scrape"
	storagemem "github.com/parcelpipe/salecrawler/internal/storage/memory"
	"github.com/parcelpipe/salecrawler/internal/worker"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("run-%d", s.n.Add(1)), nil
}

type stubNavigator struct{}

func (stubNavigator) Run(_ context.Context, req scrape.SearchRequest) (scrape.RawResultPayload, error) {
	return scrape.RawResultPayload{Body: []byte("<html/>"), Request: req, Pages: 1, SolveAttempts: 1}, nil
}

func newTestServer(t *testing.T, cfg Config) (*Server, *storagemem.RunStore) {
	t.Helper()
	clock := fixedClock{now: time.Unix(1770000000, 0).UTC()}
	runs := storagemem.NewRunStore(clock)
	w := worker.New(stubNavigator{}, runs, storagemem.NewBlobStore(), nil,
		sha256.New(), clock, &seqIDs{}, worker.Config{}, zap.NewNop())
	return NewServer(w, runs, cfg, zap.NewNop()), runs
}

func TestSubmitRunAccepted(t *testing.T) {
	t.Parallel()

	srv, runs := newTestServer(t, Config{})
	body, _ := json.Marshal(submitRunRequest{
		State: "WA", County: "King", StartDate: "01/01/2026", EndDate: "01/31/2026",
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs/", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["run_id"])

	run, err := runs.GetRun(context.Background(), resp["run_id"])
	require.NoError(t, err)
	require.Equal(t, scrape.RunStatusQueued, run.Status)
}

func TestSubmitRunRejectsInvalidBody(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs/", bytes.NewReader([]byte("{not json"))))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	body, _ := json.Marshal(submitRunRequest{State: "WA"})
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs/", bytes.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunStatus(t *testing.T) {
	t.Parallel()

	srv, runs := newTestServer(t, Config{})
	require.NoError(t, runs.CreateRun(context.Background(), scrape.Run{
		ID:     "run-x",
		Status: scrape.RunStatusSucceeded,
		Request: scrape.SearchRequest{
			State: "WA", County: "King", StartDate: "01/01/2026", EndDate: "01/31/2026",
		},
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/run-x", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"succeeded"`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{AuthEnabled: true, APIKey: "secret"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
