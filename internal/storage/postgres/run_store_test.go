package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/parcelpipe/salecrawler/internal/scrape"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testRun(now time.Time) scrape.Run {
	return scrape.Run{
		ID:     "run-1",
		Status: scrape.RunStatusQueued,
		Request: scrape.SearchRequest{
			State:     "WA",
			County:    "King",
			StartDate: "01/01/2026",
			EndDate:   "01/31/2026",
		},
		Submitted: now,
	}
}

func TestCreateRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1770000000, 0).UTC()
	store, err := NewRunStoreWithPool(mock, "payloads", fixedClock{now: now})
	require.NoError(t, err)

	run := testRun(now)
	mock.ExpectExec("INSERT INTO runs").
		WithArgs(
			run.ID,
			string(run.Status),
			run.Request.State,
			run.Request.County,
			run.Request.StartDate,
			run.Request.EndDate,
			run.Request.RecordType,
			run.Submitted,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRunStatusTerminalStampsCounters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1770000000, 0).UTC()
	store, err := NewRunStoreWithPool(mock, "payloads", fixedClock{now: now})
	require.NoError(t, err)

	counters := scrape.RunCounters{SolveAttempts: 2, PagesFetched: 3, PayloadBytes: 4096}
	mock.ExpectExec("UPDATE runs SET status").
		WithArgs("run-1", string(scrape.RunStatusSucceeded), "", now, 2, 3, 4096).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.UpdateRunStatus(context.Background(), "run-1", scrape.RunStatusSucceeded, "", counters)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRunStatusUnknownRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1770000000, 0).UTC()
	store, err := NewRunStoreWithPool(mock, "payloads", fixedClock{now: now})
	require.NoError(t, err)

	mock.ExpectExec("UPDATE runs SET status").
		WithArgs("missing", string(scrape.RunStatusRunning), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateRunStatus(context.Background(), "missing", scrape.RunStatusRunning, "", scrape.RunCounters{})
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestRecordPayloadInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1770000000, 0).UTC()
	store, err := NewRunStoreWithPool(mock, "payloads", fixedClock{now: now})
	require.NoError(t, err)

	rec := scrape.PayloadRecord{
		RunID: "run-1",
		Request: scrape.SearchRequest{
			State:     "WA",
			County:    "King",
			StartDate: "01/01/2026",
			EndDate:   "01/31/2026",
		},
		FetchedAt:   now,
		ContentHash: "abc123",
		BlobURI:     "file:///data/results/abc123.html",
		SizeBytes:   2048,
	}

	mock.ExpectExec("INSERT INTO payloads").
		WithArgs(
			rec.RunID,
			rec.Request.State,
			rec.Request.County,
			rec.Request.StartDate,
			rec.Request.EndDate,
			rec.FetchedAt,
			rec.ContentHash,
			rec.BlobURI,
			rec.SizeBytes,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordPayload(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1770000000, 0).UTC()
	store, err := NewRunStoreWithPool(mock, "payloads", fixedClock{now: now})
	require.NoError(t, err)

	started := now.Add(time.Second)
	rows := pgxmock.NewRows([]string{
		"id", "status", "state", "county", "start_date", "end_date", "record_type",
		"submitted_at", "started_at", "finished_at", "error_text",
		"solve_attempts", "pages_fetched", "payload_bytes",
	}).AddRow(
		"run-1", "running", "WA", "King", "01/01/2026", "01/31/2026", "",
		now, &started, (*time.Time)(nil), "",
		1, 0, 0,
	)
	mock.ExpectQuery("SELECT id, status").WithArgs("run-1").WillReturnRows(rows)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, scrape.RunStatusRunning, run.Status)
	require.Equal(t, "King", run.Request.County)
	require.NotNil(t, run.Started)
	require.Nil(t, run.Finished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRunStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(nil, "payloads", fixedClock{})
	require.Error(t, err)

	_, err = NewRunStoreWithPool(mock, "bad name;", fixedClock{})
	require.Error(t, err)
}
