// Package audit records the lifecycle of reconciliation runs to a
// BigQuery table (reconcile_runs), one row per run: when it started,
// how it ended and the aggregate counters. Observability only; the
// engine never branches on recorder state.
package audit

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-reconciler/internal/domain"
)

const runsTable = "reconcile_runs"

// RunRow mirrors the reconcile_runs table schema. The table is
// date-partitioned on run_date.
type RunRow struct {
	RunID   string     `bigquery:"run_id"`   // REQUIRED
	RunDate civil.Date `bigquery:"run_date"` // REQUIRED

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string `bigquery:"status"` // RUNNING / SUCCESS / SKIPPED / FAILED
	ErrorMessage string `bigquery:"error_message"`

	Skipped    bool  `bigquery:"skipped"`
	Partitions int64 `bigquery:"partitions"`
	Processed  int64 `bigquery:"processed"`
	Filled     int64 `bigquery:"filled"`
	NoMatch    int64 `bigquery:"no_match"`
	Errors     int64 `bigquery:"errors"`
}

// Recorder writes run rows to BigQuery.
type Recorder struct {
	client  *bigquery.Client
	dataset string
	log     zerolog.Logger
}

// NewRecorder creates a Recorder with its own BigQuery client.
func NewRecorder(ctx context.Context, projectID, dataset string, log zerolog.Logger) (*Recorder, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRecorder: bigquery client: %w", err)
	}
	return &Recorder{client: client, dataset: dataset, log: log}, nil
}

// Close closes the BigQuery client connection.
func (r *Recorder) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// StartRun inserts a RUNNING row and returns its run id.
func (r *Recorder) StartRun(ctx context.Context) (string, error) {
	runID := uuid.NewString()
	now := time.Now()

	q := r.client.Query(fmt.Sprintf(`
		INSERT %s.%s (run_id, run_date, started_ts, status)
		VALUES (@run_id, @run_date, @started_ts, @status)
	`, r.dataset, runsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "run_date", Value: civil.DateOf(now)},
		{Name: "started_ts", Value: now},
		{Name: "status", Value: "RUNNING"},
	}

	if err := runQuery(ctx, q); err != nil {
		return "", fmt.Errorf("StartRun: %w", err)
	}
	return runID, nil
}

// FinishRun updates the run row with its final status and counters.
func (r *Recorder) FinishRun(ctx context.Context, runID string, outcome *domain.RunOutcome, runErr error) error {
	status := "SUCCESS"
	errMsg := ""
	if runErr != nil {
		status = "FAILED"
		errMsg = truncate(runErr.Error(), 2000)
	} else if outcome != nil && outcome.Skipped {
		status = "SKIPPED"
	}

	var row RunRow
	if outcome != nil {
		row.Skipped = outcome.Skipped
		row.Partitions = int64(len(outcome.Results))
		row.Processed = int64(outcome.Totals.Processed)
		row.Filled = int64(outcome.Totals.Filled)
		row.NoMatch = int64(outcome.Totals.NoMatch)
		row.Errors = int64(outcome.Totals.Errors)
	}

	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message,
		    skipped = @skipped,
		    partitions = @partitions,
		    processed = @processed,
		    filled = @filled,
		    no_match = @no_match,
		    errors = @errors
		WHERE run_id = @run_id
	`, r.dataset, runsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: status},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: errMsg},
		{Name: "skipped", Value: row.Skipped},
		{Name: "partitions", Value: row.Partitions},
		{Name: "processed", Value: row.Processed},
		{Name: "filled", Value: row.Filled},
		{Name: "no_match", Value: row.NoMatch},
		{Name: "errors", Value: row.Errors},
		{Name: "run_id", Value: runID},
	}

	if err := runQuery(ctx, q); err != nil {
		return fmt.Errorf("FinishRun: %w", err)
	}
	return nil
}

func runQuery(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
