package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
)

type Outcome string

const (
	OcSucceeded Outcome = "succeeded"
	OcFailed    Outcome = "failed"
	OcTimedOut  Outcome = "timed-out"
)

// timeLayout sorts lexically in the same order as the instants it encodes
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Run is one invocation of the tool
type Run struct {
	ID           uuid.UUID
	Mode         string
	Server       string
	JobID        null.Int
	TaskID       null.String
	Outcome      Outcome
	Hosts        int
	Records      int
	MissingHosts int
	Output       null.String
	Error        null.String
	StartedAt    time.Time
	FinishedAt   time.Time
}

func NewRun(mode, server string, now time.Time) Run {
	return Run{
		ID:        uuid.New(),
		Mode:      mode,
		Server:    server,
		StartedAt: now,
	}
}

// Finish stamps the end of the run with its outcome and, when err is set, its error text
func (r *Run) Finish(now time.Time, outcome Outcome, err error) {
	r.FinishedAt = now
	r.Outcome = outcome
	if err != nil {
		r.Error = null.StringFrom(err.Error())
	}
}

func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type runRow struct {
	ID           uuid.UUID   `db:"id"`
	Mode         string      `db:"mode"`
	Server       string      `db:"server"`
	JobID        null.Int    `db:"job_id"`
	TaskID       null.String `db:"task_id"`
	Outcome      Outcome     `db:"outcome"`
	Hosts        int         `db:"hosts"`
	Records      int         `db:"records"`
	MissingHosts int         `db:"missing_hosts"`
	Output       null.String `db:"output"`
	Error        null.String `db:"error"`
	StartedAt    string      `db:"started_at"`
	FinishedAt   string      `db:"finished_at"`
}

func (r runRow) run() (Run, error) {
	started, err := time.Parse(timeLayout, r.StartedAt)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: bad started_at: %w", r.ID, err)
	}
	finished, err := time.Parse(timeLayout, r.FinishedAt)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: bad finished_at: %w", r.ID, err)
	}

	return Run{
		ID:           r.ID,
		Mode:         r.Mode,
		Server:       r.Server,
		JobID:        r.JobID,
		TaskID:       r.TaskID,
		Outcome:      r.Outcome,
		Hosts:        r.Hosts,
		Records:      r.Records,
		MissingHosts: r.MissingHosts,
		Output:       r.Output,
		Error:        r.Error,
		StartedAt:    started,
		FinishedAt:   finished,
	}, nil
}

// Store keeps the run ledger in the history database
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Record(ctx context.Context, run Run) error {
	row := runRow{
		ID:           run.ID,
		Mode:         run.Mode,
		Server:       run.Server,
		JobID:        run.JobID,
		TaskID:       run.TaskID,
		Outcome:      run.Outcome,
		Hosts:        run.Hosts,
		Records:      run.Records,
		MissingHosts: run.MissingHosts,
		Output:       run.Output,
		Error:        run.Error,
		StartedAt:    run.StartedAt.UTC().Format(timeLayout),
		FinishedAt:   run.FinishedAt.UTC().Format(timeLayout),
	}

	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO lastpatch_run (id, mode, server, job_id, task_id, outcome, hosts, records, missing_hosts, output, error, started_at, finished_at)
VALUES (:id, :mode, :server, :job_id, :task_id, :outcome, :hosts, :records, :missing_hosts, :output, :error, :started_at, :finished_at)
`, row)
	if err != nil {
		return fmt.Errorf("could not record run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	var rows []runRow
	query := s.db.Rebind(`
SELECT id, mode, server, job_id, task_id, outcome, hosts, records, missing_hosts, output, error, started_at, finished_at
FROM lastpatch_run
ORDER BY started_at DESC
LIMIT ?
`)
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("could not list runs: %w", err)
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.run()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}
