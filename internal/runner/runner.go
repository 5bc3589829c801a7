package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/guregu/null/v6"
	"github.com/rs/zerolog"
	"lastpatch/internal/config"
	"lastpatch/internal/history"
	"lastpatch/internal/models"
	"lastpatch/internal/poller"
	"lastpatch/internal/report"
	"lastpatch/internal/satellite"
)

type Mode string

const (
	ModeCreate  Mode = "create"
	ModeList    Mode = "list"
	ModeJob     Mode = "job"
	ModeHistory Mode = "history"
)

// ListOrder is the order jobs are listed in, newest first
const ListOrder = "start_at DESC"

var historyHeader = []string{"id", "started_at", "mode", "job_id", "outcome", "hosts", "records", "missing_hosts", "output", "error"}

// Runner drives one remote job lifecycle per call: create a job, list earlier jobs or turn the
// output of a job into the report
type Runner struct {
	conf    *config.LPConfig
	api     satellite.API
	history *history.Store
	log     zerolog.Logger

	Poller *poller.Poller
	Parser *report.Parser

	Stdout io.Writer
	Stderr io.Writer
	Now    func() time.Time
}

// New creates a runner. store may be nil, in which case runs are not recorded.
func New(conf *config.LPConfig, api satellite.API, store *history.Store, log zerolog.Logger) *Runner {
	p := poller.New(api, log)
	p.MaxStale = conf.Poll.MaxStale
	p.Interval = conf.Poll.Interval

	return &Runner{
		conf:    conf,
		api:     api,
		history: store,
		log:     log,
		Poller:  p,
		Parser:  report.NewParser(log),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Now:     time.Now,
	}
}

// Create launches the command on every host matching query and then collects its output like Job
func (r *Runner) Create(ctx context.Context, query string) (err error) {
	run := r.startRun(ModeCreate)
	defer func() { r.finishRun(ctx, &run, err) }()

	r.log.Info().Str("query", query).Msg("Creating job")

	template, err := r.api.FindJobTemplate(ctx, r.conf.Job.TemplateCategory, r.conf.Job.TemplateName)
	if err != nil {
		return err
	}

	req := models.NewJobInvocationRequest(template.ID, r.conf.Job.Command, query, r.conf.OrganizationID, r.conf.Location())
	created, err := r.api.CreateJobInvocation(ctx, req)
	if err != nil {
		return fmt.Errorf("could not create job: %w", err)
	}

	r.log.Info().Int64("job_id", created.ID).Msg("Created job")
	r.log.Debug().
		Int64("job_id", created.ID).
		Str("task_id", created.TaskID.ValueOrZero()).
		Str("search_query", created.SearchQuery.ValueOrZero()).
		Msg("Task info")

	return r.job(ctx, created.ID, &run)
}

// List prints the earlier jobs running the command as CSV on Stdout, and the id of the newest one
// as a shell variable assignment on Stderr
func (r *Runner) List(ctx context.Context) (err error) {
	run := r.startRun(ModeList)
	defer func() { r.finishRun(ctx, &run, err) }()

	search := fmt.Sprintf(`description="Run %s"`, r.conf.Job.Command)
	r.log.Info().Str("search", search).Msg("Getting list of jobs")

	jobs, err := r.api.ListJobInvocations(ctx, search, ListOrder)
	if err != nil {
		return err
	}

	w := report.NewWriter(r.Stdout)
	_ = w.WriteRow(report.JobsHeader...)
	for _, job := range jobs {
		_ = w.WriteRow(
			strconv.FormatInt(job.ID, 10),
			job.Description,
			job.StatusLabel,
			job.SuccessFailTotal(),
			job.StartAt.ValueOrZero(),
		)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("could not write job list: %w", err)
	}

	run.JobID = null.IntFrom(jobs[0].ID)
	_, err = fmt.Fprintf(r.Stderr, "LAST_JOB_ID=%d\n", jobs[0].ID)
	return err
}

// Job waits for job id to finish and writes the report of its output
func (r *Runner) Job(ctx context.Context, id int64) (err error) {
	run := r.startRun(ModeJob)
	defer func() { r.finishRun(ctx, &run, err) }()

	return r.job(ctx, id, &run)
}

func (r *Runner) job(ctx context.Context, id int64, run *history.Run) error {
	log := r.log.With().Int64("job_id", id).Logger()
	log.Info().Msg("Getting info for single job")
	run.JobID = null.IntFrom(id)

	job, err := r.api.GetJobInvocation(ctx, id)
	if err != nil {
		return err
	}

	hosts := job.UniqueHosts()
	run.Hosts = len(hosts)
	log.Debug().Int("hosts", len(hosts)).Msg("Targeted hosts")

	if !job.TaskID.Valid || job.TaskID.String == "" {
		return fmt.Errorf("job %d has no task to wait for", id)
	}
	run.TaskID = job.TaskID

	res, err := r.Poller.Poll(ctx, job.TaskID.String)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	log.Debug().
		Str("task_id", res.Task.ID).
		Str("result", res.Task.Result.ValueOrZero()).
		Int("observations", res.Observations).
		Msg("Task stopped")

	return r.writeReport(ctx, log, id, hosts, run)
}

func (r *Runner) writeReport(ctx context.Context, log zerolog.Logger, jobID int64, hosts []models.Host, run *history.Run) (err error) {
	log.Info().Str("path", r.conf.Output).Msg("Writing to file")
	run.Output = null.StringFrom(r.conf.Output)

	f, err := os.Create(r.conf.Output)
	if err != nil {
		return fmt.Errorf("could not open report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("could not close report: %w", cerr)
		}
	}()

	w := report.NewWriter(f)
	if err := w.WriteRow(report.ReportHeader...); err != nil {
		return fmt.Errorf("could not write report: %w", err)
	}

	for _, host := range hosts {
		res, err := r.api.GetHostResult(ctx, jobID, host)
		if err != nil {
			return err
		}

		stdout, ok := res.Stdout()
		if !ok {
			log.Warn().
				Str("host", host.Name).
				Str("url", r.api.HostResultURL(jobID, host.ID)).
				Msg("Missing output")
			run.MissingHosts++
			_ = w.WriteBlank()
			continue
		}

		records := r.Parser.ParseOutput(host.Name, stdout)
		run.Records += len(records)
		if len(records) == 0 {
			_ = w.WriteBlank()
			continue
		}
		_ = w.WriteRecords(records)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("could not write report: %w", err)
	}

	if fi, err := f.Stat(); err == nil {
		log.Info().
			Int("records", run.Records).
			Int("missing_hosts", run.MissingHosts).
			Str("size", humanize.Bytes(uint64(fi.Size()))).
			Msg("Report written")
	}
	return nil
}

// History prints the most recent runs as CSV on Stdout
func (r *Runner) History(ctx context.Context, limit int) error {
	if r.history == nil {
		return errors.New("history is disabled, set history.dsn to record runs")
	}

	runs, err := r.history.Recent(ctx, limit)
	if err != nil {
		return err
	}

	w := report.NewWriter(r.Stdout)
	_ = w.WriteRow(historyHeader...)
	for _, run := range runs {
		jobID := ""
		if run.JobID.Valid {
			jobID = strconv.FormatInt(run.JobID.Int64, 10)
		}
		_ = w.WriteRow(
			run.ID.String(),
			run.StartedAt.Local().Format(models.TimestampLayout),
			run.Mode,
			jobID,
			string(run.Outcome),
			strconv.Itoa(run.Hosts),
			strconv.Itoa(run.Records),
			strconv.Itoa(run.MissingHosts),
			run.Output.ValueOrZero(),
			run.Error.ValueOrZero(),
		)
	}
	return w.Flush()
}

func (r *Runner) startRun(mode Mode) history.Run {
	return history.NewRun(string(mode), r.conf.Server, r.Now())
}

// finishRun records the run in the ledger. A failure to record is logged, not returned.
func (r *Runner) finishRun(ctx context.Context, run *history.Run, err error) {
	if r.history == nil {
		return
	}

	run.Finish(r.Now(), outcomeOf(err), err)

	// recorded even when the run was cancelled
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if rerr := r.history.Record(recordCtx, *run); rerr != nil {
		r.log.Warn().Err(rerr).Str("run_id", run.ID.String()).Msg("Could not record run")
		return
	}
	r.log.Debug().Str("run_id", run.ID.String()).Str("outcome", string(run.Outcome)).Msg("Recorded run")
}

func outcomeOf(err error) history.Outcome {
	var timeout *poller.TimeoutError
	switch {
	case err == nil:
		return history.OcSucceeded
	case errors.As(err, &timeout):
		return history.OcTimedOut
	default:
		return history.OcFailed
	}
}
