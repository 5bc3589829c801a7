package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"lastpatch/internal/document"
	"lastpatch/internal/models"
)

const (
	DefaultMaxStale = 15
	DefaultInterval = time.Second
)

// TaskFetcher fetches fresh task status documents
type TaskFetcher interface {
	GetTask(ctx context.Context, id string) (document.Value, error)
	TaskURL(id string) string
}

type Outcome int

const (
	Stopped Outcome = iota + 1
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Stopped:
		return "stopped"
	case TimedOut:
		return "timed-out"
	default:
		return "polling"
	}
}

// Result is the terminal observation of a poll. Outcome is Stopped when the task reached the
// stopped state, TimedOut when the status stayed identical for MaxStale consecutive polls.
type Result struct {
	Outcome      Outcome
	Task         models.Task
	Snapshot     document.Value
	Observations int // status fetches made, including the last one
	Stale        int // consecutive unchanged observations at the end
	MaxStale     int
	Endpoint     string
}

// Err turns a timed-out result into a *TimeoutError, and returns nil otherwise
func (r Result) Err() error {
	if r.Outcome != TimedOut {
		return nil
	}
	return &TimeoutError{Endpoint: r.Endpoint, MaxStale: r.MaxStale, Observations: r.Observations}
}

// TimeoutError reports a task whose status stopped changing before it stopped
type TimeoutError struct {
	Endpoint     string
	MaxStale     int
	Observations int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ran out of time waiting for status of %s, max_stale=%d", e.Endpoint, e.MaxStale)
}

// Poller drives one task to a terminal outcome. It sleeps a fixed Interval between fetches and
// compares each status document in full against the previous one: any changed field, such as a
// ticking duration, resets the stale counter.
type Poller struct {
	fetcher TaskFetcher
	log     zerolog.Logger

	MaxStale int           // consecutive unchanged observations tolerated
	Interval time.Duration // pause between fetches

	// Sleep waits between fetches. It must return early with the context error on cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates a poller with the default stale budget and interval
func New(fetcher TaskFetcher, log zerolog.Logger) *Poller {
	return &Poller{
		fetcher:  fetcher,
		log:      log,
		MaxStale: DefaultMaxStale,
		Interval: DefaultInterval,
		Sleep:    sleepContext,
	}
}

// Poll fetches the status of taskID until it is stopped or the stale budget runs out. The
// returned error is reserved for failed fetches, undecodable status documents and cancellation;
// both terminal outcomes come back as a Result.
func (p *Poller) Poll(ctx context.Context, taskID string) (Result, error) {
	maxStale := p.MaxStale
	if maxStale < 1 {
		maxStale = DefaultMaxStale
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	endpoint := p.fetcher.TaskURL(taskID)
	log := p.log.With().Str("task_id", taskID).Logger()
	log.Info().Str("url", endpoint).Msg("Checking task status")

	var previous document.Value
	havePrevious := false
	stale := 0

	for observations := 1; ; observations++ {
		snapshot, err := p.fetcher.GetTask(ctx, taskID)
		if err != nil {
			return Result{}, fmt.Errorf("could not fetch status of task %s: %w", taskID, err)
		}

		task, err := models.TaskFromDocument(snapshot)
		if err != nil {
			return Result{}, fmt.Errorf("could not read status of task %s: %w", taskID, err)
		}

		log.Debug().
			Str("state", string(task.State)).
			Str("duration", task.Duration.ValueOrZero()).
			Float64("progress", task.Progress.ValueOrZero()).
			Int("stale", stale).
			Msg("Task status")

		res := Result{
			Task:         task,
			Snapshot:     snapshot,
			Observations: observations,
			MaxStale:     maxStale,
			Endpoint:     endpoint,
		}

		if task.State.IsTerminal() {
			res.Outcome = Stopped
			res.Stale = stale
			return res, nil
		}

		if havePrevious && snapshot.Equal(previous) {
			stale++
			if stale >= maxStale {
				res.Outcome = TimedOut
				res.Stale = stale
				log.Warn().Int("max_stale", maxStale).Msg("Task status stopped changing")
				return res, nil
			}
		} else {
			stale = 0
		}

		previous, havePrevious = snapshot, true

		if err := sleep(ctx, p.Interval); err != nil {
			return Result{}, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
