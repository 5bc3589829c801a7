package runcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"lastpatch/internal/config"
	"lastpatch/internal/database"
	"lastpatch/internal/history"
	"lastpatch/internal/logging"
	"lastpatch/internal/runner"
	"lastpatch/internal/satellite"
)

// DefaultQuery targets every host
const DefaultQuery = "*"

// Options is what the command line asks for, after validation
type Options struct {
	Mode  runner.Mode
	Query string
	JobID int64
}

// ParseOptions reads the mode flags and the configuration of cmd. Every error it returns is a
// usage error, found before any network activity.
func ParseOptions(cmd *cobra.Command, args []string) (Options, *config.LPConfig, error) {
	flags := cmd.Flags()

	var opts Options
	switch {
	case flags.Changed("create"):
		query, err := flags.GetString("create")
		if err != nil {
			return opts, nil, err
		}
		// `-c QUERY` leaves the query as an argument, since the value of -c is optional
		if len(args) == 1 && query == DefaultQuery {
			query = args[0]
		}
		if strings.TrimSpace(query) == "" {
			query = DefaultQuery
		}
		opts = Options{Mode: runner.ModeCreate, Query: query}
	case flags.Changed("list"):
		opts = Options{Mode: runner.ModeList}
	case flags.Changed("job"):
		raw, err := flags.GetString("job")
		if err != nil {
			return opts, nil, err
		}
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || id < 1 {
			return opts, nil, fmt.Errorf("job id %q is not a positive integer", raw)
		}
		opts = Options{Mode: runner.ModeJob, JobID: id}
	case flags.Changed("history"):
		opts = Options{Mode: runner.ModeHistory}
	default:
		return opts, nil, errors.New("one of --create, --list, --job or --history is required")
	}

	if len(args) > 0 && opts.Mode != runner.ModeCreate {
		return opts, nil, fmt.Errorf("unexpected argument %q", args[0])
	}

	conf, err := config.FromCobraCmd(cmd)
	if err != nil {
		return opts, nil, err
	}

	if opts.Mode == runner.ModeHistory {
		err = conf.ValidateHistory()
	} else {
		err = conf.Validate()
	}
	if err != nil {
		return opts, nil, err
	}

	return opts, conf, nil
}

// Run carries out one invocation. Diagnostics are logged to stderr.
func Run(ctx context.Context, opts Options, conf *config.LPConfig, stdout, stderr io.Writer) error {
	log := logging.New(stderr, conf.Verbosity, conf.LogLevel)
	log.Info().Str("mode", string(opts.Mode)).Msg("Last Patch starting")
	if conf.File != "" {
		log.Debug().Str("path", conf.File).Msg("Loaded config file")
	}

	store, err := openHistory(conf, log)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close history database")
			}
		}()
	}

	var api satellite.API
	if opts.Mode != runner.ModeHistory {
		user, password := conf.Credentials()
		client, err := satellite.NewClient(satellite.Config{
			Server:   conf.Server,
			Port:     conf.Port,
			User:     user,
			Password: password,
			Insecure: conf.Insecure,
			CAFile:   conf.CAFile,
			CAPath:   conf.CAPath,
		}, log)
		if err != nil {
			return err
		}
		api = client
	}

	r := runner.New(conf, api, store, log)
	r.Stdout, r.Stderr = stdout, stderr

	switch opts.Mode {
	case runner.ModeCreate:
		return r.Create(ctx, opts.Query)
	case runner.ModeList:
		return r.List(ctx)
	case runner.ModeJob:
		return r.Job(ctx, opts.JobID)
	case runner.ModeHistory:
		return r.History(ctx, conf.History.Limit)
	default:
		return fmt.Errorf("unknown mode %q", opts.Mode)
	}
}

// openHistory opens the run ledger, or returns nil when none is configured
func openHistory(conf *config.LPConfig, log zerolog.Logger) (*history.Store, error) {
	if !conf.HistoryEnabled() {
		return nil, nil
	}

	db, err := database.New(conf)
	if err != nil {
		return nil, fmt.Errorf("could not open history database: %w", err)
	}

	log.Debug().Str("driver", conf.History.Driver).Msg("Opened history database")
	return history.NewStore(db), nil
}
