package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"lastpatch/cmd/cli/runcmd"
	"lastpatch/internal/poller"
)

// NewRootCmd creates the lastpatch command with all of its flags
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lastpatch [flags] [QUERY]",
		Short: "Obtain CSV output of the last patch time from RHEL servers",
		Long: `lastpatch uses the Satellite API to run "rpm -qa --last" on a selection of RHEL servers
and turns the output into a CSV report with the time every package was last updated.

The first line of the report is the header, the following lines are CSV data. All diagnostics go
to stderr. Listing jobs prints CSV to stdout and a LAST_JOB_ID=<id> shell variable assignment to
stderr.`,
		Example: `  lastpatch -s satellite.example.com -u admin:changeme -c 'os ~ RedHat'
  lastpatch -s satellite.example.com -u admin:changeme -l 2>job.env
  lastpatch -s satellite.example.com -u admin:changeme -j 4211 -o report.csv`,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, conf, err := runcmd.ParseOptions(cmd, args)
			if err != nil {
				return err
			}

			// from here on errors are not usage errors
			cmd.SilenceUsage = true
			return runcmd.Run(cmd.Context(), opts, conf, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()

	// Satellite connection, named after the curl switches
	flags.StringP("server", "s", "", "satellite server host")
	flags.StringP("user", "u", "", "username:password auth for Satellite")
	flags.IntP("port", "p", 443, "satellite server port")
	flags.BoolP("insecure", "k", false, "do not validate the server x509 certificate")
	flags.String("capath", "", "a path to a directory of hashed certificate files")
	flags.String("cafile", "", "a single file containing a bundle of CA certificates")
	flags.Int64("organization-id", 1, "the organization id to use")
	flags.Int64("location-id", 0, "the location id to use (default: none)")

	// Modes
	flags.StringP("create", "c", "", "create job with query (default: *)")
	flags.Lookup("create").NoOptDefVal = runcmd.DefaultQuery
	flags.BoolP("list", "l", false, "list last run jobs from job template")
	flags.StringP("job", "j", "", "parse job id")
	flags.Bool("history", false, "list recent runs recorded in the history database")
	cmd.MarkFlagsMutuallyExclusive("create", "list", "job", "history")
	cmd.MarkFlagsOneRequired("create", "list", "job", "history")

	flags.StringP("output", "o", "/tmp/last_patch.csv", "output report")
	flags.CountP("verbose", "v", "increase output verbosity")
	flags.String("config", "", "config file path")
	flags.Int("max-stale", poller.DefaultMaxStale, "unchanged task status checks tolerated before giving up")
	flags.Duration("poll-interval", poller.DefaultInterval, "pause between task status checks")

	return cmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
