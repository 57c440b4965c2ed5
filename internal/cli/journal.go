package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/visiontool/internal/journal"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Database string
	Limit    int
	Prune    time.Duration
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent requests from the journal",
		Long: `Show the most recent requests recorded by serve, newest first.

Examples:
  visiontool journal --db /var/lib/visiontool/journal.db
  visiontool journal --db ./journal.db --limit 5 --format json
  visiontool journal --db ./journal.db --prune 72h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal database (required)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().DurationVar(&opts.Prune, "prune", 0, "delete entries older than this before listing")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	// Don't create a database as a side effect of reading one.
	if _, err := os.Stat(opts.Database); err != nil {
		_ = formatter.Error(ErrCodeJournal, fmt.Sprintf("journal not found: %s", opts.Database), nil)
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	st, err := journal.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Prune > 0 {
		n, err := st.Prune(ctx, time.Now().Add(-opts.Prune))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to prune journal", err)
		}
		formatter.VerboseLog("Pruned %d entries", n)
	}

	entries, err := st.Recent(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(formatter.Writer, "No requests recorded")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tREQ_ID\tCMD\tOUTCOME\tMESSAGE\tMS")
	for _, e := range entries {
		outcome := e.Outcome
		if e.Replayed {
			outcome += " (replay)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			e.CreatedAt.Local().Format(time.DateTime), e.ReqID, e.Command, outcome, e.Message, e.ElapsedMS)
	}
	return tw.Flush()
}
