package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/fxstore/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal string
	Trace   string // optional - show one trace instead of the summary list
	Event   string // optional - filter to one event id
}

// TraceResult holds the records of one trace.
type TraceResult struct {
	Trace    string          `json:"trace"`
	Timeline []journal.Entry `json:"timeline"`
	Stats    TraceStats      `json:"stats"`
}

// TraceStats holds summary statistics for a trace.
type TraceStats struct {
	TotalRecords int `json:"total_records"`
	Events       int `json:"events"`
	Effects      int `json:"effects"`
	Scheduled    int `json:"scheduled"`
	Errors       int `json:"errors"`
	MaxDepth     int `json:"max_depth"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect journaled dispatches",
		Long: `Inspect the dispatch journal.

Without --trace, lists every trace in the journal with its root event,
record count and error count. With --trace, shows the timeline of that
trace: handled events (indented by dispatch depth), effects, scheduled
dispatches and failures.

Examples:
  fxstore trace --journal ./fxstore.db
  fxstore trace --journal ./fxstore.db --trace 0192...
  fxstore trace --journal ./fxstore.db --trace 0192... --event counter/add
  fxstore trace --journal ./fxstore.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.Trace, "trace", "", "trace token to show")
	cmd.Flags().StringVar(&opts.Event, "event", "", "filter to a specific event id")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	f := opts.formatter(cmd)

	if _, err := os.Stat(opts.Journal); err != nil {
		return f.CommandError(ExitCommandError, ErrCodeNotFound, "journal not found", err)
	}

	j, err := journal.Open(opts.Journal)
	if err != nil {
		return f.CommandError(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer j.Close()

	if opts.Trace == "" {
		return listTraces(ctx, f, cmd, j)
	}

	entries, err := j.ReadTrace(ctx, opts.Trace)
	if err != nil {
		return f.CommandError(ExitCommandError, ErrCodeJournal, "failed to read trace", err)
	}

	result := TraceResult{
		Trace:    opts.Trace,
		Timeline: filterTimeline(entries, opts.Event),
	}
	result.Stats = traceStats(result.Timeline)

	if opts.Format == "json" {
		return f.JSON(CLIResponse{Status: "ok", Data: result, TraceID: opts.Trace})
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintf(w, "No records found for trace: %s\n", opts.Trace)
		return nil
	}
	outputTraceText(w, result, opts.Verbose)
	return nil
}

func listTraces(ctx context.Context, f *OutputFormatter, cmd *cobra.Command, j *journal.Journal) error {
	summaries, err := j.Traces(ctx)
	if err != nil {
		return f.CommandError(ExitCommandError, ErrCodeJournal, "failed to list traces", err)
	}

	if f.Format == "json" {
		return f.Success(summaries)
	}

	w := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(w, "Journal is empty.")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "%s  %-24s seq %d..%d  %d records", s.Trace, s.Root, s.FirstSeq, s.LastSeq, s.Records)
		if s.Errors > 0 {
			fmt.Fprintf(w, "  %d errors", s.Errors)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// filterTimeline keeps the records of one event id: its handling, its
// effects and its failures. An empty filter keeps everything.
func filterTimeline(entries []journal.Entry, event string) []journal.Entry {
	if event == "" {
		return entries
	}
	out := []journal.Entry{}
	for _, e := range entries {
		if e.EventID == event {
			out = append(out, e)
		}
	}
	return out
}

func traceStats(entries []journal.Entry) TraceStats {
	stats := TraceStats{TotalRecords: len(entries)}
	for _, e := range entries {
		switch e.Type {
		case "event":
			stats.Events++
		case "effect":
			stats.Effects++
		case "schedule":
			stats.Scheduled++
		case "error":
			stats.Errors++
		}
		if e.Depth > stats.MaxDepth {
			stats.MaxDepth = e.Depth
		}
	}
	return stats
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace: %s\n\n", result.Trace)
	fmt.Fprintln(w, "Timeline:")
	for _, e := range result.Timeline {
		formatTimelineEntry(w, e, verbose)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Stats:")
	fmt.Fprintf(w, "  Total Records: %d\n", result.Stats.TotalRecords)
	fmt.Fprintf(w, "  Events:        %d\n", result.Stats.Events)
	fmt.Fprintf(w, "  Effects:       %d\n", result.Stats.Effects)
	fmt.Fprintf(w, "  Scheduled:     %d\n", result.Stats.Scheduled)
	fmt.Fprintf(w, "  Errors:        %d\n", result.Stats.Errors)
	fmt.Fprintf(w, "  Max Depth:     %d\n", result.Stats.MaxDepth)
}

func formatTimelineEntry(w io.Writer, e journal.Entry, verbose bool) {
	indent := "  "
	for i := 0; i < e.Depth; i++ {
		indent += "  "
	}

	switch e.Type {
	case "event":
		fmt.Fprintf(w, "%s[%d] EVENT %s %s (%s", indent, e.Seq, e.EventID, e.Args, e.Kind)
		if e.Committed {
			fmt.Fprintf(w, ", v%d", e.Version)
		}
		fmt.Fprintln(w, ")")
	case "effect":
		fmt.Fprintf(w, "%s[%d] FX    %s %s\n", indent, e.Seq, e.EffectKey, e.Payload)
	case "schedule":
		fmt.Fprintf(w, "%s[%d] LATER %s %s +%dms\n", indent, e.Seq, e.EventID, e.Args, e.DelayMS)
	case "error":
		fmt.Fprintf(w, "%s[%d] ERROR %s %s\n", indent, e.Seq, e.EventID, e.ErrorCode)
	}
	if e.Error != "" && (verbose || e.Type == "error") {
		fmt.Fprintf(w, "%s      %s\n", indent, e.Error)
	}
	if verbose {
		fmt.Fprintf(w, "%s      ID: %s\n", indent, truncateID(e.ID))
	}
}

// truncateID shortens a record ID for display.
func truncateID(id string) string {
	if len(id) > 16 {
		return id[:16] + "..."
	}
	return id
}
