package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
	"github.com/ngalluzzo/gooi-sub004/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database   string
	TraceID    string
	Entrypoint string // optional - filter to one entrypoint key
	Limit      int
}

// TraceEntry is one logged envelope in the trace listing.
type TraceEntry struct {
	Seq          int64              `json:"seq"`
	Entrypoint   string             `json:"entrypoint"`
	TraceID      string             `json:"traceId"`
	InvocationID string             `json:"invocationId"`
	OK           bool               `json:"ok"`
	Replayed     bool               `json:"replayed"`
	Error        *ir.ErrorInfo      `json:"error,omitempty"`
	Signals      []string           `json:"signals"`
	Timings      ir.Timings         `json:"timings"`
	Envelope     *ir.ResultEnvelope `json:"envelope,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	TraceID string       `json:"traceId,omitempty"`
	Entries []TraceEntry `json:"entries"`
	Stats   TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the listing.
type TraceStats struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Failed   int `json:"failed"`
	Replayed int `json:"replayed"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List logged result envelopes",
		Long: `List result envelopes from the envelope log of a gooi database.

Envelopes are shown in the order they were logged. Filter by trace id to
follow one trace across invocations, or by entrypoint key. With --verbose
the full envelope is included.

Examples:
  gooi trace --db ./gooi.db
  gooi trace --db ./gooi.db --trace-id 0192f5e4-...
  gooi trace --db ./gooi.db --entrypoint mutation:submit_message --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.TraceID, "trace-id", "", "only envelopes of this trace")
	cmd.Flags().StringVar(&opts.Entrypoint, "entrypoint", "", "only envelopes of this entrypoint key")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of envelopes (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Database == "" {
		return formatter.fail(ExitCommandError, ErrCodeInvalidInput, "--db is required", nil)
	}
	// store.Open would create a missing database.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database), nil)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	logged, err := st.ReadEnvelopes(cmd.Context(), store.EnvelopeFilter{
		TraceID:       opts.TraceID,
		EntrypointKey: opts.Entrypoint,
		Limit:         opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read envelope log", err)
	}

	result := buildTraceResult(opts, logged)
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	return outputTraceText(formatter, result)
}

func buildTraceResult(opts *TraceOptions, logged []store.LoggedEnvelope) TraceResult {
	result := TraceResult{TraceID: opts.TraceID, Entries: make([]TraceEntry, 0, len(logged))}

	for _, row := range logged {
		env := row.Envelope
		entry := TraceEntry{
			Seq:          row.Seq,
			Entrypoint:   row.EntrypointKey,
			TraceID:      env.TraceID,
			InvocationID: env.InvocationID,
			OK:           env.OK,
			Replayed:     env.Meta.Replayed,
			Error:        env.Error,
			Signals:      make([]string, 0, len(env.EmittedSignals)),
			Timings:      env.Timings,
		}
		for _, s := range env.EmittedSignals {
			entry.Signals = append(entry.Signals, s.SignalID)
		}
		if opts.Verbose {
			entry.Envelope = env
		}
		result.Entries = append(result.Entries, entry)

		result.Stats.Total++
		switch {
		case !env.OK:
			result.Stats.Failed++
		case env.Meta.Replayed:
			result.Stats.Replayed++
			result.Stats.OK++
		default:
			result.Stats.OK++
		}
	}
	return result
}

func outputTraceText(formatter *OutputFormatter, result TraceResult) error {
	w := formatter.Writer

	if len(result.Entries) == 0 {
		if result.TraceID != "" {
			fmt.Fprintf(w, "No envelopes found for trace: %s\n", result.TraceID)
		} else {
			fmt.Fprintln(w, "No envelopes found.")
		}
		return nil
	}

	for _, e := range result.Entries {
		status := "ok"
		switch {
		case e.Error != nil:
			status = fmt.Sprintf("%s at %s", e.Error.Code, e.Error.Stage)
		case e.Replayed:
			status = "ok (replayed)"
		}
		fmt.Fprintf(w, "[%d] %s %s  %s\n", e.Seq, e.Timings.StartedAt, e.Entrypoint, status)
		fmt.Fprintf(w, "    trace %s, invocation %s\n", e.TraceID, e.InvocationID)
		if len(e.Signals) > 0 {
			fmt.Fprintf(w, "    signals: %v\n", e.Signals)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total: %d envelope(s), %d ok, %d failed, %d replayed\n",
		result.Stats.Total, result.Stats.OK, result.Stats.Failed, result.Stats.Replayed)
	return nil
}
