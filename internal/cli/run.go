package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fxstore/internal/appdb"
	"github.com/roach88/fxstore/internal/counter"
	"github.com/roach88/fxstore/internal/engine"
	"github.com/roach88/fxstore/internal/journal"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Initial string
	Journal string
	Wait    time.Duration

	// TraceGenerator allows overriding the trace token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	TraceGenerator engine.TraceGenerator
}

// RunResult is the outcome of a run.
type RunResult struct {
	State      map[string]any `json:"state"`
	Count      any            `json:"count"`
	Parity     any            `json:"parity"`
	Dispatched int            `json:"dispatched"`
	Failures   []RunFailure   `json:"failures,omitempty"`
}

// RunFailure is one failed dispatch.
type RunFailure struct {
	Event string `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <event>...",
		Short: "Dispatch events to the counter app",
		Long: `Dispatch events to the demo counter app and print the final state.

Each event is a JSON array whose first element is the event id. Events are
queued in order and processed by the single-writer loop. With --wait, the
loop keeps running that long so delayed dispatches can fire.

Records are appended to the journal when --journal (or the config file's
journal setting) names one.

Example:
  fxstore run '["counter/bump"]' '["counter/add", 10]'
  fxstore run --initial '{"counter": 5}' '["counter/tick-later", 200]' --wait 500ms
  fxstore run --journal ./fxstore.db '["counter/reset", 3]' --verbose`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Initial, "initial", `{"counter": 0}`, "initial state as a JSON object")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (overrides config)")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "keep processing for this long after the queue drains")

	return cmd
}

// parseEvent decodes a JSON event vector. Numbers are kept as json.Number.
func parseEvent(raw string) (engine.Event, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var vec []any
	if err := dec.Decode(&vec); err != nil {
		return engine.Event{}, fmt.Errorf("event %s: want a JSON array: %w", raw, err)
	}
	return engine.EventFromVector(vec)
}

func runEvents(opts *RunOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}
	logger := cfg.Logger(cmd.ErrOrStderr())

	var initial appdb.DB
	if err := json.Unmarshal([]byte(opts.Initial), &initial); err != nil {
		return f.CommandError(ExitCommandError, ErrCodeInvalidInput, "invalid --initial", err)
	}

	events := make([]engine.Event, 0, len(args))
	for _, raw := range args {
		ev, err := parseEvent(raw)
		if err != nil {
			return f.CommandError(ExitCommandError, ErrCodeInvalidInput, "invalid event", err)
		}
		events = append(events, ev)
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		mu       sync.Mutex
		failures []RunFailure
	)
	storeOpts := append(cfg.EngineOptions(),
		engine.WithLogger(logger),
		engine.WithErrorHandler(func(ev engine.Event, err error) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, RunFailure{
				Event: string(ev.ID),
				Code:  string(engine.CodeOf(err)),
				Error: err.Error(),
			})
		}),
	)
	if opts.TraceGenerator != nil {
		storeOpts = append(storeOpts, engine.WithTraceGenerator(opts.TraceGenerator))
	}

	journalPath := cfg.Journal
	if opts.Journal != "" {
		journalPath = opts.Journal
	}
	var j *journal.Journal
	if journalPath != "" {
		logger.Info("opening journal", "path", journalPath)
		j, err = journal.Open(journalPath)
		if err != nil {
			return f.CommandError(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()

		// Continue the journal's numbering so seqs stay unique across runs.
		last, err := j.LastSeq(ctx)
		if err != nil {
			return f.CommandError(ExitCommandError, ErrCodeJournal, "failed to read journal", err)
		}
		storeOpts = append(storeOpts,
			engine.WithClock(engine.NewClockAt(last)),
			engine.WithObserver(j.Observer(ctx, logger)),
		)
	}

	s := engine.New(initial, storeOpts...)
	counter.Register(s, logger)

	for _, ev := range events {
		if err := s.Dispatch(ev); err != nil {
			return f.CommandError(ExitFailure, ErrCodeDispatch, "dispatch failed", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForQueue(ctx, s.Pending)
	if opts.Wait > 0 {
		logger.Debug("waiting for delayed dispatches", "wait", opts.Wait)
		select {
		case <-time.After(opts.Wait):
		case <-ctx.Done():
		}
		waitForQueue(ctx, s.Pending)
	}
	s.Stop()

	if err := <-done; err != nil && err != context.Canceled {
		return f.CommandError(ExitFailure, ErrCodeDispatch, "store error", err)
	}
	if j != nil {
		if err := j.Err(); err != nil {
			return f.CommandError(ExitFailure, ErrCodeJournal, "journal write failed", err)
		}
	}

	result := RunResult{
		State:      s.DB().ToMap(),
		Dispatched: len(events),
	}
	result.Count, _ = s.Query(engine.NewQuery(counter.SubCount))
	result.Parity, _ = s.Query(engine.NewQuery(counter.SubParity))
	mu.Lock()
	result.Failures = failures
	mu.Unlock()

	return outputRunResult(f, cmd, result)
}

// waitForQueue returns once pending reports an empty queue or ctx is done.
func waitForQueue(ctx context.Context, pending func() int) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for pending() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func outputRunResult(f *OutputFormatter, cmd *cobra.Command, result RunResult) error {
	switch {
	case f.Format == "json" && len(result.Failures) == 0:
		if err := f.Success(result); err != nil {
			return err
		}
	case f.Format == "json":
		resp := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Failures[0].Code,
				Message: fmt.Sprintf("%d dispatch(es) failed", len(result.Failures)),
			},
		}
		if err := f.JSON(resp); err != nil {
			return err
		}
	default:
		w := cmd.OutOrStdout()
		state, err := json.Marshal(result.State)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "State: %s\n", state)
		fmt.Fprintf(w, "Count: %v (%v)\n", result.Count, result.Parity)
		for _, failure := range result.Failures {
			fmt.Fprintf(w, "✗ %s: %s\n", failure.Event, failure.Error)
		}
	}

	if len(result.Failures) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d dispatch(es) failed", len(result.Failures)))
	}
	return nil
}
