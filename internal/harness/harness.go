package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/fxstore/internal/appdb"
	"github.com/roach88/fxstore/internal/counter"
	"github.com/roach88/fxstore/internal/engine"
	"github.com/roach88/fxstore/internal/testutil"
)

// App installs an application's handlers on a fresh store.
type App func(s *engine.Store[appdb.DB], log *slog.Logger)

var (
	appsMu sync.RWMutex
	apps   = map[string]App{
		"counter": counter.Register,
	}
)

// RegisterApp makes app available to scenarios under name, replacing any
// previous registration.
func RegisterApp(name string, app App) {
	appsMu.Lock()
	defer appsMu.Unlock()
	apps[name] = app
}

// Apps returns the registered application names, sorted.
func Apps() []string {
	appsMu.RLock()
	defer appsMu.RUnlock()
	names := make([]string, 0, len(apps))
	for name := range apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupApp(name string) (App, bool) {
	appsMu.RLock()
	defer appsMu.RUnlock()
	app, ok := apps[name]
	return app, ok
}

// Harness holds the store and scheduler of one scenario run.
type Harness struct {
	store  *engine.Store[appdb.DB]
	sched  *testutil.ManualScheduler
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each run uses a fresh store, manual scheduler, fixed trace token and
// logical clock, so reruns produce byte-identical traces.
//
// Execution flow:
// 1. Build the initial state and a fresh store
// 2. Install the scenario's app
// 3. Execute steps, recording unexpected failures
// 4. Evaluate assertions against the trace and final state
//
// An error is returned only when the scenario cannot run at all (unknown
// app, malformed event vector); failures are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	app, ok := lookupApp(scenario.App)
	if !ok {
		return nil, fmt.Errorf("unknown app %q (registered: %v)", scenario.App, Apps())
	}

	result := NewResult()
	// Suppress logs in scenario runs
	logger := slog.New(slog.DiscardHandler)

	h := &Harness{
		sched:  testutil.NewManualScheduler(),
		logger: logger,
	}
	h.store = engine.New(appdb.FromMap(scenario.Initial),
		engine.WithLogger(logger),
		engine.WithScheduler(h.sched),
		engine.WithTraceGenerator(testutil.NewFixedTraceGenerator(scenario.TraceToken)),
		engine.WithObserver(result.AddRecord),
	)
	app(h.store, logger)

	ctx := context.Background()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute step %d: %w", i, err)
		}
	}

	result.State = h.store.DB().ToMap()

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeStep runs one step. Dispatch failures are checked against
// ExpectError and recorded in result; the returned error means the step
// could not run.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	var stepErr error

	switch step.action() {
	case StepDispatchSync:
		ev, err := engine.EventFromVector(step.DispatchSync)
		if err != nil {
			return err
		}
		stepErr = h.store.DispatchSync(ctx, ev)

	case StepDispatch:
		ev, err := engine.EventFromVector(step.Dispatch)
		if err != nil {
			return err
		}
		if err := h.store.Dispatch(ev); err != nil {
			return err
		}

	case StepAdvance:
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		fired := h.sched.Advance(d)
		h.logger.Debug("scheduler advanced", "step", index, "by", d, "fired", fired)

	case StepDrain:
		stepErr = h.store.Drain(ctx)

	default:
		return fmt.Errorf("step has no action")
	}

	checkStepError(index, step, stepErr, result)
	return nil
}

func checkStepError(index int, step Step, err error, result *Result) {
	got := string(engine.CodeOf(err))

	switch {
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", index, step.action(), err))
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got success", index, step.action(), step.ExpectError))
	case step.ExpectError != "" && got != step.ExpectError:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got %s: %v", index, step.action(), step.ExpectError, got, err))
	}
}
