package demo

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/comalice/hsmx"
	"github.com/comalice/hsmx/builder"
	"github.com/comalice/hsmx/internal/config"
	"github.com/comalice/hsmx/internal/source"
)

// Workflow stages.
const (
	StageIdle         = "idle"
	StageInitializing = "initializing"
	StageLoading      = "loading"
	StageRetrying     = "retrying"
	StageValidating   = "validating"
	StageProcessing   = "processing"
	StageSaving       = "saving"
	StageCleanup      = "cleanup"
	StageError        = "error"
	StageDone         = "done"
)

// Commands accepted as STEP data while processing.
const (
	CommandPause  = "pause"
	CommandResume = "resume"
)

// Workflow vars, readable while the workflow runs.
const (
	VarProgress = "progress"
	VarPaused   = "paused"
)

// WorkflowSteps is the number of numbered stages.
const WorkflowSteps = 6

// LoadedData is what a successful load produces.
const LoadedData = "Sample Data [1234567890]"

// Outcome is how a workflow run ended.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// WorkflowResult summarizes a run.
type WorkflowResult struct {
	Outcome    Outcome
	Step       int
	FailedStep string
	Retries    int
	Progress   int
	Pauses     int
	Data       string
	Stages     []string
	Elapsed    time.Duration
}

// Workflow is a single engine walking idle, initializing, loading,
// validating, processing, saving and cleanup, with per-stage timeouts,
// bounded load retries, pause/resume and cancellation.
type Workflow struct {
	Engine *hsmx.Engine

	cfg config.WorkflowConfig
	rng *rand.Rand

	// Loop-owned.
	result  WorkflowResult
	started time.Time
	timer   int
	loaded  int
	paused  bool
}

// NewWorkflow builds the workflow engine on a dedicated loop.
func NewWorkflow(cfg config.WorkflowConfig, opts ...hsmx.Option) (*Workflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &Workflow{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, 0)),
		result: WorkflowResult{Outcome: OutcomePending},
	}

	e, err := hsmx.NewBuilder("workflow").
		With(opts...).
		State(StageIdle, w.idle(), w).
		State(StageInitializing, w.initializing(), w).
		State(StageLoading, w.loading(), w).
		State(StageRetrying, w.retrying(), w).
		State(StageValidating, w.validating(), w).
		State(StageProcessing, w.processing(), w).
		State(StageSaving, w.saving(), w).
		State(StageCleanup, w.cleanup(), w).
		State(StageError, w.failed(), w).
		State(StageDone, w.done(), w).
		Initial(StageIdle).
		Build()
	if err != nil {
		return nil, err
	}
	w.Engine = e
	return w, nil
}

// Run posts START and runs the workflow on the calling goroutine until it
// reaches done or ctx ends. When ctx ends first, the partial result is
// returned with ctx.Err(). Events received from commands are forwarded to
// the engine meanwhile; commands may be nil.
func (w *Workflow) Run(ctx context.Context, commands <-chan hsmx.Event) (WorkflowResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if commands != nil {
		go source.Forward(ctx, commands, w.Engine)
	}

	w.Engine.Post(hsmx.NewEvent(hsmx.EventStart, "workflow_start", nil).WithSource("main"))
	if err := w.Engine.Run(ctx); err != nil {
		return w.result, err
	}
	return w.result, nil
}

// Close destroys the engine.
func (w *Workflow) Close() {
	w.Engine.Destroy()
}

func (w *Workflow) enter(step int) builder.Action {
	return func(s *hsmx.Scope, _ hsmx.Event) {
		w.result.Stages = append(w.result.Stages, s.State())
		if step > 0 {
			w.result.Step = step
			s.Logger().Info("stage started", "step", step, "of", WorkflowSteps)
		}
	}
}

// arm replaces the stage timer.
func (w *Workflow) arm(s *hsmx.Scope, d time.Duration) {
	w.timer = s.Schedule(d)
}

func (w *Workflow) disarm(s *hsmx.Scope, _ hsmx.Event) {
	if w.timer > 0 {
		s.Cancel(w.timer)
		w.timer = 0
	}
	if w.loaded > 0 {
		s.Cancel(w.loaded)
		w.loaded = 0
	}
}

// expired reports whether ev is the stage timer's TIMEOUT.
func (w *Workflow) expired(ev hsmx.Event) bool {
	return ev.Type == hsmx.EventTimeout && ev.Seq == w.timer && w.timer > 0
}

// onExpiry consumes every TIMEOUT and runs act only for the stage timer.
func (w *Workflow) onExpiry(act builder.Action) builder.Rule {
	return builder.Do(hsmx.EventTimeout, func(s *hsmx.Scope, ev hsmx.Event) {
		if !w.expired(ev) {
			return
		}
		w.timer = 0
		act(s, ev)
	})
}

func (w *Workflow) cancelRule() builder.Rule {
	return builder.Do(hsmx.EventCancel, func(s *hsmx.Scope, _ hsmx.Event) {
		s.Logger().Warn("workflow cancelled", "stage", s.State())
		w.result.Outcome = OutcomeCancelled
		s.ChangeState(StageCleanup)
	})
}

func (w *Workflow) idle() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(w.enter(0)),
		builder.Do(hsmx.EventStart, func(s *hsmx.Scope, _ hsmx.Event) {
			w.started = time.Now()
			w.result.Retries = 0
			s.ChangeState(StageInitializing)
		}),
	)
}

func (w *Workflow) initializing() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, ev hsmx.Event) {
			w.enter(1)(s, ev)
			w.arm(s, w.cfg.InitDelay)
		}),
		w.onExpiry(builder.GoTo(StageLoading)),
		w.cancelRule(),
		builder.OnExit(w.disarm),
	)
}

func (w *Workflow) loading() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, ev hsmx.Event) {
			w.enter(2)(s, ev)
			w.arm(s, w.cfg.LoadTimeout)
			if w.rng.Float64() < w.cfg.LoadSuccess {
				w.loaded = s.Schedule(w.cfg.LoadDelay)
			} else {
				s.Logger().Warn("data source is slow, load may time out")
			}
		}),
		builder.Do(hsmx.EventResultOK, func(s *hsmx.Scope, ev hsmx.Event) {
			data, _ := hsmx.Payload[string](ev)
			w.result.Data = data
			w.result.Retries = 0
			s.Logger().Info("data loaded", "bytes", len(data))
			s.ChangeState(StageValidating)
		}),
		builder.Do(hsmx.EventTimeout, func(s *hsmx.Scope, ev hsmx.Event) {
			switch {
			case ev.Seq == w.loaded && w.loaded > 0:
				w.loaded = 0
				s.Post(hsmx.NewEvent(hsmx.EventResultOK, "load_complete", LoadedData).WithSource("loader"))
			case w.expired(ev):
				w.timer = 0
				if w.result.Retries < w.cfg.MaxRetries {
					w.result.Retries++
					s.Logger().Warn("load timed out, retrying", "retry", w.result.Retries, "max", w.cfg.MaxRetries)
					s.ChangeState(StageRetrying)
					return
				}
				s.Logger().Error("load timed out, retries exhausted", "max", w.cfg.MaxRetries)
				s.ChangeState(StageError)
			}
		}),
		w.cancelRule(),
		builder.OnExit(w.disarm),
	)
}

// retrying re-enters loading; a transition to the current state is a no-op.
func (w *Workflow) retrying() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, ev hsmx.Event) {
			w.enter(0)(s, ev)
			s.ChangeState(StageLoading)
		}),
	)
}

func (w *Workflow) validating() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, ev hsmx.Event) {
			w.enter(3)(s, ev)
			w.arm(s, w.cfg.ValidateDelay)
		}),
		w.onExpiry(func(s *hsmx.Scope, _ hsmx.Event) {
			if w.result.Data == "" {
				s.Logger().Error("validation failed: no data")
				s.ChangeState(StageError)
				return
			}
			s.ChangeState(StageProcessing)
		}),
		w.cancelRule(),
		builder.OnExit(w.disarm),
	)
}

func (w *Workflow) processing() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, ev hsmx.Event) {
			w.enter(4)(s, ev)
			w.result.Progress = 0
			w.paused = false
			s.Vars().Set(VarProgress, 0)
			s.Vars().Set(VarPaused, false)
			w.arm(s, w.cfg.ProgressInterval)
		}),
		w.onExpiry(func(s *hsmx.Scope, _ hsmx.Event) {
			w.result.Progress = min(w.result.Progress+w.cfg.ProgressStep, 100)
			s.Vars().Set(VarProgress, w.result.Progress)
			s.Logger().Info("processing", "progress", w.result.Progress)
			if w.result.Progress >= 100 {
				s.ChangeState(StageSaving)
				return
			}
			w.arm(s, w.cfg.ProgressInterval)
		}),
		builder.When(isCommand(CommandPause), func(s *hsmx.Scope, ev hsmx.Event) bool {
			if !w.paused {
				w.disarm(s, ev)
				w.paused = true
				w.result.Pauses++
				s.Vars().Set(VarPaused, true)
				s.Logger().Info("processing paused", "progress", w.result.Progress)
			}
			return true
		}),
		builder.When(isCommand(CommandResume), func(s *hsmx.Scope, _ hsmx.Event) bool {
			if w.paused {
				w.paused = false
				s.Vars().Set(VarPaused, false)
				w.arm(s, w.cfg.ProgressInterval)
				s.Logger().Info("processing resumed", "progress", w.result.Progress)
			}
			return true
		}),
		w.cancelRule(),
		builder.OnExit(w.disarm),
	)
}

func isCommand(cmd string) func(hsmx.Event) bool {
	return func(ev hsmx.Event) bool {
		s, ok := hsmx.Payload[string](ev)
		return ev.Type == hsmx.EventStep && ok && s == cmd
	}
}

func (w *Workflow) saving() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, ev hsmx.Event) {
			w.enter(5)(s, ev)
			w.arm(s, w.cfg.SaveDelay)
		}),
		w.onExpiry(func(s *hsmx.Scope, _ hsmx.Event) {
			w.result.Outcome = OutcomeSucceeded
			s.ChangeState(StageCleanup)
		}),
		w.cancelRule(),
		builder.OnExit(w.disarm),
	)
}

func (w *Workflow) failed() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, ev hsmx.Event) {
			w.result.FailedStep = w.result.Stages[len(w.result.Stages)-1]
			w.enter(0)(s, ev)
			w.result.Outcome = OutcomeFailed
			s.Logger().Error("workflow failed", "step", w.result.Step, "stage", w.result.FailedStep, "retries", w.result.Retries)
			w.arm(s, w.cfg.ErrorDelay)
		}),
		w.onExpiry(builder.GoTo(StageCleanup)),
		builder.OnExit(w.disarm),
	)
}

func (w *Workflow) cleanup() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, ev hsmx.Event) {
			w.enter(6)(s, ev)
			w.arm(s, w.cfg.CleanupDelay)
		}),
		w.onExpiry(func(s *hsmx.Scope, _ hsmx.Event) {
			if w.result.Outcome == OutcomePending {
				w.result.Outcome = OutcomeSucceeded
			}
			w.result.Elapsed = time.Since(w.started)
			s.ChangeState(StageDone)
		}),
		builder.OnExit(w.disarm),
	)
}

func (w *Workflow) done() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, ev hsmx.Event) {
			w.enter(0)(s, ev)
			s.Logger().Info("workflow finished", "outcome", w.result.Outcome, "elapsed", w.result.Elapsed)
			s.Stop()
		}),
	)
}
