package demo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/comalice/hsmx"
	"github.com/comalice/hsmx/builder"
	"github.com/comalice/hsmx/internal/config"
)

// EventModuleReady is posted by a module once it has entered its first state.
const EventModuleReady = "module_ready"

// ErrFlowIncomplete is returned when the scheduler stops before the last step.
var ErrFlowIncomplete = errors.New("flow incomplete")

// Flow drives a sequence of steps spread over several module engines. Each
// step name starts with its module's name (A1 belongs to module A). The
// scheduler moves a module into the step's state from outside the module's
// loop, posts START, and advances when the module reports RESULT_OK.
type Flow struct {
	Scheduler *hsmx.Engine
	Modules   map[string]*hsmx.Engine

	sequence []string
	owner    map[string]string

	// Loop-owned.
	ready     map[string]bool
	started   bool
	step      int
	completed []string
}

// NewFlow builds one engine per module plus the scheduler that parents them.
func NewFlow(cfg config.FlowConfig, opts ...hsmx.Option) (*Flow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Flow{
		Modules:  make(map[string]*hsmx.Engine),
		sequence: append([]string(nil), cfg.Sequence...),
		owner:    make(map[string]string),
		ready:    make(map[string]bool),
	}

	sched, err := hsmx.NewBuilder("scheduler").
		With(opts...).
		State("flow", f.handler(), nil).
		Initial("flow").
		Build()
	if err != nil {
		return nil, err
	}
	f.Scheduler = sched

	states := make(map[string][]string)
	var order []string
	for _, step := range f.sequence {
		mod, _ := config.ModuleOf(step)
		if _, ok := states[mod]; !ok {
			order = append(order, mod)
		}
		f.owner[step] = mod
		if !slices.Contains(states[mod], step) {
			states[mod] = append(states[mod], step)
		}
	}

	for _, mod := range order {
		m := &module{name: mod, first: states[mod][0], cfg: cfg}
		b := hsmx.NewBuilder("mod" + mod).
			With(opts...).
			Parent(sched).
			Initial(m.first)
		h := m.handler()
		for _, st := range states[mod] {
			b.State(st, h, m)
		}
		e, err := b.Build()
		if err != nil {
			return nil, err
		}
		f.Modules[mod] = e
	}
	return f, nil
}

// Engines returns the scheduler followed by the modules in name order.
func (f *Flow) Engines() []*hsmx.Engine {
	names := make([]string, 0, len(f.Modules))
	for name := range f.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	out := []*hsmx.Engine{f.Scheduler}
	for _, name := range names {
		out = append(out, f.Modules[name])
	}
	return out
}

// Run starts the modules and runs the scheduler on the calling goroutine
// until the last step completes or ctx ends. It returns the steps in the
// order their modules reported completion.
func (f *Flow) Run(ctx context.Context) ([]string, error) {
	for _, e := range f.Modules {
		if err := e.Start(ctx); err != nil {
			return nil, err
		}
	}
	err := f.Scheduler.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return nil, err
	}
	if f.step < len(f.sequence) {
		incomplete := fmt.Errorf("%w: %d of %d steps", ErrFlowIncomplete, f.step, len(f.sequence))
		return f.completed, errors.Join(incomplete, err)
	}
	return f.completed, nil
}

// Close destroys every engine.
func (f *Flow) Close() {
	for _, e := range f.Modules {
		e.Destroy()
	}
	f.Scheduler.Destroy()
}

func (f *Flow) handler() hsmx.Handler {
	return builder.Handler(
		builder.OnNamed(hsmx.EventStep, EventModuleReady, func(s *hsmx.Scope, ev hsmx.Event) bool {
			f.ready[ev.Source] = true
			s.Logger().Info("module ready", "module", ev.Source)
			if !f.started && len(f.ready) == len(f.Modules) {
				f.started = true
				f.advance(s)
			}
			return true
		}),
		builder.Do(hsmx.EventResultOK, func(s *hsmx.Scope, ev hsmx.Event) {
			f.completed = append(f.completed, ev.Name)
			f.step++
			s.Logger().Info("step complete", "step", ev.Name, "module", ev.Source, "done", f.step, "of", len(f.sequence))
			if f.step == len(f.sequence) {
				s.Logger().Info("flow complete")
				s.Stop()
				return
			}
			f.advance(s)
		}),
	)
}

// advance moves the owning module into the next step and starts it.
func (f *Flow) advance(s *hsmx.Scope) {
	next := f.sequence[f.step]
	target := f.Modules[f.owner[next]]
	target.ChangeState(next)
	target.Post(hsmx.NewEvent(hsmx.EventStart, next, nil).WithSource(s.Engine().Name()))
}

// module is the shared handler state of one module engine. It is only
// touched on that module's loop.
type module struct {
	name  string
	first string
	cfg   config.FlowConfig
	timer int
}

func (m *module) handler() hsmx.Handler {
	return builder.Handler(
		builder.OnEntry(func(s *hsmx.Scope, _ hsmx.Event) {
			if s.State() == m.first {
				s.PostParent(hsmx.NewEvent(hsmx.EventStep, EventModuleReady, nil).WithSource(m.name))
			}
		}),
		builder.Do(hsmx.EventStart, func(s *hsmx.Scope, _ hsmx.Event) {
			s.Logger().Debug("step started")
			m.timer = s.Schedule(m.cfg.WorkDelay)
		}),
		builder.Do(hsmx.EventTimeout, func(s *hsmx.Scope, ev hsmx.Event) {
			if ev.Seq != m.timer {
				return
			}
			m.timer = 0
			s.PostParent(hsmx.NewEvent(hsmx.EventResultOK, s.State(), nil).WithSource(m.name))
		}),
	)
}
