package hsmx_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/hsmx"
	"github.com/comalice/hsmx/internal/logging"
	"github.com/comalice/hsmx/testutil"
)

func TestTransitionRunsExitThenEntry(t *testing.T) {
	rec := testutil.NewRecorder()
	e := newEngine(t, "m")
	e.Register("A", rec.Handler(true), nil)
	e.Register("B", rec.Handler(true), nil)
	start(t, e)

	assert.Equal(t, "", e.State())
	e.ChangeState("A")
	e.ChangeState("B")
	testutil.InState(t, e, "B")
	flush(t, e)

	assert.Equal(t, []string{"m/A:ENTRY", "m/A:EXIT", "m/B:ENTRY"}, rec.Strings())
	assert.Equal(t, "m", rec.Entries()[0].Event.Source)
}

func TestChangeToCurrentStateIsNoop(t *testing.T) {
	rec := testutil.NewRecorder()
	e := newEngine(t, "m")
	e.Register("A", rec.Handler(true), nil)
	start(t, e)

	e.ChangeState("A")
	e.ChangeState("A")
	e.ChangeState("")
	flush(t, e)

	assert.Equal(t, []string{"m/A:ENTRY"}, rec.Strings())
	assert.Equal(t, "A", e.State())
}

func TestScopeChangeStateIsSynchronous(t *testing.T) {
	var (
		mu    sync.Mutex
		trail []string
	)
	note := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		trail = append(trail, s)
	}

	e := newEngine(t, "m")
	e.Register("A", func(s *hsmx.Scope, ev hsmx.Event) bool {
		switch ev.Type {
		case hsmx.EventExit:
			note("exit A")
		case hsmx.EventStep:
			s.ChangeState("B")
			note("after change: " + s.Engine().State())
		}
		return true
	}, nil)
	e.Register("B", func(_ *hsmx.Scope, ev hsmx.Event) bool {
		if ev.Type == hsmx.EventEntry {
			note("enter B")
		}
		return true
	}, nil)
	start(t, e)

	e.ChangeState("A")
	e.Post(step("go"))
	flush(t, e)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"exit A", "enter B", "after change: B"}, trail)
}

func TestEventsDispatchInPostOrder(t *testing.T) {
	var seqs []int
	e := newEngine(t, "m")
	e.Register("A", func(_ *hsmx.Scope, ev hsmx.Event) bool {
		if ev.Type == hsmx.EventStep {
			seqs = append(seqs, ev.Seq)
		}
		return true
	}, nil)
	e.ChangeState("A")

	for i := range 100 {
		e.Post(step("n").WithSeq(i))
	}
	start(t, e)
	flush(t, e)

	require.Len(t, seqs, 100)
	for i, s := range seqs {
		assert.Equal(t, i, s)
	}
}

func TestUnhandledEventBubblesToParent(t *testing.T) {
	rec := testutil.NewRecorder()
	parent := newEngine(t, "parent")
	parent.Register("P", rec.Handler(true), nil)
	child := newEngine(t, "child", hsmx.WithParent(parent))
	child.Register("C", rec.Handler(false), nil)
	start(t, parent)
	start(t, child)

	parent.ChangeState("P")
	child.ChangeState("C")
	testutil.InState(t, child, "C")

	payload := &struct{ n int }{n: 7}
	sent := hsmx.NewEvent(hsmx.EventResultOK, "done", payload).WithSource("worker").WithSeq(3)
	child.Post(sent)

	testutil.Eventually(t, func() bool { return rec.Count(hsmx.EventResultOK) == 2 })
	entries := rec.Entries()
	var got []testutil.Entry
	for _, en := range entries {
		if en.Event.Type == hsmx.EventResultOK {
			got = append(got, en)
		}
	}
	assert.Equal(t, "child", got[0].Engine)
	assert.Equal(t, "parent", got[1].Engine)
	assert.Equal(t, sent.Name, got[1].Event.Name)
	assert.Equal(t, sent.Source, got[1].Event.Source)
	assert.Equal(t, sent.Seq, got[1].Event.Seq)
	assert.Same(t, payload, got[1].Event.Data)
}

func TestBubblingClimbsTheChain(t *testing.T) {
	rec := testutil.NewRecorder()
	root := newEngine(t, "root")
	root.Register("R", rec.Handler(true), nil)
	mid := newEngine(t, "mid", hsmx.WithParent(root))
	mid.Register("M", rec.Handler(false), nil)
	leaf := newEngine(t, "leaf", hsmx.WithParent(mid))
	leaf.Register("L", rec.Handler(false), nil)
	for _, e := range []*hsmx.Engine{root, mid, leaf} {
		start(t, e)
	}
	root.ChangeState("R")
	mid.ChangeState("M")
	leaf.ChangeState("L")
	testutil.InState(t, leaf, "L")

	leaf.Post(step("up"))
	testutil.Eventually(t, func() bool { return rec.Count(hsmx.EventStep) == 3 })
	var engines []string
	for _, en := range rec.Entries() {
		if en.Event.Type == hsmx.EventStep {
			engines = append(engines, en.Engine)
		}
	}
	assert.Equal(t, []string{"leaf", "mid", "root"}, engines)
}

func TestUnhandledEventWithoutParentIsDropped(t *testing.T) {
	pub := &tracePublisher{}
	rec := testutil.NewRecorder()
	e := newEngine(t, "m", hsmx.WithPublisher(pub))
	e.Register("A", rec.Handler(false), nil)
	start(t, e)

	e.ChangeState("A")
	e.Post(step("lost"))
	flush(t, e)

	assert.Equal(t, 1, rec.Count(hsmx.EventStep))
	assert.Equal(t, 1, pub.count(hsmx.RecordDropped))
	assert.Equal(t, "A", e.State())
}

func TestEventBeforeFirstTransitionBubbles(t *testing.T) {
	rec := testutil.NewRecorder()
	parent := newEngine(t, "parent")
	parent.Register("P", rec.Handler(true), nil)
	child := newEngine(t, "child", hsmx.WithParent(parent))
	start(t, parent)
	start(t, child)
	parent.ChangeState("P")

	child.Post(step("early"))
	testutil.Eventually(t, func() bool { return rec.Count(hsmx.EventStep) == 1 })
	assert.Equal(t, "parent", rec.Entries()[len(rec.Entries())-1].Engine)
}

func TestUnregisteredTargetIsAccepted(t *testing.T) {
	rec := testutil.NewRecorder()
	parent := newEngine(t, "parent")
	parent.Register("P", rec.Handler(true), nil)
	child := newEngine(t, "child", hsmx.WithParent(parent))
	child.Register("A", rec.Handler(true), nil)
	start(t, parent)
	start(t, child)
	parent.ChangeState("P")

	child.ChangeState("A")
	child.ChangeState("ghost")
	testutil.InState(t, child, "ghost")

	child.Post(step("orphan"))
	testutil.Eventually(t, func() bool { return rec.Count(hsmx.EventStep) == 1 })
	assert.Contains(t, rec.Strings(), "child/A:EXIT")
	assert.Contains(t, rec.Strings(), "parent/P:STEP")
}

func TestRegisterReplacesHandler(t *testing.T) {
	e := newEngine(t, "m")
	var first, second int
	e.Register("A", func(*hsmx.Scope, hsmx.Event) bool { first++; return true }, nil)
	e.Register("A", func(*hsmx.Scope, hsmx.Event) bool { second++; return true }, nil)
	e.Register("", func(*hsmx.Scope, hsmx.Event) bool { return true }, nil)
	start(t, e)

	e.ChangeState("A")
	flush(t, e)
	assert.Zero(t, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, []string{"A"}, e.States())
}

func TestScopeCarriesStateData(t *testing.T) {
	type cfg struct{ limit int }
	data := &cfg{limit: 3}
	got := make(chan any, 1)

	e := newEngine(t, "m")
	e.Register("A", func(s *hsmx.Scope, ev hsmx.Event) bool {
		if ev.Type == hsmx.EventEntry {
			got <- s.Data()
			s.Vars().Set("state", s.State())
		}
		return true
	}, data)
	start(t, e)
	e.ChangeState("A")

	select {
	case d := <-got:
		assert.Same(t, data, d)
	case <-time.After(testutil.DefaultWait):
		t.Fatal("entry never ran")
	}
	flush(t, e)
	assert.Equal(t, "A", e.Vars().Get("state"))
}

func TestHandlerPanicIsContained(t *testing.T) {
	pub := &tracePublisher{}
	rec := testutil.NewRecorder()
	parent := newEngine(t, "parent")
	parent.Register("P", rec.Handler(true), nil)
	e := newEngine(t, "m", hsmx.WithParent(parent), hsmx.WithPublisher(pub))
	e.Register("A", func(_ *hsmx.Scope, ev hsmx.Event) bool {
		if ev.Type == hsmx.EventStep && ev.Name == "boom" {
			panic("boom")
		}
		return ev.Type != hsmx.EventStep
	}, nil)
	start(t, parent)
	start(t, e)
	parent.ChangeState("P")
	e.ChangeState("A")

	e.Post(step("boom"))
	e.Post(step("after"))
	testutil.Eventually(t, func() bool { return rec.Count(hsmx.EventStep) == 1 })
	flush(t, e)

	assert.Equal(t, 1, pub.count(hsmx.RecordPanic))
	assert.Equal(t, "after", rec.Entries()[len(rec.Entries())-1].Event.Name)
	assert.Equal(t, hsmx.PhaseRunning, e.Phase())
}

func TestLifecycleErrors(t *testing.T) {
	e := newEngine(t, "m")
	assert.Equal(t, hsmx.PhaseCreated, e.Phase())

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	assert.Equal(t, hsmx.PhaseRunning, e.Phase())
	assert.ErrorIs(t, e.Start(ctx), hsmx.ErrRunning)
	assert.ErrorIs(t, e.Run(ctx), hsmx.ErrRunning)

	e.Stop()
	e.Stop()
	<-e.Done()
	assert.Equal(t, hsmx.PhaseStopped, e.Phase())
	assert.ErrorIs(t, e.Start(ctx), hsmx.ErrNotRestartable)

	e.Destroy()
	e.Destroy()
	assert.Equal(t, hsmx.PhaseDestroyed, e.Phase())
	assert.ErrorIs(t, e.Start(ctx), hsmx.ErrDestroyed)
	assert.ErrorIs(t, e.Run(ctx), hsmx.ErrDestroyed)
}

func TestRunBlocksUntilStop(t *testing.T) {
	e := newEngine(t, "m")
	e.Register("A", func(s *hsmx.Scope, ev hsmx.Event) bool {
		if ev.Type == hsmx.EventCancel {
			s.Stop()
		}
		return true
	}, nil)
	e.ChangeState("A")
	e.Post(hsmx.NewEvent(hsmx.EventCancel, "", nil))

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, hsmx.PhaseStopped, e.Phase())
	assert.Equal(t, "A", e.State())
}

func TestContextCancellationStopsLoop(t *testing.T) {
	e := newEngine(t, "m")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	cancel()

	select {
	case <-e.Done():
	case <-time.After(testutil.DefaultWait):
		t.Fatal("loop kept running")
	}
	assert.Equal(t, hsmx.PhaseStopped, e.Phase())
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	e := newEngine(t, "m")
	e.Stop()
	assert.Equal(t, hsmx.PhaseCreated, e.Phase())
	start(t, e)
	flush(t, e)
}

func TestDestroyedEngineIgnoresCalls(t *testing.T) {
	rec := testutil.NewRecorder()
	e := newEngine(t, "m")
	e.Register("A", rec.Handler(true), nil)
	start(t, e)
	e.ChangeState("A")
	testutil.InState(t, e, "A")
	flush(t, e)
	e.Schedule(time.Hour)

	e.Destroy()
	assert.Equal(t, "", e.State())
	assert.Empty(t, e.States())
	assert.Zero(t, e.Pending())
	assert.Nil(t, e.Parent())

	e.Register("B", rec.Handler(true), nil)
	e.ChangeState("B")
	e.Post(step("late"))
	e.SetParent(newEngine(t, "p"))
	assert.Zero(t, e.Schedule(time.Millisecond))
	assert.False(t, e.Cancel(1))

	assert.Empty(t, e.States())
	assert.Nil(t, e.Parent())
	assert.Equal(t, []string{"m/A:ENTRY"}, rec.Strings())
	assert.False(t, e.Loop().Invoke(func() {}))
}

func TestSharedLoopServesEveryEngine(t *testing.T) {
	loop := hsmx.NewLoop("main")
	recA, recB := testutil.NewRecorder(), testutil.NewRecorder()
	a := newEngine(t, "a", hsmx.WithLoop(loop))
	a.Register("A", recA.Handler(true), nil)
	b := newEngine(t, "b", hsmx.WithLoop(loop))
	b.Register("B", recB.Handler(true), nil)

	assert.False(t, a.Dedicated())
	assert.Same(t, loop, b.Loop())

	a.ChangeState("A")
	b.ChangeState("B")
	start(t, a)
	testutil.InState(t, b, "B")

	b.Post(step("x"))
	testutil.Eventually(t, func() bool { return recB.Count(hsmx.EventStep) == 1 })
	assert.Equal(t, hsmx.PhaseCreated, b.Phase())

	// Destroying b leaves the shared loop usable for a.
	b.Destroy()
	a.Post(step("y"))
	testutil.Eventually(t, func() bool { return recA.Count(hsmx.EventStep) == 1 })

	// Stopping a stops the shared loop; queued work waits.
	a.Stop()
	<-a.Done()
	a.Post(step("z"))
	assert.Equal(t, 1, loop.Pending())
}

func TestStopIsolatesDedicatedLoops(t *testing.T) {
	recA, recB := testutil.NewRecorder(), testutil.NewRecorder()
	a := newEngine(t, "a")
	a.Register("A", recA.Handler(true), nil)
	b := newEngine(t, "b")
	b.Register("B", recB.Handler(true), nil)
	a.ChangeState("A")
	b.ChangeState("B")
	start(t, a)
	start(t, b)
	testutil.InState(t, a, "A")

	a.Stop()
	<-a.Done()
	b.Post(step("still"))
	testutil.Eventually(t, func() bool { return recB.Count(hsmx.EventStep) == 1 })

	a.Destroy()
	b.Post(step("again"))
	testutil.Eventually(t, func() bool { return recB.Count(hsmx.EventStep) == 2 })
}

func TestConcurrentStateReads(t *testing.T) {
	e := newEngine(t, "m")
	e.Register("A", func(s *hsmx.Scope, ev hsmx.Event) bool {
		if ev.Type == hsmx.EventStep {
			s.ChangeState("B")
		}
		return true
	}, nil)
	e.Register("B", func(s *hsmx.Scope, ev hsmx.Event) bool {
		if ev.Type == hsmx.EventStep {
			s.ChangeState("A")
		}
		return true
	}, nil)
	e.ChangeState("A")
	start(t, e)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				switch e.State() {
				case "", "A", "B":
				default:
					t.Errorf("unexpected state %q", e.State())
				}
			}
		}()
	}
	for range 200 {
		e.Post(step("flip"))
	}
	wg.Wait()
	flush(t, e)
	assert.Equal(t, "A", e.State())
}

func TestTraceRecords(t *testing.T) {
	pub := &tracePublisher{}
	e := newEngine(t, "m", hsmx.WithPublisher(pub))
	e.Register("A", func(*hsmx.Scope, hsmx.Event) bool { return true }, nil)
	start(t, e)
	e.ChangeState("A")
	e.Post(step("x"))
	flush(t, e)

	recs := pub.records()
	require.NotEmpty(t, recs)
	assert.Equal(t, hsmx.RecordTransition, recs[0].Kind)
	assert.Equal(t, "A", recs[0].Target)
	assert.Equal(t, 1, pub.count(hsmx.RecordHandled))
	for _, r := range recs {
		assert.Equal(t, "m", r.Engine)
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.Timestamp.IsZero())
	}
}

func TestDedicatedAndSharedLoopsAreIsolated(t *testing.T) {
	ambient := hsmx.NewLoop("ambient")
	recA, recB := testutil.NewRecorder(), testutil.NewRecorder()
	a := newEngine(t, "a")
	a.Register("X", recA.Handler(true), nil)
	b := newEngine(t, "b", hsmx.WithLoop(ambient))
	b.Register("X", recB.Handler(true), nil)
	a.ChangeState("X")
	b.ChangeState("X")
	start(t, a)
	start(t, b)

	// Destroying a mid-run leaves b untouched.
	a.Post(step("1"))
	a.Destroy()
	b.Post(step("2"))
	testutil.Eventually(t, func() bool { return recB.Count(hsmx.EventStep) == 1 })
	assert.Equal(t, "X", b.State())

	// Stopping b leaves a dedicated engine running.
	c := newEngine(t, "c")
	recC := testutil.NewRecorder()
	c.Register("X", recC.Handler(true), nil)
	c.ChangeState("X")
	start(t, c)

	b.Stop()
	<-b.Done()
	c.Post(step("3"))
	testutil.Eventually(t, func() bool { return recC.Count(hsmx.EventStep) == 1 })
	assert.LessOrEqual(t, recA.Count(hsmx.EventStep), 1)
}

func TestRunReportsContextEnd(t *testing.T) {
	e := newEngine(t, "m")
	ctx, cancel := context.WithCancel(context.Background())
	e.Register("A", func(*hsmx.Scope, hsmx.Event) bool {
		cancel()
		return true
	}, nil)
	e.ChangeState("A")

	assert.ErrorIs(t, e.Run(ctx), context.Canceled)
	assert.Equal(t, hsmx.PhaseStopped, e.Phase())
}

func TestRunEndedByDestroyReturnsNil(t *testing.T) {
	e := newEngine(t, "m")
	entered := make(chan struct{})
	e.Register("A", func(_ *hsmx.Scope, ev hsmx.Event) bool {
		if ev.Type == hsmx.EventEntry {
			close(entered)
		}
		return true
	}, nil)
	e.ChangeState("A")

	go func() {
		<-entered
		e.Destroy()
	}()
	assert.NoError(t, e.Run(context.Background()))
}

func TestDoneClosedWhenDestroyedBeforeRun(t *testing.T) {
	dedicated := newEngine(t, "dedicated")
	shared := newEngine(t, "shared", hsmx.WithLoop(hsmx.NewLoop("main")))

	for _, e := range []*hsmx.Engine{dedicated, shared} {
		e.Destroy()
		select {
		case <-e.Done():
		case <-time.After(testutil.DefaultWait):
			t.Fatalf("%s: Done not closed after Destroy", e.Name())
		}
	}
}

func TestDestroyWaitsForConcurrentStart(t *testing.T) {
	for i := 0; i < 200; i++ {
		e := hsmx.New("race", hsmx.WithLogger(logging.NewNop()))
		ctx, cancel := context.WithCancel(context.Background())

		started := make(chan error, 1)
		go func() { started <- e.Start(ctx) }()
		e.Destroy()

		if err := <-started; err == nil {
			select {
			case <-e.Done():
			default:
				t.Fatalf("iteration %d: Destroy returned while the worker was still running", i)
			}
		} else {
			assert.ErrorIs(t, err, hsmx.ErrDestroyed)
		}
		cancel()
	}
}
