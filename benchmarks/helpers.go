// Package benchmarks provides shared helpers for benchmark tests.
package benchmarks

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/comalice/hsmx"
	"github.com/comalice/hsmx/internal/logging"
	"github.com/comalice/hsmx/internal/production"
)

// Counter is a handler-side event counter. It is only touched on the
// counting engine's loop; done is closed once the target is reached.
type Counter struct {
	target int
	n      int
	done   chan struct{}
}

// NewCounter creates a counter that closes Done after target events.
func NewCounter(target int) *Counter {
	return &Counter{target: target, done: make(chan struct{})}
}

// Hit counts one event.
func (c *Counter) Hit() {
	c.n++
	if c.n == c.target {
		close(c.done)
	}
}

// Done is closed once the target count is reached.
func (c *Counter) Done() <-chan struct{} {
	return c.done
}

func quiet() hsmx.Option {
	return hsmx.WithLogger(logging.NewNop())
}

// GenFlatEngine creates an engine with n states s0..s(n-1). Each STEP moves
// to the next state, wrapping around, and hits c.
func GenFlatEngine(n int, c *Counter, opts ...hsmx.Option) *hsmx.Engine {
	if n < 1 {
		n = 1
	}
	e := hsmx.New(fmt.Sprintf("flat_%d", n), append([]hsmx.Option{quiet()}, opts...)...)
	for i := 0; i < n; i++ {
		next := fmt.Sprintf("s%d", (i+1)%n)
		e.Register(fmt.Sprintf("s%d", i), func(s *hsmx.Scope, ev hsmx.Event) bool {
			if ev.Type != hsmx.EventStep {
				return true
			}
			s.ChangeState(next)
			if c != nil {
				c.Hit()
			}
			return true
		}, nil)
	}
	e.ChangeState("s0")
	return e
}

// GenChain creates depth engines, each the parent of the next, all on
// dedicated loops. Only the root consumes events; it hits c for every one.
// The leaf is returned last.
func GenChain(depth int, c *Counter) []*hsmx.Engine {
	if depth < 1 {
		depth = 1
	}
	chain := make([]*hsmx.Engine, depth)
	for i := range chain {
		opts := []hsmx.Option{quiet()}
		if i > 0 {
			opts = append(opts, hsmx.WithParent(chain[i-1]))
		}
		e := hsmx.New(fmt.Sprintf("level_%d", i), opts...)
		consume := i == 0
		e.Register("idle", func(_ *hsmx.Scope, ev hsmx.Event) bool {
			if ev.Type == hsmx.EventEntry || ev.Type == hsmx.EventExit {
				return true
			}
			if consume {
				c.Hit()
			}
			return consume
		}, nil)
		e.ChangeState("idle")
		chain[i] = e
	}
	return chain
}

// StartAll starts every engine on ctx.
func StartAll(ctx context.Context, engines ...*hsmx.Engine) error {
	for _, e := range engines {
		if err := e.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DestroyAll destroys every engine.
func DestroyAll(engines ...*hsmx.Engine) {
	for _, e := range engines {
		e.Destroy()
	}
}

// GenTopologyYAML renders a chain of depth engines, each with n states,
// as a YAML topology document.
func GenTopologyYAML(depth, n int) []byte {
	engines := make([]*hsmx.Engine, 0, depth)
	var parent *hsmx.Engine
	for i := 0; i < depth; i++ {
		opts := []hsmx.Option{}
		if parent != nil {
			opts = append(opts, hsmx.WithParent(parent))
		}
		e := GenFlatEngine(n, nil, opts...)
		engines = append(engines, e)
		parent = e
	}
	defer DestroyAll(engines...)

	data, err := yaml.Marshal(production.Snapshot(engines...))
	if err != nil {
		panic(err)
	}
	return data
}
