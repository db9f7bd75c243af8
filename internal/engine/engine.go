package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/raphaelBarman/PyLaia/internal/conditions"
	"github.com/raphaelBarman/PyLaia/internal/data"
	"github.com/raphaelBarman/PyLaia/internal/hooks"
)

type Event string

const (
	EpochStart Event = "epoch-start"
	EpochEnd   Event = "epoch-end"
	IterStart  Event = "iter-start"
	IterEnd    Event = "iter-end"
)

func knownEvent(ev Event) bool {
	switch ev {
	case EpochStart, EpochEnd, IterStart, IterEnd:
		return true
	}
	return false
}

type Status int

const (
	Idle Status = iota
	Running
	Stopped
	Exhausted
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Exhausted:
		return "exhausted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type StopReason string

const (
	ReasonStopRequested StopReason = "stop-requested"
	ReasonExhausted     StopReason = "source-exhausted"
)

type Stoppable interface {
	Stop()
}

// StopAction builds a hook action that requests a cooperative stop.
func StopAction(s Stoppable) hooks.Action {
	return func(hooks.Context) error {
		s.Stop()
		return nil
	}
}

// core is the event-firing batch loop shared by Trainer and Evaluator. It owns
// the event table and both counters; it is driven from a single control
// goroutine, and hook firing is serialized with compute steps on that
// goroutine.
type core struct {
	name   string
	source data.Source
	logger *log.Logger
	hooks  map[Event]*hooks.List
	epochs int64
	iters  int64
}

func newCore(name string, source data.Source, logger *log.Logger) core {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return core{
		name:   name,
		source: source,
		logger: logger,
		hooks:  make(map[Event]*hooks.List),
	}
}

func (c *core) addHook(ev Event, h *hooks.Hook) error {
	if !knownEvent(ev) {
		return fmt.Errorf("unknown event: %s", ev)
	}
	if h == nil {
		return fmt.Errorf("hook is required")
	}
	list := c.hooks[ev]
	if list == nil {
		list = &hooks.List{}
		c.hooks[ev] = list
	}
	list.Add(h)
	return nil
}

func (c *core) fire(ev Event) error {
	list := c.hooks[ev]
	if list == nil {
		return nil
	}
	if err := list.Fire(hooks.Context{Epoch: c.epochs, Iteration: c.iters}); err != nil {
		return fmt.Errorf("%s %s hooks: %w", c.name, ev, err)
	}
	return nil
}

// runPass drives one full pass over the iterator: epoch-start, the batch loop,
// then beforeEnd (when set), the epoch increment, and epoch-end. Epoch-end
// hooks observe the completed-epoch count.
func (c *core) runPass(ctx context.Context, it data.Iterator, step func(context.Context, data.Batch) error, beforeEnd func() error) error {
	defer it.Close()

	if err := c.fire(EpochStart); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, ok, err := it.Next()
		if err != nil {
			return fmt.Errorf("%s next batch: %w", c.name, err)
		}
		if !ok {
			break
		}
		if err := c.fire(IterStart); err != nil {
			return err
		}
		if err := step(ctx, b); err != nil {
			ids := strings.Join(b.IDs(), ",")
			c.logger.Printf("%s: batch %d failed (samples %s)", c.name, b.Index, ids)
			return fmt.Errorf("%s batch %d (samples %s): %w", c.name, b.Index, ids, err)
		}
		c.iters++
		if err := c.fire(IterEnd); err != nil {
			return err
		}
	}
	if beforeEnd != nil {
		if err := beforeEnd(); err != nil {
			return err
		}
	}
	c.epochs++
	return c.fire(EpochEnd)
}

func (c *core) epochCounter() conditions.Counter {
	return conditions.CounterFunc(func() int64 { return c.epochs })
}

func (c *core) iterationCounter() conditions.Counter {
	return conditions.CounterFunc(func() int64 { return c.iters })
}
