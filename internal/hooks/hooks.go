package hooks

import (
	"errors"
	"fmt"

	"github.com/raphaelBarman/PyLaia/internal/conditions"
)

// Context carries firing-time state into actions. Configuration is bound when
// the action closure is built; epoch and iteration are bound here, at fire time.
type Context struct {
	Epoch     int64
	Iteration int64
}

type Action func(ctx Context) error

// Hook pairs exactly one condition with exactly one action.
type Hook struct {
	cond   conditions.Condition
	action Action
}

func New(cond conditions.Condition, action Action) (*Hook, error) {
	if cond == nil {
		return nil, fmt.Errorf("condition is required")
	}
	if action == nil {
		return nil, fmt.Errorf("action is required")
	}
	return &Hook{cond: cond, action: action}, nil
}

// Fire evaluates the condition and, when it holds, invokes the action with the
// firing-time context. It reports whether the condition held.
func (h *Hook) Fire(ctx Context) (bool, error) {
	if !h.cond.Eval() {
		return false, nil
	}
	if err := h.action(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// List fires member hooks in registration order. One hook's falsity or failure
// never suppresses the evaluation of the hooks after it.
type List struct {
	hooks []*Hook
}

func (l *List) Add(h *Hook) {
	if h == nil {
		return
	}
	l.hooks = append(l.hooks, h)
}

func (l *List) Len() int { return len(l.hooks) }

func (l *List) Fire(ctx Context) error {
	var errs []error
	for _, h := range l.hooks {
		if _, err := h.Fire(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
