package conditions

import "encoding/json"

// Condition is a stateful predicate over metric or counter history. Eval is
// called at most once per event firing; memory-bearing conditions update their
// internal state on every call.
type Condition interface {
	Eval() bool
}

// Stateful conditions expose their decision history so a checkpoint round trip
// resumes them exactly.
type Stateful interface {
	Condition
	Name() string
	State() (json.RawMessage, error)
	Restore(state json.RawMessage) error
}

// Metric reports the latest observation of a named scalar stream. ok is false
// until the first observation lands.
type Metric interface {
	Last() (float64, bool)
}

// Counter reports a monotonically increasing value.
type Counter interface {
	Value() int64
}

type MetricFunc func() (float64, bool)

func (f MetricFunc) Last() (float64, bool) { return f() }

type CounterFunc func() int64

func (f CounterFunc) Value() int64 { return f() }
