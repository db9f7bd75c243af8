package conditions

import "fmt"

// MultipleOf is true iff the counter value is divisible by n. A period of
// zero is a configuration error, not a silent no-op.
type MultipleOf struct {
	counter Counter
	n       int64
}

func NewMultipleOf(counter Counter, n int64) (*MultipleOf, error) {
	if counter == nil {
		return nil, fmt.Errorf("counter is required")
	}
	if n <= 0 {
		return nil, fmt.Errorf("period must be > 0: got=%d", n)
	}
	return &MultipleOf{counter: counter, n: n}, nil
}

func (c *MultipleOf) Eval() bool {
	return c.counter.Value()%c.n == 0
}

// GEqThan is true iff the counter value has reached n. Once true it stays
// true, counters being monotone.
type GEqThan struct {
	counter Counter
	n       int64
}

func NewGEqThan(counter Counter, n int64) (*GEqThan, error) {
	if counter == nil {
		return nil, fmt.Errorf("counter is required")
	}
	if n < 0 {
		return nil, fmt.Errorf("threshold must be >= 0: got=%d", n)
	}
	return &GEqThan{counter: counter, n: n}, nil
}

func (c *GEqThan) Eval() bool {
	return c.counter.Value() >= c.n
}
