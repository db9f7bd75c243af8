package conditions

import (
	"encoding/json"
	"fmt"
)

// ConsecutiveNonDecreasing is true iff the metric has gone n consecutive
// observations without a new minimum. The streak resets to zero whenever a
// new minimum lands, so the condition stays true only while the drought lasts.
type ConsecutiveNonDecreasing struct {
	name   string
	metric Metric
	n      int64
	seen   bool
	best   float64
	streak int64
}

type ConsecutiveNonDecreasingState struct {
	Seen   bool    `json:"seen"`
	Best   float64 `json:"best"`
	Streak int64   `json:"streak"`
}

func NewConsecutiveNonDecreasing(name string, metric Metric, n int64) (*ConsecutiveNonDecreasing, error) {
	if name == "" {
		return nil, fmt.Errorf("condition name is required")
	}
	if metric == nil {
		return nil, fmt.Errorf("metric is required")
	}
	if n <= 0 {
		return nil, fmt.Errorf("streak length must be > 0: got=%d", n)
	}
	return &ConsecutiveNonDecreasing{name: name, metric: metric, n: n}, nil
}

func (c *ConsecutiveNonDecreasing) Name() string { return c.name }

func (c *ConsecutiveNonDecreasing) Eval() bool {
	value, ok := c.metric.Last()
	if !ok {
		return false
	}
	if !c.seen || value < c.best {
		c.seen = true
		c.best = value
		c.streak = 0
		return false
	}
	c.streak++
	return c.streak >= c.n
}

// Streak reports the current run of non-improving observations.
func (c *ConsecutiveNonDecreasing) Streak() int64 { return c.streak }

func (c *ConsecutiveNonDecreasing) State() (json.RawMessage, error) {
	return json.Marshal(ConsecutiveNonDecreasingState{Seen: c.seen, Best: c.best, Streak: c.streak})
}

func (c *ConsecutiveNonDecreasing) Restore(state json.RawMessage) error {
	var s ConsecutiveNonDecreasingState
	if err := json.Unmarshal(state, &s); err != nil {
		return fmt.Errorf("restore %s: %w", c.name, err)
	}
	c.seen = s.Seen
	c.best = s.Best
	c.streak = s.Streak
	return nil
}
