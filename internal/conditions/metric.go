package conditions

import (
	"encoding/json"
	"fmt"
)

// Lowest is true iff the newest observation is strictly below every prior one.
// The first observation counts as an improvement; ties do not.
type Lowest struct {
	name   string
	metric Metric
	seen   bool
	best   float64
}

type LowestState struct {
	Seen bool    `json:"seen"`
	Best float64 `json:"best"`
}

func NewLowest(name string, metric Metric) (*Lowest, error) {
	if name == "" {
		return nil, fmt.Errorf("condition name is required")
	}
	if metric == nil {
		return nil, fmt.Errorf("metric is required")
	}
	return &Lowest{name: name, metric: metric}, nil
}

func (c *Lowest) Name() string { return c.name }

func (c *Lowest) Eval() bool {
	value, ok := c.metric.Last()
	if !ok {
		return false
	}
	if !c.seen {
		c.seen = true
		c.best = value
		return true
	}
	if value < c.best {
		c.best = value
		return true
	}
	return false
}

// Best reports the lowest observation seen so far.
func (c *Lowest) Best() (float64, bool) {
	return c.best, c.seen
}

func (c *Lowest) State() (json.RawMessage, error) {
	return json.Marshal(LowestState{Seen: c.seen, Best: c.best})
}

func (c *Lowest) Restore(state json.RawMessage) error {
	var s LowestState
	if err := json.Unmarshal(state, &s); err != nil {
		return fmt.Errorf("restore %s: %w", c.name, err)
	}
	c.seen = s.Seen
	c.best = s.Best
	return nil
}

// Highest mirrors Lowest for metrics where larger is better.
type Highest struct {
	name   string
	metric Metric
	seen   bool
	best   float64
}

type HighestState struct {
	Seen bool    `json:"seen"`
	Best float64 `json:"best"`
}

func NewHighest(name string, metric Metric) (*Highest, error) {
	if name == "" {
		return nil, fmt.Errorf("condition name is required")
	}
	if metric == nil {
		return nil, fmt.Errorf("metric is required")
	}
	return &Highest{name: name, metric: metric}, nil
}

func (c *Highest) Name() string { return c.name }

func (c *Highest) Eval() bool {
	value, ok := c.metric.Last()
	if !ok {
		return false
	}
	if !c.seen {
		c.seen = true
		c.best = value
		return true
	}
	if value > c.best {
		c.best = value
		return true
	}
	return false
}

func (c *Highest) Best() (float64, bool) {
	return c.best, c.seen
}

func (c *Highest) State() (json.RawMessage, error) {
	return json.Marshal(HighestState{Seen: c.seen, Best: c.best})
}

func (c *Highest) Restore(state json.RawMessage) error {
	var s HighestState
	if err := json.Unmarshal(state, &s); err != nil {
		return fmt.Errorf("restore %s: %w", c.name, err)
	}
	c.seen = s.Seen
	c.best = s.Best
	return nil
}
